package classifier

import (
	"context"
	"strings"

	"tabscope/internal/logging"
	"tabscope/pkg/models"
)

// Identity is the refined display identity of a coding platform.
type Identity struct {
	DisplayName string  `json:"displayName"`
	Category    string  `json:"category"`
	Confidence  float64 `json:"confidence"`
}

// Identifier is the capability interface for the external identity
// refinement call. Implementations may be rate-limited; the resolver caches
// their answers per hostname.
type Identifier interface {
	Identify(ctx context.Context, hostname string, analysis *models.PlatformAnalysis) (*Identity, error)
}

// NoopIdentifier is the null object used when no external identifier is
// configured. It always misses, so resolution falls back to the derived name.
type NoopIdentifier struct{}

func (NoopIdentifier) Identify(ctx context.Context, hostname string, analysis *models.PlatformAnalysis) (*Identity, error) {
	return nil, nil
}

// Resolver refines a platform analysis into a display identity, consulting
// the external identifier only for pages that pass the coding-platform gate
// and caching answers per hostname.
type Resolver struct {
	identifier Identifier
	cache      Cache
}

func NewResolver(identifier Identifier, cache Cache) *Resolver {
	if identifier == nil {
		identifier = NoopIdentifier{}
	}
	return &Resolver{identifier: identifier, cache: cache}
}

// Resolve never fails: refinement errors and cache errors degrade to the
// hostname-derived fallback identity.
func (r *Resolver) Resolve(ctx context.Context, analysis *models.PlatformAnalysis) Identity {
	fallback := FallbackIdentity(analysis.Hostname, analysis.Category)

	if !analysis.IsCodingPlatform() {
		return fallback
	}

	if r.cache != nil {
		cached, err := r.cache.Get(ctx, analysis.Hostname)
		if err != nil {
			logging.Debug("identity cache read for %s failed: %v", analysis.Hostname, err)
		} else if cached != nil {
			return *cached
		}
	}

	identity, err := r.identifier.Identify(ctx, analysis.Hostname, analysis)
	if err != nil || identity == nil || identity.DisplayName == "" {
		if err != nil {
			logging.Debug("identity refinement for %s failed: %v", analysis.Hostname, err)
		}
		return fallback
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, analysis.Hostname, identity); err != nil {
			logging.Debug("identity cache write for %s failed: %v", analysis.Hostname, err)
		}
	}
	return *identity
}

// FallbackIdentity derives a display name from the hostname: strip the www
// prefix, take the leftmost label and title-case it.
func FallbackIdentity(hostname, category string) Identity {
	name := strings.TrimPrefix(hostname, "www.")
	if i := strings.Index(name, "."); i > 0 {
		name = name[:i]
	}
	if name == "" {
		name = "unknown"
	}
	name = strings.ToUpper(name[:1]) + name[1:]

	return Identity{
		DisplayName: name,
		Category:    category,
		Confidence:  0.5,
	}
}
