package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabscope/pkg/models"
)

type stubIdentifier struct {
	identity *Identity
	err      error
	calls    int
}

func (s *stubIdentifier) Identify(ctx context.Context, hostname string, analysis *models.PlatformAnalysis) (*Identity, error) {
	s.calls++
	return s.identity, s.err
}

func codingAnalysis(hostname string) *models.PlatformAnalysis {
	return &models.PlatformAnalysis{
		Hostname: hostname,
		Category: "editor",
		Scores:   models.PlatformScores{CodeEditor: 10, Execution: 8},
	}
}

func TestFallbackIdentity(t *testing.T) {
	identity := FallbackIdentity("www.leetcode.com", "challenge")
	assert.Equal(t, "Leetcode", identity.DisplayName)
	assert.Equal(t, "challenge", identity.Category)
	assert.Equal(t, 0.5, identity.Confidence)

	assert.Equal(t, "Localhost", FallbackIdentity("localhost", "web").DisplayName)
	assert.Equal(t, "unknown", FallbackIdentity("", "web").DisplayName)
}

func TestResolveSkipsIdentifierBelowGate(t *testing.T) {
	stub := &stubIdentifier{identity: &Identity{DisplayName: "Never"}}
	resolver := NewResolver(stub, nil)

	analysis := &models.PlatformAnalysis{Hostname: "example.com", Category: "web"}
	identity := resolver.Resolve(context.Background(), analysis)

	assert.Equal(t, "Example", identity.DisplayName)
	assert.Zero(t, stub.calls)
}

func TestResolveCachesIdentity(t *testing.T) {
	cache, err := NewCache(CacheMemory)
	require.NoError(t, err)
	defer cache.Close()

	stub := &stubIdentifier{identity: &Identity{DisplayName: "LeetCode", Category: "challenge", Confidence: 0.9}}
	resolver := NewResolver(stub, cache)

	first := resolver.Resolve(context.Background(), codingAnalysis("leetcode.com"))
	second := resolver.Resolve(context.Background(), codingAnalysis("leetcode.com"))

	assert.Equal(t, "LeetCode", first.DisplayName)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, stub.calls, "second resolve must hit the cache")
}

func TestResolveDegradesOnIdentifierError(t *testing.T) {
	stub := &stubIdentifier{err: errors.New("rate limited")}
	resolver := NewResolver(stub, nil)

	identity := resolver.Resolve(context.Background(), codingAnalysis("replit.com"))
	assert.Equal(t, "Replit", identity.DisplayName)
	assert.Equal(t, 0.5, identity.Confidence)
}

func TestResolveWithNilIdentifierUsesFallback(t *testing.T) {
	resolver := NewResolver(nil, nil)
	identity := resolver.Resolve(context.Background(), codingAnalysis("codesandbox.io"))
	assert.Equal(t, "Codesandbox", identity.DisplayName)
}

func TestMemoryCacheExpiry(t *testing.T) {
	cache, err := NewCache(CacheMemory, WithTTL(10*time.Millisecond))
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "host", &Identity{DisplayName: "Host"}))

	cached, err := cache.Get(ctx, "host")
	require.NoError(t, err)
	require.NotNil(t, cached)

	time.Sleep(20 * time.Millisecond)
	cached, err = cache.Get(ctx, "host")
	require.NoError(t, err)
	assert.Nil(t, cached, "expired entries read as a miss")
}

func TestCacheMissIsNilNil(t *testing.T) {
	cache, err := NewCache(CacheMemory)
	require.NoError(t, err)
	defer cache.Close()

	cached, err := cache.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestNewCacheRejectsUnknownType(t *testing.T) {
	_, err := NewCache(CacheType("memcached"))
	assert.ErrorIs(t, err, ErrInvalidCacheType)
}

func TestNewCacheRedisRequiresClient(t *testing.T) {
	_, err := NewCache(CacheRedis)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
