package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheType selects the identity cache driver.
type CacheType string

const (
	CacheMemory CacheType = "memory"
	CacheRedis  CacheType = "redis"
)

var (
	ErrInvalidCacheType = errors.New("invalid cache type")
	ErrInvalidConfig    = errors.New("invalid cache configuration")
)

// DefaultIdentityTTL is how long a refined identity stays cached per hostname.
const DefaultIdentityTTL = 7 * 24 * time.Hour

// Cache stores refined platform identities keyed by hostname.
// Get returns (nil, nil) on a miss.
type Cache interface {
	Get(ctx context.Context, hostname string) (*Identity, error)
	Set(ctx context.Context, hostname string, identity *Identity) error
	Close() error
}

type cacheConfig struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// CacheOption configures NewCache.
type CacheOption func(*cacheConfig)

// WithRedisClient supplies the redis client for the redis driver.
func WithRedisClient(client *redis.Client) CacheOption {
	return func(c *cacheConfig) { c.redisClient = client }
}

// WithTTL overrides the default identity TTL.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *cacheConfig) { c.ttl = ttl }
}

// NewCache creates an identity cache. Supports "memory" and "redis" drivers;
// redis requires WithRedisClient.
func NewCache(cacheType CacheType, opts ...CacheOption) (Cache, error) {
	config := &cacheConfig{}
	for _, opt := range opts {
		opt(config)
	}

	ttl := config.ttl
	if ttl <= 0 {
		ttl = DefaultIdentityTTL
	}

	switch cacheType {
	case CacheMemory:
		return &memoryCache{
			entries: make(map[string]memoryEntry),
			ttl:     ttl,
		}, nil

	case CacheRedis:
		if config.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return &redisCache{
			client: config.redisClient,
			ttl:    ttl,
		}, nil

	default:
		return nil, ErrInvalidCacheType
	}
}

type memoryEntry struct {
	identity  Identity
	expiresAt time.Time
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
}

func (c *memoryCache) Get(ctx context.Context, hostname string) (*Identity, error) {
	c.mu.RLock()
	entry, exists := c.entries[hostname]
	c.mu.RUnlock()

	if !exists || time.Now().After(entry.expiresAt) {
		return nil, nil
	}
	identity := entry.identity
	return &identity, nil
}

func (c *memoryCache) Set(ctx context.Context, hostname string, identity *Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[hostname] = memoryEntry{
		identity:  *identity,
		expiresAt: time.Now().Add(c.ttl),
	}
	return nil
}

func (c *memoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = nil
	return nil
}

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func identityKey(hostname string) string {
	return "tabscope:identity:" + hostname
}

func (c *redisCache) Get(ctx context.Context, hostname string) (*Identity, error) {
	val, err := c.client.Get(ctx, identityKey(hostname)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var identity Identity
	if err := json.Unmarshal([]byte(val), &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

func (c *redisCache) Set(ctx context.Context, hostname string, identity *Identity) error {
	val, err := json.Marshal(identity)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, identityKey(hostname), val, c.ttl).Err()
}

func (c *redisCache) Close() error {
	return c.client.Close()
}
