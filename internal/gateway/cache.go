package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
	"github.com/persona-chat-go/internal/config"
	"github.com/persona-chat-go/internal/models"
	"github.com/sirupsen/logrus"
)

// NormalizeMessage applies the fingerprint normalization contract:
// lower-case, trimmed, internal whitespace collapsed to single spaces.
// Two messages differing only in case or whitespace normalize
// identically.
func NormalizeMessage(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Fingerprint derives the cache key for a request. It covers the
// persona, the normalized message, the provider and model the request
// would be answered by, and the sampling parameters; different
// providers may legitimately answer differently, so the provider is
// part of the key.
func Fingerprint(personaID, message, providerID, model string, temperature float64, maxTokens int) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%.2f|%d",
		personaID, NormalizeMessage(message), providerID, model, temperature, maxTokens)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// ResponseCache maps request fingerprints to previously obtained
// provider responses. Entries expire after the configured TTL; an
// expired entry behaves as absent. Concurrent identical requests before
// an entry exists are not deduplicated into a single provider call.
type ResponseCache interface {
	Get(ctx context.Context, fingerprint string) (*models.CacheEntry, bool)
	Put(ctx context.Context, fingerprint string, entry *models.CacheEntry) error
	Clear(ctx context.Context) error
}

// NewResponseCache creates the cache backend selected by config.
func NewResponseCache(cfg *config.CacheConfig, logger *logrus.Logger) (ResponseCache, error) {
	if !cfg.Enabled {
		return &disabledCache{}, nil
	}

	switch cfg.Backend {
	case "memory":
		return newMemoryCache(cfg, logger), nil
	case "redis":
		return newRedisCache(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}

// disabledCache is used when caching is turned off; every lookup
// misses.
type disabledCache struct{}

func (disabledCache) Get(context.Context, string) (*models.CacheEntry, bool) { return nil, false }
func (disabledCache) Put(context.Context, string, *models.CacheEntry) error { return nil }
func (disabledCache) Clear(context.Context) error                           { return nil }

// memoryCache stores entries in-process with TTL expiry.
type memoryCache struct {
	cache   *cache.Cache
	logger  *logrus.Logger
	maxSize int
}

func newMemoryCache(cfg *config.CacheConfig, logger *logrus.Logger) *memoryCache {
	return &memoryCache{
		cache:   cache.New(cfg.TTL, cfg.TTL*2),
		logger:  logger,
		maxSize: cfg.MaxSize,
	}
}

func (c *memoryCache) Get(ctx context.Context, fingerprint string) (*models.CacheEntry, bool) {
	val, found := c.cache.Get(fingerprint)
	if !found {
		return nil, false
	}

	entry := val.(*models.CacheEntry)
	c.logger.WithFields(logrus.Fields{
		"provider": entry.Provider,
		"age":      time.Since(entry.CreatedAt),
	}).Debug("Cache hit")
	return entry, true
}

func (c *memoryCache) Put(ctx context.Context, fingerprint string, entry *models.CacheEntry) error {
	if c.cache.ItemCount() >= c.maxSize {
		c.logger.Warn("Cache size limit reached, dropping expired entries")
		c.cache.DeleteExpired()
	}

	c.cache.SetDefault(fingerprint, entry)
	return nil
}

func (c *memoryCache) Clear(ctx context.Context) error {
	c.cache.Flush()
	c.logger.Info("Cache cleared")
	return nil
}

// redisCache stores entries in Redis so multiple gateway instances can
// share one response cache.
type redisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func newRedisCache(cfg *config.CacheConfig, logger *logrus.Logger) (*redisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &redisCache{
		client: client,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

func (c *redisCache) key(fingerprint string) string {
	return "response_cache:" + fingerprint
}

func (c *redisCache) Get(ctx context.Context, fingerprint string) (*models.CacheEntry, bool) {
	data, err := c.client.Get(ctx, c.key(fingerprint)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).Warn("Redis cache lookup failed")
		return nil, false
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.WithError(err).Warn("Failed to decode cache entry")
		return nil, false
	}
	return &entry, true
}

func (c *redisCache) Put(ctx context.Context, fingerprint string, entry *models.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	return c.client.Set(ctx, c.key(fingerprint), data, c.ttl).Err()
}

func (c *redisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "response_cache:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
