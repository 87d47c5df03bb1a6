// Package cache stores serialized answers keyed by question. A Cache is
// built once at startup and handed to the components that need it.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/Divas-Gupta30/market-agent/internal/config"
)

type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Exists(ctx context.Context, key string) (bool, error)
}

const keyPrefix = "market-agent:answer:"

// Key derives a cache key from the normalised question and a fingerprint of
// the settings that change answers.
func Key(question, fingerprint string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(question)), " ")
	sum := sha256.Sum256([]byte(fingerprint + "\x00" + norm))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// RedisCache keeps entries in Redis with a fixed TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string) error {
	return c.client.Set(ctx, key, value, c.ttl).Err()
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// MemoryCache is an in-process cache for single instance deployments.
type MemoryCache struct {
	c *gocache.Cache
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{c: gocache.New(ttl, 10*time.Minute)}
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	if x, found := m.c.Get(key); found {
		return x.(string), true, nil
	}
	return "", false, nil
}

func (m *MemoryCache) Set(_ context.Context, key, value string) error {
	m.c.Set(key, value, gocache.DefaultExpiration)
	return nil
}

func (m *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	_, found := m.c.Get(key)
	return found, nil
}

// New builds the configured cache. It returns nil when caching is disabled.
// An unreachable Redis is logged and replaced by the in-memory cache.
func New(ctx context.Context, cfg config.CacheConfig, log *zap.Logger) Cache {
	if cfg.Disabled {
		log.Info("response cache disabled", zap.String("module", "cache"))
		return nil
	}
	if cfg.RedisURL == "" {
		log.Info("using in-memory response cache", zap.String("module", "cache"))
		return NewMemoryCache(cfg.TTL)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	rc := NewRedisCache(client, cfg.TTL)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		log.Warn("failed to connect to Redis, falling back to in-memory cache",
			zap.String("module", "cache"), zap.String("addr", cfg.RedisURL), zap.Error(err))
		_ = client.Close()
		return NewMemoryCache(cfg.TTL)
	}
	log.Info("connected to Redis cache", zap.String("module", "cache"), zap.String("addr", cfg.RedisURL))
	return rc
}
