package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"dcf_valuation/pkg/core/config"
	"dcf_valuation/pkg/core/engine"
)

// keyVersion changes whenever cached response semantics change
const keyVersion = "v1"

// Cache stores serialized engine responses by content key
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Name() string
}

// Cacheable reports whether a normalized request has a deterministic result.
// Monte Carlo without a seed draws a fresh seed each time.
func Cacheable(req engine.Request) bool {
	return !(req.Has(engine.AnalysisMonteCarlo) && req.Seed == nil)
}

// ContentKey hashes the normalized request. Map keys are marshalled in
// sorted order, so equal requests always yield equal keys.
func ContentKey(req engine.Request) (string, error) {
	payload := struct {
		Version string         `json:"v"`
		Request engine.Request `json:"request"`
	}{keyVersion, req}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// New builds the cache selected by cfg; backend "none" yields nil
func New(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case config.CacheNone, "":
		return nil, nil
	case config.CacheMemory:
		m, err := NewMemoryCache(cfg.MaxEntries, cfg.TTL)
		if err != nil {
			return nil, err
		}
		return m, nil
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		return NewRedisCache(client, cfg.TTL), nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

// MemoryCache is a bounded in-process cache with per-entry TTL
type MemoryCache struct {
	c   *ristretto.Cache[string, []byte]
	ttl time.Duration
}

// NewMemoryCache holds at most maxEntries responses
func NewMemoryCache(maxEntries int64, ttl time.Duration) (*MemoryCache, error) {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,

		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	return &MemoryCache{c: c, ttl: ttl}, nil
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	return v, ok, nil
}

// Set admits the entry at cost 1; admission is asynchronous
func (m *MemoryCache) Set(_ context.Context, key string, value []byte) error {
	if !m.c.SetWithTTL(key, value, 1, m.ttl) {
		log.Debug().Str("component", "cache").Str("key", key).Msg("Entry dropped by admission policy")
	}
	return nil
}

// Wait blocks until buffered writes are applied
func (m *MemoryCache) Wait() { m.c.Wait() }

func (m *MemoryCache) Close() { m.c.Close() }

func (m *MemoryCache) Name() string { return config.CacheMemory }

// RedisCache shares results across service instances
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, prefix: "valuation:run:"}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisCache) Name() string { return config.CacheRedis }
