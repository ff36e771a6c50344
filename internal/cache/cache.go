// Package cache stores finished query responses keyed by normalized question
// and language, so repeated questions skip the whole retrieval pipeline.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/greencard-rag/backend/pkg/config"
	"github.com/greencard-rag/backend/pkg/logger"
	"github.com/greencard-rag/backend/pkg/utils"
)

// Store is a TTL key-value backend for serialized responses.
type Store interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

// Key derives the cache key for a question. An empty language means detection
// has not run yet and maps to the "auto" sentinel, so the same question text
// hits the same entry before and after detection only when detection is
// skipped consistently.
func Key(question, language string) string {
	if language == "" {
		language = "auto"
	}
	return utils.HashString(utils.NormalizeQuestion(question) + ":" + language)
}

// ResponseCache wraps a Store with TTL policy and hit/miss accounting.
// A non-positive TTL disables the cache entirely.
type ResponseCache struct {
	store Store
	ttl   time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

func NewResponseCache(store Store, ttl time.Duration) *ResponseCache {
	return &ResponseCache{store: store, ttl: ttl}
}

func (c *ResponseCache) Enabled() bool {
	return c.ttl > 0
}

func (c *ResponseCache) Get(ctx context.Context, question, language string, dest interface{}) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}

	found, err := c.store.Get(ctx, Key(question, language), dest)
	if err != nil {
		return false, err
	}
	if found {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return found, nil
}

func (c *ResponseCache) Set(ctx context.Context, question, language string, value interface{}) error {
	if !c.Enabled() {
		return nil
	}
	return c.store.Set(ctx, Key(question, language), value, c.ttl)
}

// Delete evicts one question's cached response, used when a fresher answer
// supersedes it (for example after an expert review lands).
func (c *ResponseCache) Delete(ctx context.Context, question, language string) error {
	return c.store.Delete(ctx, Key(question, language))
}

func (c *ResponseCache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

func (c *ResponseCache) Close() error {
	return c.store.Close()
}

type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Enabled bool    `json:"enabled"`
}

func (c *ResponseCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	stats := Stats{Hits: hits, Misses: misses, Enabled: c.Enabled()}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

// NewStore connects to redis and falls back to the in-process store when
// redis is unreachable. The fallback is for the whole process lifetime; a
// redis that comes up later is picked up on restart.
func NewStore(cfg config.RedisConfig) Store {
	store, err := NewRedisStore(cfg.Host, cfg.Port, cfg.Password, cfg.DB)
	if err != nil {
		logger.Warn("Redis unavailable, using in-memory response cache",
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port),
			zap.Error(err),
		)
		return NewMemoryStore()
	}
	return store
}
