// Package cache provides TTL-keyed caches for upstream reads. Entries are
// keyed per learner (and objective or topic where relevant) and removed
// explicitly when the owning collaborator writes fresher data.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/abhisek/foresight/internal/metrics"
)

// Backend stores opaque values with a TTL.
type Backend interface {
	// Get returns the value and true, or false when absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Key joins key parts. The first part is always the learner id so that
// InvalidateLearner can drop everything a learner owns.
func Key(parts ...string) string {
	return strings.Join(parts, "|")
}

// Cache is a typed, namespaced view over a Backend.
type Cache[T any] struct {
	name    string
	ttl     time.Duration
	backend Backend
}

// New creates a typed cache. name namespaces keys inside the backend.
func New[T any](name string, ttl time.Duration, backend Backend) *Cache[T] {
	return &Cache[T]{name: name, ttl: ttl, backend: backend}
}

// Name returns the cache namespace.
func (c *Cache[T]) Name() string { return c.name }

// TTL returns the entry lifetime.
func (c *Cache[T]) TTL() time.Duration { return c.ttl }

func (c *Cache[T]) fullKey(key string) string {
	return c.name + "/" + key
}

// Get returns a cached value.
func (c *Cache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	raw, ok, err := c.backend.Get(ctx, c.fullKey(key))
	if err != nil {
		return zero, false, fmt.Errorf("cache %s get: %w", c.name, err)
	}
	if !ok {
		metrics.CacheLookups.WithLabelValues(c.name, "miss").Inc()
		return zero, false, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		// A corrupt entry is treated as a miss.
		metrics.CacheLookups.WithLabelValues(c.name, "miss").Inc()
		return zero, false, nil
	}
	metrics.CacheLookups.WithLabelValues(c.name, "hit").Inc()
	return v, true, nil
}

// Set stores a value for the cache's TTL.
func (c *Cache[T]) Set(ctx context.Context, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache %s marshal: %w", c.name, err)
	}
	if err := c.backend.Set(ctx, c.fullKey(key), raw, c.ttl); err != nil {
		return fmt.Errorf("cache %s set: %w", c.name, err)
	}
	return nil
}

// GetOrLoad returns the cached value or calls load and caches its result.
// When bypass is true the cache is not read, but the fresh value is stored.
// Cache write failures are ignored; the loaded value is still returned.
func (c *Cache[T]) GetOrLoad(ctx context.Context, key string, bypass bool, load func(context.Context) (T, error)) (T, error) {
	if !bypass {
		if v, ok, err := c.Get(ctx, key); err == nil && ok {
			return v, nil
		}
	}
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	_ = c.Set(ctx, key, v)
	return v, nil
}

// Invalidate removes one entry.
func (c *Cache[T]) Invalidate(ctx context.Context, key string) error {
	metrics.CacheInvalidations.WithLabelValues(c.name).Inc()
	return c.backend.Delete(ctx, c.fullKey(key))
}

// InvalidateLearner removes every entry keyed under learnerID.
func (c *Cache[T]) InvalidateLearner(ctx context.Context, learnerID string) error {
	metrics.CacheInvalidations.WithLabelValues(c.name).Inc()
	if err := c.backend.Delete(ctx, c.fullKey(learnerID)); err != nil {
		return err
	}
	return c.backend.DeletePrefix(ctx, c.fullKey(Key(learnerID, "")))
}
