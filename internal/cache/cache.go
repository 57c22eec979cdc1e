// Package cache provides the tiered byte cache behind the boundary service:
// an in-process LRU with TTL, a shared Redis tier and an object-storage
// archive tier. Values are opaque bytes and every tier expires entries on
// its own.
package cache

import (
	"context"
	"sync/atomic"
	"time"
)

// Tier is one level of the cache.
type Tier interface {
	// Name identifies the tier in logs.
	Name() string

	// Get returns the value and true on a hit. A miss is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value for ttl. A zero ttl uses the tier default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes one key.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key that starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// ExpiringTier is a Tier that knows when its entries expire.
type ExpiringTier interface {
	Tier

	// GetWithTTL is Get plus the hit's remaining lifetime. A non-positive
	// lifetime on a hit means the expiry is unknown.
	GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error)
}

// Metrics holds cache statistics for observability.
type Metrics struct {
	Hits        atomic.Int64
	Misses      atomic.Int64
	Sets        atomic.Int64
	Evictions   atomic.Int64
	Expirations atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Sets        int64   `json:"sets"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	HitRate     float64 `json:"hit_rate"`
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Hits:        m.Hits.Load(),
		Misses:      m.Misses.Load(),
		Sets:        m.Sets.Load(),
		Evictions:   m.Evictions.Load(),
		Expirations: m.Expirations.Load(),
		HitRate:     m.HitRate(),
	}
}

// HitRate returns the cache hit rate as a percentage.
func (m *Metrics) HitRate() float64 {
	hits := m.Hits.Load()
	total := hits + m.Misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// DefaultTTL is used when neither the caller nor the tier sets one.
const DefaultTTL = 24 * time.Hour
