package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings for the shared tier.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key, e.g. "dhis2sql:".
	Prefix string
}

// RedisTier is the process-shared tier. Values are snappy-compressed and
// stored with SET EX, so Redis expires them itself.
type RedisTier struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
	metrics    Metrics
}

// NewRedisTier connects to Redis and checks the connection with PING.
func NewRedisTier(ctx context.Context, cfg RedisConfig, ttl time.Duration) (*RedisTier, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisTierWithClient(client, cfg.Prefix, ttl), nil
}

// NewRedisTierWithClient wraps an existing client.
func NewRedisTierWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisTier {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisTier{client: client, prefix: prefix, defaultTTL: ttl}
}

// Name implements Tier.
func (r *RedisTier) Name() string { return "redis" }

// Get implements Tier.
func (r *RedisTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, _, ok, err := r.GetWithTTL(ctx, key)
	return value, ok, err
}

// GetWithTTL implements ExpiringTier. GET and PTTL go out in one pipeline;
// PTTL answers -1 or -2 for keys without a known expiry.
func (r *RedisTier) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	var (
		get  *redis.StringCmd
		pttl *redis.DurationCmd
	)
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		get = p.Get(ctx, r.prefix+key)
		pttl = p.PTTL(ctx, r.prefix+key)
		return nil
	})
	if get != nil && errors.Is(get.Err(), redis.Nil) {
		r.metrics.Misses.Add(1)
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	raw, err := get.Bytes()
	if err != nil {
		return nil, 0, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	value, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, 0, false, fmt.Errorf("redis value for %s is corrupt: %w", key, err)
	}
	r.metrics.Hits.Add(1)
	return value, pttl.Val(), true, nil
}

// Set implements Tier.
func (r *RedisTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	if err := r.client.Set(ctx, r.prefix+key, snappy.Encode(nil, value), ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	r.metrics.Sets.Add(1)
	return nil
}

// Delete implements Tier.
func (r *RedisTier) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// DeletePrefix scans for matching keys and deletes them in batches.
func (r *RedisTier) DeletePrefix(ctx context.Context, prefix string) error {
	pattern := escapeGlob(r.prefix+prefix) + "*"
	iter := r.client.Scan(ctx, 0, pattern, 200).Iterator()

	batch := make([]string, 0, 200)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	return flush()
}

// Metrics returns the tier's counters.
func (r *RedisTier) Metrics() *Metrics {
	return &r.metrics
}

// Close closes the client.
func (r *RedisTier) Close() error {
	return r.client.Close()
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob quotes the characters that SCAN MATCH treats specially.
func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
