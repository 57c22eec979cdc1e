package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang/snappy"

	"github.com/hmis-ug/dhis2sql/internal/storage"
)

// headerSize is the length of the expiry header in front of each archived
// payload: the expiry as big-endian Unix nanoseconds.
const headerSize = 8

// ArchiveTier keeps entries in object storage, local or S3. Keys map to
// object paths by turning ":" into "/", so a key prefix is a path prefix.
type ArchiveTier struct {
	store      storage.ObjectStorage
	batch      *storage.Batch
	root       string
	defaultTTL time.Duration
	now        func() time.Time
	metrics    Metrics
}

// NewArchiveTier wraps store. root is prepended to every object path.
func NewArchiveTier(store storage.ObjectStorage, root string, ttl time.Duration) *ArchiveTier {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if root != "" && !strings.HasSuffix(root, "/") {
		root += "/"
	}
	return &ArchiveTier{
		store:      store,
		batch:      storage.NewBatch(store, 8),
		root:       root,
		defaultTTL: ttl,
		now:        time.Now,
	}
}

// Name implements Tier.
func (a *ArchiveTier) Name() string { return "archive" }

func (a *ArchiveTier) path(key string) string {
	return a.root + strings.ReplaceAll(key, ":", "/")
}

// Get implements Tier. Expired objects count as misses and are removed.
func (a *ArchiveTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, _, ok, err := a.GetWithTTL(ctx, key)
	return value, ok, err
}

// GetWithTTL implements ExpiringTier from the expiry header.
func (a *ArchiveTier) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	raw, err := a.store.Get(ctx, a.path(key))
	if errors.Is(err, storage.ErrObjectNotFound) {
		a.metrics.Misses.Add(1)
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	if len(raw) < headerSize {
		return nil, 0, false, fmt.Errorf("archived entry %s is truncated", key)
	}

	expires := time.Unix(0, int64(binary.BigEndian.Uint64(raw[:headerSize])))
	remaining := expires.Sub(a.now())
	if remaining <= 0 {
		a.metrics.Expirations.Add(1)
		a.metrics.Misses.Add(1)
		_ = a.store.Delete(ctx, a.path(key))
		return nil, 0, false, nil
	}

	value, err := snappy.Decode(nil, raw[headerSize:])
	if err != nil {
		return nil, 0, false, fmt.Errorf("archived entry %s is corrupt: %w", key, err)
	}
	a.metrics.Hits.Add(1)
	return value, remaining, true, nil
}

// Set implements Tier.
func (a *ArchiveTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = a.defaultTTL
	}
	body := snappy.Encode(nil, value)
	buf := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint64(buf[:headerSize], uint64(a.now().Add(ttl).UnixNano()))
	copy(buf[headerSize:], body)

	if err := a.store.Put(ctx, a.path(key), buf); err != nil {
		return err
	}
	a.metrics.Sets.Add(1)
	return nil
}

// Delete implements Tier.
func (a *ArchiveTier) Delete(ctx context.Context, key string) error {
	return a.store.Delete(ctx, a.path(key))
}

// DeletePrefix implements Tier.
func (a *ArchiveTier) DeletePrefix(ctx context.Context, prefix string) error {
	_, err := a.batch.DeletePrefix(ctx, a.path(prefix))
	return err
}

// Metrics returns the tier's counters.
func (a *ArchiveTier) Metrics() *Metrics {
	return &a.metrics
}
