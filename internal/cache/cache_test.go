package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmis-ug/dhis2sql/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTTLCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache(10, time.Hour)
	defer c.Close()

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(v))

	snap := c.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.Hits)
	assert.Equal(t, int64(1), snap.Misses)
	assert.Equal(t, int64(1), snap.Sets)
	assert.InDelta(t, 50.0, snap.HitRate, 0.001)
}

func TestTTLCache_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewTTLCache(10, time.Hour, WithClock(clock.Now))

	require.NoError(t, c.Set(ctx, "short", []byte("a"), time.Minute))
	require.NoError(t, c.Set(ctx, "long", []byte("b"), 0))

	clock.Advance(2 * time.Minute)
	_, ok, _ := c.Get(ctx, "short")
	assert.False(t, ok, "entry past its ttl must not be served")
	_, ok, _ = c.Get(ctx, "long")
	assert.True(t, ok)

	clock.Advance(time.Hour)
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 0, c.Len())
}

func TestTTLCache_LRUEviction(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache(2, time.Hour)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	_, _, _ = c.Get(ctx, "a") // a is now most recent
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

	_, ok, _ := c.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok, _ = c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Metrics().Evictions.Load())
}

func TestTTLCache_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache(0, time.Hour)

	for _, k := range []string{"boundaries:1:2:-:false", "boundaries:1:3:-:false", "boundaries:2:2:-:false"} {
		require.NoError(t, c.Set(ctx, k, []byte(k), 0))
	}
	require.NoError(t, c.DeletePrefix(ctx, "boundaries:1:"))
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Delete(ctx, "boundaries:2:2:-:false"))
	assert.Equal(t, 0, c.Len())
}

func TestTTLCache_Janitor(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewTTLCache(0, time.Minute, WithClock(clock.Now), WithJanitor(5*time.Millisecond))
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	clock.Advance(2 * time.Minute)

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTTLCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache(50, time.Hour)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%80)
				_ = c.Set(ctx, key, []byte{byte(g)}, 0)
				_, _, _ = c.Get(ctx, key)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}

func newArchive(t *testing.T) (*ArchiveTier, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewArchiveTier(store, "cache", time.Hour), store
}

func TestArchiveTier_RoundTrip(t *testing.T) {
	ctx := context.Background()
	a, store := newArchive(t)

	payload := []byte(`{"type":"FeatureCollection","features":[]}`)
	require.NoError(t, a.Set(ctx, "boundaries:1:2:-:false", payload, 0))

	exists, err := store.Exists(ctx, "cache/boundaries/1/2/-/false")
	require.NoError(t, err)
	assert.True(t, exists, "keys map to slash-separated object paths")

	got, ok, err := a.Get(ctx, "boundaries:1:2:-:false")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, got)

	_, ok, err = a.Get(ctx, "boundaries:9:9:-:false")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArchiveTier_Expiry(t *testing.T) {
	ctx := context.Background()
	a, store := newArchive(t)
	clock := newFakeClock()
	a.now = clock.Now

	require.NoError(t, a.Set(ctx, "k", []byte("v"), time.Minute))
	clock.Advance(time.Hour)

	_, ok, err := a.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	exists, _ := store.Exists(ctx, "cache/k")
	assert.False(t, exists, "expired object should be removed")
}

func TestArchiveTier_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	a, store := newArchive(t)

	require.NoError(t, store.Put(ctx, "cache/bad", []byte{1, 2}))
	_, _, err := a.Get(ctx, "bad")
	assert.Error(t, err)
}

func TestArchiveTier_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	a, store := newArchive(t)

	require.NoError(t, a.Set(ctx, "boundaries:1:2:-:false", []byte("x"), 0))
	require.NoError(t, a.Set(ctx, "boundaries:1:3:abc:true", []byte("y"), 0))
	require.NoError(t, a.Set(ctx, "boundaries:2:2:-:false", []byte("z"), 0))

	require.NoError(t, a.DeletePrefix(ctx, "boundaries:1:"))
	left, err := store.ListObjects(ctx, "cache/")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache/boundaries/2/2/-/false"}, left)
}

// failingTier always errors.
type failingTier struct{}

func (failingTier) Name() string { return "failing" }
func (failingTier) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("unavailable")
}
func (failingTier) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("unavailable")
}
func (failingTier) Delete(context.Context, string) error       { return errors.New("unavailable") }
func (failingTier) DeletePrefix(context.Context, string) error { return errors.New("unavailable") }

func TestTiered_BackFill(t *testing.T) {
	ctx := context.Background()
	mem := NewTTLCache(10, time.Hour)
	archive, _ := newArchive(t)
	logger, _ := test.NewNullLogger()

	tiered := NewTiered(time.Hour, logger, mem, archive)
	assert.Equal(t, []string{"memory", "archive"}, tiered.Tiers())

	require.NoError(t, archive.Set(ctx, "k", []byte("from-archive"), 0))

	v, ok, err := tiered.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "from-archive", string(v))

	v, ok, _ = mem.Get(ctx, "k")
	assert.True(t, ok, "faster tier should be back-filled")
	assert.Equal(t, "from-archive", string(v))
}

func TestTiered_BackFillKeepsRemainingTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	fast := NewTTLCache(10, DefaultTTL, WithClock(clock.Now))
	slow := NewTTLCache(10, DefaultTTL, WithClock(clock.Now))
	logger, _ := test.NewNullLogger()
	tiered := NewTiered(DefaultTTL, logger, fast, slow)

	require.NoError(t, slow.Set(ctx, "boundaries:1:2:-:false", []byte("geo"), 24*time.Hour))
	clock.Advance(23 * time.Hour)

	_, remaining, ok, err := tiered.GetWithTTL(ctx, "boundaries:1:2:-:false")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Hour, remaining)

	_, left, ok, _ := fast.GetWithTTL(ctx, "boundaries:1:2:-:false")
	require.True(t, ok, "faster tier should be back-filled")
	assert.Equal(t, time.Hour, left, "back-fill keeps the original expiry")

	clock.Advance(time.Hour + time.Minute)
	_, ok, err = tiered.Get(ctx, "boundaries:1:2:-:false")
	require.NoError(t, err)
	assert.False(t, ok, "no tier may serve the entry past its original 24h")
}

// opaqueTier hides GetWithTTL, like a tier that cannot report expiry.
type opaqueTier struct{ Tier }

func TestTiered_UnknownExpiryIsNotBackFilled(t *testing.T) {
	ctx := context.Background()
	fast := NewTTLCache(10, time.Hour)
	slow := NewTTLCache(10, time.Hour)
	logger, _ := test.NewNullLogger()
	tiered := NewTiered(time.Hour, logger, fast, opaqueTier{slow})

	require.NoError(t, slow.Set(ctx, "k", []byte("v"), 0))
	v, ok, err := tiered.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))

	_, ok, _ = fast.Get(ctx, "k")
	assert.False(t, ok)
}

func TestArchiveTier_RemainingTTL(t *testing.T) {
	ctx := context.Background()
	a, _ := newArchive(t)
	clock := newFakeClock()
	a.now = clock.Now

	require.NoError(t, a.Set(ctx, "k", []byte("v"), time.Hour))
	clock.Advance(20 * time.Minute)

	v, remaining, ok, err := a.GetWithTTL(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
	assert.Equal(t, 40*time.Minute, remaining)
}

func TestTiered_SetAndInvalidate(t *testing.T) {
	ctx := context.Background()
	mem := NewTTLCache(10, time.Hour)
	archive, _ := newArchive(t)
	tiered := NewTiered(0, nil, mem, nil, archive)

	require.NoError(t, tiered.Set(ctx, "boundaries:4:2:-:false", []byte("x"), 0))
	_, ok, _ := archive.Get(ctx, "boundaries:4:2:-:false")
	assert.True(t, ok)

	require.NoError(t, tiered.DeletePrefix(ctx, "boundaries:4:"))
	_, ok, _ = tiered.Get(ctx, "boundaries:4:2:-:false")
	assert.False(t, ok)

	require.NoError(t, tiered.Set(ctx, "one", []byte("1"), 0))
	require.NoError(t, tiered.Delete(ctx, "one"))
	_, ok, _ = tiered.Get(ctx, "one")
	assert.False(t, ok)
}

func TestTiered_FailingTierIsSkipped(t *testing.T) {
	ctx := context.Background()
	mem := NewTTLCache(10, time.Hour)
	logger, hook := test.NewNullLogger()

	tiered := NewTiered(time.Hour, logger, failingTier{}, mem)
	require.NoError(t, tiered.Set(ctx, "k", []byte("v"), 0), "one healthy tier is enough")

	v, ok, err := tiered.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(v))

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["tier"] == "failing" {
			warned = true
		}
	}
	assert.True(t, warned, "tier failures are logged at warn")
}

func TestTiered_AllTiersFailing(t *testing.T) {
	logger, _ := test.NewNullLogger()
	tiered := NewTiered(time.Hour, logger, failingTier{})
	assert.Error(t, tiered.Set(context.Background(), "k", []byte("v"), 0))
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `dhis2sql:boundaries:1:`, escapeGlob("dhis2sql:boundaries:1:"))
	assert.Equal(t, `a\*b\?c\[d\]`, escapeGlob("a*b?c[d]"))
}

func TestRedisTier_Live(t *testing.T) {
	addr := os.Getenv("DHIS2SQL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DHIS2SQL_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	prefix := fmt.Sprintf("dhis2sql-test-%d:", time.Now().UnixNano())
	r, err := NewRedisTier(ctx, RedisConfig{Addr: addr, Prefix: prefix}, time.Minute)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Set(ctx, "boundaries:1:2:-:false", []byte("payload"), 0))
	v, remaining, ok, err := r.GetWithTTL(ctx, "boundaries:1:2:-:false")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payload", string(v))
	assert.True(t, remaining > 0 && remaining <= time.Minute, "remaining %s", remaining)

	require.NoError(t, r.DeletePrefix(ctx, "boundaries:1:"))
	_, ok, err = r.Get(ctx, "boundaries:1:2:-:false")
	require.NoError(t, err)
	assert.False(t, ok)
}
