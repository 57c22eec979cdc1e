package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// TTLCache is the in-process tier: an LRU bounded by entry count whose
// entries also expire after a TTL. A janitor goroutine drops expired
// entries in the background; Get never returns an expired value.
type TTLCache struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	order      *list.List // front = most recently used
	items      map[string]*list.Element
	metrics    Metrics
	now        func() time.Time
	sweepEvery time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type memEntry struct {
	key     string
	value   []byte
	expires time.Time
}

// MemoryOption configures a TTLCache.
type MemoryOption func(*TTLCache)

// WithClock replaces time.Now. Tests use it to move time forward.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *TTLCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithJanitor starts a background sweep at the given interval.
func WithJanitor(interval time.Duration) MemoryOption {
	return func(c *TTLCache) {
		c.sweepEvery = interval
	}
}

// NewTTLCache creates an in-process cache. maxEntries <= 0 means unbounded;
// ttl <= 0 means DefaultTTL.
func NewTTLCache(maxEntries int, ttl time.Duration, opts ...MemoryOption) *TTLCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &TTLCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		order:      list.New(),
		items:      make(map[string]*list.Element),
		now:        time.Now,
		stopChan:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sweepEvery > 0 {
		c.wg.Add(1)
		go c.janitor(c.sweepEvery)
	}
	return c
}

// Name implements Tier.
func (c *TTLCache) Name() string { return "memory" }

// Get implements Tier.
func (c *TTLCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, _, ok, err := c.GetWithTTL(ctx, key)
	return value, ok, err
}

// GetWithTTL implements ExpiringTier.
func (c *TTLCache) GetWithTTL(_ context.Context, key string) ([]byte, time.Duration, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.metrics.Misses.Add(1)
		return nil, 0, false, nil
	}
	entry := elem.Value.(*memEntry)
	remaining := entry.expires.Sub(c.now())
	if remaining <= 0 {
		c.removeElement(elem)
		c.metrics.Expirations.Add(1)
		c.metrics.Misses.Add(1)
		return nil, 0, false, nil
	}
	c.order.MoveToFront(elem)
	c.metrics.Hits.Add(1)
	return entry.value, remaining, true, nil
}

// Set implements Tier.
func (c *TTLCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.Sets.Add(1)
	expires := c.now().Add(ttl)
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*memEntry)
		entry.value = value
		entry.expires = expires
		c.order.MoveToFront(elem)
		return nil
	}

	c.items[key] = c.order.PushFront(&memEntry{key: key, value: value, expires: expires})
	for c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		c.removeElement(c.order.Back())
		c.metrics.Evictions.Add(1)
	}
	return nil
}

// Delete implements Tier.
func (c *TTLCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
	return nil
}

// DeletePrefix implements Tier.
func (c *TTLCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, elem := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.removeElement(elem)
		}
	}
	return nil
}

// Len returns the number of entries, expired ones included until swept.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Metrics returns the tier's counters.
func (c *TTLCache) Metrics() *Metrics {
	return &c.metrics
}

// Sweep drops every expired entry and returns how many were dropped.
func (c *TTLCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	dropped := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if !now.Before(elem.Value.(*memEntry).expires) {
			c.removeElement(elem)
			dropped++
		}
		elem = prev
	}
	c.metrics.Expirations.Add(int64(dropped))
	return dropped
}

// Close stops the janitor, if any.
func (c *TTLCache) Close() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()
}

func (c *TTLCache) janitor(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// removeElement must be called with mu held.
func (c *TTLCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*memEntry)
	c.order.Remove(elem)
	delete(c.items, entry.key)
}
