// Package events is an in-process bus for catalog changes. Holders of
// per-database state (client pools, boundary caches) subscribe to drop what
// a change made stale.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies what changed.
type Kind int

const (
	ConnectionChanged Kind = iota
	ConnectionDeleted
	DatasetChanged
	DatasetDeleted
)

func (k Kind) String() string {
	switch k {
	case ConnectionChanged:
		return "connection_changed"
	case ConnectionDeleted:
		return "connection_deleted"
	case DatasetChanged:
		return "dataset_changed"
	case DatasetDeleted:
		return "dataset_deleted"
	}
	return "unknown"
}

// Event describes one catalog change. Connection events carry DatabaseID,
// dataset events carry Table.
type Event struct {
	Kind       Kind
	DatabaseID int64
	Table      string
	Seq        uint64
	Timestamp  time.Time
}

// Bus fans events out to subscribers.
type Bus struct {
	mu          sync.RWMutex // close(sub.C) must not race a send
	subscribers map[uint64]*Subscription
	bufferSize  int
	seq         atomic.Uint64
	nextID      atomic.Uint64
	dropped     atomic.Uint64
}

// Subscription receives the events of the kinds it asked for.
type Subscription struct {
	ID    uint64
	Kinds []Kind
	C     chan Event
}

// NewBus creates a bus whose subscriber channels hold bufferSize events.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{bufferSize: bufferSize, subscribers: make(map[uint64]*Subscription)}
}

// Publish stamps e and sends it to every matching subscriber. It never
// blocks: a full subscriber misses the event and the drop is counted.
func (b *Bus) Publish(e Event) Event {
	e.Seq = b.seq.Add(1)
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if !sub.wants(e.Kind) {
			continue
		}
		select {
		case sub.C <- e:
		default:
			b.dropped.Add(1)
		}
	}
	return e
}

// Subscribe registers a subscriber. No kinds means every kind.
func (b *Bus) Subscribe(kinds ...Kind) *Subscription {
	sub := &Subscription{
		ID:    b.nextID.Add(1),
		Kinds: kinds,
		C:     make(chan Event, b.bufferSize),
	}
	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call twice.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub.ID]; ok {
		delete(b.subscribers, sub.ID)
		close(sub.C)
	}
}

// Dropped returns how many deliveries were skipped on full channels.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

func (s *Subscription) wants(k Kind) bool {
	if len(s.Kinds) == 0 {
		return true
	}
	for _, want := range s.Kinds {
		if want == k {
			return true
		}
	}
	return false
}
