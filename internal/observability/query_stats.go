// Package observability tracks how queries are resolved: which dimension
// source answered each axis, which strategy matched each column and which
// columns WHERE clauses filter on.
package observability

import (
	"sort"
	"sync"
	"time"
)

// QueryStats counts resolution events inside a sliding window.
type QueryStats struct {
	mu         sync.RWMutex
	sources    map[string]*Stat
	matches    map[string]*Stat
	predicates map[string]*Stat
	window     time.Duration
}

// Stat holds the counters for one axis, strategy or column.
type Stat struct {
	Name      string         `json:"name"`
	Frequency int64          `json:"frequency"`
	LastSeen  time.Time      `json:"last_seen"`
	Breakdown map[string]int `json:"breakdown,omitempty"` // source or operator → count
}

// Snapshot is a copy of all counters, ordered by frequency.
type Snapshot struct {
	Sources    []Stat `json:"sources"`
	Matches    []Stat `json:"matches"`
	Predicates []Stat `json:"predicates"`
}

// NewQueryStats creates a tracker. Entries not seen for window are
// removed by Prune.
func NewQueryStats(window time.Duration) *QueryStats {
	return &QueryStats{
		sources:    make(map[string]*Stat),
		matches:    make(map[string]*Stat),
		predicates: make(map[string]*Stat),
		window:     window,
	}
}

func record(m map[string]*Stat, name, detail string) {
	s, ok := m[name]
	if !ok {
		s = &Stat{Name: name, Breakdown: make(map[string]int)}
		m[name] = s
	}
	s.Frequency++
	s.LastSeen = time.Now()
	if detail != "" {
		s.Breakdown[detail]++
	}
}

// RecordSource records that source resolved axis.
func (q *QueryStats) RecordSource(axis, source string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	record(q.sources, axis, source)
}

// RecordMatch records a successful column match by strategy.
func (q *QueryStats) RecordMatch(strategy string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	record(q.matches, strategy, "")
}

// RecordPredicate records a WHERE predicate on column.
func (q *QueryStats) RecordPredicate(column, operator string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	record(q.predicates, column, operator)
}

// TopSources returns the n most frequently resolved axes.
func (q *QueryStats) TopSources(n int) []Stat {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return top(q.sources, n)
}

// TopMatches returns the n most used match strategies.
func (q *QueryStats) TopMatches(n int) []Stat {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return top(q.matches, n)
}

// TopPredicates returns the n most filtered columns.
func (q *QueryStats) TopPredicates(n int) []Stat {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return top(q.predicates, n)
}

// Snapshot copies every counter.
func (q *QueryStats) Snapshot() Snapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return Snapshot{
		Sources:    top(q.sources, len(q.sources)),
		Matches:    top(q.matches, len(q.matches)),
		Predicates: top(q.predicates, len(q.predicates)),
	}
}

// top returns deep copies sorted by frequency descending, then name.
func top(m map[string]*Stat, n int) []Stat {
	if n <= 0 || len(m) == 0 {
		return []Stat{}
	}

	stats := make([]Stat, 0, len(m))
	for _, s := range m {
		c := Stat{Name: s.Name, Frequency: s.Frequency, LastSeen: s.LastSeen}
		if len(s.Breakdown) > 0 {
			c.Breakdown = make(map[string]int, len(s.Breakdown))
			for k, v := range s.Breakdown {
				c.Breakdown[k] = v
			}
		}
		stats = append(stats, c)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency != stats[j].Frequency {
			return stats[i].Frequency > stats[j].Frequency
		}
		return stats[i].Name < stats[j].Name
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes entries not seen within the window.
// This should be called periodically (e.g., every 5 minutes).
func (q *QueryStats) Prune() {
	q.mu.Lock()
	defer q.mu.Unlock()

	threshold := time.Now().Add(-q.window)
	for _, m := range []map[string]*Stat{q.sources, q.matches, q.predicates} {
		for name, s := range m {
			if s.LastSeen.Before(threshold) {
				delete(m, name)
			}
		}
	}
}
