package observability

import (
	"sync"
	"testing"
	"time"
)

// TestRecordConcurrent tests concurrent recording for race conditions.
func TestRecordConcurrent(t *testing.T) {
	qs := NewQueryStats(1 * time.Hour)
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				qs.RecordSource("dx", "comment")
				qs.RecordMatch("sanitized")
				qs.RecordPredicate("Period", "=")
			}
		}()
	}
	wg.Wait()

	expected := int64(numGoroutines * recordsPerGoroutine)
	snap := qs.Snapshot()
	for _, group := range [][]Stat{snap.Sources, snap.Matches, snap.Predicates} {
		if len(group) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(group))
		}
		if group[0].Frequency != expected {
			t.Errorf("expected frequency %d for %s, got %d", expected, group[0].Name, group[0].Frequency)
		}
	}
}

// TestTopMatchesOrdering tests that TopMatches returns results sorted by frequency.
func TestTopMatchesOrdering(t *testing.T) {
	qs := NewQueryStats(1 * time.Hour)

	for i := 0; i < 10; i++ {
		qs.RecordMatch("exact")
	}
	for i := 0; i < 5; i++ {
		qs.RecordMatch("aggregate")
	}
	for i := 0; i < 20; i++ {
		qs.RecordMatch("sanitized")
	}

	top := qs.TopMatches(3)
	if len(top) != 3 {
		t.Fatalf("expected 3 strategies, got %d", len(top))
	}
	want := []struct {
		name string
		freq int64
	}{{"sanitized", 20}, {"exact", 10}, {"aggregate", 5}}
	for i, w := range want {
		if top[i].Name != w.name || top[i].Frequency != w.freq {
			t.Errorf("position %d: expected %s with frequency %d, got %s with %d",
				i, w.name, w.freq, top[i].Name, top[i].Frequency)
		}
	}
}

// TestRecordSourceBreakdown tests that each axis keeps a per-source count.
func TestRecordSourceBreakdown(t *testing.T) {
	qs := NewQueryStats(1 * time.Hour)

	for i := 0; i < 5; i++ {
		qs.RecordSource("pe", "where")
	}
	for i := 0; i < 3; i++ {
		qs.RecordSource("pe", "defaults")
	}
	qs.RecordSource("pe", "comment")

	top := qs.TopSources(1)
	if len(top) != 1 {
		t.Fatalf("expected 1 axis, got %d", len(top))
	}
	stat := top[0]
	if stat.Frequency != 9 {
		t.Errorf("expected frequency 9, got %d", stat.Frequency)
	}
	if stat.Breakdown["where"] != 5 || stat.Breakdown["defaults"] != 3 || stat.Breakdown["comment"] != 1 {
		t.Errorf("unexpected breakdown: %v", stat.Breakdown)
	}
}

// TestTopReturnsCopies tests that callers cannot mutate the tracker.
func TestTopReturnsCopies(t *testing.T) {
	qs := NewQueryStats(1 * time.Hour)
	qs.RecordPredicate("OrgUnit", "IN")

	top := qs.TopPredicates(1)
	top[0].Breakdown["IN"] = 100

	if got := qs.TopPredicates(1)[0].Breakdown["IN"]; got != 1 {
		t.Errorf("expected stored count 1, got %d", got)
	}
}

// TestPruneRemovesOldEntries tests that Prune removes entries older than the window.
func TestPruneRemovesOldEntries(t *testing.T) {
	window := 100 * time.Millisecond
	qs := NewQueryStats(window)

	qs.RecordPredicate("OrgUnit", "=")
	qs.RecordMatch("exact")
	if len(qs.TopPredicates(10)) != 1 {
		t.Fatal("expected 1 predicate before prune")
	}

	time.Sleep(window + 50*time.Millisecond)
	qs.Prune()

	if n := len(qs.TopPredicates(10)); n != 0 {
		t.Errorf("expected 0 predicates after prune, got %d", n)
	}
	if n := len(qs.TopMatches(10)); n != 0 {
		t.Errorf("expected 0 matches after prune, got %d", n)
	}
}

// TestTopEmpty tests the accessors with no data.
func TestTopEmpty(t *testing.T) {
	qs := NewQueryStats(1 * time.Hour)
	if n := len(qs.TopSources(10)); n != 0 {
		t.Errorf("expected 0 sources, got %d", n)
	}
	if n := len(qs.TopPredicates(0)); n != 0 {
		t.Errorf("expected 0 predicates for n=0, got %d", n)
	}
}
