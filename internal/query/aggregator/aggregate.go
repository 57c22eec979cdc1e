// Package aggregator evaluates the SQL that DHIS2 cannot answer itself:
// row filters, GROUP BY with COUNT/SUM/MIN/MAX/AVG, projection, ORDER BY
// and LIMIT, over a normalized wide table.
package aggregator

import (
	"fmt"
	"strings"
)

// Accumulator folds one aggregate over the rows of a group. NULL inputs
// are skipped, so a missing health value never counts as zero.
type Accumulator interface {
	Accumulate(v interface{})
	// Result is 0 for an empty COUNT and NULL for any other empty aggregate.
	Result() interface{}
}

// NewAccumulator returns the accumulator for an aggregate function name.
// With distinct set, repeated values reach it only once.
func NewAccumulator(function string, distinct bool) (Accumulator, error) {
	var acc Accumulator
	switch strings.ToUpper(function) {
	case "COUNT":
		acc = new(countAcc)
	case "SUM":
		acc = &sumAcc{}
	case "AVG":
		acc = &sumAcc{mean: true}
	case "MIN":
		acc = &extremeAcc{keep: -1}
	case "MAX":
		acc = &extremeAcc{keep: 1}
	default:
		return nil, fmt.Errorf("unknown aggregate function: %s", function)
	}
	if distinct {
		acc = &distinctAcc{inner: acc, seen: make(map[string]struct{})}
	}
	return acc, nil
}

type countAcc int64

func (c *countAcc) Accumulate(v interface{}) {
	if v != nil {
		*c++
	}
}

func (c *countAcc) Result() interface{} { return int64(*c) }

// sumAcc ignores non-numeric values. With mean set it reports the average.
type sumAcc struct {
	sum  float64
	n    int64
	mean bool
}

func (s *sumAcc) Accumulate(v interface{}) {
	if f, ok := toFloat(v); ok {
		s.sum += f
		s.n++
	}
}

func (s *sumAcc) Result() interface{} {
	switch {
	case s.n == 0:
		return nil
	case s.mean:
		return s.sum / float64(s.n)
	}
	return s.sum
}

// extremeAcc keeps the value v for which Compare(v, best) == keep.
type extremeAcc struct {
	best interface{}
	keep int
}

func (e *extremeAcc) Accumulate(v interface{}) {
	if v == nil {
		return
	}
	if e.best == nil || Compare(v, e.best) == e.keep {
		e.best = v
	}
}

func (e *extremeAcc) Result() interface{} { return e.best }

type distinctAcc struct {
	inner Accumulator
	seen  map[string]struct{}
}

func (d *distinctAcc) Accumulate(v interface{}) {
	if v == nil {
		return
	}
	key := valueKey(v)
	if _, dup := d.seen[key]; dup {
		return
	}
	d.seen[key] = struct{}{}
	d.inner.Accumulate(v)
}

func (d *distinctAcc) Result() interface{} { return d.inner.Result() }

// valueKey identifies a value by type and printed form.
func valueKey(v interface{}) string {
	if v == nil {
		return "<NULL>"
	}
	return fmt.Sprintf("%T:%v", v, v)
}

// toFloat converts numbers and booleans for arithmetic.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float32:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Compare orders two values: NULL before everything, numbers numerically,
// strings lexically and mixed kinds by their printed form.
func Compare(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if !okA || !okB {
		sa, sb = fmt.Sprint(a), fmt.Sprint(b)
	}
	return strings.Compare(sa, sb)
}
