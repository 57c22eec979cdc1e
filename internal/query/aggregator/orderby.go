package aggregator

import "slices"

// sortKey is one ORDER BY key: a column position in the row.
type sortKey struct {
	col  int
	desc bool
}

// OrderBySorter orders rows on precomputed key columns. Equal rows keep
// their input order.
type OrderBySorter struct {
	keys []sortKey
}

// NewOrderBySorter sorts on the row positions in indices; desc[i] flips
// the direction of indices[i].
func NewOrderBySorter(indices []int, desc []bool) *OrderBySorter {
	keys := make([]sortKey, len(indices))
	for i, col := range indices {
		keys[i] = sortKey{col: col, desc: i < len(desc) && desc[i]}
	}
	return &OrderBySorter{keys: keys}
}

// Sort orders rows in place. NULL is the smallest value, so it leads
// ascending and trails descending.
func (s *OrderBySorter) Sort(rows [][]interface{}) {
	if len(s.keys) == 0 {
		return
	}
	slices.SortStableFunc(rows, s.compare)
}

func (s *OrderBySorter) compare(a, b []interface{}) int {
	for _, k := range s.keys {
		c := Compare(cell(a, k.col), cell(b, k.col))
		if k.desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

func cell(row []interface{}, i int) interface{} {
	if i < len(row) {
		return row[i]
	}
	return nil
}

// SortAndLimit sorts rows, then applies OFFSET and LIMIT.
func (s *OrderBySorter) SortAndLimit(rows [][]interface{}, limit, offset *int64) [][]interface{} {
	s.Sort(rows)
	return Limit(rows, limit, offset)
}

// Limit skips offset rows and keeps at most limit of the rest. Nil means
// no bound.
func Limit(rows [][]interface{}, limit, offset *int64) [][]interface{} {
	if offset != nil && *offset > 0 {
		if *offset >= int64(len(rows)) {
			return [][]interface{}{}
		}
		rows = rows[*offset:]
	}
	if limit != nil && *limit >= 0 && *limit < int64(len(rows)) {
		rows = rows[:*limit]
	}
	return rows
}
