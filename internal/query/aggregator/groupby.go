package aggregator

import (
	"strings"

	"github.com/hmis-ug/dhis2sql/internal/query/parser"
)

// Group holds the key values and accumulators of one GROUP BY group.
type Group struct {
	KeyValues    []interface{}
	Accumulators []Accumulator
}

// GroupRows splits rows into groups keyed by the values produced by keys
// and folds every aggregate over each group. Groups keep first-seen order.
// Without keys all rows form a single group, which is returned even when
// there are no rows so that SELECT COUNT(*) yields 0.
func GroupRows(
	rows [][]interface{},
	keys []func(row []interface{}) (interface{}, error),
	aggs []*parser.AggregateExpr,
	args []func(row []interface{}) (interface{}, error),
) ([]*Group, error) {
	newGroup := func(keyVals []interface{}) (*Group, error) {
		g := &Group{KeyValues: keyVals, Accumulators: make([]Accumulator, len(aggs))}
		for i, expr := range aggs {
			acc, err := NewAccumulator(expr.Function, expr.Distinct)
			if err != nil {
				return nil, err
			}
			g.Accumulators[i] = acc
		}
		return g, nil
	}

	index := make(map[string]*Group)
	var groups []*Group

	for _, row := range rows {
		keyVals := make([]interface{}, len(keys))
		for i, k := range keys {
			v, err := k(row)
			if err != nil {
				return nil, err
			}
			keyVals[i] = v
		}
		key := groupKeyString(keyVals)

		g, exists := index[key]
		if !exists {
			var err error
			if g, err = newGroup(keyVals); err != nil {
				return nil, err
			}
			index[key] = g
			groups = append(groups, g)
		}

		for i, acc := range g.Accumulators {
			if args[i] == nil {
				// COUNT(*) counts every row
				acc.Accumulate(int64(1))
				continue
			}
			v, err := args[i](row)
			if err != nil {
				return nil, err
			}
			acc.Accumulate(v)
		}
	}

	if len(keys) == 0 && len(groups) == 0 {
		g, err := newGroup(nil)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// groupKeyString produces a deterministic string key from a slice of values.
func groupKeyString(vals []interface{}) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = valueKey(v)
	}
	return strings.Join(parts, "|")
}

// CollectAggregates returns the distinct aggregate expressions found in
// exprs, keyed by their SQL text.
func CollectAggregates(exprs ...parser.Expression) []*parser.AggregateExpr {
	seen := make(map[string]bool)
	var out []*parser.AggregateExpr
	for _, expr := range exprs {
		parser.Walk(expr, func(e parser.Expression) bool {
			if agg, ok := e.(*parser.AggregateExpr); ok {
				key := aggKey(agg)
				if !seen[key] {
					seen[key] = true
					out = append(out, agg)
				}
				return false
			}
			return true
		})
	}
	return out
}

// aggKey identifies an aggregate regardless of case or identifier quoting.
func aggKey(agg *parser.AggregateExpr) string {
	return strings.ToUpper(strings.ReplaceAll(agg.String(), `"`, ""))
}
