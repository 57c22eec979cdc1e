package parser

import (
	"fmt"
	"strconv"
)

// PredicateType classifies a column predicate.
type PredicateType int

const (
	PredicateEquality PredicateType = iota // col = v, col <> v
	PredicateRange                         // col < v and friends
	PredicateIn                            // col IN (...)
	PredicateBetween                       // col BETWEEN lo AND hi
	PredicateLike                          // col LIKE pattern
	PredicateIsNull                        // col IS [NOT] NULL
)

// Predicate is a comparison of one column against constants. Comparisons
// written constant-first are flipped so Column is always on the left.
type Predicate struct {
	Type     PredicateType
	Column   string
	Table    string
	Operator string
	Value    interface{}   // equality, range and LIKE
	Values   []interface{} // IN
	Low      interface{}   // BETWEEN
	High     interface{}
	Not      bool
}

// ExtractPredicates returns every column-versus-constant predicate in the
// WHERE clause, looking through AND, OR, NOT and parentheses. Callers that
// need predicates which must all hold use Conjuncts first.
func ExtractPredicates(stmt *SelectStatement) []Predicate {
	if stmt == nil {
		return nil
	}
	return appendPredicates(nil, stmt.Where)
}

func appendPredicates(out []Predicate, expr Expression) []Predicate {
	switch ex := expr.(type) {
	case *BinaryExpr:
		if ex.Operator == "AND" || ex.Operator == "OR" {
			return appendPredicates(appendPredicates(out, ex.Left), ex.Right)
		}
	case *UnaryExpr:
		if ex.Operator == "NOT" {
			return appendPredicates(out, ex.Operand)
		}
		return out
	case *ParenExpr:
		return appendPredicates(out, ex.Expr)
	}
	if pred, ok := predicateOf(expr); ok {
		out = append(out, pred)
	}
	return out
}

// flipped gives the operator for a comparison with its operands swapped.
var flipped = map[string]string{"<": ">", ">": "<", "<=": ">=", ">=": "<="}

// predicateOf converts a single comparison node into a Predicate.
func predicateOf(expr Expression) (Predicate, bool) {
	switch ex := expr.(type) {
	case *BinaryExpr:
		typ := PredicateRange
		switch ex.Operator {
		case "=", "<>", "!=":
			typ = PredicateEquality
		case "<", ">", "<=", ">=":
		default:
			return Predicate{}, false
		}
		if col, ok := ex.Left.(*ColumnRef); ok {
			if v, ok := constant(ex.Right); ok {
				return Predicate{Type: typ, Column: col.Column, Table: col.Table, Operator: ex.Operator, Value: v}, true
			}
		}
		if col, ok := ex.Right.(*ColumnRef); ok {
			if v, ok := constant(ex.Left); ok {
				op := ex.Operator
				if f, ok := flipped[op]; ok {
					op = f
				}
				return Predicate{Type: typ, Column: col.Column, Table: col.Table, Operator: op, Value: v}, true
			}
		}

	case *InExpr:
		col, ok := ex.Expr.(*ColumnRef)
		if !ok {
			break
		}
		var values []interface{}
		for _, e := range ex.Values {
			if v, ok := constant(e); ok {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			return Predicate{Type: PredicateIn, Column: col.Column, Table: col.Table, Operator: "IN", Values: values, Not: ex.Not}, true
		}

	case *BetweenExpr:
		col, ok := ex.Expr.(*ColumnRef)
		if !ok {
			break
		}
		lo, okLo := constant(ex.Low)
		hi, okHi := constant(ex.High)
		if okLo && okHi {
			return Predicate{Type: PredicateBetween, Column: col.Column, Table: col.Table, Operator: "BETWEEN", Low: lo, High: hi, Not: ex.Not}, true
		}

	case *LikeExpr:
		col, ok := ex.Expr.(*ColumnRef)
		if !ok {
			break
		}
		if v, ok := constant(ex.Pattern); ok {
			return Predicate{Type: PredicateLike, Column: col.Column, Table: col.Table, Operator: "LIKE", Value: v, Not: ex.Not}, true
		}

	case *IsNullExpr:
		if col, ok := ex.Expr.(*ColumnRef); ok {
			return Predicate{Type: PredicateIsNull, Column: col.Column, Table: col.Table, Operator: "IS NULL", Not: ex.Not}, true
		}
	}
	return Predicate{}, false
}

// constant folds a literal, a parenthesized literal or a negated number.
// NULL is not a usable constant.
func constant(expr Expression) (interface{}, bool) {
	switch ex := expr.(type) {
	case *Literal:
		return ex.Value, ex.Value != nil
	case *ParenExpr:
		return constant(ex.Expr)
	case *UnaryExpr:
		if ex.Operator != "-" {
			return nil, false
		}
		switch v, _ := constant(ex.Operand); n := v.(type) {
		case int64:
			return -n, true
		case float64:
			return -n, true
		}
	}
	return nil, false
}

// IsInclusion reports whether the predicate selects an explicit value set
// (col = v or col IN (...)), which maps directly onto a DHIS2 dimension filter.
func IsInclusion(p Predicate) bool {
	switch p.Type {
	case PredicateEquality:
		return p.Operator == "="
	case PredicateIn:
		return !p.Not
	}
	return false
}

// StringValues returns the predicate's values as strings. Numbers are
// formatted without a trailing ".0".
func (p Predicate) StringValues() []string {
	raw := []interface{}{p.Value}
	switch p.Type {
	case PredicateIn:
		raw = p.Values
	case PredicateBetween:
		raw = []interface{}{p.Low, p.High}
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			out = append(out, val)
		case int64:
			out = append(out, strconv.FormatInt(val, 10))
		case float64:
			out = append(out, strconv.FormatFloat(val, 'f', -1, 64))
		default:
			out = append(out, fmt.Sprint(val))
		}
	}
	return out
}
