package aggregator

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	dherrors "github.com/hmis-ug/dhis2sql/internal/errors"
	"github.com/hmis-ug/dhis2sql/internal/query/parser"
)

// Env resolves the leaves of an expression during evaluation.
type Env interface {
	Column(ref *parser.ColumnRef) (interface{}, error)
	Aggregate(agg *parser.AggregateExpr) (interface{}, error)
}

// Eval evaluates expr with SQL three-valued logic: comparisons involving
// NULL yield NULL, and NULL is not true.
func Eval(expr parser.Expression, env Env) (interface{}, error) {
	switch ex := expr.(type) {
	case *parser.Literal:
		return ex.Value, nil
	case *parser.ColumnRef:
		return env.Column(ex)
	case *parser.AggregateExpr:
		return env.Aggregate(ex)
	case *parser.ParenExpr:
		return Eval(ex.Expr, env)
	case *parser.UnaryExpr:
		return evalUnary(ex, env)
	case *parser.BinaryExpr:
		return evalBinary(ex, env)
	case *parser.InExpr:
		return evalIn(ex, env)
	case *parser.BetweenExpr:
		v, err := Eval(ex.Expr, env)
		if err != nil {
			return nil, err
		}
		lo, err := Eval(ex.Low, env)
		if err != nil {
			return nil, err
		}
		hi, err := Eval(ex.High, env)
		if err != nil {
			return nil, err
		}
		if v == nil || lo == nil || hi == nil {
			return nil, nil
		}
		in := compareLoose(v, lo) >= 0 && compareLoose(v, hi) <= 0
		return in != ex.Not, nil
	case *parser.IsNullExpr:
		v, err := Eval(ex.Expr, env)
		if err != nil {
			return nil, err
		}
		return (v == nil) != ex.Not, nil
	case *parser.LikeExpr:
		return evalLike(ex, env)
	case *parser.FunctionCall:
		return evalFunction(ex, env)
	}
	return nil, dherrors.NewQueryError(dherrors.CodeUnsupportedSyntax,
		"expression "+expr.String()+" cannot be evaluated on DHIS2 results")
}

// IsTrue reports whether v is SQL true.
func IsTrue(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case nil:
		return false
	}
	f, ok := toFloat(v)
	return ok && f != 0
}

func evalUnary(ex *parser.UnaryExpr, env Env) (interface{}, error) {
	v, err := Eval(ex.Operand, env)
	if err != nil || v == nil {
		return nil, err
	}
	switch ex.Operator {
	case "NOT":
		return !IsTrue(v), nil
	case "-":
		if f, ok := numeric(v); ok {
			if i, isInt := v.(int64); isInt {
				return -i, nil
			}
			return -f, nil
		}
	}
	return nil, dherrors.NewQueryError(dherrors.CodeUnsupportedSyntax,
		"unsupported unary operator "+ex.Operator)
}

func evalBinary(ex *parser.BinaryExpr, env Env) (interface{}, error) {
	left, err := Eval(ex.Left, env)
	if err != nil {
		return nil, err
	}

	switch ex.Operator {
	case "AND":
		if left != nil && !IsTrue(left) {
			return false, nil
		}
		right, err := Eval(ex.Right, env)
		if err != nil {
			return nil, err
		}
		if right != nil && !IsTrue(right) {
			return false, nil
		}
		if left == nil || right == nil {
			return nil, nil
		}
		return true, nil
	case "OR":
		if IsTrue(left) {
			return true, nil
		}
		right, err := Eval(ex.Right, env)
		if err != nil {
			return nil, err
		}
		if IsTrue(right) {
			return true, nil
		}
		if left == nil || right == nil {
			return nil, nil
		}
		return false, nil
	}

	right, err := Eval(ex.Right, env)
	if err != nil {
		return nil, err
	}
	if left == nil || right == nil {
		return nil, nil
	}

	switch ex.Operator {
	case "=":
		return compareLoose(left, right) == 0, nil
	case "<>", "!=":
		return compareLoose(left, right) != 0, nil
	case "<":
		return compareLoose(left, right) < 0, nil
	case ">":
		return compareLoose(left, right) > 0, nil
	case "<=":
		return compareLoose(left, right) <= 0, nil
	case ">=":
		return compareLoose(left, right) >= 0, nil
	case "+", "-", "*", "/":
		return arithmetic(ex.Operator, left, right)
	}
	return nil, dherrors.NewQueryError(dherrors.CodeUnsupportedSyntax,
		"unsupported operator "+ex.Operator)
}

func arithmetic(op string, left, right interface{}) (interface{}, error) {
	a, aok := numeric(left)
	b, bok := numeric(right)
	if !aok || !bok {
		return nil, dherrors.NewQueryError(dherrors.CodeUnsupportedSyntax,
			"arithmetic on non-numeric values")
	}
	_, aInt := left.(int64)
	_, bInt := right.(int64)
	ints := aInt && bInt

	switch op {
	case "+":
		if ints {
			return left.(int64) + right.(int64), nil
		}
		return a + b, nil
	case "-":
		if ints {
			return left.(int64) - right.(int64), nil
		}
		return a - b, nil
	case "*":
		if ints {
			return left.(int64) * right.(int64), nil
		}
		return a * b, nil
	default:
		if b == 0 {
			return nil, nil
		}
		return a / b, nil
	}
}

func evalIn(ex *parser.InExpr, env Env) (interface{}, error) {
	v, err := Eval(ex.Expr, env)
	if err != nil || v == nil {
		return nil, err
	}
	sawNull := false
	for _, item := range ex.Values {
		iv, err := Eval(item, env)
		if err != nil {
			return nil, err
		}
		if iv == nil {
			sawNull = true
			continue
		}
		if compareLoose(v, iv) == 0 {
			return !ex.Not, nil
		}
	}
	if sawNull {
		return nil, nil
	}
	return ex.Not, nil
}

func evalLike(ex *parser.LikeExpr, env Env) (interface{}, error) {
	v, err := Eval(ex.Expr, env)
	if err != nil {
		return nil, err
	}
	p, err := Eval(ex.Pattern, env)
	if err != nil {
		return nil, err
	}
	if v == nil || p == nil {
		return nil, nil
	}
	re, err := likePattern(toString(p))
	if err != nil {
		return nil, dherrors.NewQueryError(dherrors.CodeUnsupportedSyntax, "invalid LIKE pattern")
	}
	return re.MatchString(toString(v)) != ex.Not, nil
}

// likePattern translates a LIKE pattern into an anchored regexp.
func likePattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?s)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func evalFunction(ex *parser.FunctionCall, env Env) (interface{}, error) {
	args := make([]interface{}, len(ex.Args))
	for i, a := range ex.Args {
		v, err := Eval(a, env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	name := strings.ToUpper(ex.Name)
	switch {
	case name == "COALESCE" || name == "IFNULL":
		for _, a := range args {
			if a != nil {
				return a, nil
			}
		}
		return nil, nil
	case len(args) == 1 && args[0] == nil:
		return nil, nil
	case name == "LOWER" && len(args) == 1:
		return strings.ToLower(toString(args[0])), nil
	case name == "UPPER" && len(args) == 1:
		return strings.ToUpper(toString(args[0])), nil
	case name == "ABS" && len(args) == 1:
		if f, ok := numeric(args[0]); ok {
			return math.Abs(f), nil
		}
	case name == "ROUND" && (len(args) == 1 || len(args) == 2):
		f, ok := numeric(args[0])
		if !ok {
			break
		}
		digits := 0.0
		if len(args) == 2 {
			d, ok := numeric(args[1])
			if !ok {
				break
			}
			digits = d
		}
		pow := math.Pow(10, digits)
		return math.Round(f*pow) / pow, nil
	}
	return nil, dherrors.NewQueryError(dherrors.CodeUnsupportedSyntax,
		"function "+ex.Name+" is not supported on DHIS2 results")
}

// numeric converts numbers and numeric strings to float64.
func numeric(v interface{}) (float64, bool) {
	if f, ok := toFloat(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}

// compareLoose compares a number with a numeric string numerically, so
// Period = 2024 matches the period code "2024".
func compareLoose(a, b interface{}) int {
	_, aStr := a.(string)
	_, bStr := b.(string)
	if aStr != bStr {
		fa, aok := numeric(a)
		fb, bok := numeric(b)
		if aok && bok {
			return Compare(fa, fb)
		}
		return Compare(toString(a), toString(b))
	}
	return Compare(a, b)
}

func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	}
	return ""
}
