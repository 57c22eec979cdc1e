package parser

import "strings"

// Query is a parsed statement together with the comments found in its text.
type Query struct {
	SQL       string
	Statement *SelectStatement
	Comments  []Comment
}

// ParseQuery parses a SELECT statement and keeps its comments.
func ParseQuery(sql string) (*Query, error) {
	p := NewParser(sql)
	stmt, err := p.ParseStatement()
	if err != nil {
		return nil, err
	}
	sel, ok := stmt.(*SelectStatement)
	if !ok {
		return nil, &ParseError{Message: "expected SELECT statement"}
	}
	return &Query{
		SQL:       sql,
		Statement: sel,
		Comments:  p.lexer.Comments(),
	}, nil
}

// Table returns the base table name the query reads from, following
// derived tables, or "" when there is no FROM clause.
func (q *Query) Table() string {
	return q.Statement.From.BaseTable()
}

// Innermost returns the deepest SELECT, the one that reads the base table.
func (q *Query) Innermost() *SelectStatement {
	stmt := q.Statement
	for stmt.From != nil && stmt.From.Subquery != nil {
		stmt = stmt.From.Subquery
	}
	return stmt
}

// CommentsWithPrefix returns comment bodies that start with prefix
// (case-insensitive), with the prefix removed and whitespace trimmed.
func (q *Query) CommentsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range q.Comments {
		if len(c.Text) >= len(prefix) && strings.EqualFold(c.Text[:len(prefix)], prefix) {
			out = append(out, strings.TrimSpace(c.Text[len(prefix):]))
		}
	}
	return out
}

// Walk calls fn for every expression in the tree rooted at expr, parents
// before children. Returning false stops descent into the node's children.
func Walk(expr Expression, fn func(Expression) bool) {
	if expr == nil || !fn(expr) {
		return
	}
	switch ex := expr.(type) {
	case *BinaryExpr:
		Walk(ex.Left, fn)
		Walk(ex.Right, fn)
	case *UnaryExpr:
		Walk(ex.Operand, fn)
	case *AggregateExpr:
		Walk(ex.Arg, fn)
	case *FunctionCall:
		for _, a := range ex.Args {
			Walk(a, fn)
		}
	case *InExpr:
		Walk(ex.Expr, fn)
		for _, v := range ex.Values {
			Walk(v, fn)
		}
	case *BetweenExpr:
		Walk(ex.Expr, fn)
		Walk(ex.Low, fn)
		Walk(ex.High, fn)
	case *IsNullExpr:
		Walk(ex.Expr, fn)
	case *LikeExpr:
		Walk(ex.Expr, fn)
		Walk(ex.Pattern, fn)
	case *ParenExpr:
		Walk(ex.Expr, fn)
	}
}

// statementExprs lists every top-level expression of one SELECT level.
func statementExprs(stmt *SelectStatement) []Expression {
	var exprs []Expression
	for _, c := range stmt.Columns {
		exprs = append(exprs, c.Expr)
	}
	if stmt.Where != nil {
		exprs = append(exprs, stmt.Where)
	}
	exprs = append(exprs, stmt.GroupBy...)
	if stmt.Having != nil {
		exprs = append(exprs, stmt.Having)
	}
	for _, o := range stmt.OrderBy {
		exprs = append(exprs, o.Expr)
	}
	return exprs
}

// RewriteColumns renames every column reference in the statement, including
// derived tables, using rename. Select aliases are left untouched.
func RewriteColumns(stmt *SelectStatement, rename func(string) string) {
	if stmt == nil {
		return
	}
	for _, expr := range statementExprs(stmt) {
		Walk(expr, func(e Expression) bool {
			if ref, ok := e.(*ColumnRef); ok {
				ref.Column = rename(ref.Column)
			}
			return true
		})
	}
	if stmt.From != nil {
		RewriteColumns(stmt.From.Subquery, rename)
	}
}

// ColumnRefs returns the distinct column names referenced at one SELECT
// level, in first-seen order.
func ColumnRefs(stmt *SelectStatement) []string {
	seen := make(map[string]bool)
	var out []string
	for _, expr := range statementExprs(stmt) {
		Walk(expr, func(e Expression) bool {
			if ref, ok := e.(*ColumnRef); ok && !seen[ref.Column] {
				seen[ref.Column] = true
				out = append(out, ref.Column)
			}
			return true
		})
	}
	return out
}

// HasAggregates reports whether any select column contains an aggregate.
func HasAggregates(stmt *SelectStatement) bool {
	found := false
	for _, c := range stmt.Columns {
		Walk(c.Expr, func(e Expression) bool {
			if _, ok := e.(*AggregateExpr); ok {
				found = true
				return false
			}
			return !found
		})
	}
	return found
}

// IsStar reports whether the select list is a single unqualified or
// qualified *.
func IsStar(stmt *SelectStatement) bool {
	if len(stmt.Columns) != 1 {
		return false
	}
	_, ok := stmt.Columns[0].Expr.(*StarExpr)
	return ok
}

// Conjuncts splits an expression on top-level AND, looking through
// parentheses around AND chains.
func Conjuncts(expr Expression) []Expression {
	switch ex := expr.(type) {
	case nil:
		return nil
	case *BinaryExpr:
		if ex.Operator == "AND" {
			return append(Conjuncts(ex.Left), Conjuncts(ex.Right)...)
		}
	case *ParenExpr:
		if b, ok := ex.Expr.(*BinaryExpr); ok && b.Operator == "AND" {
			return Conjuncts(b)
		}
	}
	return []Expression{expr}
}

// ExprColumns returns the distinct column names referenced by expr.
func ExprColumns(expr Expression) []string {
	seen := make(map[string]bool)
	var out []string
	Walk(expr, func(e Expression) bool {
		if ref, ok := e.(*ColumnRef); ok && !seen[ref.Column] {
			seen[ref.Column] = true
			out = append(out, ref.Column)
		}
		return true
	})
	return out
}
