package parser

// Statement is a parsed SQL statement.
type Statement interface {
	statementNode()
	String() string
}

// Expression is a node of an expression tree.
type Expression interface {
	expressionNode()
	String() string
}

// SelectStatement is a SELECT query. Limit and Offset are nil when absent.
type SelectStatement struct {
	Distinct bool
	Columns  []SelectColumn
	From     *TableRef
	Where    Expression
	GroupBy  []Expression
	Having   Expression
	OrderBy  []OrderByClause
	Limit    *int64
	Offset   *int64
}

// SelectColumn is one item of the select list.
type SelectColumn struct {
	Expr  Expression
	Alias string
}

// OutputName returns the result column name: the alias if set, otherwise the
// column name for plain references, otherwise the expression text.
func (c SelectColumn) OutputName() string {
	if c.Alias != "" {
		return c.Alias
	}
	if ref, ok := c.Expr.(*ColumnRef); ok {
		return ref.Column
	}
	return c.Expr.String()
}

// TableRef is the FROM source. Either Name or Subquery is set.
type TableRef struct {
	Schema   string
	Name     string
	Subquery *SelectStatement
	Alias    string
}

// BaseTable returns the innermost named table, following derived tables.
func (t *TableRef) BaseTable() string {
	if t == nil {
		return ""
	}
	if t.Subquery != nil {
		return t.Subquery.From.BaseTable()
	}
	return t.Name
}

// OrderByClause is one ORDER BY key.
type OrderByClause struct {
	Expr Expression
	Desc bool
}

// BinaryExpr covers AND, OR, comparisons and arithmetic. Operator holds the
// upper-cased source operator.
type BinaryExpr struct {
	Left     Expression
	Operator string
	Right    Expression
}

// UnaryExpr is NOT x or -x.
type UnaryExpr struct {
	Operator string
	Operand  Expression
}

// ColumnRef names a column, optionally qualified by a table.
type ColumnRef struct {
	Table  string
	Column string
	Quoted bool // written as "Column" in the source
}

// Literal is a constant: string, int64, float64, bool or nil for NULL.
type Literal struct {
	Value interface{}
}

// AggregateExpr is COUNT, SUM, AVG, MIN or MAX. Arg is a StarExpr for
// COUNT(*).
type AggregateExpr struct {
	Function string
	Arg      Expression
	Distinct bool
}

// StarExpr is * or table.*.
type StarExpr struct {
	Table string
}

// FunctionCall is a call to a non-aggregate function.
type FunctionCall struct {
	Name string
	Args []Expression
}

type InExpr struct {
	Expr   Expression
	Values []Expression
	Not    bool
}

type BetweenExpr struct {
	Expr Expression
	Low  Expression
	High Expression
	Not  bool
}

type IsNullExpr struct {
	Expr Expression
	Not  bool
}

type LikeExpr struct {
	Expr    Expression
	Pattern Expression
	Not     bool
}

// ParenExpr keeps explicit parentheses so printing round-trips.
type ParenExpr struct {
	Expr Expression
}

func (*SelectStatement) statementNode() {}

func (*BinaryExpr) expressionNode()    {}
func (*UnaryExpr) expressionNode()     {}
func (*ColumnRef) expressionNode()     {}
func (*Literal) expressionNode()       {}
func (*AggregateExpr) expressionNode() {}
func (*StarExpr) expressionNode()      {}
func (*FunctionCall) expressionNode()  {}
func (*InExpr) expressionNode()        {}
func (*BetweenExpr) expressionNode()   {}
func (*IsNullExpr) expressionNode()    {}
func (*LikeExpr) expressionNode()      {}
func (*ParenExpr) expressionNode()     {}
