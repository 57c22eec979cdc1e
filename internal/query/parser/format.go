package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// printer renders nodes back to SQL that Parse accepts.
type printer struct {
	strings.Builder
}

func render(fn func(*printer)) string {
	var p printer
	fn(&p)
	return p.String()
}

func (s *SelectStatement) String() string { return render(func(p *printer) { p.stmt(s) }) }
func (c SelectColumn) String() string     { return render(func(p *printer) { p.column(c) }) }
func (t *TableRef) String() string        { return render(func(p *printer) { p.table(t) }) }
func (o OrderByClause) String() string    { return render(func(p *printer) { p.order(o) }) }

func (e *BinaryExpr) String() string    { return render(func(p *printer) { p.expr(e) }) }
func (e *UnaryExpr) String() string     { return render(func(p *printer) { p.expr(e) }) }
func (e *ColumnRef) String() string     { return render(func(p *printer) { p.expr(e) }) }
func (e *Literal) String() string       { return render(func(p *printer) { p.expr(e) }) }
func (e *AggregateExpr) String() string { return render(func(p *printer) { p.expr(e) }) }
func (e *StarExpr) String() string      { return render(func(p *printer) { p.expr(e) }) }
func (e *FunctionCall) String() string  { return render(func(p *printer) { p.expr(e) }) }
func (e *InExpr) String() string        { return render(func(p *printer) { p.expr(e) }) }
func (e *BetweenExpr) String() string   { return render(func(p *printer) { p.expr(e) }) }
func (e *IsNullExpr) String() string    { return render(func(p *printer) { p.expr(e) }) }
func (e *LikeExpr) String() string      { return render(func(p *printer) { p.expr(e) }) }
func (e *ParenExpr) String() string     { return render(func(p *printer) { p.expr(e) }) }

func (p *printer) stmt(s *SelectStatement) {
	p.WriteString("SELECT ")
	if s.Distinct {
		p.WriteString("DISTINCT ")
	}
	for i, c := range s.Columns {
		p.sep(i)
		p.column(c)
	}
	if s.From != nil {
		p.WriteString(" FROM ")
		p.table(s.From)
	}
	if s.Where != nil {
		p.WriteString(" WHERE ")
		p.expr(s.Where)
	}
	if len(s.GroupBy) > 0 {
		p.WriteString(" GROUP BY ")
		p.list(s.GroupBy)
	}
	if s.Having != nil {
		p.WriteString(" HAVING ")
		p.expr(s.Having)
	}
	for i, o := range s.OrderBy {
		if i == 0 {
			p.WriteString(" ORDER BY ")
		}
		p.sep(i)
		p.order(o)
	}
	if s.Limit != nil {
		p.WriteString(" LIMIT ")
		p.WriteString(strconv.FormatInt(*s.Limit, 10))
	}
	if s.Offset != nil {
		p.WriteString(" OFFSET ")
		p.WriteString(strconv.FormatInt(*s.Offset, 10))
	}
}

func (p *printer) column(c SelectColumn) {
	p.expr(c.Expr)
	if c.Alias != "" {
		p.WriteString(" AS ")
		p.WriteString(QuoteIdent(c.Alias))
	}
}

func (p *printer) table(t *TableRef) {
	switch {
	case t.Subquery != nil:
		p.WriteByte('(')
		p.stmt(t.Subquery)
		p.WriteByte(')')
	case t.Schema != "":
		p.WriteString(QuoteIdent(t.Schema))
		p.WriteByte('.')
		p.WriteString(QuoteIdent(t.Name))
	default:
		p.WriteString(QuoteIdent(t.Name))
	}
	if t.Alias != "" {
		p.WriteString(" AS ")
		p.WriteString(QuoteIdent(t.Alias))
	}
}

func (p *printer) order(o OrderByClause) {
	p.expr(o.Expr)
	if o.Desc {
		p.WriteString(" DESC")
	} else {
		p.WriteString(" ASC")
	}
}

func (p *printer) sep(i int) {
	if i > 0 {
		p.WriteString(", ")
	}
}

func (p *printer) list(exprs []Expression) {
	for i, e := range exprs {
		p.sep(i)
		p.expr(e)
	}
}

func (p *printer) not(neg bool) {
	if neg {
		p.WriteString(" NOT")
	}
}

func (p *printer) expr(e Expression) {
	switch x := e.(type) {
	case *BinaryExpr:
		p.WriteByte('(')
		p.expr(x.Left)
		p.WriteString(" " + x.Operator + " ")
		p.expr(x.Right)
		p.WriteByte(')')
	case *UnaryExpr:
		p.WriteString(x.Operator + " ")
		p.expr(x.Operand)
	case *ColumnRef:
		if x.Table != "" {
			p.WriteString(QuoteIdent(x.Table) + ".")
		}
		if x.Quoted {
			p.WriteString(quote(x.Column))
		} else {
			p.WriteString(QuoteIdent(x.Column))
		}
	case *Literal:
		p.literal(x.Value)
	case *AggregateExpr:
		p.WriteString(x.Function + "(")
		if x.Distinct {
			p.WriteString("DISTINCT ")
		}
		if x.Arg != nil {
			p.expr(x.Arg)
		}
		p.WriteByte(')')
	case *StarExpr:
		if x.Table != "" {
			p.WriteString(x.Table + ".")
		}
		p.WriteByte('*')
	case *FunctionCall:
		p.WriteString(x.Name + "(")
		p.list(x.Args)
		p.WriteByte(')')
	case *InExpr:
		p.expr(x.Expr)
		p.not(x.Not)
		p.WriteString(" IN (")
		p.list(x.Values)
		p.WriteByte(')')
	case *BetweenExpr:
		p.expr(x.Expr)
		p.not(x.Not)
		p.WriteString(" BETWEEN ")
		p.expr(x.Low)
		p.WriteString(" AND ")
		p.expr(x.High)
	case *IsNullExpr:
		p.expr(x.Expr)
		p.WriteString(" IS")
		p.not(x.Not)
		p.WriteString(" NULL")
	case *LikeExpr:
		p.expr(x.Expr)
		p.not(x.Not)
		p.WriteString(" LIKE ")
		p.expr(x.Pattern)
	case *ParenExpr:
		p.WriteByte('(')
		p.expr(x.Expr)
		p.WriteByte(')')
	}
}

func (p *printer) literal(v interface{}) {
	switch val := v.(type) {
	case nil:
		p.WriteString("NULL")
	case string:
		p.WriteString("'" + strings.ReplaceAll(val, "'", "''") + "'")
	case int64:
		p.WriteString(strconv.FormatInt(val, 10))
	case float64:
		p.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case bool:
		if val {
			p.WriteString("TRUE")
		} else {
			p.WriteString("FALSE")
		}
	default:
		p.WriteString(fmt.Sprint(val))
	}
}

// QuoteIdent double-quotes a name unless it is a plain identifier.
func QuoteIdent(name string) string {
	if isPlainIdent(name) {
		return name
	}
	return quote(name)
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// isPlainIdent reports whether name lexes back as the same unquoted
// identifier. Only ASCII names qualify.
func isPlainIdent(name string) bool {
	if name == "" || isReserved(name) {
		return false
	}
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch == '_', ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z':
		case i > 0 && isDigit(ch):
		default:
			return false
		}
	}
	return true
}
