package aggregator

import (
	"fmt"
	"strings"

	dherrors "github.com/hmis-ug/dhis2sql/internal/errors"
	"github.com/hmis-ug/dhis2sql/internal/query/matcher"
	"github.com/hmis-ug/dhis2sql/internal/query/parser"
	"github.com/hmis-ug/dhis2sql/internal/sanitize"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

// Options tune Apply.
type Options struct {
	// Skip holds columns whose WHERE terms were already answered by the
	// DHIS2 request
	Skip map[string]bool
}

// Projector runs one SELECT level over a table.
type Projector struct {
	matcher *matcher.Matcher
}

// NewProjector creates a projector that resolves column names with m.
func NewProjector(m *matcher.Matcher) *Projector {
	if m == nil {
		m = matcher.New()
	}
	return &Projector{matcher: m}
}

// Apply evaluates stmt against table and returns the result table. Every
// column name in stmt must resolve through the matcher; an unresolved
// name is a COLUMN_MAPPING error whether or not the table has rows.
func (p *Projector) Apply(table *types.Table, stmt *parser.SelectStatement, opts Options) (*types.Table, error) {
	in := p.input(table)
	if _, err := in.resolve(stmt, opts.Skip); err != nil {
		return nil, err
	}

	items, err := in.expandStar(stmt.Columns)
	if err != nil {
		return nil, err
	}

	rows, err := in.filter(stmt.Where, opts.Skip)
	if err != nil {
		return nil, err
	}

	grouped := len(stmt.GroupBy) > 0 || parser.HasAggregates(stmt) || stmt.Having != nil

	var out [][]interface{}
	if grouped {
		out, err = in.aggregate(rows, items, stmt)
	} else {
		out, err = in.project(rows, items, stmt.OrderBy)
	}
	if err != nil {
		return nil, err
	}

	if stmt.Distinct {
		out = distinctRows(out, len(items))
	}

	indices := make([]int, len(stmt.OrderBy))
	desc := make([]bool, len(stmt.OrderBy))
	for i, o := range stmt.OrderBy {
		indices[i] = len(items) + i
		desc[i] = o.Desc
	}
	out = NewOrderBySorter(indices, desc).SortAndLimit(out, stmt.Limit, stmt.Offset)

	result := types.NewTable(in.outputColumns(items))
	for _, row := range out {
		result.Rows = append(result.Rows, row[:len(items)])
	}
	return result, nil
}

func (p *Projector) input(table *types.Table) *input {
	return &input{table: table, names: table.ColumnNames(), matcher: p.matcher, cache: make(map[string]int)}
}

type input struct {
	table   *types.Table
	names   []string
	matcher *matcher.Matcher
	cache   map[string]int
}

// index resolves a column name once per Apply call.
func (in *input) index(name string) (int, error) {
	if idx, ok := in.cache[name]; ok {
		return idx, nil
	}
	idx, err := in.matcher.Index(name, in.names)
	if err != nil {
		return -1, err
	}
	in.cache[name] = idx
	return idx, nil
}

func (in *input) expandStar(cols []parser.SelectColumn) ([]parser.SelectColumn, error) {
	var items []parser.SelectColumn
	for _, c := range cols {
		if _, ok := c.Expr.(*parser.StarExpr); ok {
			for _, name := range in.names {
				items = append(items, parser.SelectColumn{Expr: &parser.ColumnRef{Column: name}})
			}
			continue
		}
		items = append(items, c)
	}
	if len(items) == 0 {
		return nil, dherrors.NewQueryError(dherrors.CodeUnsupportedSyntax, "SELECT list is empty")
	}
	return items, nil
}

// filter keeps rows where every WHERE term is true. Terms that only touch
// skipped columns are not evaluated.
func (in *input) filter(where parser.Expression, skip map[string]bool) ([][]interface{}, error) {
	if where == nil {
		return in.table.Rows, nil
	}
	var terms []parser.Expression
	for _, t := range parser.Conjuncts(where) {
		if !skippable(t, skip) {
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 {
		return in.table.Rows, nil
	}

	kept := make([][]interface{}, 0, len(in.table.Rows))
	for _, row := range in.table.Rows {
		env := &rowEnv{in: in, row: row}
		keep := true
		for _, t := range terms {
			v, err := Eval(t, env)
			if err != nil {
				return nil, err
			}
			if !IsTrue(v) {
				keep = false
				break
			}
		}
		if keep {
			kept = append(kept, row)
		}
	}
	return kept, nil
}

func skippable(term parser.Expression, skip map[string]bool) bool {
	if len(skip) == 0 {
		return false
	}
	for {
		paren, ok := term.(*parser.ParenExpr)
		if !ok {
			break
		}
		term = paren.Expr
	}
	switch t := term.(type) {
	case *parser.BinaryExpr:
		if t.Operator == "OR" {
			return false
		}
	case *parser.UnaryExpr:
		return false
	}
	cols := parser.ExprColumns(term)
	if len(cols) == 0 {
		return false
	}
	for _, c := range cols {
		if !skip[c] {
			return false
		}
	}
	return true
}

// project evaluates the select list per row, followed by the ORDER BY keys.
func (in *input) project(rows [][]interface{}, items []parser.SelectColumn, orderBy []parser.OrderByClause) ([][]interface{}, error) {
	out := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		vals := make([]interface{}, len(items)+len(orderBy))
		env := &rowEnv{in: in, row: row}
		for i, it := range items {
			v, err := Eval(it.Expr, env)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		if err := orderKeys(vals, items, orderBy, env); err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, nil
}

// aggregate groups rows and evaluates the select list, HAVING and the
// ORDER BY keys per group.
func (in *input) aggregate(rows [][]interface{}, items []parser.SelectColumn, stmt *parser.SelectStatement) ([][]interface{}, error) {
	exprs := make([]parser.Expression, 0, len(items)+len(stmt.OrderBy)+1)
	for _, it := range items {
		exprs = append(exprs, it.Expr)
	}
	exprs = append(exprs, stmt.Having)
	for _, o := range stmt.OrderBy {
		exprs = append(exprs, o.Expr)
	}
	aggs := CollectAggregates(exprs...)

	evalOn := func(expr parser.Expression) func([]interface{}) (interface{}, error) {
		return func(row []interface{}) (interface{}, error) {
			return Eval(expr, &rowEnv{in: in, row: row})
		}
	}
	keys := make([]func([]interface{}) (interface{}, error), len(stmt.GroupBy))
	for i, g := range stmt.GroupBy {
		keys[i] = evalOn(g)
	}
	args := make([]func([]interface{}) (interface{}, error), len(aggs))
	for i, a := range aggs {
		if _, star := a.Arg.(*parser.StarExpr); a.Arg != nil && !star {
			args[i] = evalOn(a.Arg)
		}
	}

	groups, err := GroupRows(rows, keys, aggs, args)
	if err != nil {
		return nil, err
	}

	out := make([][]interface{}, 0, len(groups))
	for _, g := range groups {
		env := &groupEnv{in: in, group: g, groupBy: stmt.GroupBy, aggs: aggs}
		if stmt.Having != nil {
			v, err := Eval(stmt.Having, env)
			if err != nil {
				return nil, err
			}
			if !IsTrue(v) {
				continue
			}
		}
		vals := make([]interface{}, len(items)+len(stmt.OrderBy))
		for i, it := range items {
			v, err := Eval(it.Expr, env)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		if err := orderKeys(vals, items, stmt.OrderBy, env); err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, nil
}

// orderKeys fills the ORDER BY slots after the select values. ORDER BY
// may name an output alias or a 1-based output position.
func orderKeys(vals []interface{}, items []parser.SelectColumn, orderBy []parser.OrderByClause, env Env) error {
	for j, o := range orderBy {
		if i, ok := outputRef(o.Expr, items); ok {
			vals[len(items)+j] = vals[i]
			continue
		}
		v, err := Eval(o.Expr, env)
		if err != nil {
			return err
		}
		vals[len(items)+j] = v
	}
	return nil
}

func outputRef(expr parser.Expression, items []parser.SelectColumn) (int, bool) {
	switch ex := expr.(type) {
	case *parser.Literal:
		if n, ok := ex.Value.(int64); ok && n >= 1 && int(n) <= len(items) {
			return int(n) - 1, true
		}
	case *parser.ColumnRef:
		if ex.Table != "" {
			return 0, false
		}
		for i, it := range items {
			if it.Alias != "" && strings.EqualFold(it.Alias, ex.Column) {
				return i, true
			}
		}
	case *parser.AggregateExpr:
		for i, it := range items {
			if a, ok := it.Expr.(*parser.AggregateExpr); ok && aggKey(a) == aggKey(ex) {
				return i, true
			}
		}
	}
	return 0, false
}

// outputColumns describes the result columns.
func (in *input) outputColumns(items []parser.SelectColumn) []types.ColumnMeta {
	cols := make([]types.ColumnMeta, len(items))
	for i, it := range items {
		meta := types.ColumnMeta{Type: types.ColumnNumeric}
		switch ex := it.Expr.(type) {
		case *parser.ColumnRef:
			if idx, err := in.index(ex.Column); err == nil {
				meta = in.table.Columns[idx]
			}
		case *parser.AggregateExpr:
			if ref, ok := ex.Arg.(*parser.ColumnRef); ok && (strings.EqualFold(ex.Function, "MIN") || strings.EqualFold(ex.Function, "MAX")) {
				if idx, err := in.index(ref.Column); err == nil {
					meta.Type = in.table.Columns[idx].Type
				}
			}
			meta.GroupBy = false
		case *parser.Literal:
			if _, ok := ex.Value.(string); ok {
				meta.Type = types.ColumnString
			}
		case *parser.FunctionCall:
			switch strings.ToUpper(ex.Name) {
			case "LOWER", "UPPER":
				meta.Type = types.ColumnString
			}
		}
		if it.Alias != "" {
			meta.Name = it.Alias
		} else if meta.Name == "" {
			meta.Name = it.Expr.String()
		}
		if meta.VerboseName == "" {
			meta.VerboseName = meta.Name
		}
		cols[i] = meta
	}
	return cols
}

func distinctRows(rows [][]interface{}, width int) [][]interface{} {
	seen := make(map[string]bool, len(rows))
	out := rows[:0:0]
	for _, row := range rows {
		key := groupKeyString(row[:width])
		if !seen[key] {
			seen[key] = true
			out = append(out, row)
		}
	}
	return out
}

// rowEnv evaluates against one input row.
type rowEnv struct {
	in  *input
	row []interface{}
}

func (e *rowEnv) Column(ref *parser.ColumnRef) (interface{}, error) {
	idx, err := e.in.index(ref.Column)
	if err != nil {
		return nil, err
	}
	return e.row[idx], nil
}

func (e *rowEnv) Aggregate(agg *parser.AggregateExpr) (interface{}, error) {
	return nil, dherrors.NewQueryError(dherrors.CodeUnsupportedSyntax,
		fmt.Sprintf("aggregate %s is not allowed here", agg.String()))
}

// groupEnv evaluates against one group: plain columns must be GROUP BY
// keys, aggregates come from the group's accumulators.
type groupEnv struct {
	in      *input
	group   *Group
	groupBy []parser.Expression
	aggs    []*parser.AggregateExpr
}

func (e *groupEnv) Column(ref *parser.ColumnRef) (interface{}, error) {
	idx, err := e.in.index(ref.Column)
	if err != nil {
		return nil, err
	}
	for i, g := range e.groupBy {
		gref, ok := g.(*parser.ColumnRef)
		if !ok {
			continue
		}
		if gidx, err := e.in.index(gref.Column); err == nil && gidx == idx {
			return e.group.KeyValues[i], nil
		}
	}
	return nil, dherrors.NewQueryError(dherrors.CodeUnsupportedSyntax,
		fmt.Sprintf("column %q must appear in GROUP BY or inside an aggregate", ref.Column))
}

func (e *groupEnv) Aggregate(agg *parser.AggregateExpr) (interface{}, error) {
	key := aggKey(agg)
	for i, a := range e.aggs {
		if aggKey(a) == key {
			return e.group.Accumulators[i].Result(), nil
		}
	}
	return nil, dherrors.NewInternalError("aggregate "+agg.String()+" was not collected", nil)
}

// Columns reports the table columns that stmt references at this level,
// resolved to their table names. It fails on the first unresolved name.
func (p *Projector) Columns(table *types.Table, stmt *parser.SelectStatement) ([]string, error) {
	return p.input(table).resolve(stmt, nil)
}

// resolve maps every column stmt references to its table column name.
// Select aliases are not columns. WHERE terms that skip would drop are
// never evaluated, so their columns are not required.
func (in *input) resolve(stmt *parser.SelectStatement, skip map[string]bool) ([]string, error) {
	refs := parser.ColumnRefs(&parser.SelectStatement{
		Columns: stmt.Columns,
		GroupBy: stmt.GroupBy,
		Having:  stmt.Having,
		OrderBy: stmt.OrderBy,
	})
	if stmt.Where != nil {
		for _, t := range parser.Conjuncts(stmt.Where) {
			if !skippable(t, skip) {
				refs = append(refs, parser.ExprColumns(t)...)
			}
		}
	}

	var out []string
	seen := make(map[string]bool)
	for _, name := range refs {
		if isAlias(name, stmt.Columns) {
			continue
		}
		idx, err := in.index(name)
		if err != nil {
			return nil, err
		}
		if n := in.table.Columns[idx].Name; !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out, nil
}

func isAlias(name string, cols []parser.SelectColumn) bool {
	for _, c := range cols {
		if c.Alias != "" && (strings.EqualFold(c.Alias, name) || sanitize.Equal(c.Alias, name)) {
			return true
		}
	}
	return false
}
