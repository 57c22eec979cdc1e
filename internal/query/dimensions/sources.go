package dimensions

import (
	"context"
	"strings"
	"time"

	"github.com/hmis-ug/dhis2sql/internal/dhis2"
	"github.com/hmis-ug/dhis2sql/internal/query/parser"
	"github.com/hmis-ug/dhis2sql/internal/sanitize"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

// Request is the input shared by every source in the chain.
type Request struct {
	// Query is the parsed SQL
	Query *parser.Query

	// Context holds dimensions supplied with the request, if any
	Context *types.Dimensions

	// Columns are the catalog columns of the queried table
	Columns []types.ColumnMeta

	owned map[types.Axis]string
}

// Resolved reports whether an earlier source already owns the axis.
func (r *Request) Resolved(a types.Axis) bool {
	_, ok := r.owned[a]
	return ok
}

// Partial is what one source contributes.
type Partial struct {
	Dimensions types.Dimensions

	// Columns maps an axis to the result column that carries it
	Columns map[types.Axis]string

	// Pushed lists WHERE columns whose predicates were turned into
	// dimension values
	Pushed []string
}

func (p *Partial) setColumn(a types.Axis, name string) {
	if p.Columns == nil {
		p.Columns = make(map[types.Axis]string)
	}
	if _, ok := p.Columns[a]; !ok {
		p.Columns[a] = name
	}
}

// Source resolves some or all dimension axes for a request.
type Source interface {
	Name() string
	Resolve(ctx context.Context, req *Request) (Partial, error)
}

// Source names, as recorded in Resolution.Sources.
const (
	SourceComment  = "comment"
	SourceRequest  = "request_context"
	SourceDataset  = "dataset"
	SourceSelect   = "select"
	SourceWhere    = "where"
	SourceDefaults = "defaults"
)

// CommentSource reads /* DHIS2: ... */ override comments. Later comments
// add to earlier ones.
type CommentSource struct{}

func (CommentSource) Name() string { return SourceComment }

func (CommentSource) Resolve(_ context.Context, req *Request) (Partial, error) {
	var out Partial
	if req.Query == nil {
		return out, nil
	}
	for _, body := range req.Query.CommentsWithPrefix(CommentPrefix) {
		d, ok := ParseComment(body)
		if !ok {
			continue
		}
		out.Dimensions.DataElements = append(out.Dimensions.DataElements, d.DataElements...)
		out.Dimensions.Periods = append(out.Dimensions.Periods, d.Periods...)
		out.Dimensions.OrgUnits = append(out.Dimensions.OrgUnits, d.OrgUnits...)
		if d.OUMode != "" {
			out.Dimensions.OUMode = d.OUMode
		}
		if d.Hierarchy {
			out.Dimensions.Hierarchy = true
		}
		if d.DataSet != "" {
			out.Dimensions.DataSet = d.DataSet
		}
	}
	return out, nil
}

// RequestContextSource returns the dimensions attached to the request.
type RequestContextSource struct{}

func (RequestContextSource) Name() string { return SourceRequest }

func (RequestContextSource) Resolve(_ context.Context, req *Request) (Partial, error) {
	if req.Context == nil {
		return Partial{}, nil
	}
	return Partial{Dimensions: req.Context.Clone()}, nil
}

// DatasetLookup returns the stored dimension preset of a table.
type DatasetLookup interface {
	Dataset(ctx context.Context, table string) (types.Dimensions, bool, error)
}

// DatasetSource reads the preset saved for the queried table.
type DatasetSource struct {
	Store DatasetLookup
}

func (DatasetSource) Name() string { return SourceDataset }

func (s DatasetSource) Resolve(ctx context.Context, req *Request) (Partial, error) {
	if s.Store == nil || req.Query == nil {
		return Partial{}, nil
	}
	table := req.Query.Table()
	if table == "" {
		return Partial{}, nil
	}
	d, ok, err := s.Store.Dataset(ctx, table)
	if err != nil || !ok {
		return Partial{}, err
	}
	return Partial{Dimensions: d}, nil
}

// SelectColumnSource infers axis roles from the select list and GROUP BY
// of the innermost SELECT. Columns known to the catalog as data element
// columns contribute their UIDs to dx.
type SelectColumnSource struct{}

func (SelectColumnSource) Name() string { return SourceSelect }

func (SelectColumnSource) Resolve(_ context.Context, req *Request) (Partial, error) {
	var out Partial
	if req.Query == nil {
		return out, nil
	}
	stmt := req.Query.Innermost()

	seen := make(map[string]bool)
	addUID := func(uid string) {
		if uid != "" && !seen[uid] {
			seen[uid] = true
			out.Dimensions.DataElements = append(out.Dimensions.DataElements, uid)
		}
	}
	visit := func(name string) {
		if axis, ok := RoleOf(name); ok {
			out.setColumn(axis, name)
			if IsHierarchyLevel(name) {
				out.Dimensions.Hierarchy = true
			}
			return
		}
		if meta, ok := lookupColumn(req.Columns, name); ok {
			addUID(meta.SourceUID)
		}
	}

	for _, col := range stmt.Columns {
		if _, ok := col.Expr.(*parser.StarExpr); ok {
			for _, meta := range req.Columns {
				addUID(meta.SourceUID)
			}
			continue
		}
		parser.Walk(col.Expr, func(e parser.Expression) bool {
			if ref, ok := e.(*parser.ColumnRef); ok {
				visit(ref.Column)
			}
			return true
		})
	}
	for _, g := range stmt.GroupBy {
		if ref, ok := g.(*parser.ColumnRef); ok {
			visit(ref.Column)
		}
	}
	return out, nil
}

// lookupColumn finds a catalog column by sanitized or display name.
func lookupColumn(columns []types.ColumnMeta, name string) (types.ColumnMeta, bool) {
	for _, c := range columns {
		if sanitize.Equal(c.Name, name) || (c.VerboseName != "" && sanitize.Equal(c.VerboseName, name)) {
			return c, true
		}
	}
	return types.ColumnMeta{}, false
}

// OrgUnitResolver looks up org units by display name.
type OrgUnitResolver interface {
	OrgUnitsByName(ctx context.Context, names []string) ([]dhis2.OrgUnit, error)
}

// WhereClauseSource reads equality, IN and range predicates on role
// columns from the top-level AND terms of the innermost WHERE clause.
// Period dates become monthly codes; org-unit names are resolved to UIDs
// when a Resolver is set.
type WhereClauseSource struct {
	Resolver OrgUnitResolver
}

func (WhereClauseSource) Name() string { return SourceWhere }

func (s WhereClauseSource) Resolve(ctx context.Context, req *Request) (Partial, error) {
	var out Partial
	if req.Query == nil {
		return out, nil
	}

	byAxis := make(map[types.Axis][]parser.Predicate)
	for _, p := range ConjunctPredicates(req.Query.Innermost()) {
		axis, ok := RoleOf(p.Column)
		if !ok {
			continue
		}
		out.setColumn(axis, p.Column)
		if !req.Resolved(axis) {
			byAxis[axis] = append(byAxis[axis], p)
		}
	}

	if preds := byAxis[types.AxisPeriod]; len(preds) > 0 {
		periods, pushed := periodsFromPredicates(preds)
		out.Dimensions.Periods = periods
		out.Pushed = append(out.Pushed, pushed...)
	}

	if preds := byAxis[types.AxisOrgUnit]; len(preds) > 0 {
		units, pushed, err := s.orgUnitsFromPredicates(ctx, preds)
		if err != nil {
			return out, err
		}
		out.Dimensions.OrgUnits = units
		out.Pushed = append(out.Pushed, pushed...)
	}

	for _, p := range byAxis[types.AxisData] {
		if !parser.IsInclusion(p) {
			continue
		}
		all := true
		for _, v := range p.StringValues() {
			if dhis2.IsUID(v) {
				out.Dimensions.DataElements = append(out.Dimensions.DataElements, v)
			} else {
				all = false
			}
		}
		if all {
			out.Pushed = append(out.Pushed, p.Column)
		}
	}
	return out, nil
}

// periodsFromPredicates turns period predicates into codes. Inclusion
// predicates contribute their values; a lower and an upper bound together
// expand to the months between them.
func periodsFromPredicates(preds []parser.Predicate) (periods []string, pushed []string) {
	var (
		low, high       time.Time
		hasLow, hasHigh bool
		rangeCols       []string
	)

	for _, p := range preds {
		switch {
		case parser.IsInclusion(p):
			all := true
			for _, v := range p.StringValues() {
				if code, ok := dhis2.PeriodFromValue(v); ok {
					periods = append(periods, code)
				} else {
					all = false
				}
			}
			if all {
				pushed = append(pushed, p.Column)
			}
		case p.Type == parser.PredicateBetween && !p.Not:
			vals := p.StringValues()
			if len(vals) != 2 {
				continue
			}
			l, lok := dhis2.PeriodStart(vals[0])
			h, hok := dhis2.PeriodStart(vals[1])
			if lok && hok {
				low, high, hasLow, hasHigh = l, h, true, true
				rangeCols = append(rangeCols, p.Column)
			}
		case p.Type == parser.PredicateRange:
			vals := p.StringValues()
			if len(vals) != 1 {
				continue
			}
			t, ok := dhis2.PeriodStart(vals[0])
			if !ok {
				continue
			}
			switch p.Operator {
			case ">=":
				low, hasLow = t, true
			case ">":
				low, hasLow = t.AddDate(0, 0, 1), true
			case "<=":
				high, hasHigh = t, true
			case "<":
				high, hasHigh = t.AddDate(0, 0, -1), true
			}
			rangeCols = append(rangeCols, p.Column)
		}
	}

	if hasLow && hasHigh {
		if months := dhis2.MonthlyPeriods(low, high); len(months) > 0 {
			periods = append(periods, months...)
			pushed = append(pushed, rangeCols...)
		}
	}
	return dedupe(periods), dedupe(pushed)
}

func (s WhereClauseSource) orgUnitsFromPredicates(ctx context.Context, preds []parser.Predicate) ([]string, []string, error) {
	var (
		units  []string
		pushed []string
	)
	for _, p := range preds {
		if !parser.IsInclusion(p) {
			continue
		}
		var names []string
		for _, v := range p.StringValues() {
			if dhis2.IsOrgUnitRef(v) {
				units = append(units, v)
			} else {
				names = append(names, v)
			}
		}
		if len(names) == 0 {
			pushed = append(pushed, p.Column)
			continue
		}
		if s.Resolver == nil {
			continue
		}
		found, err := s.Resolver.OrgUnitsByName(ctx, names)
		if err != nil {
			return nil, nil, err
		}
		matched := make(map[string]bool, len(found))
		for _, u := range found {
			units = append(units, u.ID)
			matched[strings.ToLower(u.Name)] = true
		}
		all := true
		for _, n := range names {
			if !matched[strings.ToLower(n)] {
				all = false
			}
		}
		if all {
			pushed = append(pushed, p.Column)
		}
	}
	return dedupe(units), dedupe(pushed), nil
}

// ConjunctPredicates extracts predicates from the top-level AND terms of
// a WHERE clause. Terms under OR or NOT are left out, since they do not
// restrict the result to their values.
func ConjunctPredicates(stmt *parser.SelectStatement) []parser.Predicate {
	if stmt == nil || stmt.Where == nil {
		return nil
	}
	var out []parser.Predicate
	for _, term := range parser.Conjuncts(stmt.Where) {
		if b, ok := term.(*parser.BinaryExpr); ok && b.Operator == "OR" {
			continue
		}
		if u, ok := term.(*parser.UnaryExpr); ok && u.Operator == "NOT" {
			continue
		}
		out = append(out, parser.ExtractPredicates(&parser.SelectStatement{Where: term})...)
	}
	return out
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := values[:0:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
