package cursor

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hmis-ug/dhis2sql/internal/dhis2"
	dherrors "github.com/hmis-ug/dhis2sql/internal/errors"
	"github.com/hmis-ug/dhis2sql/internal/query/aggregator"
	"github.com/hmis-ug/dhis2sql/internal/query/dimensions"
	"github.com/hmis-ug/dhis2sql/internal/query/parser"
	"github.com/hmis-ug/dhis2sql/internal/sanitize"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

// Endpoint names the DHIS2 API a table reads from.
type Endpoint string

const (
	EndpointAnalytics     Endpoint = dhis2.EndpointAnalytics
	EndpointDataValueSets Endpoint = dhis2.EndpointDataValueSets
)

// EndpointFor picks the API for a table name. Tables named dataValueSets
// (optionally schema-qualified) read raw values; every other table reads
// analytics.
func EndpointFor(table string) Endpoint {
	name := table
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	if strings.EqualFold(name, dhis2.EndpointDataValueSets) || strings.EqualFold(name, "data_value_sets") {
		return EndpointDataValueSets
	}
	return EndpointAnalytics
}

func (c *Cursor) run(ctx context.Context, sql string) (*types.Table, error) {
	q, err := parser.ParseQuery(sql)
	if err != nil {
		return nil, dherrors.Wrap(dherrors.ErrCategoryQuery, dherrors.CodeParseError,
			"could not parse SQL: "+err.Error(), err)
	}
	table := q.Table()
	log := c.logger.WithField("table", table)

	cols, err := c.rc.tableColumns(ctx, c.catalog, table)
	if err != nil {
		return nil, err
	}
	if mapping := c.rc.mapping(table, cols); len(mapping) > 0 {
		parser.RewriteColumns(q.Statement, func(name string) string {
			if to, ok := mapping[name]; ok {
				return to
			}
			return name
		})
	}

	res, err := c.extractor.Resolve(ctx, &dimensions.Request{
		Query:   q,
		Context: c.rc.Dimensions,
		Columns: cols,
	})
	if err != nil {
		return nil, err
	}
	c.record(q, res)

	if res.Empty() {
		log.Info("no data dimension resolved; returning an empty result")
		return emptyResult(q.Statement), nil
	}

	raw, err := c.fetch(ctx, EndpointFor(table), res.Dimensions)
	if err != nil {
		return nil, err
	}

	out, err := c.evaluate(raw, q, res)
	if err != nil {
		return nil, err
	}

	if c.maxRows > 0 && out.Len() > c.maxRows {
		log.WithFields(logrus.Fields{"rows": out.Len(), "max_rows": c.maxRows}).Warn("result truncated")
		out.Rows = out.Rows[:c.maxRows]
	}
	return out, nil
}

// fetch calls DHIS2 and normalizes the response.
func (c *Cursor) fetch(ctx context.Context, endpoint Endpoint, d types.Dimensions) (*types.Table, error) {
	if c.fetcher == nil {
		return nil, dherrors.NewInternalError("cursor has no DHIS2 client", nil)
	}
	switch endpoint {
	case EndpointDataValueSets:
		resp, err := c.fetcher.DataValueSets(ctx, dhis2.DataValueSetQueryFrom(d))
		if err != nil {
			return nil, err
		}
		return c.normalizer.DataValueSets(ctx, resp, d)
	default:
		resp, err := c.fetcher.Analytics(ctx, d)
		if err != nil {
			return nil, err
		}
		return c.normalizer.Analytics(ctx, resp, d)
	}
}

// evaluate runs each SELECT level over the normalized table, innermost
// first. Only the innermost level reads the DHIS2 columns, so only there
// can WHERE terms be answered by the request itself.
func (c *Cursor) evaluate(table *types.Table, q *parser.Query, res *dimensions.Resolution) (*types.Table, error) {
	var levels []*parser.SelectStatement
	for stmt := q.Statement; stmt != nil; {
		levels = append(levels, stmt)
		if stmt.From == nil {
			break
		}
		stmt = stmt.From.Subquery
	}

	current := table
	for i := len(levels) - 1; i >= 0; i-- {
		opts := aggregator.Options{}
		if i == len(levels)-1 {
			opts.Skip = res.Pushed
		}
		next, err := c.projector.Apply(current, levels[i], opts)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

func (c *Cursor) record(q *parser.Query, res *dimensions.Resolution) {
	fields := logrus.Fields{}
	for _, a := range types.Axes {
		if src, ok := res.Sources[a]; ok {
			fields["source_"+string(a)] = src
			if c.stats != nil {
				c.stats.RecordSource(string(a), src)
			}
		}
	}
	c.logger.WithFields(fields).Debug("dimension sources")

	if c.stats == nil {
		return
	}
	for _, p := range dimensions.ConjunctPredicates(q.Innermost()) {
		c.stats.RecordPredicate(p.Column, p.Operator)
	}
}

// emptyResult builds the zero-row table of a query whose data dimension
// could not be resolved. Column names follow the outermost select list.
func emptyResult(stmt *parser.SelectStatement) *types.Table {
	var cols []types.ColumnMeta
	add := func(name string, typ types.ColumnType) {
		cols = append(cols, types.ColumnMeta{Name: name, VerboseName: name, Type: typ})
	}
	for _, item := range stmt.Columns {
		if _, ok := item.Expr.(*parser.StarExpr); ok {
			add("Period", types.ColumnString)
			add("OrgUnit", types.ColumnString)
			continue
		}
		typ := types.ColumnString
		if _, ok := item.Expr.(*parser.AggregateExpr); ok {
			typ = types.ColumnNumeric
		}
		name := item.OutputName()
		if item.Alias == "" {
			name = sanitize.Column(name)
		}
		add(name, typ)
	}
	return types.NewTable(cols)
}
