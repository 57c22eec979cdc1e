// Package dimensions resolves the DHIS2 analytics dimensions (dx, pe, ou)
// of a SQL query. Sources run in a fixed order and the first source that
// yields values for an axis owns it: an override comment beats the
// request context, which beats the dataset preset, which beats SELECT
// inference, which beats WHERE inference. Configured defaults fill pe and
// ou last. dx has no default: without it the query resolves to an empty
// result.
package dimensions

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/hmis-ug/dhis2sql/internal/query/parser"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

// Resolution is the outcome of dimension extraction.
type Resolution struct {
	Dimensions types.Dimensions

	// Columns maps each axis to the query column that carries it
	Columns map[types.Axis]string

	// Sources records which source resolved each axis
	Sources map[types.Axis]string

	// Pushed holds WHERE columns whose predicates are answered by the
	// dimension values and need no row filtering
	Pushed map[string]bool
}

// Empty reports whether no data dimension was resolved.
func (r *Resolution) Empty() bool {
	return !r.Dimensions.Has(types.AxisData)
}

// Extractor runs the source chain.
type Extractor struct {
	sources  []Source
	defaults types.Dimensions
	logger   logrus.FieldLogger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithDatasets adds the dataset-preset source backed by store.
func WithDatasets(store DatasetLookup) Option {
	return func(e *Extractor) {
		for i, s := range e.sources {
			if _, ok := s.(DatasetSource); ok {
				e.sources[i] = DatasetSource{Store: store}
			}
		}
	}
}

// WithOrgUnitResolver lets WHERE inference resolve org-unit names.
func WithOrgUnitResolver(r OrgUnitResolver) Option {
	return func(e *Extractor) {
		for i, s := range e.sources {
			if _, ok := s.(WhereClauseSource); ok {
				e.sources[i] = WhereClauseSource{Resolver: r}
			}
		}
	}
}

// WithDefaults sets the fallback periods and org units.
func WithDefaults(periods, orgUnits []string) Option {
	return func(e *Extractor) {
		e.defaults.Periods = periods
		e.defaults.OrgUnits = orgUnits
	}
}

// WithSources replaces the whole chain.
func WithSources(sources ...Source) Option {
	return func(e *Extractor) {
		e.sources = sources
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExtractor returns an extractor with the standard chain.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		sources: []Source{
			CommentSource{},
			RequestContextSource{},
			DatasetSource{},
			SelectColumnSource{},
			WhereClauseSource{},
		},
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve runs the chain against req.
func (e *Extractor) Resolve(ctx context.Context, req *Request) (*Resolution, error) {
	res := &Resolution{
		Columns: make(map[types.Axis]string),
		Sources: make(map[types.Axis]string),
		Pushed:  make(map[string]bool),
	}
	req.owned = res.Sources

	for _, src := range e.sources {
		part, err := src.Resolve(ctx, req)
		if err != nil {
			return nil, err
		}
		e.merge(res, src.Name(), part)
	}

	for _, a := range []types.Axis{types.AxisPeriod, types.AxisOrgUnit} {
		if !res.Dimensions.Has(a) && len(e.defaults.Get(a)) > 0 {
			res.Dimensions.Set(a, append([]string(nil), e.defaults.Get(a)...))
			res.Sources[a] = SourceDefaults
		}
	}

	fields := logrus.Fields{}
	for _, a := range types.Axes {
		if s, ok := res.Sources[a]; ok {
			fields["source_"+string(a)] = s
		}
	}
	e.logger.WithFields(fields).Debug("resolved dimensions")
	return res, nil
}

// merge applies one partial under first-wins-per-axis precedence.
func (e *Extractor) merge(res *Resolution, name string, part Partial) {
	for _, a := range types.Axes {
		if _, owned := res.Sources[a]; owned {
			continue
		}
		if vals := part.Dimensions.Get(a); len(vals) > 0 {
			res.Dimensions.Set(a, dedupe(vals))
			res.Sources[a] = name
		}
	}

	if res.Dimensions.OUMode == "" {
		res.Dimensions.OUMode = part.Dimensions.OUMode
	}
	if part.Dimensions.Hierarchy {
		res.Dimensions.Hierarchy = true
	}
	if res.Dimensions.DataSet == "" {
		res.Dimensions.DataSet = part.Dimensions.DataSet
	}

	axes := make([]types.Axis, 0, len(part.Columns))
	for a := range part.Columns {
		axes = append(axes, a)
	}
	sort.Slice(axes, func(i, j int) bool { return axes[i] < axes[j] })
	for _, a := range axes {
		if _, ok := res.Columns[a]; !ok {
			res.Columns[a] = part.Columns[a]
		}
	}

	// Pushed predicates only count when WHERE owns the axis they feed.
	if name == SourceWhere {
		for _, col := range part.Pushed {
			if axis, ok := RoleOf(col); ok && res.Sources[axis] == SourceWhere {
				res.Pushed[col] = true
			}
		}
	}
}

// Resolve is a convenience wrapper that parses sql and runs the standard
// chain with no catalog, resolver or defaults.
func Resolve(ctx context.Context, sql string, reqContext *types.Dimensions) (*Resolution, error) {
	q, err := parser.ParseQuery(sql)
	if err != nil {
		return nil, err
	}
	return NewExtractor().Resolve(ctx, &Request{Query: q, Context: reqContext})
}
