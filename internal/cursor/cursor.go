// Package cursor executes SQL against DHIS2 with the semantics of a
// synchronous database cursor: Execute runs the whole pipeline and stores
// the result, FetchAll hands it out.
//
// The pipeline is parse, translate display names, resolve dimensions,
// call DHIS2, normalize to the wide table, then evaluate the SELECT
// levels over that table.
package cursor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hmis-ug/dhis2sql/internal/dhis2"
	dherrors "github.com/hmis-ug/dhis2sql/internal/errors"
	"github.com/hmis-ug/dhis2sql/internal/normalize"
	"github.com/hmis-ug/dhis2sql/internal/observability"
	"github.com/hmis-ug/dhis2sql/internal/query/aggregator"
	"github.com/hmis-ug/dhis2sql/internal/query/dimensions"
	"github.com/hmis-ug/dhis2sql/internal/query/matcher"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

// State is the lifecycle position of a cursor.
type State int

const (
	StateIdle State = iota
	StateExecuting
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Fetcher is the part of the DHIS2 client the cursor uses.
type Fetcher interface {
	Analytics(ctx context.Context, d types.Dimensions) (*dhis2.AnalyticsResponse, error)
	DataValueSets(ctx context.Context, q dhis2.DataValueSetQuery) (*dhis2.DataValueSetResponse, error)
	normalize.NameResolver
	dimensions.OrgUnitResolver
}

// Catalog supplies table columns and dataset presets.
type Catalog interface {
	ColumnSource
	dimensions.DatasetLookup
}

// Description describes one result column.
type Description struct {
	Name     string
	TypeCode types.ColumnType
}

// Cursor runs one query at a time.
type Cursor struct {
	fetcher    Fetcher
	catalog    Catalog
	rc         *RequestContext
	logger     logrus.FieldLogger
	stats      *observability.QueryStats
	defaultsPE []string
	defaultsOU []string
	maxRows    int

	extractor  *dimensions.Extractor
	normalizer *normalize.Normalizer
	projector  *aggregator.Projector

	mu     sync.Mutex
	state  State
	result *types.Table
}

// Option configures a Cursor.
type Option func(*Cursor)

// WithCatalog sets the catalog used for column translation and dataset
// presets.
func WithCatalog(c Catalog) Option {
	return func(cur *Cursor) {
		cur.catalog = c
	}
}

// WithRequestContext sets the request context. Without it each cursor
// gets an empty one.
func WithRequestContext(rc *RequestContext) Option {
	return func(cur *Cursor) {
		if rc != nil {
			cur.rc = rc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(cur *Cursor) {
		if l != nil {
			cur.logger = l
		}
	}
}

// WithStats records resolution events into stats.
func WithStats(stats *observability.QueryStats) Option {
	return func(cur *Cursor) {
		cur.stats = stats
	}
}

// WithDefaults sets the periods and org units used when a query names
// none.
func WithDefaults(periods, orgUnits []string) Option {
	return func(cur *Cursor) {
		cur.defaultsPE = periods
		cur.defaultsOU = orgUnits
	}
}

// WithMaxRows caps the stored result. Zero means no cap.
func WithMaxRows(n int) Option {
	return func(cur *Cursor) {
		cur.maxRows = n
	}
}

// New creates an idle cursor over fetcher.
func New(fetcher Fetcher, opts ...Option) *Cursor {
	c := &Cursor{
		fetcher: fetcher,
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rc == nil {
		c.rc = NewRequestContext()
	}
	c.logger = c.logger.WithField("request_id", c.rc.ID)

	extractorOpts := []dimensions.Option{
		dimensions.WithLogger(c.logger),
		dimensions.WithDefaults(c.defaultsPE, c.defaultsOU),
	}
	if fetcher != nil {
		extractorOpts = append(extractorOpts, dimensions.WithOrgUnitResolver(fetcher))
	}
	if c.catalog != nil {
		extractorOpts = append(extractorOpts, dimensions.WithDatasets(c.catalog))
	}
	c.extractor = dimensions.NewExtractor(extractorOpts...)

	var names normalize.NameResolver
	if fetcher != nil {
		names = fetcher
	}
	c.normalizer = normalize.New(names, normalize.WithLogger(c.logger))

	matcherOpts := []matcher.Option{matcher.WithLogger(c.logger)}
	if c.stats != nil {
		matcherOpts = append(matcherOpts, matcher.WithRecorder(c.stats))
	}
	c.projector = aggregator.NewProjector(matcher.New(matcherOpts...))
	return c
}

// State returns the current state.
func (c *Cursor) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestContext returns the context the cursor executes under.
func (c *Cursor) RequestContext() *RequestContext {
	return c.rc
}

// Execute runs sql and stores its result, replacing any result not yet
// fetched. It fails with a CURSOR error while another Execute on the same
// cursor is in flight.
func (c *Cursor) Execute(ctx context.Context, sql string) error {
	c.mu.Lock()
	switch c.state {
	case StateExecuting:
		c.mu.Unlock()
		return dherrors.NewCursorError(dherrors.CodeCursorBusy, "cursor is already executing a query")
	case StateClosed:
		c.mu.Unlock()
		return dherrors.NewCursorError(dherrors.CodeCursorClosed, "cursor is closed")
	}
	c.state = StateExecuting
	c.result = nil
	c.mu.Unlock()

	start := time.Now()
	table, err := c.run(ctx, sql)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return dherrors.NewCursorError(dherrors.CodeCursorClosed, "cursor was closed during execution")
	}
	if err != nil {
		c.state = StateIdle
		c.logger.WithField("duration_ms", time.Since(start).Milliseconds()).WithError(err).Warn("query failed")
		return err
	}
	c.result = table
	c.state = StateReady
	c.logger.WithFields(logrus.Fields{
		"rows":        table.Len(),
		"columns":     len(table.Columns),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("query executed")
	return nil
}

// FetchAll returns every row of the stored result and returns the cursor
// to idle. A row whose width differs from the column count is a CURSOR
// error; rows are never padded or truncated.
func (c *Cursor) FetchAll() ([][]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return nil, dherrors.NewCursorError(dherrors.CodeCursorClosed, "cursor is closed")
	case StateReady:
	default:
		return nil, dherrors.NewCursorError(dherrors.CodeNoResult, "no result to fetch; call Execute first")
	}

	if err := c.result.Validate(); err != nil {
		c.state = StateIdle
		c.logger.WithError(err).Error("result row width does not match its columns")
		return nil, dherrors.NewCursorError(dherrors.CodeRowWidthMismatch, err.Error())
	}
	c.state = StateIdle
	return c.result.Rows, nil
}

// Description returns the result columns, or nil before the first
// successful Execute.
func (c *Cursor) Description() []Description {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return nil
	}
	out := make([]Description, len(c.result.Columns))
	for i, col := range c.result.Columns {
		out[i] = Description{Name: col.Name, TypeCode: col.Type}
	}
	return out
}

// Columns returns the full metadata of the result columns.
func (c *Cursor) Columns() []types.ColumnMeta {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return nil
	}
	return append([]types.ColumnMeta(nil), c.result.Columns...)
}

// RowCount returns the number of stored rows, or -1 when there is no
// result.
func (c *Cursor) RowCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return -1
	}
	return c.result.Len()
}

// Close releases the result. Later calls fail with a CURSOR error.
func (c *Cursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
	c.result = nil
	return nil
}
