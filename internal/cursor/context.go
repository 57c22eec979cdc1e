package cursor

import (
	"context"

	"github.com/google/uuid"

	"github.com/hmis-ug/dhis2sql/pkg/types"
)

// RequestContext carries the state of one host request. It is passed to
// the cursor explicitly and must not be shared between requests.
type RequestContext struct {
	// ID tags log entries of this request
	ID string

	// Dimensions supplied by the host, if any. They rank below an
	// override comment and above every inferred value.
	Dimensions *types.Dimensions

	// ColumnMappings caches display name to column name maps per table
	ColumnMappings map[string]map[string]string

	columns map[string][]types.ColumnMeta
}

// NewRequestContext creates an empty context with a fresh ID.
func NewRequestContext() *RequestContext {
	return &RequestContext{
		ID:             uuid.NewString(),
		ColumnMappings: make(map[string]map[string]string),
		columns:        make(map[string][]types.ColumnMeta),
	}
}

// NewRequestContextWithDimensions returns a context that carries d.
func NewRequestContextWithDimensions(d types.Dimensions) *RequestContext {
	rc := NewRequestContext()
	rc.Dimensions = &d
	return rc
}

// ColumnSource lists the catalog columns of a table.
type ColumnSource interface {
	Columns(ctx context.Context, table string) ([]types.ColumnMeta, error)
}

// tableColumns returns the catalog columns of table, loading them once per
// request.
func (rc *RequestContext) tableColumns(ctx context.Context, src ColumnSource, table string) ([]types.ColumnMeta, error) {
	if src == nil || table == "" {
		return nil, nil
	}
	if rc.columns == nil {
		rc.columns = make(map[string][]types.ColumnMeta)
	}
	if cols, ok := rc.columns[table]; ok {
		return cols, nil
	}
	cols, err := src.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	rc.columns[table] = cols
	return cols, nil
}

// mapping returns the display name to column name map of table. Names
// that are already sanitized map to themselves and are left out.
func (rc *RequestContext) mapping(table string, cols []types.ColumnMeta) map[string]string {
	if rc.ColumnMappings == nil {
		rc.ColumnMappings = make(map[string]map[string]string)
	}
	if m, ok := rc.ColumnMappings[table]; ok {
		return m
	}
	m := make(map[string]string, 2*len(cols))
	for _, c := range cols {
		if c.VerboseName == "" || c.VerboseName == c.Name {
			continue
		}
		m[c.VerboseName] = c.Name
	}
	rc.ColumnMappings[table] = m
	return m
}
