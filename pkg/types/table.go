package types

import "strings"

// ColumnType is the logical type exposed to the SQL layer.
type ColumnType string

const (
	ColumnNumeric  ColumnType = "NUMERIC"
	ColumnString   ColumnType = "STRING"
	ColumnTemporal ColumnType = "TEMPORAL"
)

// ColumnMeta describes one physical or virtual column.
type ColumnMeta struct {
	// Name is the sanitized identifier used in SQL and result rows
	Name string `json:"name"`

	// VerboseName is the original DHIS2 label, for presentation only
	VerboseName string `json:"verbose_name"`

	// Type is NUMERIC, STRING or TEMPORAL
	Type ColumnType `json:"type"`

	// GroupBy marks columns usable as chart dimensions
	GroupBy bool `json:"groupby"`

	// SourceUID is the DHIS2 UID the column was derived from, if any
	SourceUID string `json:"source_uid,omitempty"`
}

// Table is a normalized result: an ordered column list and fixed-width rows.
type Table struct {
	Columns []ColumnMeta    `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

// NewTable creates an empty table with the given columns.
func NewTable(columns []ColumnMeta) *Table {
	return &Table{Columns: columns, Rows: [][]interface{}{}}
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of the named column, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// IndexFold is Index with case-insensitive comparison.
func (t *Table) IndexFold(name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// Validate checks that every row holds exactly one value per column.
func (t *Table) Validate() error {
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return &RowWidthError{Row: i, Got: len(row), Expected: len(t.Columns)}
		}
	}
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}
