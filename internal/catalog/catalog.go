// Package catalog stores dialect metadata in SQLite: DHIS2 connections,
// per-table dimension presets (datasets) and the column metadata that maps
// display names to sanitized column names.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hmis-ug/dhis2sql/internal/dhis2"
	"github.com/hmis-ug/dhis2sql/internal/events"
	"github.com/hmis-ug/dhis2sql/internal/sanitize"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

// ErrNotFound is returned when a connection or dataset does not exist.
var ErrNotFound = errors.New("catalog: not found")

// listSep joins dimension values in one column. UIDs, period codes and
// org-unit keywords never contain it.
const listSep = ";"

// Database is a stored DHIS2 connection.
type Database struct {
	ID         int64            `json:"id"`
	Name       string           `json:"name"`
	Connection types.Connection `json:"connection"`
}

// Dataset is the dimension preset of a queryable table.
type Dataset struct {
	Table      string           `json:"table"`
	DatabaseID int64            `json:"database_id,omitempty"`
	Dimensions types.Dimensions `json:"dimensions"`
}

// Catalog is the SQLite-backed metadata store.
type Catalog struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex // serializes writers
	bus    *events.Bus
}

// Open opens or creates the catalog at dbPath and applies pending
// migrations. ":memory:" gives a private in-memory catalog.
func Open(ctx context.Context, dbPath string) (*Catalog, error) {
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	if dbPath == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	c := &Catalog{db: db, dbPath: dbPath}
	if err := c.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// SetEvents makes every successful write publish a change event on bus.
func (c *Catalog) SetEvents(bus *events.Bus) {
	c.mu.Lock()
	c.bus = bus
	c.mu.Unlock()
}

// publish is called with c.mu held.
func (c *Catalog) publish(e events.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// SchemaVersion returns the highest applied migration.
func (c *Catalog) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := c.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("catalog: failed to read schema version: %w", err)
	}
	return v, nil
}

func (c *Catalog) migrate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, createSchemaVersionsSQL); err != nil {
		return fmt.Errorf("catalog: failed to create schema_versions: %w", err)
	}
	current, err := c.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for i := current; i < len(migrations); i++ {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("catalog: failed to begin migration %d: %w", i+1, err)
		}
		for _, stmt := range migrations[i] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("catalog: migration %d failed: %w", i+1, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_versions (version, applied_at) VALUES (?, ?)",
			i+1, time.Now().Unix()); err != nil {
			tx.Rollback()
			return fmt.Errorf("catalog: failed to record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("catalog: failed to commit migration %d: %w", i+1, err)
		}
	}
	return nil
}

// PutConnection stores a connection under name, replacing an existing one
// with the same name, and returns its id.
func (c *Catalog) PutConnection(ctx context.Context, name string, conn types.Connection) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("catalog: connection name is required")
	}
	if err := conn.Validate(); err != nil {
		return 0, fmt.Errorf("catalog: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().Unix()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO connections (name, uri, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET uri = excluded.uri, updated_at = excluded.updated_at`,
		name, dhis2.BuildURI(conn), now, now)
	if err != nil {
		return 0, fmt.Errorf("catalog: failed to store connection %q: %w", name, err)
	}

	var id int64
	if err := c.db.QueryRowContext(ctx, "SELECT id FROM connections WHERE name = ?", name).Scan(&id); err != nil {
		return 0, fmt.Errorf("catalog: failed to read connection id: %w", err)
	}
	c.publish(events.Event{Kind: events.ConnectionChanged, DatabaseID: id})
	return id, nil
}

// GetConnection returns a stored connection by id.
func (c *Catalog) GetConnection(ctx context.Context, id int64) (*Database, error) {
	row := c.db.QueryRowContext(ctx, "SELECT id, name, uri FROM connections WHERE id = ?", id)
	return scanDatabase(row)
}

// GetConnectionByName returns a stored connection by name.
func (c *Catalog) GetConnectionByName(ctx context.Context, name string) (*Database, error) {
	row := c.db.QueryRowContext(ctx, "SELECT id, name, uri FROM connections WHERE name = ?", name)
	return scanDatabase(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDatabase(row rowScanner) (*Database, error) {
	var (
		d   Database
		uri string
	)
	if err := row.Scan(&d.ID, &d.Name, &uri); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: failed to read connection: %w", err)
	}
	conn, err := dhis2.ParseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("catalog: stored connection %q is invalid: %w", d.Name, err)
	}
	d.Connection = conn
	return &d, nil
}

// ListConnections returns every stored connection ordered by id.
func (c *Catalog) ListConnections(ctx context.Context) ([]*Database, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT id, name, uri FROM connections ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to list connections: %w", err)
	}
	defer rows.Close()

	var out []*Database
	for rows.Next() {
		d, err := scanDatabase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteConnection removes a connection.
func (c *Catalog) DeleteConnection(ctx context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, "UPDATE datasets SET database_id = NULL WHERE database_id = ?", id); err != nil {
		return fmt.Errorf("catalog: failed to detach datasets: %w", err)
	}
	res, err := c.db.ExecContext(ctx, "DELETE FROM connections WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("catalog: failed to delete connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	c.publish(events.Event{Kind: events.ConnectionDeleted, DatabaseID: id})
	return nil
}

// tableKey normalizes a table name: quotes are dropped, case folded.
func tableKey(table string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(table), `"`))
}

// PutDataset stores the dimension preset of a table.
func (c *Catalog) PutDataset(ctx context.Context, ds Dataset) error {
	key := tableKey(ds.Table)
	if key == "" {
		return fmt.Errorf("catalog: dataset table name is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var dbID interface{}
	if ds.DatabaseID > 0 {
		dbID = ds.DatabaseID
	}
	d := ds.Dimensions
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO datasets (table_name, dx, pe, ou, ou_mode, hierarchy, data_set, database_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(table_name) DO UPDATE SET
			dx = excluded.dx, pe = excluded.pe, ou = excluded.ou, ou_mode = excluded.ou_mode,
			hierarchy = excluded.hierarchy, data_set = excluded.data_set,
			database_id = excluded.database_id, updated_at = excluded.updated_at`,
		key,
		strings.Join(d.DataElements, listSep),
		strings.Join(d.Periods, listSep),
		strings.Join(d.OrgUnits, listSep),
		d.OUMode, d.Hierarchy, d.DataSet, dbID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("catalog: failed to store dataset %q: %w", key, err)
	}
	c.publish(events.Event{Kind: events.DatasetChanged, DatabaseID: ds.DatabaseID, Table: key})
	return nil
}

// GetDataset returns the stored dataset of a table.
func (c *Catalog) GetDataset(ctx context.Context, table string) (*Dataset, error) {
	var (
		ds         Dataset
		dx, pe, ou string
		dbID       sql.NullInt64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT table_name, dx, pe, ou, ou_mode, hierarchy, data_set, database_id
		FROM datasets WHERE table_name = ?`, tableKey(table)).
		Scan(&ds.Table, &dx, &pe, &ou, &ds.Dimensions.OUMode, &ds.Dimensions.Hierarchy,
			&ds.Dimensions.DataSet, &dbID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: failed to read dataset: %w", err)
	}
	ds.Dimensions.DataElements = splitList(dx)
	ds.Dimensions.Periods = splitList(pe)
	ds.Dimensions.OrgUnits = splitList(ou)
	ds.DatabaseID = dbID.Int64
	return &ds, nil
}

// Dataset returns the dimension preset of a table for dimension
// resolution. A missing dataset is not an error.
func (c *Catalog) Dataset(ctx context.Context, table string) (types.Dimensions, bool, error) {
	ds, err := c.GetDataset(ctx, table)
	if errors.Is(err, ErrNotFound) {
		return types.Dimensions{}, false, nil
	}
	if err != nil {
		return types.Dimensions{}, false, err
	}
	return ds.Dimensions, true, nil
}

// DeleteDataset removes a dataset and its columns.
func (c *Catalog) DeleteDataset(ctx context.Context, table string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := tableKey(table)
	if _, err := c.db.ExecContext(ctx, "DELETE FROM columns WHERE table_name = ?", key); err != nil {
		return fmt.Errorf("catalog: failed to delete columns: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, "DELETE FROM datasets WHERE table_name = ?", key); err != nil {
		return fmt.Errorf("catalog: failed to delete dataset: %w", err)
	}
	c.publish(events.Event{Kind: events.DatasetDeleted, Table: key})
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, listSep)
}

// PutColumns replaces the column metadata of a table. Names always pass
// through the sanitizer; a display name defaults to the given name.
func (c *Catalog) PutColumns(ctx context.Context, table string, columns []types.ColumnMeta) error {
	key := tableKey(table)
	if key == "" {
		return fmt.Errorf("catalog: table name is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM columns WHERE table_name = ?", key); err != nil {
		return fmt.Errorf("catalog: failed to clear columns: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO columns (table_name, position, name, verbose_name, type, groupby, source_uid)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("catalog: failed to prepare column insert: %w", err)
	}
	defer stmt.Close()

	seen := make(map[string]bool, len(columns))
	for i, col := range columns {
		name := sanitize.Column(col.Name)
		if seen[name] {
			return fmt.Errorf("catalog: duplicate column %q in table %q", name, key)
		}
		seen[name] = true

		verbose := col.VerboseName
		if verbose == "" {
			verbose = col.Name
		}
		typ := col.Type
		if typ == "" {
			typ = types.ColumnString
		}
		if _, err := stmt.ExecContext(ctx, key, i, name, verbose, string(typ), col.GroupBy, col.SourceUID); err != nil {
			return fmt.Errorf("catalog: failed to store column %q: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: failed to commit columns: %w", err)
	}
	c.publish(events.Event{Kind: events.DatasetChanged, Table: key})
	return nil
}

// Columns returns the column metadata of a table in stored order.
func (c *Catalog) Columns(ctx context.Context, table string) ([]types.ColumnMeta, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT name, verbose_name, type, groupby, source_uid
		FROM columns WHERE table_name = ? ORDER BY position`, tableKey(table))
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to read columns: %w", err)
	}
	defer rows.Close()

	var out []types.ColumnMeta
	for rows.Next() {
		var (
			col types.ColumnMeta
			typ string
		)
		if err := rows.Scan(&col.Name, &col.VerboseName, &typ, &col.GroupBy, &col.SourceUID); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan column: %w", err)
		}
		col.Type = types.ColumnType(typ)
		out = append(out, col)
	}
	return out, rows.Err()
}

// ColumnMapping returns display name to column name for the columns whose
// display name differs from the column name.
func (c *Catalog) ColumnMapping(ctx context.Context, table string) (map[string]string, error) {
	cols, err := c.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, col := range cols {
		if col.VerboseName != "" && col.VerboseName != col.Name {
			out[col.VerboseName] = col.Name
		}
	}
	return out, nil
}

// Tables lists the tables that have a dataset or columns.
func (c *Catalog) Tables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT table_name FROM datasets
		UNION
		SELECT DISTINCT table_name FROM columns
		ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to list tables: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
