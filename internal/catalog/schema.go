package catalog

// migrations are applied in order; the index plus one is the schema version
// recorded in schema_versions.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS connections (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    uri TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS datasets (
    table_name TEXT PRIMARY KEY,
    dx TEXT NOT NULL DEFAULT '',
    pe TEXT NOT NULL DEFAULT '',
    ou TEXT NOT NULL DEFAULT '',
    ou_mode TEXT NOT NULL DEFAULT '',
    hierarchy INTEGER NOT NULL DEFAULT 0,
    data_set TEXT NOT NULL DEFAULT '',
    updated_at INTEGER NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS columns (
    table_name TEXT NOT NULL,
    position INTEGER NOT NULL,
    name TEXT NOT NULL,
    verbose_name TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL,
    groupby INTEGER NOT NULL DEFAULT 0,
    source_uid TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (table_name, name)
)`,
		`CREATE INDEX IF NOT EXISTS idx_columns_position ON columns(table_name, position)`,
	},
	{
		`ALTER TABLE datasets ADD COLUMN database_id INTEGER REFERENCES connections(id)`,
	},
}

const createSchemaVersionsSQL = `
CREATE TABLE IF NOT EXISTS schema_versions (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`
