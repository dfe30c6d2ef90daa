package factstore

import (
	"context"
	"database/sql"
)

const currentSchemaVersion = 1

// Table names.
const (
	TableExports = "exports"
	TableParams  = "params"
	TableImports = "imports"
)

// tableColumns lists the insertable columns of each table.
var tableColumns = map[string][]string{
	TableExports: {"root", "module", "path", "name", "type", "tag"},
	TableParams:  {"name", "type", "position", "default_value", "function"},
	TableImports: {"root", "path", "module", "import", "asname", "tag"},
}

func (s *Store) migrate(ctx context.Context) error {
	version, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	switch {
	case version == currentSchemaVersion:
		s.logger.Debug("Fact store schema is up to date", "version", version)
		return nil
	case version > currentSchemaVersion:
		return storeErr("database schema version %d is newer than supported version %d", nil,
			version, currentSchemaVersion)
	}
	return s.initializeSchema(ctx)
}

func (s *Store) initializeSchema(ctx context.Context) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, create := range []func(*sql.Tx) error{
			createSchemaVersionTable,
			createExportsTable,
			createParamsTable,
			createImportsTable,
		} {
			if err := create(tx); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_version (id, version) VALUES (1, ?)`,
			currentSchemaVersion); err != nil {
			return storeErr("setting schema version", err)
		}
		s.logger.Debug("Fact store schema initialized", "version", currentSchemaVersion)
		return nil
	})
}

// schemaVersion returns 0 for a database without a schema_version table.
func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var name string
	err := s.conn.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'`).Scan(&name)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr("reading schema version", err)
	}

	var version int
	err = s.conn.QueryRowContext(ctx, `SELECT version FROM schema_version WHERE id = 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr("reading schema version", err)
	}
	return version, nil
}

func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL
		)
	`)
	if err != nil {
		return storeErr("creating schema_version table", err)
	}
	return nil
}

func createExportsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS exports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			root TEXT NOT NULL,
			module TEXT NOT NULL,
			path TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			tag TEXT NOT NULL
		)
	`)
	if err != nil {
		return storeErr("creating exports table", err)
	}
	return createIndexes(tx, []string{
		"CREATE INDEX IF NOT EXISTS idx_exports_root ON exports(root)",
		"CREATE INDEX IF NOT EXISTS idx_exports_path ON exports(path)",
		"CREATE INDEX IF NOT EXISTS idx_exports_tag ON exports(tag)",
	})
}

// default_value has no declared type so numeric defaults keep their
// storage class.
func createParamsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS params (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			type TEXT,
			position INTEGER NOT NULL,
			default_value,
			function INTEGER NOT NULL REFERENCES exports(id) ON DELETE CASCADE,
			UNIQUE (function, position)
		)
	`)
	if err != nil {
		return storeErr("creating params table", err)
	}
	return createIndexes(tx, []string{
		"CREATE INDEX IF NOT EXISTS idx_params_function ON params(function)",
	})
}

func createImportsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS imports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			root TEXT NOT NULL,
			path TEXT NOT NULL,
			module TEXT,
			"import" TEXT NOT NULL,
			asname TEXT,
			tag TEXT NOT NULL
		)
	`)
	if err != nil {
		return storeErr("creating imports table", err)
	}
	return createIndexes(tx, []string{
		"CREATE INDEX IF NOT EXISTS idx_imports_path ON imports(path)",
		"CREATE INDEX IF NOT EXISTS idx_imports_tag ON imports(tag)",
	})
}

func createIndexes(tx *sql.Tx, indexes []string) error {
	for _, idx := range indexes {
		if _, err := tx.Exec(idx); err != nil {
			return storeErr("creating index", err)
		}
	}
	return nil
}
