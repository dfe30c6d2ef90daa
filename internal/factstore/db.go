// Package factstore persists extracted exports, parameters and imports in
// SQLite and answers the lookups the compatibility inspector needs.
package factstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"caliper/internal/errors"
	"caliper/internal/slogutil"
)

// MemoryPath is the path reported by stores opened with OpenMemory.
const MemoryPath = ":memory:"

const rootCacheSize = 1024

// Store is a fact database with a cache of known root modules.
type Store struct {
	conn   *sql.DB
	logger *slog.Logger
	path   string
	roots  *lru.Cache[string, bool]
}

// Open opens or creates a fact store at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.New(errors.StoreFailed, "creating database directory", err)
	}
	return open(path, logger)
}

// OpenMemory opens an empty in-memory fact store.
func OpenMemory(logger *slog.Logger) (*Store, error) {
	return open(MemoryPath, logger)
}

func open(path string, logger *slog.Logger) (*Store, error) {
	logger = slogutil.Or(logger)

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.StoreFailed, "opening database", err)
	}
	// One connection: a single writer, and the only way an in-memory
	// database is shared between statements.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	if path != MemoryPath {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, errors.New(errors.StoreFailed, "setting pragma", err)
		}
	}

	roots, err := lru.New[string, bool](rootCacheSize)
	if err != nil {
		conn.Close()
		return nil, errors.New(errors.InternalError, "creating root cache", err)
	}

	s := &Store{conn: conn, logger: logger, path: path, roots: roots}
	if err := s.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Debug("Fact store opened", "path", path)
	return s, nil
}

// Path returns the database file path, or MemoryPath.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// WithTx runs fn in a transaction. The transaction commits when fn returns
// nil and rolls back otherwise, including when fn panics.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(errors.StoreFailed, "beginning transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("failed to rollback transaction",
				"error", err.Error(),
				"rollback_error", rbErr.Error(),
			)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.New(errors.StoreFailed, "committing transaction", err)
	}
	return nil
}

func storeErr(format string, cause error, args ...interface{}) error {
	return errors.New(errors.StoreFailed, fmt.Sprintf(format, args...), cause)
}
