// Package store implements the single-node transactional store backing
// projects, conversations, messages, files, content chunks and the
// full-text retrieval index. It owns the schema and the cascade rules.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver with FTS5

	"conclave/internal/logging"
	"conclave/internal/retry"
)

// Store is the single-writer SQLite store. All multi-statement mutations go
// through WithTx; contention is retried with exponential backoff.
type Store struct {
	db      *sql.DB
	path    string
	retrier *retry.Retrier
	logger  logging.Logger
}

// Open opens (or creates) the store at path and applies pending migrations.
// An empty path opens an in-memory store for testing.
func Open(path string, logger logging.Logger) (*Store, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer prevents lock contention between connections; the
	// busy timeout bounds waits on the database-level lock.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN params may be ignored by the driver; set pragmas explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if logger == nil {
		logger = logging.WithComponent("store")
	}

	s := &Store{
		db:   db,
		path: path,
		retrier: retry.New(&retry.Config{
			MaxAttempts:     5,
			InitialDelay:    25 * time.Millisecond,
			MaxDelay:        time.Second,
			Multiplier:      2.0,
			RandomizeFactor: 0.2,
			RetryIf:         retryableSQLiteError,
		}),
		logger: logger,
	}

	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// DB exposes the underlying handle for read-side query composition
// (used by the search package).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// WithTx runs fn inside a transaction, retrying the whole transaction on
// lock contention. The transaction is rolled back when fn returns an error.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return classifyError(err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return classifyError(err)
		}
		return nil
	})
	return err
}

// classifyError maps driver errors onto the store taxonomy.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case isBusy(msg):
		return &retry.TemporaryError{Err: err}
	default:
		return err
	}
}

func isBusy(msg string) bool {
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

// retryableSQLiteError retries only on lock contention. Everything else,
// conflicts included, surfaces immediately.
func retryableSQLiteError(err error) bool {
	if err == nil {
		return false
	}
	var tempErr *retry.TemporaryError
	if errors.As(err, &tempErr) {
		return true
	}
	return isBusy(err.Error())
}
