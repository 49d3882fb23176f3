// Package storage provides the SQLite-backed file catalog and overlap store,
// together with the schema maintenance operations used to manage it.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/pahproject/catalogdb/internal/retry"
)

// busyTimeoutMS is how long SQLite waits on a locked database before failing
const busyTimeoutMS = 5000

// Store wraps a single SQLite database file
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens (creating if needed) the SQLite database at path and verifies it is usable
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logrus.WithError(err).WithField("db_path", path).Warn("Failed to open database")
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// PRAGMA settings and :memory: databases are per connection, so the
	// pool is pinned to a single long-lived connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		closeDB(db)
		logrus.WithError(err).WithField("db_path", path).Warn("Failed to connect to database")
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMS)); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	logrus.WithField("db_path", path).Debug("Opened catalog database")
	return &Store{db: db, path: path}, nil
}

// OpenWithRetry is Open retried while the database file is busy or locked
func OpenWithRetry(ctx context.Context, path string, cfg retry.Config) (*Store, error) {
	var store *Store
	err := retry.WithRetryIf(ctx, cfg, IsBusy, func() error {
		s, err := Open(ctx, path)
		if err != nil {
			return err
		}
		store = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// IsBusy reports whether err is a SQLite busy or locked condition
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Ping verifies the database is still reachable
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
		s.db = nil
	}
	return nil
}

// Helper functions

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close database connection after init error")
	}
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close database rows")
	}
}

// rollbackUnlessCommitted is deferred after BeginTx
func rollbackUnlessCommitted(tx *sql.Tx, committed *bool) {
	if *committed {
		return
	}
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logrus.WithError(err).Warn("Failed to rollback transaction")
	}
}
