// Package db provides the SQLite store for food cards and meal records.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/kimhsiao/threemeal/backend/internal/errors"
	"github.com/kimhsiao/threemeal/backend/internal/logging"

	_ "modernc.org/sqlite"
)

// Table names published on the change bus.
const (
	TableFoodCards   = "food_cards"
	TableMealRecords = "meal_records"
)

// Options configures how the database file is opened.
type Options struct {
	// WAL enables write-ahead logging so readers never block the writer.
	WAL bool
	// BusyTimeout is how long a statement waits on a locked database.
	BusyTimeout time.Duration
}

// DefaultOptions returns the options used by the app.
func DefaultOptions() Options {
	return Options{WAL: true, BusyTimeout: 5 * time.Second}
}

// DB wraps the sql.DB with ThreeMeal-specific configuration.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the SQLite database at path.
// The database is opened with:
// - a single connection, since SQLite has a single writer
// - WAL mode when opts.WAL is set
// - a busy timeout
// Failures to reach the file are reported as STORAGE_UNAVAILABLE.
func Open(ctx context.Context, path string, opts Options) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to create data directory", err)
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	dsn := "file:" + path + "?" + q.Encode()

	// modernc.org/sqlite is pure Go, no CGO
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to open database", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "database is not reachable", err)
	}

	if opts.WAL {
		var mode string
		if err := sqlDB.QueryRowContext(ctx, "PRAGMA journal_mode=WAL;").Scan(&mode); err != nil {
			sqlDB.Close()
			return nil, classify("enable WAL mode", err)
		}
	}

	logging.Debug("database opened", map[string]interface{}{
		"path": path,
		"wal":  opts.WAL,
	})
	return &DB{DB: sqlDB, path: path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
