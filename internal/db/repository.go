package db

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/kimhsiao/threemeal/backend/internal/live"
)

// store holds what both repositories share: the connection, the change bus
// and a prepared statement cache.
type store struct {
	db  *sql.DB
	bus *live.Bus

	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

func newStore(db *DB, bus *live.Bus) *store {
	return &store{db: db.DB, bus: bus}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (s *store) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, classify("prepare statement", err)
	}

	// another goroutine may have prepared it meanwhile
	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (s *store) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.stmtCache.Delete(key)
		return true
	})
	return firstErr
}

// query runs a cached read statement.
func (s *store) query(ctx context.Context, op, query string, args ...interface{}) (*sql.Rows, error) {
	stmt, err := s.PrepareStmt(ctx, query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	return rows, nil
}

// count runs a cached single-integer query.
func (s *store) count(ctx context.Context, op, query string, args ...interface{}) (int, error) {
	stmt, err := s.PrepareStmt(ctx, query)
	if err != nil {
		return 0, err
	}
	var n int
	if err := stmt.QueryRowContext(ctx, args...).Scan(&n); err != nil {
		return 0, classify(op, err)
	}
	return n, nil
}

// exec runs a cached write statement and publishes table when rows changed.
func (s *store) exec(ctx context.Context, table, op, query string, args ...interface{}) (int64, error) {
	stmt, err := s.PrepareStmt(ctx, query)
	if err != nil {
		return 0, err
	}
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return 0, classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(op, err)
	}
	if n > 0 {
		s.bus.Publish(table)
	}
	return n, nil
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// nullString maps "" to NULL for optional text columns.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// escapeLike escapes LIKE wildcards so q matches literally with ESCAPE '\'.
func escapeLike(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(q)
}

// int64Args converts ids into query arguments.
func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
