package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	apperrors "github.com/kimhsiao/threemeal/backend/internal/errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// classify maps a driver error onto the application error codes. Callers that
// care about sql.ErrNoRows handle it before calling classify.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		switch code {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return apperrors.Wrap(apperrors.ErrConstraint, op+": uniqueness violated", err)
		}
		switch code & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			return apperrors.Wrap(apperrors.ErrConstraint, op+": constraint violated", err)
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN,
			sqlite3.SQLITE_FULL, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_READONLY,
			sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
			return apperrors.Wrap(apperrors.ErrStorageUnavailable, op+": storage unavailable", err)
		}
		return apperrors.Wrap(apperrors.ErrDatabase, op, err)
	}

	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, op+": database is closed", err)
	}
	return apperrors.Wrap(apperrors.ErrDatabase, op, err)
}

func errNotFound(kind string, key interface{}) error {
	return apperrors.Newf(apperrors.ErrNotFound, "%s %v not found", kind, key)
}
