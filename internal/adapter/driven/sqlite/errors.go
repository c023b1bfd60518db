package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ericfisherdev/reviewmesh/internal/domain/port/driven"
)

const (
	busyRetries = 3
	busyBackoff = 50 * time.Millisecond
)

// IsBusyError returns true if the error is a SQLITE_BUSY error.
func IsBusyError(err error) bool {
	var sqliteErr *sqlitedrv.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_BUSY
	}
	return false
}

// IsCorruptionError returns true if the error indicates database corruption.
func IsCorruptionError(err error) bool {
	var sqliteErr *sqlitedrv.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CORRUPT ||
			code == sqlite3.SQLITE_NOTADB ||
			code == sqlite3.SQLITE_CANTOPEN
	}

	errStr := err.Error()
	return strings.Contains(errStr, "database disk image is malformed") ||
		strings.Contains(errStr, "file is not a database")
}

// unavailable wraps err so callers can match it with driven.ErrStoreUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, driven.ErrStoreUnavailable, err)
}

// execWrite runs a statement on the writer, retrying briefly when another
// process holds the database lock beyond the busy timeout.
func execWrite(ctx context.Context, db *DB, query string, args ...any) (sql.Result, error) {
	var (
		res sql.Result
		err error
	)

	for attempt := 0; attempt <= busyRetries; attempt++ {
		res, err = db.Writer.ExecContext(ctx, query, args...)
		if err == nil || !IsBusyError(err) {
			return res, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(busyBackoff * time.Duration(attempt+1)):
		}
	}

	return nil, err
}
