package main

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrMigrationAborted marks a process-global failure (source or target unreachable).
var ErrMigrationAborted = errors.New("migration aborted")

// SchemaIntrospectionError is returned when source metadata cannot be read or a
// requested table does not exist.
type SchemaIntrospectionError struct {
	Table string
	Err   error
}

func (e *SchemaIntrospectionError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("schema introspection: %v", e.Err)
	}
	return fmt.Sprintf("schema introspection of %s: %v", e.Table, e.Err)
}

func (e *SchemaIntrospectionError) Unwrap() error { return e.Err }

// UnsupportedTypeError names a column whose source type has no target mapping.
type UnsupportedTypeError struct {
	Table      string
	Column     string
	SourceType string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported source type %q for column %s.%s", e.SourceType, e.Table, e.Column)
}

// TargetAlreadyExistsError is returned when a table or index already exists in
// the target and overwrite mode is off.
type TargetAlreadyExistsError struct {
	Kind string // "table" or "index"
	Name string
}

func (e *TargetAlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %q already exists in target (on_table_exists=error)", e.Kind, e.Name)
}

// SourceReadError wraps a fault while reading a chunk from the source.
type SourceReadError struct {
	Table  string
	Offset int64
	Err    error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("read %s at row %d: %v", e.Table, e.Offset, e.Err)
}

func (e *SourceReadError) Unwrap() error { return e.Err }

// TargetWriteError wraps a fault while committing a chunk. Offset is the
// position of the first row of the rolled back batch.
type TargetWriteError struct {
	Table  string
	Offset int64
	Err    error
}

func (e *TargetWriteError) Error() string {
	return fmt.Sprintf("write %s chunk at row %d: %v", e.Table, e.Offset, e.Err)
}

func (e *TargetWriteError) Unwrap() error { return e.Err }

// CompactionError wraps a failed post-migration VACUUM.
type CompactionError struct {
	Err error
}

func (e *CompactionError) Error() string { return fmt.Sprintf("compaction: %v", e.Err) }

func (e *CompactionError) Unwrap() error { return e.Err }

// MySQL server/client error numbers treated as transient.
var transientMySQLErrors = map[uint16]bool{
	1040: true, // ER_CON_COUNT_ERROR
	1053: true, // ER_SERVER_SHUTDOWN
	1205: true, // ER_LOCK_WAIT_TIMEOUT
	1213: true, // ER_LOCK_DEADLOCK
	2006: true, // CR_SERVER_GONE_ERROR
	2013: true, // CR_SERVER_LOST
}

// isTransient reports whether err is a connection-level or lock-contention
// fault worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return transientMySQLErrors[myErr.Number]
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// isConnectionError reports whether err may mean a whole endpoint is gone, in
// which case the migrator checks connectivity before moving on.
func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1053 || myErr.Number == 2006 || myErr.Number == 2013
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// isTargetStorageError reports whether err means the target file itself is
// unusable (disk full, read-only, I/O failure, corruption).
func isTargetStorageError(err error) bool {
	var liteErr *sqlite.Error
	if !errors.As(err, &liteErr) {
		return false
	}
	switch liteErr.Code() & 0xff {
	case sqlite3.SQLITE_FULL, sqlite3.SQLITE_READONLY, sqlite3.SQLITE_IOERR,
		sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return true
	}
	return false
}
