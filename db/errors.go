package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// StorageInitError the store could not be opened or is not a valid database.
// Fatal to startup; surfaced to the operator.
type StorageInitError struct {
	// Path the store file path
	Path string
	// Err the underlying failure
	Err error
}

func (e *StorageInitError) Error() string {
	return fmt.Sprintf("storage initialization failed for '%s' [%s]", e.Path, e.Err)
}

func (e *StorageInitError) Unwrap() error {
	return e.Err
}

// ContentionError the store stayed busy or locked after the retry budget
// was exhausted. Recoverable by caller retry at a higher level.
type ContentionError struct {
	// Attempts number of attempts made before giving up
	Attempts int
	// Err the final busy/locked failure
	Err error
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("store still contended after %d attempts [%s]", e.Attempts, e.Err)
}

func (e *ContentionError) Unwrap() error {
	return e.Err
}

// AuditWriteError the atomic chain-read-then-insert could not be completed.
// The caller must assume the action was not recorded; no partial entry is
// ever visible.
type AuditWriteError struct {
	// Err the underlying failure
	Err error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit entry append failed [%s]", e.Err)
}

func (e *AuditWriteError) Unwrap() error {
	return e.Err
}

// isContention report whether an error is a transient busy/locked failure
// worth retrying
func isContention(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	// The gorm sqlite driver may surface the failure as a plain string
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
