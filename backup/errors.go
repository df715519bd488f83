package backup

import "fmt"

// ValidationError structural or cryptographic integrity failure in a backup
// archive. Always carries a specific reason and is never auto-corrected;
// distinguishable from ordinary I/O failures so operators can tell "nothing
// to restore" from "this backup is corrupt".
type ValidationError struct {
	// Reason human-readable description of the violation
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("backup validation failed: %s", e.Reason)
}

// BackupError I/O or archive-format failure while producing or consuming a
// backup. Partial archives are removed, never left as the latest backup.
type BackupError struct {
	// Op the failing operation
	Op string
	// Err the underlying failure
	Err error
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("backup %s failed [%s]", e.Op, e.Err)
}

func (e *BackupError) Unwrap() error {
	return e.Err
}
