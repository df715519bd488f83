package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// auditProtectionTriggers store-level immutability for the audit trail.
//
// The triggers reject UPDATE and DELETE against audit rows inside the engine
// itself, so a caller bypassing the application code still cannot rewrite
// history. The only destructive operation permitted on the table is deletion
// of the whole database file.
var auditProtectionTriggers = []string{
	`CREATE TRIGGER IF NOT EXISTS audit_entries_no_update
		BEFORE UPDATE ON audit_entries
	BEGIN
		SELECT RAISE(ABORT, 'audit entries are immutable');
	END`,
	`CREATE TRIGGER IF NOT EXISTS audit_entries_no_delete
		BEFORE DELETE ON audit_entries
	BEGIN
		SELECT RAISE(ABORT, 'audit entries are immutable');
	END`,
}

var schemaIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_documents_user_id ON documents(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_activities_user_id ON activities(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_entries_user_id ON audit_entries(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_entries_action ON audit_entries(action)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp ON audit_entries(timestamp)`,
}

/*
DefineTables create all tables, indexes, and audit protection triggers if absent

Idempotent; an already-initialized store passes through unchanged.

	@param ctx context.Context - execution context
	@param db *gorm.DB - the database handle
*/
func DefineTables(_ context.Context, db *gorm.DB) error {
	if err := db.AutoMigrate(
		UserDBEntry{},
		DocumentDBEntry{},
		ActivityDBEntry{},
		AuditEntryDBEntry{},
		DocumentIndexDBEntry{},
	); err != nil {
		return fmt.Errorf("table migration failed [%w]", err)
	}

	for _, stmt := range schemaIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("index creation failed [%w]", err)
		}
	}

	for _, stmt := range auditProtectionTriggers {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("audit protection trigger creation failed [%w]", err)
		}
	}

	return nil
}
