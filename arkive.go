// Package arkive - document store with a tamper-evident audit trail
package arkive

import (
	"context"
	"fmt"

	"github.com/arkive-dms/arkive/backup"
	"github.com/arkive-dms/arkive/db"
	"github.com/arkive-dms/arkive/store"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Version producer version recorded in backup manifests
const Version = "1.0.0"

/*
NewDocumentStore initialize a document store instance.

Opens the backing database, creates the schema if absent, and returns the
store facade together with the persistence client it is built on.

	@param ctx context.Context - execution context
	@param dbDialector gorm.Dialector - GORM dialector
	@param dbLogLevel logger.LogLevel - SQL log level
	@returns new store instance and its persistence client
*/
func NewDocumentStore(
	ctx context.Context,
	dbDialector gorm.Dialector,
	dbLogLevel logger.LogLevel,
) (store.DocumentStore, db.Client, error) {
	// Prepare persistence
	persistence, err := db.NewConnection(dbDialector, dbLogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialized persistence client [%w]", err)
	}

	// Schema creation is idempotent; an existing store passes through unchanged
	if err := persistence.DefineSchema(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to define storage schema [%w]", err)
	}

	documentStore, err := store.NewDocumentStore(ctx, persistence)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialized document store [%w]", err)
	}

	return documentStore, persistence, nil
}

/*
NewBackupManager initialize a backup manager tied to a live store client.

	@param backupDir string - directory holding backup archives
	@param persistence db.Client - live store client, or nil
	@returns new backup manager
*/
func NewBackupManager(backupDir string, persistence db.Client) (backup.Manager, error) {
	manager, err := backup.NewManager(backupDir, Version, persistence)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized backup manager [%w]", err)
	}
	return manager, nil
}
