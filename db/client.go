package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/sethvargo/go-retry"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// contentionMaxAttempts bound on attempts against a busy/locked store
	contentionMaxAttempts = 3

	// contentionBackoffStep base delay between attempts; grows linearly
	// (100ms, 200ms, 300ms, ...)
	contentionBackoffStep = time.Millisecond * 100
)

/*
GetSqliteDialector define Sqlite GORM dialector

The DSN enables write-ahead logging, a 30s busy timeout, foreign keys, and
a bounded page cache.

	@param dbFile string - Sqlite DB file
	@return GORM sqlite dialector
*/
func GetSqliteDialector(dbFile string) gorm.Dialector {
	return sqlite.Open(fmt.Sprintf(
		"%s?_journal_mode=WAL&_busy_timeout=30000&_foreign_keys=on&_synchronous=NORMAL&_cache_size=10000",
		dbFile,
	))
}

// Client manages connections and transactions with a DB.
//
// All operations run under an exclusive critical section; at most one
// logical operation touches the connection at a time. Busy/locked failures
// are retried with linearly increasing backoff before surfacing as
// ContentionError.
type Client interface {
	/*
		DefineSchema create all tables, indexes, and protection triggers if absent

		Idempotent; safe to call against an already-initialized store.

			@param ctx context.Context - execution context
	*/
	DefineSchema(ctx context.Context) error

	/*
		RunSQLInTransaction execute SQL calls within a transaction

			@param ctx context.Context - execution context
			@param coreLogic func(ctx context.Context, tx *gorm.DB) error - the callback to execute
	*/
	RunSQLInTransaction(
		ctx context.Context, coreLogic func(ctx context.Context, tx *gorm.DB) error,
	) error

	/*
		UseDatabase utilize a `Database` instance

			@param ctx context.Context - execution context
			@param coreLogic func(ctx context.Context, dbClient Database) error - the callback to execute
	*/
	UseDatabase(
		ctx context.Context, coreLogic func(ctx context.Context, dbClient Database) error,
	) error

	/*
		UseDatabaseInTransaction utilize a `Database` instance in a transaction

			@param ctx context.Context - execution context
			@param coreLogic func(ctx context.Context, dbClient Database) error - the callback to execute
	*/
	UseDatabaseInTransaction(
		ctx context.Context, coreLogic func(ctx context.Context, dbClient Database) error,
	) error

	/*
		CheckpointWAL flush the write-ahead log into the main store file

		Backup snapshots copy the store file directly, so the WAL must be
		folded in first for the copy to be complete.

			@param ctx context.Context - execution context
	*/
	CheckpointWAL(ctx context.Context) error
}

// clientImpl implements Client
type clientImpl struct {
	goutils.Component
	db *gorm.DB
	// mu serializes all logical operations on the shared connection. The
	// audit chain append is a read-modify-write sequence; interleaving two
	// appends could reuse a previous hash.
	mu sync.Mutex
}

/*
NewConnection define a new SQL client

	@param dbDialector gorm.Dialector - GORM dialector
	@param dbLogLevel logger.LogLevel - SQL log level
	@return new client
*/
func NewConnection(dbDialector gorm.Dialector, dbLogLevel logger.LogLevel) (Client, error) {
	logTags := log.Fields{"package": "arkive", "module": "db", "component": "sql-client"}

	db, err := gorm.Open(dbDialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(dbLogLevel),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, &StorageInitError{Path: dbDialector.Name(), Err: err}
	}

	// Single connection backs the whole client; the engine sees exactly
	// one writer from this process.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, &StorageInitError{Path: dbDialector.Name(), Err: err}
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA temp_store = MEMORY").Error; err != nil {
		return nil, &StorageInitError{Path: dbDialector.Name(), Err: err}
	}

	// Probe the file; an unwritable path or a non-database file fails here
	var tableCount int64
	if err := db.Raw("SELECT count(*) FROM sqlite_master").Scan(&tableCount).Error; err != nil {
		return nil, &StorageInitError{Path: dbDialector.Name(), Err: err}
	}

	instance := &clientImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		db: db,
	}

	return instance, nil
}

// linearBackoff backoff schedule growing by one step per attempt
func linearBackoff(step time.Duration) retry.Backoff {
	var attempt int64
	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return step * time.Duration(attempt), false
	})
}

// execWithRetry run one logical operation, retrying busy/locked failures
// up to the attempt bound. Any other failure surfaces immediately.
func (c *clientImpl) execWithRetry(ctx context.Context, op func(ctx context.Context) error) error {
	logTags := c.GetLogTagsForContext(ctx)

	attempts := 0
	err := retry.Do(
		ctx,
		retry.WithMaxRetries(contentionMaxAttempts-1, linearBackoff(contentionBackoffStep)),
		func(ctx context.Context) error {
			attempts++
			if err := op(ctx); err != nil {
				if isContention(err) {
					log.WithError(err).
						WithFields(logTags).
						WithField("attempt", attempts).
						Warn("Store contention. Will retry")
					return retry.RetryableError(err)
				}
				return err
			}
			return nil
		},
	)
	if err != nil && isContention(err) {
		return &ContentionError{Attempts: attempts, Err: err}
	}
	return err
}

/*
DefineSchema create all tables, indexes, and protection triggers if absent

	@param ctx context.Context - execution context
*/
func (c *clientImpl) DefineSchema(ctx context.Context) error {
	return c.RunSQLInTransaction(ctx, DefineTables)
}

/*
RunSQLInTransaction execute SQL calls within a transaction

	@param ctx context.Context - execution context
	@param coreLogic func(ctx context.Context, tx *gorm.DB) error - the callback to execute
*/
func (c *clientImpl) RunSQLInTransaction(
	ctx context.Context, coreLogic func(ctx context.Context, tx *gorm.DB) error,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.execWithRetry(ctx, func(ctx context.Context) error {
		return c.db.Transaction(func(tx *gorm.DB) error {
			return coreLogic(ctx, tx)
		})
	})
}

/*
UseDatabase utilize a `Database` instance

	@param ctx context.Context - execution context
	@param coreLogic func(ctx context.Context, dbClient Database) error - the callback to execute
*/
func (c *clientImpl) UseDatabase(
	ctx context.Context, coreLogic func(ctx context.Context, dbClient Database) error,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.execWithRetry(ctx, func(ctx context.Context) error {
		dbClient, err := newDatabase(ctx, c.db)
		if err != nil {
			return fmt.Errorf("failed to define `Database` instance: [%w]", err)
		}
		return coreLogic(ctx, dbClient)
	})
}

/*
UseDatabaseInTransaction utilize a `Database` instance in a transaction

	@param ctx context.Context - execution context
	@param coreLogic func(ctx context.Context, dbClient Database) error - the callback to execute
*/
func (c *clientImpl) UseDatabaseInTransaction(
	ctx context.Context, coreLogic func(ctx context.Context, dbClient Database) error,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.execWithRetry(ctx, func(ctx context.Context) error {
		return c.db.Transaction(func(tx *gorm.DB) error {
			dbClient, err := newDatabase(ctx, tx)
			if err != nil {
				return fmt.Errorf("failed to define `Database` instance: [%w]", err)
			}
			return coreLogic(ctx, dbClient)
		})
	})
}

/*
CheckpointWAL flush the write-ahead log into the main store file

	@param ctx context.Context - execution context
*/
func (c *clientImpl) CheckpointWAL(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.execWithRetry(ctx, func(_ context.Context) error {
		return c.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error
	})
}

/*
ActiveSessionWrapper helper function for deciding whether to start a new transaction
or use an existing one.

	@param ctx context.Context - execution context
	@param activeDBClient Database - existing database transaction
	@param persistence Client - persistence client
	@param coreLogic func(ctx context.Context, dbClient Database) error - the callback to execute
*/
func ActiveSessionWrapper(
	ctx context.Context,
	activeDBClient Database,
	persistence Client,
	coreLogic func(ctx context.Context, dbClient Database) error,
) error {
	if activeDBClient == nil {
		return persistence.UseDatabaseInTransaction(ctx, coreLogic)
	}
	return coreLogic(ctx, activeDBClient)
}
