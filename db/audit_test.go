package db_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/apex/log"
	"github.com/arkive-dms/arkive/db"
	"github.com/arkive-dms/arkive/models"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDBAuditChainAppend verifies the behavior of `Database.AppendAuditEntry`,
// `Database.VerifyAuditChain`, and `Database.ListAuditEntries`.
func TestDBAuditChainAppend(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	// Create a unique temporary DB file for this test
	testDB := fmt.Sprintf("/tmp/arkive_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	// Create a new DB connection
	uut, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)

	// Create database tables
	assert.Nil(uut.DefineSchema(utCtx))

	userID := uuid.NewString()
	username := uuid.NewString()

	// -------------------------------------------------------------------------
	// 1 – Append a successful login entry
	var entry1 models.AuditEntry
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		e, err := dbClient.AppendAuditEntry(ctx, db.AuditEntryParams{
			UserID:       userID,
			Username:     username,
			Action:       models.AuditActionLogin,
			ResourceType: "user",
			ResourceName: username,
			IsSuccess:    true,
		})
		if err != nil {
			return err
		}
		entry1 = e
		return nil
	})
	assert.Nil(err)

	// First entry starts the chain at sequence 1 from the sentinel
	assert.Equal(uint64(1), entry1.SequenceID)
	assert.Equal(models.AuditChainSentinel, entry1.PreviousHash)
	assert.Equal(entry1.ComputeChainHash(), entry1.CurrentHash)

	// -------------------------------------------------------------------------
	// 2 – Append an upload entry carrying metadata
	var entry2 models.AuditEntry
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		e, err := dbClient.AppendAuditEntry(ctx, db.AuditEntryParams{
			UserID:       userID,
			Username:     username,
			Action:       models.AuditActionUpload,
			ResourceType: "document",
			ResourceID:   uuid.NewString(),
			ResourceName: "report.pdf",
			Metadata:     map[string]interface{}{"file_size": 2048, "file_type": "pdf"},
			IsSuccess:    true,
		})
		if err != nil {
			return err
		}
		entry2 = e
		return nil
	})
	assert.Nil(err)

	assert.Equal(uint64(2), entry2.SequenceID)
	assert.Equal(entry1.CurrentHash, entry2.PreviousHash)
	assert.NotEmpty(entry2.Metadata)

	// -------------------------------------------------------------------------
	// 3 – Append a failed login entry for another actor
	otherUsername := uuid.NewString()
	var entry3 models.AuditEntry
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		e, err := dbClient.AppendAuditEntry(ctx, db.AuditEntryParams{
			UserID:       otherUsername,
			Username:     otherUsername,
			Action:       models.AuditActionLoginFailed,
			ResourceType: "user",
			ResourceName: otherUsername,
			IsSuccess:    false,
		})
		if err != nil {
			return err
		}
		entry3 = e
		return nil
	})
	assert.Nil(err)

	assert.Equal(uint64(3), entry3.SequenceID)
	assert.Equal(entry2.CurrentHash, entry3.PreviousHash)
	assert.False(entry3.IsSuccess)

	// -------------------------------------------------------------------------
	// 4 – Full chain verification passes
	var report db.AuditChainReport
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		report, err = dbClient.VerifyAuditChain(ctx)
		return err
	})
	assert.Nil(err)
	assert.True(report.Valid)
	assert.Equal(uint64(3), report.Entries)
	assert.Equal(uint64(0), report.FailedSequence)

	// -------------------------------------------------------------------------
	// 5 – List entries filtered by actor
	var entries []models.AuditEntry
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		entries, err = dbClient.ListAuditEntries(ctx, db.AuditQueryFilter{UserID: &userID})
		return err
	})
	assert.Nil(err)
	assert.Len(entries, 2)
	// Default order is sequence descending
	assert.Equal(uint64(2), entries[0].SequenceID)
	assert.Equal(uint64(1), entries[1].SequenceID)

	// 6 – List entries filtered by action
	failedAction := models.AuditActionLoginFailed
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		entries, err = dbClient.ListAuditEntries(ctx, db.AuditQueryFilter{Action: &failedAction})
		return err
	})
	assert.Nil(err)
	assert.Len(entries, 1)
	assert.Equal(entry3.ID, entries[0].ID)
}

// TestDBAuditImmutability verifies that the store itself rejects UPDATE and
// DELETE against committed audit entries.
func TestDBAuditImmutability(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	// Create a unique temporary DB file for this test
	testDB := fmt.Sprintf("/tmp/arkive_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	// Create a new DB connection
	uut, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)

	// Create database tables
	assert.Nil(uut.DefineSchema(utCtx))

	// -------------------------------------------------------------------------
	// 1 – Append one entry
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		_, err := dbClient.AppendAuditEntry(ctx, db.AuditEntryParams{
			UserID:       uuid.NewString(),
			Username:     uuid.NewString(),
			Action:       models.AuditActionRegister,
			ResourceType: "user",
			IsSuccess:    true,
		})
		return err
	})
	assert.Nil(err)

	// 2 – Direct UPDATE must be rejected by the protection trigger
	err = uut.RunSQLInTransaction(utCtx, func(_ context.Context, tx *gorm.DB) error {
		return tx.Exec("UPDATE audit_entries SET username = 'intruder' WHERE sequence_id = 1").Error
	})
	assert.Error(err)
	assert.Contains(err.Error(), "immutable")

	// 3 – Direct DELETE must be rejected by the protection trigger
	err = uut.RunSQLInTransaction(utCtx, func(_ context.Context, tx *gorm.DB) error {
		return tx.Exec("DELETE FROM audit_entries WHERE sequence_id = 1").Error
	})
	assert.Error(err)
	assert.Contains(err.Error(), "immutable")

	// 4 – The entry is untouched
	var entries []models.AuditEntry
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		entries, err = dbClient.ListAuditEntries(ctx, db.AuditQueryFilter{})
		return err
	})
	assert.Nil(err)
	assert.Len(entries, 1)
	assert.NotEqual("intruder", entries[0].Username)
}

// TestDBAuditTamperDetection verifies that chain verification reports the
// first entry whose content no longer matches its stored digest.
func TestDBAuditTamperDetection(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	// Create a unique temporary DB file for this test
	testDB := fmt.Sprintf("/tmp/arkive_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	// Create a new DB connection
	uut, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)

	// Create database tables
	assert.Nil(uut.DefineSchema(utCtx))

	// -------------------------------------------------------------------------
	// 1 – Append three entries
	userID := uuid.NewString()
	username := uuid.NewString()
	for range [3]int{} {
		err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.AppendAuditEntry(ctx, db.AuditEntryParams{
				UserID:       userID,
				Username:     username,
				Action:       models.AuditActionSearch,
				ResourceType: "document",
				IsSuccess:    true,
			})
			return err
		})
		assert.Nil(err)
	}

	// 2 – Rewrite the second entry, bypassing the protection trigger the way
	// an attacker with file access could
	err = uut.RunSQLInTransaction(utCtx, func(_ context.Context, tx *gorm.DB) error {
		if err := tx.Exec("DROP TRIGGER audit_entries_no_update").Error; err != nil {
			return err
		}
		return tx.Exec("UPDATE audit_entries SET username = 'intruder' WHERE sequence_id = 2").Error
	})
	assert.Nil(err)

	// 3 – Verification flags entry 2
	var report db.AuditChainReport
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		report, err = dbClient.VerifyAuditChain(ctx)
		return err
	})
	assert.Nil(err)
	assert.False(report.Valid)
	assert.Equal(uint64(2), report.FailedSequence)
	assert.NotEmpty(report.Reason)
}

// TestDBAuditConcurrentAppends verifies that parallel appends still produce a
// contiguous, fully linked chain.
func TestDBAuditConcurrentAppends(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	// Create a unique temporary DB file for this test
	testDB := fmt.Sprintf("/tmp/arkive_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	// Create a new DB connection
	uut, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)

	// Create database tables
	assert.Nil(uut.DefineSchema(utCtx))

	// -------------------------------------------------------------------------
	// 1 – Append entries from multiple goroutines at once
	const appendCount = 20
	errs := make(chan error, appendCount)
	var wg sync.WaitGroup
	for idx := 0; idx < appendCount; idx++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			errs <- uut.UseDatabaseInTransaction(
				utCtx, func(ctx context.Context, dbClient db.Database) error {
					_, err := dbClient.AppendAuditEntry(ctx, db.AuditEntryParams{
						UserID:       uuid.NewString(),
						Username:     fmt.Sprintf("writer-%d", idx),
						Action:       models.AuditActionDownload,
						ResourceType: "document",
						IsSuccess:    true,
					})
					return err
				},
			)
		}(idx)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.Nil(err)
	}

	// 2 – The chain is contiguous and every digest still checks out
	var report db.AuditChainReport
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		report, err = dbClient.VerifyAuditChain(ctx)
		return err
	})
	assert.Nil(err)
	assert.True(report.Valid)
	assert.Equal(uint64(appendCount), report.Entries)
}
