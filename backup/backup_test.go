package backup_test

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/arkive-dms/arkive/backup"
	"github.com/arkive-dms/arkive/db"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

// prepareTestStore build a schema-complete store file with one user row
func prepareTestStore(t *testing.T, dbPath string) db.Client {
	t.Helper()
	utCtx := context.Background()

	persistence, err := db.NewConnection(db.GetSqliteDialector(dbPath), logger.Error)
	assert.Nil(t, err)
	assert.Nil(t, persistence.DefineSchema(utCtx))

	err = persistence.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.CreateUser(ctx, "backup-witness", "not-a-real-hash")
			return err
		},
	)
	assert.Nil(t, err)

	return persistence
}

// TestBackupCreateAndVerify verifies `Manager.Create` and `Manager.Verify`,
// including the item count recorded in the manifest.
func TestBackupCreateAndVerify(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	workDir := t.TempDir()
	dbPath := filepath.Join(workDir, "arkive.db")
	filesRoot := filepath.Join(workDir, "files")
	backupDir := filepath.Join(workDir, "backups")

	persistence := prepareTestStore(t, dbPath)

	// Twelve ancillary files spread over nested directories
	assert.Nil(os.MkdirAll(filepath.Join(filesRoot, "docs", "archive"), 0o755))
	for idx := 0; idx < 4; idx++ {
		assert.Nil(os.WriteFile(
			filepath.Join(filesRoot, fmt.Sprintf("root-%d.txt", idx)),
			[]byte(fmt.Sprintf("root content %d", idx)), 0o644,
		))
	}
	for idx := 0; idx < 5; idx++ {
		assert.Nil(os.WriteFile(
			filepath.Join(filesRoot, "docs", fmt.Sprintf("doc-%d.txt", idx)),
			[]byte(fmt.Sprintf("doc content %d", idx)), 0o644,
		))
	}
	for idx := 0; idx < 3; idx++ {
		assert.Nil(os.WriteFile(
			filepath.Join(filesRoot, "docs", "archive", fmt.Sprintf("old-%d.txt", idx)),
			[]byte(fmt.Sprintf("old content %d", idx)), 0o644,
		))
	}

	uut, err := backup.NewManager(backupDir, "1.0.0", persistence)
	assert.Nil(err)

	// -------------------------------------------------------------------------
	// 1 – Create the archive
	archivePath := filepath.Join(backupDir, fmt.Sprintf("arkive_backup_%s.zip", ulid.Make()))
	manifest, err := uut.Create(utCtx, dbPath, filesRoot, archivePath)
	assert.Nil(err)

	// Store snapshot plus twelve files
	assert.Equal(13, manifest.FilesCount)
	assert.Greater(manifest.DatabaseSize, uint64(0))
	assert.Equal("1.0.0", manifest.Version)
	assert.Len(manifest.Checksum, 64)

	// 2 – Verify the archive; the embedded manifest matches what Create returned
	verified, err := uut.Verify(utCtx, archivePath)
	assert.Nil(err)
	assert.Equal(manifest.FilesCount, verified.FilesCount)
	assert.Equal(manifest.Checksum, verified.Checksum)
	assert.Equal(manifest.DatabaseSize, verified.DatabaseSize)

	// -------------------------------------------------------------------------
	// 3 – Creating from a missing store file fails without leaving an archive
	badPath := filepath.Join(backupDir, "never.zip")
	_, err = uut.Create(utCtx, filepath.Join(workDir, "missing.db"), filesRoot, badPath)
	assert.Error(err)
	_, statErr := os.Stat(badPath)
	assert.True(os.IsNotExist(statErr))
}

// TestBackupRestoreRoundTrip verifies that `Manager.Restore` reproduces the
// store and ancillary files at a fresh location.
func TestBackupRestoreRoundTrip(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	workDir := t.TempDir()
	dbPath := filepath.Join(workDir, "arkive.db")
	filesRoot := filepath.Join(workDir, "files")
	backupDir := filepath.Join(workDir, "backups")

	persistence := prepareTestStore(t, dbPath)

	assert.Nil(os.MkdirAll(filepath.Join(filesRoot, "nested"), 0o755))
	assert.Nil(os.WriteFile(
		filepath.Join(filesRoot, "plain.txt"), []byte("plain payload"), 0o644,
	))
	assert.Nil(os.WriteFile(
		filepath.Join(filesRoot, "nested", "deep.txt"), []byte("deep payload"), 0o644,
	))

	uut, err := backup.NewManager(backupDir, "1.0.0", persistence)
	assert.Nil(err)

	archivePath := filepath.Join(backupDir, fmt.Sprintf("arkive_backup_%s.zip", ulid.Make()))
	_, err = uut.Create(utCtx, dbPath, filesRoot, archivePath)
	assert.Nil(err)

	// -------------------------------------------------------------------------
	// 1 – Restore into an empty target
	targetDir := t.TempDir()
	targetDB := filepath.Join(targetDir, "restored", "arkive.db")
	targetFiles := filepath.Join(targetDir, "restored", "files")
	assert.Nil(uut.Restore(utCtx, archivePath, targetDB, targetFiles))

	// 2 – Ancillary files came back byte for byte
	content, err := os.ReadFile(filepath.Join(targetFiles, "plain.txt"))
	assert.Nil(err)
	assert.Equal("plain payload", string(content))
	content, err = os.ReadFile(filepath.Join(targetFiles, "nested", "deep.txt"))
	assert.Nil(err)
	assert.Equal("deep payload", string(content))

	// 3 – The restored store opens and holds the data written before backup
	restored, err := db.NewConnection(db.GetSqliteDialector(targetDB), logger.Error)
	assert.Nil(err)
	err = restored.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		u, err := dbClient.GetUserByUsername(ctx, "backup-witness")
		if err != nil {
			return err
		}
		assert.Equal("backup-witness", u.Username)
		return nil
	})
	assert.Nil(err)
}

// TestBackupRestoreRefusesInvalidArchive verifies that a failed verification
// aborts the restore before the existing target is touched.
func TestBackupRestoreRefusesInvalidArchive(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	workDir := t.TempDir()
	targetDB := filepath.Join(workDir, "live.db")
	targetFiles := filepath.Join(workDir, "files")
	backupDir := filepath.Join(workDir, "backups")

	// Live target data that must survive a refused restore
	prepareTestStore(t, targetDB)
	assert.Nil(os.MkdirAll(targetFiles, 0o755))
	assert.Nil(os.WriteFile(
		filepath.Join(targetFiles, "precious.txt"), []byte("do not clobber"), 0o644,
	))
	liveDBBefore, err := os.ReadFile(targetDB)
	assert.Nil(err)

	uut, err := backup.NewManager(backupDir, "1.0.0", nil)
	assert.Nil(err)

	// -------------------------------------------------------------------------
	// 1 – Garbage bytes are not an archive
	garbagePath := filepath.Join(backupDir, "garbage.zip")
	assert.Nil(os.WriteFile(garbagePath, []byte("not a zip at all"), 0o644))

	err = uut.Restore(utCtx, garbagePath, targetDB, targetFiles)
	assert.Error(err)
	var validationErr *backup.ValidationError
	assert.True(errors.As(err, &validationErr))

	// 2 – A well-formed zip missing the store snapshot is also refused
	incompletePath := filepath.Join(backupDir, "incomplete.zip")
	zipFile, err := os.Create(incompletePath)
	assert.Nil(err)
	zipWriter := zip.NewWriter(zipFile)
	entryWriter, err := zipWriter.Create("readme.txt")
	assert.Nil(err)
	_, err = entryWriter.Write([]byte("nothing useful"))
	assert.Nil(err)
	assert.Nil(zipWriter.Close())
	assert.Nil(zipFile.Close())

	err = uut.Restore(utCtx, incompletePath, targetDB, targetFiles)
	assert.Error(err)
	assert.True(errors.As(err, &validationErr))

	// 3 – A missing archive is refused
	err = uut.Restore(utCtx, filepath.Join(backupDir, "absent.zip"), targetDB, targetFiles)
	assert.Error(err)
	assert.True(errors.As(err, &validationErr))

	// -------------------------------------------------------------------------
	// 4 – The live target is byte-for-byte untouched
	liveDBAfter, err := os.ReadFile(targetDB)
	assert.Nil(err)
	assert.Equal(liveDBBefore, liveDBAfter)
	content, err := os.ReadFile(filepath.Join(targetFiles, "precious.txt"))
	assert.Nil(err)
	assert.Equal("do not clobber", string(content))
}

// TestBackupListAndCleanup verifies `Manager.List` ordering and the retention
// sweep of `Manager.Cleanup`.
func TestBackupListAndCleanup(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	workDir := t.TempDir()
	dbPath := filepath.Join(workDir, "arkive.db")
	filesRoot := filepath.Join(workDir, "files")
	backupDir := filepath.Join(workDir, "backups")

	persistence := prepareTestStore(t, dbPath)

	uut, err := backup.NewManager(backupDir, "1.0.0", persistence)
	assert.Nil(err)

	// -------------------------------------------------------------------------
	// 1 – Produce five archives with distinct creation times
	archivePaths := make([]string, 5)
	for idx := 0; idx < 5; idx++ {
		archivePaths[idx] = filepath.Join(
			backupDir, fmt.Sprintf("arkive_backup_%s.zip", ulid.Make()),
		)
		_, err := uut.Create(utCtx, dbPath, filesRoot, archivePaths[idx])
		assert.Nil(err)
		time.Sleep(time.Millisecond * 20)
	}

	// 2 – List returns all five, newest first
	records, err := uut.List(utCtx)
	assert.Nil(err)
	assert.Len(records, 5)
	for idx := 1; idx < len(records); idx++ {
		assert.False(
			records[idx-1].Manifest.CreatedAt.Before(records[idx].Manifest.CreatedAt),
		)
	}
	assert.Equal(archivePaths[4], records[0].Path)

	// A corrupt archive in the directory is skipped, not fatal
	assert.Nil(os.WriteFile(
		filepath.Join(backupDir, "broken.zip"), []byte("junk"), 0o644,
	))
	records, err = uut.List(utCtx)
	assert.Nil(err)
	assert.Len(records, 5)

	// -------------------------------------------------------------------------
	// 3 – Keep the two newest archives
	removed, err := uut.Cleanup(utCtx, 2)
	assert.Nil(err)
	assert.Equal(3, removed)

	records, err = uut.List(utCtx)
	assert.Nil(err)
	assert.Len(records, 2)
	assert.Equal(archivePaths[4], records[0].Path)
	assert.Equal(archivePaths[3], records[1].Path)

	// The three oldest are gone from disk
	for idx := 0; idx < 3; idx++ {
		_, statErr := os.Stat(archivePaths[idx])
		assert.True(os.IsNotExist(statErr))
	}

	// 4 – A second sweep is a no-op
	removed, err = uut.Cleanup(utCtx, 2)
	assert.Nil(err)
	assert.Equal(0, removed)
}
