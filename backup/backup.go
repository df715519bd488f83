// Package backup - point-in-time snapshot and restore of the document store
package backup

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/arkive-dms/arkive/db"
	"github.com/arkive-dms/arkive/models"

	// raw sqlite driver for the throwaway integrity probe
	_ "github.com/mattn/go-sqlite3"
)

const (
	// archiveDatabaseEntry fixed archive entry name of the store snapshot
	archiveDatabaseEntry = "database.db"

	// archiveManifestEntry fixed archive entry name of the manifest
	archiveManifestEntry = "backup_info.json"

	// archiveFilesPrefix fixed path prefix of ancillary files inside the archive
	archiveFilesPrefix = "files"
)

// requiredTables tables that must exist in a restorable snapshot
var requiredTables = []string{"users", "documents", "activities", "audit_entries"}

// BackupRecord one verified backup archive on disk
type BackupRecord struct {
	// Path location of the archive
	Path string
	// Manifest the parsed manifest
	Manifest models.BackupManifest
}

// Manager produces, validates, and restores backup archives
type Manager interface {
	/*
		Create produce a new backup archive

		The snapshot covers the store file plus every file under filesRoot.
		A partially written archive is removed on failure.

			@param ctx context.Context - execution context
			@param dbPath string - live store file
			@param filesRoot string - ancillary files directory; may be absent
			@param outputPath string - archive destination
			@returns the snapshot manifest
	*/
	Create(
		ctx context.Context, dbPath string, filesRoot string, outputPath string,
	) (models.BackupManifest, error)

	/*
		Verify validate a backup archive without touching any live data

		Confirms the required entries exist, the manifest parses, the embedded
		snapshot passes the engine integrity check, and the required tables
		are present.

			@param ctx context.Context - execution context
			@param archivePath string - archive to validate
			@returns the parsed manifest
	*/
	Verify(ctx context.Context, archivePath string) (models.BackupManifest, error)

	/*
		Restore install a backup archive over the target store and files

		Verification runs first and aborts the restore on any failure, so an
		invalid archive can never clobber the existing store.

			@param ctx context.Context - execution context
			@param archivePath string - archive to restore
			@param targetDBPath string - store file destination
			@param targetFilesRoot string - ancillary files destination
	*/
	Restore(
		ctx context.Context, archivePath string, targetDBPath string, targetFilesRoot string,
	) error

	/*
		List enumerate verified backup archives in the backup directory

		Archives failing verification are logged and skipped.

			@param ctx context.Context - execution context
			@returns verified archives, newest first
	*/
	List(ctx context.Context) ([]BackupRecord, error)

	/*
		Cleanup delete all but the most recent verified backup archives

			@param ctx context.Context - execution context
			@param keepCount int - number of archives to keep
			@returns number of archives removed
	*/
	Cleanup(ctx context.Context, keepCount int) (int, error)
}

// managerImpl implements Manager
type managerImpl struct {
	goutils.Component

	backupDir string
	version   string

	// persistence used only to checkpoint the WAL before copying the store
	// file; nil when backing up a store no live client holds open
	persistence db.Client
}

/*
NewManager define a new backup manager

	@param backupDir string - directory holding backup archives
	@param version string - producer version recorded in manifests
	@param persistence db.Client - live store client, or nil
	@returns manager instance
*/
func NewManager(backupDir string, version string, persistence db.Client) (Manager, error) {
	logTags := log.Fields{"module": "backup", "component": "backup-manager"}

	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to prepare backup directory '%s' [%w]", backupDir, err)
	}

	instance := &managerImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		backupDir:   backupDir,
		version:     version,
		persistence: persistence,
	}

	return instance, nil
}

// updateChecksum fold the byte-length of one copied item into the checksum.
//
// The checksum covers item sizes rather than full content. The threat model
// is corruption in transit or at rest, not adversarial tampering; accumulating
// sizes keeps backup cost linear in file count instead of total bytes.
func updateChecksum(hasher hash.Hash, size int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(size))
	_, _ = hasher.Write(buf[:])
}

/*
Create produce a new backup archive

	@param ctx context.Context - execution context
	@param dbPath string - live store file
	@param filesRoot string - ancillary files directory; may be absent
	@param outputPath string - archive destination
	@returns the snapshot manifest
*/
func (m *managerImpl) Create(
	ctx context.Context, dbPath string, filesRoot string, outputPath string,
) (models.BackupManifest, error) {
	logTags := m.GetLogTagsForContext(ctx)

	if _, err := os.Stat(dbPath); err != nil {
		return models.BackupManifest{}, &BackupError{
			Op: "create", Err: fmt.Errorf("store file '%s' not found [%w]", dbPath, err),
		}
	}

	// Fold the WAL into the main file so the copied bytes are the complete
	// current state of the store
	if m.persistence != nil {
		if err := m.persistence.CheckpointWAL(ctx); err != nil {
			return models.BackupManifest{}, &BackupError{
				Op: "create", Err: fmt.Errorf("WAL checkpoint failed [%w]", err),
			}
		}
	}

	manifest, err := m.writeArchive(ctx, dbPath, filesRoot, outputPath)
	if err != nil {
		// A partial archive must never be mistaken for a usable backup
		if removeErr := os.Remove(outputPath); removeErr != nil && !os.IsNotExist(removeErr) {
			log.WithError(removeErr).
				WithFields(logTags).
				WithField("archive", outputPath).
				Error("Failed to remove partial backup archive")
		}
		return models.BackupManifest{}, &BackupError{Op: "create", Err: err}
	}

	log.WithFields(logTags).
		WithField("archive", outputPath).
		WithField("files_count", manifest.FilesCount).
		WithField("database_size", manifest.DatabaseSize).
		Info("Backup archive created")

	return manifest, nil
}

// writeArchive produce the archive contents; caller removes the output on error
func (m *managerImpl) writeArchive(
	_ context.Context, dbPath string, filesRoot string, outputPath string,
) (models.BackupManifest, error) {
	outputFile, err := os.Create(outputPath)
	if err != nil {
		return models.BackupManifest{}, fmt.Errorf("failed to create archive [%w]", err)
	}
	defer func() { _ = outputFile.Close() }()

	zipWriter := zip.NewWriter(outputFile)
	hasher := sha256.New()

	// Store snapshot
	dbFile, err := os.Open(dbPath)
	if err != nil {
		return models.BackupManifest{}, fmt.Errorf("failed to open store file [%w]", err)
	}
	defer func() { _ = dbFile.Close() }()

	entryWriter, err := zipWriter.Create(archiveDatabaseEntry)
	if err != nil {
		return models.BackupManifest{}, fmt.Errorf("failed to start snapshot entry [%w]", err)
	}
	dbSize, err := io.Copy(entryWriter, dbFile)
	if err != nil {
		return models.BackupManifest{}, fmt.Errorf("failed to copy store file [%w]", err)
	}
	updateChecksum(hasher, dbSize)
	filesCount := 1

	// Ancillary files
	if info, err := os.Stat(filesRoot); err == nil && info.IsDir() {
		added, err := addDirectoryToZip(zipWriter, filesRoot, archiveFilesPrefix, hasher)
		if err != nil {
			return models.BackupManifest{}, fmt.Errorf("failed to copy ancillary files [%w]", err)
		}
		filesCount += added
	}

	manifest := models.BackupManifest{
		CreatedAt:    time.Now().UTC(),
		Version:      m.version,
		DatabaseSize: uint64(dbSize),
		FilesCount:   filesCount,
		Checksum:     hex.EncodeToString(hasher.Sum(nil)),
	}

	manifestBytes, err := json.MarshalIndent(&manifest, "", "  ")
	if err != nil {
		return models.BackupManifest{}, fmt.Errorf("failed to serialize manifest [%w]", err)
	}
	manifestWriter, err := zipWriter.Create(archiveManifestEntry)
	if err != nil {
		return models.BackupManifest{}, fmt.Errorf("failed to start manifest entry [%w]", err)
	}
	if _, err := manifestWriter.Write(manifestBytes); err != nil {
		return models.BackupManifest{}, fmt.Errorf("failed to write manifest [%w]", err)
	}

	if err := zipWriter.Close(); err != nil {
		return models.BackupManifest{}, fmt.Errorf("failed to finalize archive [%w]", err)
	}
	if err := outputFile.Close(); err != nil {
		return models.BackupManifest{}, fmt.Errorf("failed to flush archive [%w]", err)
	}

	return manifest, nil
}

// addDirectoryToZip recursively copy a directory into the archive, preserving
// relative paths under the given prefix
func addDirectoryToZip(
	zipWriter *zip.Writer, dirPath string, prefix string, hasher hash.Hash,
) (int, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read directory '%s' [%w]", dirPath, err)
	}

	count := 0
	for _, entry := range entries {
		entryPath := filepath.Join(dirPath, entry.Name())
		// Archive entry names always use forward slashes
		zipPath := path.Join(prefix, entry.Name())

		if entry.IsDir() {
			added, err := addDirectoryToZip(zipWriter, entryPath, zipPath, hasher)
			if err != nil {
				return count, err
			}
			count += added
			continue
		}

		file, err := os.Open(entryPath)
		if err != nil {
			return count, fmt.Errorf("failed to open '%s' [%w]", entryPath, err)
		}
		entryWriter, err := zipWriter.Create(zipPath)
		if err != nil {
			_ = file.Close()
			return count, fmt.Errorf("failed to start entry '%s' [%w]", zipPath, err)
		}
		size, err := io.Copy(entryWriter, file)
		_ = file.Close()
		if err != nil {
			return count, fmt.Errorf("failed to copy '%s' [%w]", entryPath, err)
		}
		updateChecksum(hasher, size)
		count++
	}

	return count, nil
}

/*
Verify validate a backup archive without touching any live data

	@param ctx context.Context - execution context
	@param archivePath string - archive to validate
	@returns the parsed manifest
*/
func (m *managerImpl) Verify(
	_ context.Context, archivePath string,
) (models.BackupManifest, error) {
	if _, err := os.Stat(archivePath); err != nil {
		return models.BackupManifest{}, &ValidationError{
			Reason: fmt.Sprintf("backup archive '%s' not found", archivePath),
		}
	}

	archive, err := zip.OpenReader(archivePath)
	if err != nil {
		return models.BackupManifest{}, &ValidationError{
			Reason: fmt.Sprintf("'%s' is not a valid archive: %s", archivePath, err),
		}
	}
	defer func() { _ = archive.Close() }()

	var databaseEntry, manifestEntry *zip.File
	for _, file := range archive.File {
		switch file.Name {
		case archiveDatabaseEntry:
			databaseEntry = file
		case archiveManifestEntry:
			manifestEntry = file
		}
	}
	if databaseEntry == nil {
		return models.BackupManifest{}, &ValidationError{
			Reason: fmt.Sprintf("required entry '%s' missing from backup", archiveDatabaseEntry),
		}
	}
	if manifestEntry == nil {
		return models.BackupManifest{}, &ValidationError{
			Reason: fmt.Sprintf("required entry '%s' missing from backup", archiveManifestEntry),
		}
	}

	// Parse the manifest
	manifestReader, err := manifestEntry.Open()
	if err != nil {
		return models.BackupManifest{}, &ValidationError{
			Reason: fmt.Sprintf("unable to read manifest: %s", err),
		}
	}
	manifestBytes, err := io.ReadAll(manifestReader)
	_ = manifestReader.Close()
	if err != nil {
		return models.BackupManifest{}, &ValidationError{
			Reason: fmt.Sprintf("unable to read manifest: %s", err),
		}
	}
	var manifest models.BackupManifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return models.BackupManifest{}, &ValidationError{
			Reason: fmt.Sprintf("manifest is not valid JSON: %s", err),
		}
	}

	// Extract the snapshot to a throwaway location and probe it
	tempDir, err := os.MkdirTemp("", "arkive_verify_")
	if err != nil {
		return models.BackupManifest{}, &BackupError{Op: "verify", Err: err}
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	tempDBPath := filepath.Join(tempDir, archiveDatabaseEntry)
	if err := extractEntry(databaseEntry, tempDBPath); err != nil {
		return models.BackupManifest{}, &ValidationError{
			Reason: fmt.Sprintf("unable to extract store snapshot: %s", err),
		}
	}

	if err := probeSnapshot(tempDBPath); err != nil {
		return models.BackupManifest{}, err
	}

	return manifest, nil
}

// extractEntry copy one archive entry to a file on disk
func extractEntry(entry *zip.File, targetPath string) error {
	reader, err := entry.Open()
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	output, err := os.Create(targetPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(output, reader); err != nil {
		_ = output.Close()
		return err
	}
	return output.Close()
}

// probeSnapshot run the engine structural-integrity check against a snapshot
// file and confirm the required tables exist
func probeSnapshot(dbPath string) error {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return &ValidationError{Reason: fmt.Sprintf("unable to open snapshot: %s", err)}
	}
	defer func() { _ = conn.Close() }()

	var integrityResult string
	if err := conn.QueryRow("PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		return &ValidationError{Reason: fmt.Sprintf("integrity check failed to run: %s", err)}
	}
	if integrityResult != "ok" {
		return &ValidationError{
			Reason: fmt.Sprintf("snapshot failed integrity check: %s", integrityResult),
		}
	}

	rows, err := conn.Query("SELECT name FROM sqlite_master WHERE type='table'")
	if err != nil {
		return &ValidationError{Reason: fmt.Sprintf("unable to list snapshot tables: %s", err)}
	}
	defer func() { _ = rows.Close() }()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return &ValidationError{Reason: fmt.Sprintf("unable to list snapshot tables: %s", err)}
		}
		found[name] = true
	}
	if err := rows.Err(); err != nil {
		return &ValidationError{Reason: fmt.Sprintf("unable to list snapshot tables: %s", err)}
	}

	for _, table := range requiredTables {
		if !found[table] {
			return &ValidationError{
				Reason: fmt.Sprintf("required table '%s' missing from snapshot", table),
			}
		}
	}

	return nil
}

/*
Restore install a backup archive over the target store and files

	@param ctx context.Context - execution context
	@param archivePath string - archive to restore
	@param targetDBPath string - store file destination
	@param targetFilesRoot string - ancillary files destination
*/
func (m *managerImpl) Restore(
	ctx context.Context, archivePath string, targetDBPath string, targetFilesRoot string,
) error {
	logTags := m.GetLogTagsForContext(ctx)

	// Verification is a pure read of the archive; the live target is not
	// touched until it passes
	if _, err := m.Verify(ctx, archivePath); err != nil {
		return fmt.Errorf("refusing to restore unverified backup [%w]", err)
	}

	archive, err := zip.OpenReader(archivePath)
	if err != nil {
		return &BackupError{Op: "restore", Err: err}
	}
	defer func() { _ = archive.Close() }()

	if parent := filepath.Dir(targetDBPath); parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return &BackupError{Op: "restore", Err: err}
		}
	}
	if err := os.MkdirAll(targetFilesRoot, 0o755); err != nil {
		return &BackupError{Op: "restore", Err: err}
	}

	restoredFiles := 0
	for _, file := range archive.File {
		switch {
		case file.Name == archiveDatabaseEntry:
			if err := extractEntry(file, targetDBPath); err != nil {
				return &BackupError{Op: "restore", Err: err}
			}

		case strings.HasPrefix(file.Name, archiveFilesPrefix+"/") &&
			!strings.HasSuffix(file.Name, "/"):
			relativePath := strings.TrimPrefix(file.Name, archiveFilesPrefix+"/")
			outputPath := filepath.Join(targetFilesRoot, filepath.FromSlash(relativePath))
			// Entry names must stay inside the target files root
			if rel, err := filepath.Rel(targetFilesRoot, outputPath); err != nil ||
				strings.HasPrefix(rel, "..") {
				return &BackupError{
					Op: "restore", Err: fmt.Errorf("archive entry '%s' escapes target", file.Name),
				}
			}
			if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
				return &BackupError{Op: "restore", Err: err}
			}
			if err := extractEntry(file, outputPath); err != nil {
				return &BackupError{Op: "restore", Err: err}
			}
			restoredFiles++
		}
	}

	// Final probe of the installed store
	if err := probeSnapshot(targetDBPath); err != nil {
		return fmt.Errorf("restored store failed validation [%w]", err)
	}

	log.WithFields(logTags).
		WithField("archive", archivePath).
		WithField("restored_files", restoredFiles).
		Info("Backup archive restored")

	return nil
}

/*
List enumerate verified backup archives in the backup directory

	@param ctx context.Context - execution context
	@returns verified archives, newest first
*/
func (m *managerImpl) List(ctx context.Context) ([]BackupRecord, error) {
	logTags := m.GetLogTagsForContext(ctx)

	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []BackupRecord{}, nil
		}
		return nil, &BackupError{Op: "list", Err: err}
	}

	records := []BackupRecord{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".zip" {
			continue
		}
		archivePath := filepath.Join(m.backupDir, entry.Name())
		manifest, err := m.Verify(ctx, archivePath)
		if err != nil {
			log.WithError(err).
				WithFields(logTags).
				WithField("archive", archivePath).
				Warn("Skipping invalid backup archive")
			continue
		}
		records = append(records, BackupRecord{Path: archivePath, Manifest: manifest})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Manifest.CreatedAt.After(records[j].Manifest.CreatedAt)
	})

	return records, nil
}

/*
Cleanup delete all but the most recent verified backup archives

	@param ctx context.Context - execution context
	@param keepCount int - number of archives to keep
	@returns number of archives removed
*/
func (m *managerImpl) Cleanup(ctx context.Context, keepCount int) (int, error) {
	logTags := m.GetLogTagsForContext(ctx)

	records, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(records) <= keepCount {
		return 0, nil
	}

	removed := 0
	for _, record := range records[keepCount:] {
		log.WithFields(logTags).
			WithField("archive", record.Path).
			WithField("created_at", record.Manifest.CreatedAt).
			Info("Removing old backup archive")
		if err := os.Remove(record.Path); err != nil {
			return removed, &BackupError{Op: "cleanup", Err: err}
		}
		removed++
	}

	return removed, nil
}
