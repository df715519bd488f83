package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arkive-dms/arkive/config"
	"github.com/stretchr/testify/assert"
)

// TestConfigLoad verifies default handling and YAML parsing of `config.Load`.
func TestConfigLoad(t *testing.T) {
	assert := assert.New(t)

	// 1 – A missing file yields the defaults
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Nil(err)
	assert.Equal(config.Default(), cfg)

	// 2 – A partial file overrides only the fields it names
	partialPath := filepath.Join(t.TempDir(), "arkive.yaml")
	assert.Nil(os.WriteFile(partialPath, []byte(
		"database_path: /var/lib/arkive/store.db\nbackup_keep_count: 9\n",
	), 0o644))

	cfg, err = config.Load(partialPath)
	assert.Nil(err)
	assert.Equal("/var/lib/arkive/store.db", cfg.DatabasePath)
	assert.Equal(9, cfg.BackupKeepCount)
	assert.Equal(config.Default().BackupDir, cfg.BackupDir)
	assert.Equal(config.Default().BackupSchedule, cfg.BackupSchedule)

	// 3 – Malformed YAML is an error
	badPath := filepath.Join(t.TempDir(), "bad.yaml")
	assert.Nil(os.WriteFile(badPath, []byte("database_path: [unclosed"), 0o644))
	_, err = config.Load(badPath)
	assert.Error(err)

	// 4 – A retention count below one is rejected
	zeroPath := filepath.Join(t.TempDir(), "zero.yaml")
	assert.Nil(os.WriteFile(zeroPath, []byte("backup_keep_count: 0\n"), 0o644))
	_, err = config.Load(zeroPath)
	assert.Error(err)
}
