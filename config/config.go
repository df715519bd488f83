// Package config - operator configuration
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config operator configuration for the arkive core
type Config struct {
	// DatabasePath location of the store file
	DatabasePath string `yaml:"database_path"`

	// FilesRoot directory holding document content
	FilesRoot string `yaml:"files_root"`

	// BackupDir directory holding backup archives
	BackupDir string `yaml:"backup_dir"`

	// BackupKeepCount number of backups retained by cleanup
	BackupKeepCount int `yaml:"backup_keep_count"`

	// BackupSchedule cron expression for scheduled backups
	BackupSchedule string `yaml:"backup_schedule"`

	// LogLevel apex/log level name
	LogLevel string `yaml:"log_level"`
}

// Default configuration values used when the config file omits a field
func Default() Config {
	return Config{
		DatabasePath:    "data/arkive.db",
		FilesRoot:       "data/files",
		BackupDir:       "data/backups",
		BackupKeepCount: 5,
		BackupSchedule:  "0 3 * * *",
		LogLevel:        "info",
	}
}

/*
Load read configuration from a YAML file, falling back to defaults

A missing file is not an error; the defaults apply.

	@param path string - config file path
	@returns parsed configuration
*/
func Load(path string) (Config, error) {
	cfg := Default()

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read config '%s' [%w]", path, err)
	}

	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config '%s' [%w]", path, err)
	}

	if cfg.BackupKeepCount < 1 {
		return Config{}, fmt.Errorf("backup_keep_count must be at least 1")
	}

	return cfg, nil
}
