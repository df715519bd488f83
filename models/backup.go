package models

import "time"

/*
BackupManifest metadata describing one backup snapshot.

Created at backup time, stored alongside the snapshot inside the archive,
read back and validated before any restore. Never mutated.
*/
type BackupManifest struct {
	// CreatedAt snapshot creation timestamp
	CreatedAt time.Time `json:"created_at" validate:"required"`

	// Version producer version string
	Version string `json:"version" validate:"required"`

	// DatabaseSize size in bytes of the snapshotted database file
	DatabaseSize uint64 `json:"database_size"`

	// FilesCount number of items captured, the database snapshot included
	FilesCount int `json:"files_count"`

	// Checksum hex digest accumulated over the byte-length of every copied item
	Checksum string `json:"checksum" validate:"required"`
}
