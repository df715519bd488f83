package models

import "time"

// User an account that owns documents and activities
type User struct {
	// ID user ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required,uuid_rfc4122"`

	// Username unique login name
	Username string `json:"username" gorm:"column:username;not null;unique" validate:"required"`

	// PasswordHash bcrypt hash of the user password
	PasswordHash string `json:"-" gorm:"column:password_hash;not null" validate:"required"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// LastLogin timestamp of the most recent successful login
	LastLogin *time.Time `json:"last_login,omitempty" gorm:"column:last_login;default:null"`
}

// Document one stored document belonging to a user
type Document struct {
	// ID document ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required,uuid_rfc4122"`

	// UserID the owning user
	UserID string `json:"user_id" gorm:"column:user_id;not null" validate:"required,uuid_rfc4122"`

	// Name document display name
	Name string `json:"name" gorm:"column:name;not null" validate:"required"`

	// FilePath location of the document content on disk
	FilePath string `json:"file_path" gorm:"column:file_path;not null" validate:"required"`

	// FileType file extension of the document
	FileType string `json:"file_type" gorm:"column:file_type"`

	// FileSize content size in bytes
	FileSize int64 `json:"file_size" gorm:"column:file_size;not null"`

	// Category user assigned category
	Category string `json:"category" gorm:"column:category;not null;default:General"`

	// IsActive soft-delete flag
	IsActive bool `json:"is_active" gorm:"column:is_active;not null;default:true"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// Activity one user-visible action taken against a document
type Activity struct {
	// ID activity entry ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`

	// UserID the acting user
	UserID string `json:"user_id" gorm:"column:user_id;not null" validate:"required,uuid_rfc4122"`

	// Action what the user did
	Action string `json:"action" gorm:"column:action;not null" validate:"required"`

	// DocumentName the document acted upon
	DocumentName string `json:"document_name" gorm:"column:document_name;not null"`

	// Username display name of the acting user
	Username string `json:"username" gorm:"column:username;not null" validate:"required"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
}

// Stats per-user aggregate document statistics
type Stats struct {
	// TotalDocuments count of active documents
	TotalDocuments int64 `json:"total_documents"`
	// UploadsToday count of active documents uploaded today
	UploadsToday int64 `json:"uploads_today"`
	// TotalSize combined size in bytes of active documents
	TotalSize int64 `json:"total_size"`
}
