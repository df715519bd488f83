package db

import (
	"time"

	"github.com/arkive-dms/arkive/models"
	"gorm.io/datatypes"
)

// --------------------------------------------------------------------------------------
// Users

// UserDBEntry user DB entry
type UserDBEntry struct {
	models.User
}

// TableName hard code table name
func (UserDBEntry) TableName() string {
	return "users"
}

// --------------------------------------------------------------------------------------
// Documents

// DocumentDBEntry document DB entry
type DocumentDBEntry struct {
	models.Document
	User UserDBEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID" validate:"-"`
}

// TableName hard code table name
func (DocumentDBEntry) TableName() string {
	return "documents"
}

// --------------------------------------------------------------------------------------
// Activities

// ActivityDBEntry activity DB entry
type ActivityDBEntry struct {
	models.Activity
	User UserDBEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID" validate:"-"`
}

// TableName hard code table name
func (ActivityDBEntry) TableName() string {
	return "activities"
}

// --------------------------------------------------------------------------------------
// Audit trail

// AuditEntryDBEntry audit trail DB entry
type AuditEntryDBEntry struct {
	models.AuditEntry
}

// TableName hard code table name
func (AuditEntryDBEntry) TableName() string {
	return "audit_entries"
}

// --------------------------------------------------------------------------------------
// Document search content

// DocumentIndexDBEntry searchable document content DB entry
type DocumentIndexDBEntry struct {
	// DocumentID the indexed document
	DocumentID string `json:"document_id" gorm:"column:document_id;primaryKey;unique" validate:"required,uuid_rfc4122"`

	// ExtractedText text content extracted from the document
	ExtractedText string `json:"extracted_text" gorm:"column:extracted_text;not null"`

	// DocumentType detected document type
	DocumentType string `json:"document_type" gorm:"column:document_type"`

	// Fields structured fields extracted from the document
	Fields datatypes.JSON `json:"fields,omitempty" gorm:"column:fields;default:null"`

	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`

	Document DocumentDBEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:DocumentID" validate:"-"`
}

// TableName hard code table name
func (DocumentIndexDBEntry) TableName() string {
	return "document_search"
}
