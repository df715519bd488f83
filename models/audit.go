package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"gorm.io/datatypes"
)

// AuditActionENUMType audit action ENUM value type
type AuditActionENUMType string

const (
	// AuditActionLogin successful user login
	AuditActionLogin AuditActionENUMType = "LOGIN"

	// AuditActionLoginFailed rejected login attempt
	AuditActionLoginFailed AuditActionENUMType = "LOGIN_FAILED"

	// AuditActionLogout user logout
	AuditActionLogout AuditActionENUMType = "LOGOUT"

	// AuditActionRegister new user registration
	AuditActionRegister AuditActionENUMType = "REGISTER"

	// AuditActionUpload document content uploaded
	AuditActionUpload AuditActionENUMType = "UPLOAD"

	// AuditActionDownload document content downloaded
	AuditActionDownload AuditActionENUMType = "DOWNLOAD"

	// AuditActionDelete document removed
	AuditActionDelete AuditActionENUMType = "DELETE"

	// AuditActionSearch document search executed
	AuditActionSearch AuditActionENUMType = "SEARCH"

	// AuditActionIndex document content indexed for search
	AuditActionIndex AuditActionENUMType = "INDEX"

	// AuditActionDocumentCreate document record created
	AuditActionDocumentCreate AuditActionENUMType = "DOCUMENT_CREATE"

	// AuditActionBackupCreate backup archive produced
	AuditActionBackupCreate AuditActionENUMType = "BACKUP_CREATE"

	// AuditActionBackupRestore backup archive restored
	AuditActionBackupRestore AuditActionENUMType = "BACKUP_RESTORE"
)

// AuditChainSentinel previous-hash value of the first entry in the chain
const AuditChainSentinel = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditTimestampFormat canonical timestamp layout used within audit entries.
//
// Timestamps are persisted as UTC strings in this layout so the bytes fed
// into the chain digest are identical on write and on re-verification. The
// fractional seconds are fixed width, keeping lexicographic order equal to
// chronological order for range queries.
const AuditTimestampFormat = "2006-01-02T15:04:05.000000000Z07:00"

/*
AuditEntry one record of the append-only, hash-chained audit trail.

Entries are immutable once committed; the storage schema rejects UPDATE and
DELETE against the backing table. Each entry embeds the digest of the entry
before it, so altering any committed entry invalidates every digest after it.
*/
type AuditEntry struct {
	// SequenceID store-assigned position in the chain, contiguous from 1
	SequenceID uint64 `json:"sequence_id" gorm:"column:sequence_id;primaryKey;autoIncrement"`

	// ID externally-visible correlation token, independent of SequenceID
	ID string `json:"id" gorm:"column:id;not null;unique" validate:"required,uuid_rfc4122"`

	// UserID the acting user
	UserID string `json:"user_id" gorm:"column:user_id;not null" validate:"required"`

	// Username display name of the acting user
	Username string `json:"username" gorm:"column:username;not null" validate:"required"`

	// Action the security-relevant verb
	Action AuditActionENUMType `json:"action" gorm:"column:action;not null" validate:"required,audit_action"`

	// ResourceType kind of resource acted upon
	ResourceType string `json:"resource_type" gorm:"column:resource_type;not null" validate:"required"`

	// ResourceID optional resource identifier
	ResourceID string `json:"resource_id,omitempty" gorm:"column:resource_id"`

	// ResourceName optional resource display name
	ResourceName string `json:"resource_name,omitempty" gorm:"column:resource_name"`

	// Timestamp UTC entry timestamp in AuditTimestampFormat
	Timestamp string `json:"timestamp" gorm:"column:timestamp;not null" validate:"required"`

	// Metadata free-form structured payload relating to the action
	Metadata datatypes.JSON `json:"metadata,omitempty" gorm:"column:metadata;default:null"`

	// IsSuccess whether the recorded action succeeded
	IsSuccess bool `json:"is_success" gorm:"column:is_success;not null"`

	// PreviousHash CurrentHash of the entry with SequenceID - 1, or the sentinel
	PreviousHash string `json:"previous_hash" gorm:"column:previous_hash;not null" validate:"required,len=64"`

	// CurrentHash digest over every other field of this entry
	CurrentHash string `json:"current_hash" gorm:"column:current_hash;not null" validate:"required,len=64"`
}

/*
ComputeChainHash compute the chain digest of this entry.

The digest covers every field except CurrentHash and SequenceID. SequenceID
is assigned by the store at insert time, so it cannot be part of the canonical
string; chain verification checks its contiguity separately.

	@returns hex encoded SHA-256 digest
*/
func (e AuditEntry) ComputeChainHash() string {
	canonical := strings.Join([]string{
		e.PreviousHash,
		e.ID,
		e.UserID,
		e.Username,
		string(e.Action),
		e.ResourceType,
		e.ResourceID,
		e.ResourceName,
		e.Timestamp,
		string(e.Metadata),
		strconv.FormatBool(e.IsSuccess),
	}, "|")

	digest := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(digest[:])
}
