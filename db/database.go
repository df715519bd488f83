package db

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/arkive-dms/arkive/models"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// CommonListEntryQueryFilter common query filter when listing data entries
type CommonListEntryQueryFilter struct {
	Limit  *int
	Offset *int
}

// AuditQueryFilter audit trail query filter conditions
type AuditQueryFilter struct {
	CommonListEntryQueryFilter
	// UserID filter for entries by this actor
	UserID *string
	// Action filter for entries with this action
	Action *models.AuditActionENUMType
	// ResourceType filter for entries touching this resource type
	ResourceType *string
	// StartTime inclusive lower bound on entry timestamp
	StartTime *time.Time
	// EndTime inclusive upper bound on entry timestamp
	EndTime *time.Time
	// Ascending order by sequence_id ascending instead of the default descending
	Ascending bool
}

// DocumentQueryFilter document query filter conditions
type DocumentQueryFilter struct {
	CommonListEntryQueryFilter
	// TargetUserID fetch only documents owned by this user
	TargetUserID *string
	// NameContains substring match on the document name
	NameContains *string
	// IncludeInactive also return soft-deleted documents
	IncludeInactive bool
}

// ActivityQueryFilter activity query filter conditions
type ActivityQueryFilter struct {
	CommonListEntryQueryFilter
	// TargetUserID fetch only activities of this user
	TargetUserID *string
}

// AuditEntryParams caller-supplied fields of a new audit entry
type AuditEntryParams struct {
	// UserID the acting user
	UserID string
	// Username display name of the acting user
	Username string
	// Action the security-relevant verb
	Action models.AuditActionENUMType
	// ResourceType kind of resource acted upon
	ResourceType string
	// ResourceID optional resource identifier
	ResourceID string
	// ResourceName optional resource display name
	ResourceName string
	// Metadata optional structured payload; marshaled to JSON as given
	Metadata interface{}
	// IsSuccess whether the recorded action succeeded
	IsSuccess bool
}

// AuditChainReport outcome of a full audit chain verification
type AuditChainReport struct {
	// Valid whether every entry passed
	Valid bool
	// Entries number of entries scanned
	Entries uint64
	// FailedSequence sequence ID of the first violating entry, 0 when valid
	FailedSequence uint64
	// Reason human-readable description of the first violation
	Reason string
}

// DocumentCreateParams caller-supplied fields of a new document
type DocumentCreateParams struct {
	// Name document display name
	Name string
	// FilePath location of the document content on disk
	FilePath string
	// FileType file extension of the document
	FileType string
	// FileSize content size in bytes
	FileSize int64
	// Category user assigned category; defaults to "General"
	Category string
}

// Database the database handle for interacting with the database
type Database interface {
	// ------------------------------------------------------------------------------------
	// Users

	/*
		CreateUser define a new user

			@param ctx context.Context - execution context
			@param username string - unique login name
			@param passwordHash string - bcrypt hash of the user password
			@returns the user entry
	*/
	CreateUser(ctx context.Context, username string, passwordHash string) (models.User, error)

	/*
		GetUser fetch a user by ID

			@param ctx context.Context - execution context
			@param userID string - user ID
			@returns the user entry
	*/
	GetUser(ctx context.Context, userID string) (models.User, error)

	/*
		GetUserByUsername fetch a user by login name

			@param ctx context.Context - execution context
			@param username string - login name
			@returns the user entry
	*/
	GetUserByUsername(ctx context.Context, username string) (models.User, error)

	/*
		MarkUserLogin update the last-login timestamp of a user

			@param ctx context.Context - execution context
			@param userID string - user ID
			@param timestamp time.Time - login timestamp
	*/
	MarkUserLogin(ctx context.Context, userID string, timestamp time.Time) error

	// ------------------------------------------------------------------------------------
	// Documents

	/*
		CreateDocument define a new document owned by a user

			@param ctx context.Context - execution context
			@param user models.User - the owning user
			@param params DocumentCreateParams - document fields
			@returns the document entry
	*/
	CreateDocument(
		ctx context.Context, user models.User, params DocumentCreateParams,
	) (models.Document, error)

	/*
		GetDocument fetch a document by ID

			@param ctx context.Context - execution context
			@param documentID string - document ID
			@returns the document entry
	*/
	GetDocument(ctx context.Context, documentID string) (models.Document, error)

	/*
		ListDocuments list documents

			@param ctx context.Context - execution context
			@param filters DocumentQueryFilter - entry listing filter
			@return list of documents
	*/
	ListDocuments(ctx context.Context, filters DocumentQueryFilter) ([]models.Document, error)

	/*
		DeactivateDocument soft delete a document

		The row stays in place with is_active cleared; document content on
		disk is untouched.

			@param ctx context.Context - execution context
			@param documentID string - document ID
			@param userID string - the owning user
	*/
	DeactivateDocument(ctx context.Context, documentID string, userID string) error

	/*
		GetUserStats aggregate document statistics for one user

			@param ctx context.Context - execution context
			@param userID string - user ID
			@returns the aggregates
	*/
	GetUserStats(ctx context.Context, userID string) (models.Stats, error)

	// ------------------------------------------------------------------------------------
	// Activities

	/*
		RecordActivity record a user-visible action against a document

			@param ctx context.Context - execution context
			@param user models.User - the acting user
			@param action string - what the user did
			@param documentName string - the document acted upon
			@returns the activity entry
	*/
	RecordActivity(
		ctx context.Context, user models.User, action string, documentName string,
	) (models.Activity, error)

	/*
		ListActivities list recorded activities

			@param ctx context.Context - execution context
			@param filters ActivityQueryFilter - entry listing filter
			@return list of activities, newest first
	*/
	ListActivities(ctx context.Context, filters ActivityQueryFilter) ([]models.Activity, error)

	// ------------------------------------------------------------------------------------
	// Audit trail

	/*
		AppendAuditEntry append one entry to the hash-chained audit trail

		The read of the previous entry hash and the insert of the new row
		run as one atomic unit; two concurrent appends can never observe
		the same previous entry.

			@param ctx context.Context - execution context
			@param params AuditEntryParams - entry fields
			@returns the committed entry
	*/
	AppendAuditEntry(ctx context.Context, params AuditEntryParams) (models.AuditEntry, error)

	/*
		VerifyAuditChain re-verify the whole audit chain

		Checks sequence contiguity from 1, previous-hash linkage, and digest
		recomputation for every entry. Stops at the first violation.

			@param ctx context.Context - execution context
			@returns verification report
	*/
	VerifyAuditChain(ctx context.Context) (AuditChainReport, error)

	/*
		ListAuditEntries list audit trail entries

			@param ctx context.Context - execution context
			@param filters AuditQueryFilter - entry listing filter
			@return matching entries, sequence descending unless filters.Ascending
	*/
	ListAuditEntries(ctx context.Context, filters AuditQueryFilter) ([]models.AuditEntry, error)

	// ------------------------------------------------------------------------------------
	// Document search content

	/*
		IndexDocumentContent upsert searchable content for a document

		Idempotent; keyed by document ID.

			@param ctx context.Context - execution context
			@param documentID string - the indexed document
			@param extractedText string - text content extracted from the document
			@param documentType string - detected document type
			@param fields map[string]string - structured fields extracted from the document
	*/
	IndexDocumentContent(
		ctx context.Context,
		documentID string,
		extractedText string,
		documentType string,
		fields map[string]string,
	) error

	/*
		SearchDocumentContent find documents whose indexed content matches a query

			@param ctx context.Context - execution context
			@param query string - substring to match against extracted text
			@param limit int - row cap, 0 for no cap
			@return IDs of matching documents
	*/
	SearchDocumentContent(ctx context.Context, query string, limit int) ([]string, error)
}

// databaseImpl implements Database
type databaseImpl struct {
	goutils.Component
	db        *gorm.DB
	validator *validator.Validate
}

// newDatabase define a new database client
func newDatabase(_ context.Context, sqlClient *gorm.DB) (Database, error) {
	logTags := log.Fields{"package": "arkive", "module": "db", "component": "db-client"}

	instance := &databaseImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		db:        sqlClient,
		validator: validator.New(),
	}

	if err := models.RegisterWithValidator(instance.validator); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}

	return instance, nil
}
