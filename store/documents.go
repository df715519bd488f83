// Package store - data storage controllers
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/arkive-dms/arkive/db"
	"github.com/arkive-dms/arkive/models"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials authentication rejected; the failed attempt is
// still recorded in the audit trail
var ErrInvalidCredentials = errors.New("invalid username or password")

// DocumentStore document management store pairing every business mutation
// with its activity record and audit trail entry in a single transaction
type DocumentStore interface {
	/*
		RegisterUser create a new user account

			@param ctx context.Context - execution context
			@param username string - unique login name
			@param password string - plaintext password, stored only as a bcrypt hash
			@param activeDBClient db.Database - existing database transaction
			@returns the user entry
	*/
	RegisterUser(
		ctx context.Context, username string, password string, activeDBClient db.Database,
	) (models.User, error)

	/*
		Authenticate verify user credentials

		Both outcomes are recorded in the audit trail; a rejected attempt
		returns ErrInvalidCredentials.

			@param ctx context.Context - execution context
			@param username string - login name
			@param password string - plaintext password
			@param activeDBClient db.Database - existing database transaction
			@returns the authenticated user entry
	*/
	Authenticate(
		ctx context.Context, username string, password string, activeDBClient db.Database,
	) (models.User, error)

	/*
		UploadDocument record a new document for a user

			@param ctx context.Context - execution context
			@param user models.User - the owning user
			@param params db.DocumentCreateParams - document fields
			@param activeDBClient db.Database - existing database transaction
			@returns the document entry
	*/
	UploadDocument(
		ctx context.Context, user models.User, params db.DocumentCreateParams,
		activeDBClient db.Database,
	) (models.Document, error)

	/*
		RemoveDocument soft delete a user's document

			@param ctx context.Context - execution context
			@param user models.User - the owning user
			@param documentID string - document ID
			@param activeDBClient db.Database - existing database transaction
	*/
	RemoveDocument(
		ctx context.Context, user models.User, documentID string, activeDBClient db.Database,
	) error

	/*
		IndexDocument record searchable content for a document

		Idempotent upsert keyed by document ID; collaborator interface for
		external text extraction.

			@param ctx context.Context - execution context
			@param user models.User - the acting user
			@param documentID string - the indexed document
			@param extractedText string - text content extracted from the document
			@param documentType string - detected document type
			@param fields map[string]string - structured fields extracted from the document
			@param activeDBClient db.Database - existing database transaction
	*/
	IndexDocument(
		ctx context.Context,
		user models.User,
		documentID string,
		extractedText string,
		documentType string,
		fields map[string]string,
		activeDBClient db.Database,
	) error

	/*
		SearchDocuments find a user's documents by name or indexed content

			@param ctx context.Context - execution context
			@param user models.User - the searching user
			@param query string - search query
			@param limit int - row cap, 0 for no cap
			@param activeDBClient db.Database - existing database transaction
			@returns matching documents
	*/
	SearchDocuments(
		ctx context.Context, user models.User, query string, limit int,
		activeDBClient db.Database,
	) ([]models.Document, error)

	/*
		RecentActivities list a user's most recent activities

			@param ctx context.Context - execution context
			@param user models.User - the user
			@param limit int - row cap
			@param activeDBClient db.Database - existing database transaction
			@returns activities, newest first
	*/
	RecentActivities(
		ctx context.Context, user models.User, limit int, activeDBClient db.Database,
	) ([]models.Activity, error)

	/*
		UserStats aggregate document statistics for a user

			@param ctx context.Context - execution context
			@param user models.User - the user
			@param activeDBClient db.Database - existing database transaction
			@returns the aggregates
	*/
	UserStats(
		ctx context.Context, user models.User, activeDBClient db.Database,
	) (models.Stats, error)

	/*
		RecordAuditEvent append an audit entry on behalf of an external caller

		The caller supplies already-verified identity; the store performs no
		authentication here.

			@param ctx context.Context - execution context
			@param params db.AuditEntryParams - entry fields
			@param activeDBClient db.Database - existing database transaction
			@returns the committed entry
	*/
	RecordAuditEvent(
		ctx context.Context, params db.AuditEntryParams, activeDBClient db.Database,
	) (models.AuditEntry, error)

	/*
		VerifyAuditTrail re-verify the whole audit chain

			@param ctx context.Context - execution context
			@param activeDBClient db.Database - existing database transaction
			@returns verification report
	*/
	VerifyAuditTrail(
		ctx context.Context, activeDBClient db.Database,
	) (db.AuditChainReport, error)

	/*
		QueryAuditTrail list audit trail entries

			@param ctx context.Context - execution context
			@param filters db.AuditQueryFilter - entry listing filter
			@param activeDBClient db.Database - existing database transaction
			@returns matching entries
	*/
	QueryAuditTrail(
		ctx context.Context, filters db.AuditQueryFilter, activeDBClient db.Database,
	) ([]models.AuditEntry, error)
}

// documentStore implements DocumentStore
type documentStore struct {
	goutils.Component

	persistence db.Client
}

/*
NewDocumentStore define new document store

	@param ctx context.Context - execution context
	@param persistence db.Client - persistence layer client
	@returns store instance
*/
func NewDocumentStore(_ context.Context, persistence db.Client) (DocumentStore, error) {
	logTags := log.Fields{"module": "store", "component": "document-store"}

	instance := &documentStore{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: persistence,
	}

	return instance, nil
}

/*
RegisterUser create a new user account

	@param ctx context.Context - execution context
	@param username string - unique login name
	@param password string - plaintext password, stored only as a bcrypt hash
	@param activeDBClient db.Database - existing database transaction
	@returns the user entry
*/
func (s *documentStore) RegisterUser(
	ctx context.Context, username string, password string, activeDBClient db.Database,
) (models.User, error) {
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password [%w]", err)
	}

	var userEntry models.User
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error

			userEntry, err = dbClient.CreateUser(dbCtx, username, string(passwordHash))
			if err != nil {
				return fmt.Errorf("failed to create user [%w]", err)
			}

			_, err = dbClient.AppendAuditEntry(dbCtx, db.AuditEntryParams{
				UserID:       userEntry.ID,
				Username:     userEntry.Username,
				Action:       models.AuditActionRegister,
				ResourceType: "user",
				ResourceID:   userEntry.ID,
				ResourceName: userEntry.Username,
				IsSuccess:    true,
			})
			if err != nil {
				return fmt.Errorf("failed to record registration audit entry [%w]", err)
			}

			return nil
		},
	); dbErr != nil {
		return models.User{}, fmt.Errorf("failed to register user '%s' [%w]", username, dbErr)
	}

	return userEntry, nil
}

/*
Authenticate verify user credentials

	@param ctx context.Context - execution context
	@param username string - login name
	@param password string - plaintext password
	@param activeDBClient db.Database - existing database transaction
	@returns the authenticated user entry
*/
func (s *documentStore) Authenticate(
	ctx context.Context, username string, password string, activeDBClient db.Database,
) (models.User, error) {
	logTags := s.GetLogTagsForContext(ctx)

	var userEntry models.User
	rejected := false

	// A failed attempt must still commit its audit entry, so credential
	// rejection is signaled outside the transaction callback.
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			recordOutcome := func(userID string, success bool) error {
				_, err := dbClient.AppendAuditEntry(dbCtx, db.AuditEntryParams{
					UserID:       userID,
					Username:     username,
					Action:       models.AuditActionLogin,
					ResourceType: "user",
					ResourceName: username,
					IsSuccess:    success,
				})
				return err
			}
			recordFailure := func(userID string) error {
				_, err := dbClient.AppendAuditEntry(dbCtx, db.AuditEntryParams{
					UserID:       userID,
					Username:     username,
					Action:       models.AuditActionLoginFailed,
					ResourceType: "user",
					ResourceName: username,
					IsSuccess:    false,
				})
				return err
			}

			found, err := dbClient.GetUserByUsername(dbCtx, username)
			if err != nil {
				log.WithError(err).WithFields(logTags).Debug("Login attempt for unknown user")
				rejected = true
				return recordFailure(username)
			}

			if bcrypt.CompareHashAndPassword(
				[]byte(found.PasswordHash), []byte(password),
			) != nil {
				rejected = true
				return recordFailure(found.ID)
			}

			if err := dbClient.MarkUserLogin(dbCtx, found.ID, time.Now().UTC()); err != nil {
				return fmt.Errorf("failed to update last login [%w]", err)
			}

			userEntry = found
			return recordOutcome(found.ID, true)
		},
	); dbErr != nil {
		return models.User{}, fmt.Errorf("failed to authenticate user '%s' [%w]", username, dbErr)
	}

	if rejected {
		return models.User{}, ErrInvalidCredentials
	}

	return userEntry, nil
}

/*
UploadDocument record a new document for a user

	@param ctx context.Context - execution context
	@param user models.User - the owning user
	@param params db.DocumentCreateParams - document fields
	@param activeDBClient db.Database - existing database transaction
	@returns the document entry
*/
func (s *documentStore) UploadDocument(
	ctx context.Context, user models.User, params db.DocumentCreateParams,
	activeDBClient db.Database,
) (models.Document, error) {
	var documentEntry models.Document

	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error

			documentEntry, err = dbClient.CreateDocument(dbCtx, user, params)
			if err != nil {
				return fmt.Errorf("failed to create document record [%w]", err)
			}

			if _, err = dbClient.RecordActivity(
				dbCtx, user, "Upload", documentEntry.Name,
			); err != nil {
				return fmt.Errorf("failed to record upload activity [%w]", err)
			}

			_, err = dbClient.AppendAuditEntry(dbCtx, db.AuditEntryParams{
				UserID:       user.ID,
				Username:     user.Username,
				Action:       models.AuditActionUpload,
				ResourceType: "document",
				ResourceID:   documentEntry.ID,
				ResourceName: documentEntry.Name,
				Metadata: map[string]interface{}{
					"file_size": documentEntry.FileSize,
					"file_type": documentEntry.FileType,
				},
				IsSuccess: true,
			})
			if err != nil {
				return fmt.Errorf("failed to record upload audit entry [%w]", err)
			}

			return nil
		},
	); dbErr != nil {
		return models.Document{}, fmt.Errorf(
			"failed to upload document '%s' [%w]", params.Name, dbErr,
		)
	}

	return documentEntry, nil
}

/*
RemoveDocument soft delete a user's document

	@param ctx context.Context - execution context
	@param user models.User - the owning user
	@param documentID string - document ID
	@param activeDBClient db.Database - existing database transaction
*/
func (s *documentStore) RemoveDocument(
	ctx context.Context, user models.User, documentID string, activeDBClient db.Database,
) error {
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			documentEntry, err := dbClient.GetDocument(dbCtx, documentID)
			if err != nil {
				return fmt.Errorf("failed to fetch document [%w]", err)
			}

			if err := dbClient.DeactivateDocument(dbCtx, documentID, user.ID); err != nil {
				return fmt.Errorf("failed to deactivate document [%w]", err)
			}

			if _, err := dbClient.RecordActivity(
				dbCtx, user, "Delete", documentEntry.Name,
			); err != nil {
				return fmt.Errorf("failed to record delete activity [%w]", err)
			}

			_, err = dbClient.AppendAuditEntry(dbCtx, db.AuditEntryParams{
				UserID:       user.ID,
				Username:     user.Username,
				Action:       models.AuditActionDelete,
				ResourceType: "document",
				ResourceID:   documentEntry.ID,
				ResourceName: documentEntry.Name,
				IsSuccess:    true,
			})
			if err != nil {
				return fmt.Errorf("failed to record delete audit entry [%w]", err)
			}

			return nil
		},
	); dbErr != nil {
		return fmt.Errorf("failed to remove document %s [%w]", documentID, dbErr)
	}

	return nil
}

/*
IndexDocument record searchable content for a document

	@param ctx context.Context - execution context
	@param user models.User - the acting user
	@param documentID string - the indexed document
	@param extractedText string - text content extracted from the document
	@param documentType string - detected document type
	@param fields map[string]string - structured fields extracted from the document
	@param activeDBClient db.Database - existing database transaction
*/
func (s *documentStore) IndexDocument(
	ctx context.Context,
	user models.User,
	documentID string,
	extractedText string,
	documentType string,
	fields map[string]string,
	activeDBClient db.Database,
) error {
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			if err := dbClient.IndexDocumentContent(
				dbCtx, documentID, extractedText, documentType, fields,
			); err != nil {
				return fmt.Errorf("failed to index document content [%w]", err)
			}

			_, err := dbClient.AppendAuditEntry(dbCtx, db.AuditEntryParams{
				UserID:       user.ID,
				Username:     user.Username,
				Action:       models.AuditActionIndex,
				ResourceType: "document",
				ResourceID:   documentID,
				Metadata: map[string]interface{}{
					"document_type": documentType,
					"text_length":   len(extractedText),
				},
				IsSuccess: true,
			})
			if err != nil {
				return fmt.Errorf("failed to record index audit entry [%w]", err)
			}

			return nil
		},
	); dbErr != nil {
		return fmt.Errorf("failed to index document %s [%w]", documentID, dbErr)
	}

	return nil
}

/*
SearchDocuments find a user's documents by name or indexed content

	@param ctx context.Context - execution context
	@param user models.User - the searching user
	@param query string - search query
	@param limit int - row cap, 0 for no cap
	@param activeDBClient db.Database - existing database transaction
	@returns matching documents
*/
func (s *documentStore) SearchDocuments(
	ctx context.Context, user models.User, query string, limit int,
	activeDBClient db.Database,
) ([]models.Document, error) {
	var results []models.Document

	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			filters := db.DocumentQueryFilter{TargetUserID: &user.ID, NameContains: &query}
			if limit > 0 {
				filters.Limit = &limit
			}
			byName, err := dbClient.ListDocuments(dbCtx, filters)
			if err != nil {
				return fmt.Errorf("failed to search documents by name [%w]", err)
			}

			contentIDs, err := dbClient.SearchDocumentContent(dbCtx, query, limit)
			if err != nil {
				return fmt.Errorf("failed to search document content [%w]", err)
			}

			seen := map[string]bool{}
			results = []models.Document{}
			for _, entry := range byName {
				seen[entry.ID] = true
				results = append(results, entry)
			}
			for _, documentID := range contentIDs {
				if seen[documentID] {
					continue
				}
				entry, err := dbClient.GetDocument(dbCtx, documentID)
				if err != nil {
					return fmt.Errorf("failed to fetch matched document [%w]", err)
				}
				// Content matches are scoped to the searching user
				if entry.UserID != user.ID || !entry.IsActive {
					continue
				}
				seen[documentID] = true
				results = append(results, entry)
			}

			_, err = dbClient.AppendAuditEntry(dbCtx, db.AuditEntryParams{
				UserID:       user.ID,
				Username:     user.Username,
				Action:       models.AuditActionSearch,
				ResourceType: "document",
				Metadata: map[string]interface{}{
					"query":   query,
					"matches": len(results),
				},
				IsSuccess: true,
			})
			if err != nil {
				return fmt.Errorf("failed to record search audit entry [%w]", err)
			}

			return nil
		},
	); dbErr != nil {
		return nil, fmt.Errorf("failed to search documents [%w]", dbErr)
	}

	return results, nil
}

/*
RecentActivities list a user's most recent activities

	@param ctx context.Context - execution context
	@param user models.User - the user
	@param limit int - row cap
	@param activeDBClient db.Database - existing database transaction
	@returns activities, newest first
*/
func (s *documentStore) RecentActivities(
	ctx context.Context, user models.User, limit int, activeDBClient db.Database,
) ([]models.Activity, error) {
	var activities []models.Activity

	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			filters := db.ActivityQueryFilter{TargetUserID: &user.ID}
			if limit > 0 {
				filters.Limit = &limit
			}

			var err error
			activities, err = dbClient.ListActivities(dbCtx, filters)
			return err
		},
	); dbErr != nil {
		return nil, fmt.Errorf("failed to list recent activities [%w]", dbErr)
	}

	return activities, nil
}

/*
UserStats aggregate document statistics for a user

	@param ctx context.Context - execution context
	@param user models.User - the user
	@param activeDBClient db.Database - existing database transaction
	@returns the aggregates
*/
func (s *documentStore) UserStats(
	ctx context.Context, user models.User, activeDBClient db.Database,
) (models.Stats, error) {
	var stats models.Stats

	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			stats, err = dbClient.GetUserStats(dbCtx, user.ID)
			return err
		},
	); dbErr != nil {
		return models.Stats{}, fmt.Errorf("failed to fetch user stats [%w]", dbErr)
	}

	return stats, nil
}

/*
RecordAuditEvent append an audit entry on behalf of an external caller

	@param ctx context.Context - execution context
	@param params db.AuditEntryParams - entry fields
	@param activeDBClient db.Database - existing database transaction
	@returns the committed entry
*/
func (s *documentStore) RecordAuditEvent(
	ctx context.Context, params db.AuditEntryParams, activeDBClient db.Database,
) (models.AuditEntry, error) {
	var entry models.AuditEntry

	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			entry, err = dbClient.AppendAuditEntry(dbCtx, params)
			return err
		},
	); dbErr != nil {
		return models.AuditEntry{}, fmt.Errorf("failed to record audit event [%w]", dbErr)
	}

	return entry, nil
}

/*
VerifyAuditTrail re-verify the whole audit chain

	@param ctx context.Context - execution context
	@param activeDBClient db.Database - existing database transaction
	@returns verification report
*/
func (s *documentStore) VerifyAuditTrail(
	ctx context.Context, activeDBClient db.Database,
) (db.AuditChainReport, error) {
	var report db.AuditChainReport

	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			report, err = dbClient.VerifyAuditChain(dbCtx)
			return err
		},
	); dbErr != nil {
		return db.AuditChainReport{}, fmt.Errorf("failed to verify audit trail [%w]", dbErr)
	}

	return report, nil
}

/*
QueryAuditTrail list audit trail entries

	@param ctx context.Context - execution context
	@param filters db.AuditQueryFilter - entry listing filter
	@param activeDBClient db.Database - existing database transaction
	@returns matching entries
*/
func (s *documentStore) QueryAuditTrail(
	ctx context.Context, filters db.AuditQueryFilter, activeDBClient db.Database,
) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry

	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			entries, err = dbClient.ListAuditEntries(dbCtx, filters)
			return err
		},
	); dbErr != nil {
		return nil, fmt.Errorf("failed to query audit trail [%w]", dbErr)
	}

	return entries, nil
}
