package db

import (
	"context"
	"fmt"

	"github.com/arkive-dms/arkive/models"
	"github.com/google/uuid"
)

/*
CreateDocument define a new document owned by a user

	@param ctx context.Context - execution context
	@param user models.User - the owning user
	@param params DocumentCreateParams - document fields
	@returns the document entry
*/
func (d *databaseImpl) CreateDocument(
	_ context.Context, user models.User, params DocumentCreateParams,
) (models.Document, error) {
	category := params.Category
	if category == "" {
		category = "General"
	}

	newEntry := DocumentDBEntry{
		Document: models.Document{
			ID:       uuid.NewString(),
			UserID:   user.ID,
			Name:     params.Name,
			FilePath: params.FilePath,
			FileType: params.FileType,
			FileSize: params.FileSize,
			Category: category,
			IsActive: true,
		},
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.Document{}, fmt.Errorf(
			"new document '%s' is not valid [%w]", params.Name, err,
		)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.Document{}, fmt.Errorf(
			"new document '%s' failed insert [%w]", params.Name, tmp.Error,
		)
	}

	return newEntry.Document, nil
}

/*
GetDocument fetch a document by ID

	@param ctx context.Context - execution context
	@param documentID string - document ID
	@returns the document entry
*/
func (d *databaseImpl) GetDocument(
	_ context.Context, documentID string,
) (models.Document, error) {
	var entry DocumentDBEntry
	if tmp := d.db.Where("id = ?", documentID).First(&entry); tmp.Error != nil {
		return models.Document{}, fmt.Errorf(
			"failed to fetch document %s [%w]", documentID, tmp.Error,
		)
	}

	return entry.Document, nil
}

/*
ListDocuments list documents

	@param ctx context.Context - execution context
	@param filters DocumentQueryFilter - entry listing filter
	@return list of documents
*/
func (d *databaseImpl) ListDocuments(
	_ context.Context, filters DocumentQueryFilter,
) ([]models.Document, error) {
	query := d.db.Model(&DocumentDBEntry{})

	if filters.TargetUserID != nil {
		query = query.Where("user_id = ?", *filters.TargetUserID)
	}
	if filters.NameContains != nil {
		query = query.Where("name LIKE ?", "%"+*filters.NameContains+"%")
	}
	if !filters.IncludeInactive {
		query = query.Where("is_active = ?", true)
	}

	if filters.Limit != nil {
		query = query.Limit(*filters.Limit)
	}
	if filters.Offset != nil {
		query = query.Offset(*filters.Offset)
	}

	query = query.Order("created_at desc")

	var entries []DocumentDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list documents [%w]", tmp.Error)
	}

	result := []models.Document{}
	for _, entry := range entries {
		result = append(result, entry.Document)
	}

	return result, nil
}

/*
DeactivateDocument soft delete a document

	@param ctx context.Context - execution context
	@param documentID string - document ID
	@param userID string - the owning user
*/
func (d *databaseImpl) DeactivateDocument(
	_ context.Context, documentID string, userID string,
) error {
	tmp := d.db.
		Model(&DocumentDBEntry{}).
		Where("id = ? AND user_id = ?", documentID, userID).
		Update("is_active", false)
	if tmp.Error != nil {
		return fmt.Errorf("failed to deactivate document %s [%w]", documentID, tmp.Error)
	}
	if tmp.RowsAffected == 0 {
		return fmt.Errorf("failed to deactivate document %s [no such document]", documentID)
	}

	return nil
}

/*
GetUserStats aggregate document statistics for one user

	@param ctx context.Context - execution context
	@param userID string - user ID
	@returns the aggregates
*/
func (d *databaseImpl) GetUserStats(_ context.Context, userID string) (models.Stats, error) {
	var stats models.Stats

	if tmp := d.db.
		Model(&DocumentDBEntry{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&stats.TotalDocuments); tmp.Error != nil {
		return models.Stats{}, fmt.Errorf("failed to count documents [%w]", tmp.Error)
	}

	if tmp := d.db.
		Model(&DocumentDBEntry{}).
		Where("user_id = ? AND is_active = ? AND date(created_at) = date('now')", userID, true).
		Count(&stats.UploadsToday); tmp.Error != nil {
		return models.Stats{}, fmt.Errorf("failed to count today's uploads [%w]", tmp.Error)
	}

	var totalSize *int64
	if tmp := d.db.
		Model(&DocumentDBEntry{}).
		Select("SUM(file_size)").
		Where("user_id = ? AND is_active = ?", userID, true).
		Scan(&totalSize); tmp.Error != nil {
		return models.Stats{}, fmt.Errorf("failed to sum document sizes [%w]", tmp.Error)
	}
	if totalSize != nil {
		stats.TotalSize = *totalSize
	}

	return stats, nil
}
