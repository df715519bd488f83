package db

import (
	"context"
	"fmt"

	"github.com/arkive-dms/arkive/models"
	"github.com/oklog/ulid/v2"
)

/*
RecordActivity record a user-visible action against a document

	@param ctx context.Context - execution context
	@param user models.User - the acting user
	@param action string - what the user did
	@param documentName string - the document acted upon
	@returns the activity entry
*/
func (d *databaseImpl) RecordActivity(
	_ context.Context, user models.User, action string, documentName string,
) (models.Activity, error) {
	newEntry := ActivityDBEntry{
		Activity: models.Activity{
			ID:           ulid.Make().String(),
			UserID:       user.ID,
			Action:       action,
			DocumentName: documentName,
			Username:     user.Username,
		},
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.Activity{}, fmt.Errorf("new activity '%s' is not valid [%w]", action, err)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.Activity{}, fmt.Errorf("new activity '%s' failed insert [%w]", action, tmp.Error)
	}

	return newEntry.Activity, nil
}

/*
ListActivities list recorded activities

	@param ctx context.Context - execution context
	@param filters ActivityQueryFilter - entry listing filter
	@return list of activities, newest first
*/
func (d *databaseImpl) ListActivities(
	_ context.Context, filters ActivityQueryFilter,
) ([]models.Activity, error) {
	query := d.db.Model(&ActivityDBEntry{})

	if filters.TargetUserID != nil {
		query = query.Where("user_id = ?", *filters.TargetUserID)
	}

	if filters.Limit != nil {
		query = query.Limit(*filters.Limit)
	}
	if filters.Offset != nil {
		query = query.Offset(*filters.Offset)
	}

	query = query.Order("created_at desc")

	var entries []ActivityDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list activities [%w]", tmp.Error)
	}

	result := []models.Activity{}
	for _, entry := range entries {
		result = append(result, entry.Activity)
	}

	return result, nil
}
