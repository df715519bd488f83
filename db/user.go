package db

import (
	"context"
	"fmt"
	"time"

	"github.com/arkive-dms/arkive/models"
	"github.com/google/uuid"
)

/*
CreateUser define a new user

	@param ctx context.Context - execution context
	@param username string - unique login name
	@param passwordHash string - bcrypt hash of the user password
	@returns the user entry
*/
func (d *databaseImpl) CreateUser(
	_ context.Context, username string, passwordHash string,
) (models.User, error) {
	newEntry := UserDBEntry{
		User: models.User{
			ID:           uuid.NewString(),
			Username:     username,
			PasswordHash: passwordHash,
		},
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.User{}, fmt.Errorf("new user '%s' is not valid [%w]", username, err)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.User{}, fmt.Errorf("new user '%s' failed insert [%w]", username, tmp.Error)
	}

	return newEntry.User, nil
}

/*
GetUser fetch a user by ID

	@param ctx context.Context - execution context
	@param userID string - user ID
	@returns the user entry
*/
func (d *databaseImpl) GetUser(_ context.Context, userID string) (models.User, error) {
	var entry UserDBEntry
	if tmp := d.db.Where("id = ?", userID).First(&entry); tmp.Error != nil {
		return models.User{}, fmt.Errorf("failed to fetch user %s [%w]", userID, tmp.Error)
	}

	return entry.User, nil
}

/*
GetUserByUsername fetch a user by login name

	@param ctx context.Context - execution context
	@param username string - login name
	@returns the user entry
*/
func (d *databaseImpl) GetUserByUsername(
	_ context.Context, username string,
) (models.User, error) {
	var entry UserDBEntry
	if tmp := d.db.Where("username = ?", username).First(&entry); tmp.Error != nil {
		return models.User{}, fmt.Errorf("failed to fetch user '%s' [%w]", username, tmp.Error)
	}

	return entry.User, nil
}

/*
MarkUserLogin update the last-login timestamp of a user

	@param ctx context.Context - execution context
	@param userID string - user ID
	@param timestamp time.Time - login timestamp
*/
func (d *databaseImpl) MarkUserLogin(
	_ context.Context, userID string, timestamp time.Time,
) error {
	tmp := d.db.
		Model(&UserDBEntry{}).
		Where("id = ?", userID).
		Update("last_login", timestamp)
	if tmp.Error != nil {
		return fmt.Errorf("failed to mark user %s login [%w]", userID, tmp.Error)
	}
	if tmp.RowsAffected == 0 {
		return fmt.Errorf("failed to mark user %s login [no such user]", userID)
	}

	return nil
}
