// Package db - persistence layer
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arkive-dms/arkive/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// errChainScanDone sentinel to stop the batched chain scan at the first violation
var errChainScanDone = errors.New("audit chain scan stopped")

/*
AppendAuditEntry append one entry to the hash-chained audit trail

	@param ctx context.Context - execution context
	@param params AuditEntryParams - entry fields
	@returns the committed entry
*/
func (d *databaseImpl) AppendAuditEntry(
	_ context.Context, params AuditEntryParams,
) (models.AuditEntry, error) {
	var committed AuditEntryDBEntry

	// The tail read and the insert must be one atomic unit. Running them as
	// two separate operations would let two concurrent appends observe the
	// same previous entry. A nested Transaction call degrades to a savepoint
	// when the handle is already transactional.
	txErr := d.db.Transaction(func(tx *gorm.DB) error {
		previousHash := models.AuditChainSentinel
		var tail []AuditEntryDBEntry
		if tmp := tx.Order("sequence_id desc").Limit(1).Find(&tail); tmp.Error != nil {
			return fmt.Errorf("failed to read audit chain tail [%w]", tmp.Error)
		}
		if len(tail) > 0 {
			previousHash = tail[0].CurrentHash
		}

		newEntry := AuditEntryDBEntry{
			AuditEntry: models.AuditEntry{
				ID:           uuid.NewString(),
				UserID:       params.UserID,
				Username:     params.Username,
				Action:       params.Action,
				ResourceType: params.ResourceType,
				ResourceID:   params.ResourceID,
				ResourceName: params.ResourceName,
				Timestamp:    time.Now().UTC().Format(models.AuditTimestampFormat),
				IsSuccess:    params.IsSuccess,
				PreviousHash: previousHash,
			},
		}

		if params.Metadata != nil {
			metadataStr, err := json.Marshal(&params.Metadata)
			if err != nil {
				return fmt.Errorf("audit entry metadata is not serializable [%w]", err)
			}
			newEntry.Metadata = datatypes.JSON(metadataStr)
		}

		newEntry.CurrentHash = newEntry.ComputeChainHash()

		if err := d.validator.Struct(&newEntry); err != nil {
			return fmt.Errorf("new audit entry '%s' is not valid [%w]", params.Action, err)
		}

		if tmp := tx.Create(&newEntry); tmp.Error != nil {
			return fmt.Errorf("new audit entry '%s' insert failed [%w]", params.Action, tmp.Error)
		}

		committed = newEntry
		return nil
	})
	if txErr != nil {
		return models.AuditEntry{}, &AuditWriteError{Err: txErr}
	}

	return committed.AuditEntry, nil
}

/*
VerifyAuditChain re-verify the whole audit chain

	@param ctx context.Context - execution context
	@returns verification report
*/
func (d *databaseImpl) VerifyAuditChain(_ context.Context) (AuditChainReport, error) {
	report := AuditChainReport{Valid: true}

	previousHash := models.AuditChainSentinel
	expected := uint64(1)

	var batch []AuditEntryDBEntry
	result := d.db.
		Model(&AuditEntryDBEntry{}).
		Order("sequence_id asc").
		FindInBatches(&batch, 500, func(_ *gorm.DB, _ int) error {
			for _, entry := range batch {
				if entry.SequenceID != expected {
					report.Valid = false
					report.FailedSequence = entry.SequenceID
					report.Reason = fmt.Sprintf(
						"sequence not contiguous: expected %d, found %d", expected, entry.SequenceID,
					)
					return errChainScanDone
				}
				if entry.PreviousHash != previousHash {
					report.Valid = false
					report.FailedSequence = entry.SequenceID
					report.Reason = "previous hash does not match prior entry"
					return errChainScanDone
				}
				if entry.ComputeChainHash() != entry.CurrentHash {
					report.Valid = false
					report.FailedSequence = entry.SequenceID
					report.Reason = "stored digest does not match recomputed digest"
					return errChainScanDone
				}
				previousHash = entry.CurrentHash
				expected++
				report.Entries++
			}
			return nil
		})
	if result.Error != nil && !errors.Is(result.Error, errChainScanDone) {
		return AuditChainReport{}, fmt.Errorf("audit chain scan failed [%w]", result.Error)
	}

	return report, nil
}

/*
ListAuditEntries list audit trail entries

	@param ctx context.Context - execution context
	@param filters AuditQueryFilter - entry listing filter
	@return matching entries, sequence descending unless filters.Ascending
*/
func (d *databaseImpl) ListAuditEntries(
	_ context.Context, filters AuditQueryFilter,
) ([]models.AuditEntry, error) {
	query := d.db.Model(&AuditEntryDBEntry{})

	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.ResourceType != nil {
		query = query.Where("resource_type = ?", *filters.ResourceType)
	}
	if filters.StartTime != nil {
		query = query.Where(
			"timestamp >= ?", filters.StartTime.UTC().Format(models.AuditTimestampFormat),
		)
	}
	if filters.EndTime != nil {
		query = query.Where(
			"timestamp <= ?", filters.EndTime.UTC().Format(models.AuditTimestampFormat),
		)
	}

	if filters.Limit != nil {
		query = query.Limit(*filters.Limit)
	}
	if filters.Offset != nil {
		query = query.Offset(*filters.Offset)
	}

	if filters.Ascending {
		query = query.Order("sequence_id asc")
	} else {
		query = query.Order("sequence_id desc")
	}

	var entries []AuditEntryDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list audit entries [%w]", tmp.Error)
	}

	result := []models.AuditEntry{}
	for _, entry := range entries {
		result = append(result, entry.AuditEntry)
	}

	return result, nil
}
