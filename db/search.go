package db

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm/clause"
)

/*
IndexDocumentContent upsert searchable content for a document

	@param ctx context.Context - execution context
	@param documentID string - the indexed document
	@param extractedText string - text content extracted from the document
	@param documentType string - detected document type
	@param fields map[string]string - structured fields extracted from the document
*/
func (d *databaseImpl) IndexDocumentContent(
	_ context.Context,
	documentID string,
	extractedText string,
	documentType string,
	fields map[string]string,
) error {
	newEntry := DocumentIndexDBEntry{
		DocumentID:    documentID,
		ExtractedText: extractedText,
		DocumentType:  documentType,
	}

	if fields != nil {
		fieldsStr, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("document %s index fields not serializable [%w]", documentID, err)
		}
		newEntry.Fields = datatypes.JSON(fieldsStr)
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return fmt.Errorf("document %s index entry is not valid [%w]", documentID, err)
	}

	// Idempotent upsert keyed by document ID
	tmp := d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}},
		UpdateAll: true,
	}).Create(&newEntry)
	if tmp.Error != nil {
		return fmt.Errorf("document %s index upsert failed [%w]", documentID, tmp.Error)
	}

	return nil
}

/*
SearchDocumentContent find documents whose indexed content matches a query

	@param ctx context.Context - execution context
	@param query string - substring to match against extracted text
	@param limit int - row cap, 0 for no cap
	@return IDs of matching documents
*/
func (d *databaseImpl) SearchDocumentContent(
	_ context.Context, query string, limit int,
) ([]string, error) {
	sqlQuery := d.db.
		Model(&DocumentIndexDBEntry{}).
		Select("document_id").
		Where("extracted_text LIKE ?", "%"+query+"%").
		Order("updated_at desc")

	if limit > 0 {
		sqlQuery = sqlQuery.Limit(limit)
	}

	var documentIDs []string
	if tmp := sqlQuery.Find(&documentIDs); tmp.Error != nil {
		return nil, fmt.Errorf("failed to search document content [%w]", tmp.Error)
	}

	return documentIDs, nil
}
