package models

import (
	"reflect"

	"github.com/go-playground/validator/v10"
)

/*
RegisterWithValidator register with the validator this custom validation support

	@param v *validator.Validate - the validator to register against
	@return whether successful
*/
func RegisterWithValidator(v *validator.Validate) error {
	return v.RegisterValidation("audit_action", validateAuditActionType)
}

func validateAuditActionType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch AuditActionENUMType(fl.Field().String()) {
	case AuditActionLogin:
		fallthrough
	case AuditActionLoginFailed:
		fallthrough
	case AuditActionLogout:
		fallthrough
	case AuditActionRegister:
		fallthrough
	case AuditActionUpload:
		fallthrough
	case AuditActionDownload:
		fallthrough
	case AuditActionDelete:
		fallthrough
	case AuditActionSearch:
		fallthrough
	case AuditActionIndex:
		fallthrough
	case AuditActionDocumentCreate:
		fallthrough
	case AuditActionBackupCreate:
		fallthrough
	case AuditActionBackupRestore:
		return true
	}
	return false
}
