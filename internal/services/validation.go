// internal/services/validation.go
package services

import (
	"github.com/javajoker/farmtrace-backend/internal/errs"
	"github.com/javajoker/farmtrace-backend/internal/utils"
)

// validateRequest runs the struct tags of req. The validator error stays in
// the chain so the HTTP layer can list the offending fields.
func validateRequest(op string, req interface{}) error {
	if err := utils.ValidateStruct(req); err != nil {
		return errs.Wrap(errs.KindValidation, op, err)
	}
	return nil
}
