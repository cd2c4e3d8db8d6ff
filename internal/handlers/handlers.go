// internal/handlers/handlers.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/farmtrace-backend/internal/i18n"
	"github.com/javajoker/farmtrace-backend/internal/utils"
)

// pathID parses a UUID path parameter and answers 400 when it is malformed.
func pathID(c *gin.Context, param, resource string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		utils.InvalidIDResponse(c, resource)
		return uuid.Nil, false
	}
	return id, true
}

// bindJSON decodes the request body and answers 400 when it is malformed.
// Field validation is left to the services.
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		lang := utils.GetLangFromContext(c)
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return false
	}
	return true
}
