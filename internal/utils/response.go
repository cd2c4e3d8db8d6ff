// internal/utils/response.go
package utils

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/farmtrace-backend/internal/errs"
	"github.com/javajoker/farmtrace-backend/internal/i18n"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

func SuccessResponseWithMeta(c *gin.Context, data interface{}, meta interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

func CreatedResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

func ErrorResponse(c *gin.Context, statusCode int, code, message string, details interface{}) {
	c.JSON(statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func BadRequestResponse(c *gin.Context, message string, details interface{}) {
	lang := GetLangFromContext(c)
	if message == "" {
		message = i18n.T(lang, i18n.KeyValidationInvalid, "request")
	}
	ErrorResponse(c, http.StatusBadRequest, "BAD_REQUEST", message, details)
}

// InvalidIDResponse rejects a path parameter that is not a UUID.
func InvalidIDResponse(c *gin.Context, resource string) {
	lang := GetLangFromContext(c)
	ErrorResponse(c, http.StatusBadRequest, "BAD_REQUEST", i18n.T(lang, i18n.KeyValidationID, resource), nil)
}

func UnauthorizedResponse(c *gin.Context, key string) {
	lang := GetLangFromContext(c)
	if key == "" {
		key = i18n.KeyAuthRequired
	}
	ErrorResponse(c, http.StatusUnauthorized, "UNAUTHORIZED", i18n.T(lang, key), nil)
}

func ForbiddenResponse(c *gin.Context) {
	lang := GetLangFromContext(c)
	ErrorResponse(c, http.StatusForbidden, "FORBIDDEN", i18n.T(lang, i18n.KeyAuthForbidden), nil)
}

func TooManyRequestsResponse(c *gin.Context) {
	lang := GetLangFromContext(c)
	ErrorResponse(c, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", i18n.T(lang, i18n.KeyRateLimitExceeded), nil)
}

func ValidationErrorResponse(c *gin.Context, errors []ValidationError) {
	lang := GetLangFromContext(c)
	message := i18n.T(lang, i18n.KeyValidationInvalid, "input")
	ErrorResponse(c, http.StatusBadRequest, "VALIDATION_ERROR", message, errors)
}

var kindStatus = map[errs.Kind]int{
	errs.KindValidation:           http.StatusBadRequest,
	errs.KindNotFound:             http.StatusNotFound,
	errs.KindInvalidTransition:    http.StatusConflict,
	errs.KindDoubleSettlement:     http.StatusConflict,
	errs.KindSettlementInProgress: http.StatusConflict,
	errs.KindNoHistory:            http.StatusUnprocessableEntity,
	errs.KindInvalidRecipient:     http.StatusUnprocessableEntity,
	errs.KindLedgerUnavailable:    http.StatusServiceUnavailable,
	errs.KindGatewayUnavailable:   http.StatusServiceUnavailable,
	errs.KindLedgerRejected:       http.StatusBadGateway,
	errs.KindGatewayRejected:      http.StatusBadGateway,
	errs.KindAuthFailure:          http.StatusBadGateway,
	errs.KindInternal:             http.StatusInternalServerError,
}

// StatusForKind is the HTTP status a failure kind is reported with.
func StatusForKind(kind errs.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ServiceErrorResponse reports a service error with its kind as the code.
// Validation failures list the offending fields; internal details are logged
// and never sent.
func ServiceErrorResponse(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status := StatusForKind(kind)
	message := i18n.T(GetLangFromContext(c), i18n.ErrorKey(string(kind)))

	var details interface{}
	switch {
	case kind == errs.KindInternal:
		logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
	case kind == errs.KindValidation:
		if fields := GetValidationErrors(err); len(fields) > 0 {
			details = fields
		} else {
			details = errs.Detail(err)
		}
	default:
		details = errs.Detail(err)
	}

	ErrorResponse(c, status, strings.ToUpper(string(kind)), message, details)
}

// PartialResponse returns data that was produced alongside an error, such as
// a settled payment whose ledger anchor is still outstanding.
func PartialResponse(c *gin.Context, data interface{}, err error) {
	kind := errs.KindOf(err)
	c.JSON(StatusForKind(kind), APIResponse{
		Success: false,
		Data:    data,
		Error: &APIError{
			Code:    strings.ToUpper(string(kind)),
			Message: i18n.T(GetLangFromContext(c), i18n.ErrorKey(string(kind))),
			Details: errs.Detail(err),
		},
	})
}

func PaginatedResponse(c *gin.Context, result PaginationResult) {
	SetPaginationHeaders(c, result)
	SuccessResponseWithMeta(c, result.Data, gin.H{
		"pagination": gin.H{
			"page":        result.Page,
			"limit":       result.Limit,
			"total":       result.Total,
			"total_pages": result.TotalPages,
		},
	})
}

func GetLangFromContext(c *gin.Context) string {
	if lang, exists := c.Get("lang"); exists {
		if langStr, ok := lang.(string); ok {
			return langStr
		}
	}
	return i18n.DefaultLanguage()
}

func GetOperatorFromContext(c *gin.Context) (string, bool) {
	if operator, exists := c.Get("operator_id"); exists {
		if operatorStr, ok := operator.(string); ok {
			return operatorStr, true
		}
	}
	return "", false
}

func GetRoleFromContext(c *gin.Context) (string, bool) {
	if role, exists := c.Get("role"); exists {
		if roleStr, ok := role.(string); ok {
			return roleStr, true
		}
	}
	return "", false
}
