// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Common
	KeySuccess = "success"
	KeyError   = "error"

	// Authentication
	KeyAuthRequired     = "auth.required"
	KeyAuthInvalidToken = "auth.invalid_token"
	KeyAuthTokenExpired = "auth.token_expired"
	KeyAuthForbidden    = "auth.forbidden"

	// Validation
	KeyValidationInvalid = "validation.invalid"
	KeyValidationID      = "validation.invalid_id"

	// Rate limiting
	KeyRateLimitExceeded = "rate_limit.exceeded"

	// Produce
	KeyProduceRegistered = "produce.registered"
	KeyProduceExpired    = "produce.expired"
	KeyTrackingRecorded  = "produce.tracking_recorded"
	KeySaleRecorded      = "produce.sale_recorded"

	// Settlement
	KeySettlementCompleted = "settlement.completed"
	KeySettlementFailed    = "settlement.failed"

	// Verification
	KeyVerificationAuthentic   = "verification.authentic"
	KeyVerificationSuspicious  = "verification.suspicious"
	KeyVerificationCounterfeit = "verification.counterfeit"
)

// ErrorKey returns the message key of an error kind.
func ErrorKey(kind string) string {
	return "errors." + kind
}
