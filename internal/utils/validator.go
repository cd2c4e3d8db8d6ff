// internal/utils/validator.go
package utils

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/javajoker/farmtrace-backend/internal/models"
)

var validate *validator.Validate

var gpsPattern = regexp.MustCompile(`^-?\d{1,2}(\.\d+)?,\s*-?\d{1,3}(\.\d+)?$`)

func init() {
	validate = validator.New()
	validate.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
	validate.RegisterValidation("quality_grade", validateQualityGrade)
	validate.RegisterValidation("location_type", validateLocationType)
	validate.RegisterValidation("gps", validateGPS)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// decimalValue lets numeric tags such as gt=0 apply to decimal fields.
func decimalValue(field reflect.Value) interface{} {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return nil
}

func validateQualityGrade(fl validator.FieldLevel) bool {
	switch models.QualityGrade(fl.Field().String()) {
	case models.QualityGradeA, models.QualityGradeB, models.QualityGradeC:
		return true
	}
	return false
}

func validateLocationType(fl validator.FieldLevel) bool {
	return models.LocationType(fl.Field().String()).Valid()
}

func validateGPS(fl validator.FieldLevel) bool {
	return gpsPattern.MatchString(fl.Field().String())
}

// Validation tags for common fields
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   strings.ToLower(e.Field()),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_without":
		return e.Field() + " is required"
	case "min":
		return e.Field() + " must be at least " + e.Param()
	case "max":
		return e.Field() + " must be at most " + e.Param()
	case "gt":
		return e.Field() + " must be greater than " + e.Param()
	case "oneof":
		return e.Field() + " must be one of: " + e.Param()
	case "quality_grade":
		return "Quality grade must be A, B or C"
	case "location_type":
		return "Location type must be one of farm, collection_center, warehouse, transport, market, retailer, consumer"
	case "gps":
		return "GPS coordinates must be \"latitude,longitude\""
	default:
		return e.Field() + " is invalid"
	}
}
