package utils

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/upb/enforcement-gate/models"
)

var (
	// validate is the singleton validator instance
	validate *validator.Validate

	knownNativePermissions = map[models.NativePermission]struct{}{
		models.NativeAdministrator: {},
		models.NativeManageTenant:  {},
		models.NativeRemoveMember:  {},
		models.NativeBanMember:     {},
	}
)

func init() {
	validate = validator.New()

	// report json field names instead of Go field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	_ = validate.RegisterValidation("capability", func(fl validator.FieldLevel) bool {
		return models.Capability(fl.Field().String()).IsValid()
	})
	_ = validate.RegisterValidation("native_permission", func(fl validator.FieldLevel) bool {
		_, ok := knownNativePermissions[models.NativePermission(fl.Field().String())]
		return ok
	})
}

// ValidateStruct validates a struct using go-playground/validator
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return NewValidationError(validationErrors)
		}
		return err
	}
	return nil
}

// ValidationError wraps validation errors with structured details
type ValidationError struct {
	Message string
	Fields  map[string]string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a ValidationError from validator.ValidationErrors
func NewValidationError(errs validator.ValidationErrors) *ValidationError {
	fields := make(map[string]string)
	for _, err := range errs {
		field := err.Field()
		tag := err.Tag()

		switch tag {
		case "required":
			fields[field] = fmt.Sprintf("%s is required", field)
		case "uuid":
			fields[field] = fmt.Sprintf("%s must be a valid UUID", field)
		case "max":
			fields[field] = fmt.Sprintf("%s must be at most %s", field, err.Param())
		case "gte":
			fields[field] = fmt.Sprintf("%s must be greater than or equal to %s", field, err.Param())
		case "capability":
			fields[field] = fmt.Sprintf("%s is not a known capability", field)
		case "native_permission":
			fields[field] = fmt.Sprintf("%s is not a known native permission", field)
		default:
			fields[field] = fmt.Sprintf("%s validation failed on '%s' tag", field, tag)
		}
	}

	return &ValidationError{
		Message: "Validation failed",
		Fields:  fields,
	}
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// GetValidationFields extracts field errors from a ValidationError
func GetValidationFields(err error) map[string]string {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Fields
	}
	return nil
}

// ParseUUID parses a path or query identifier
func ParseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID format: %s", s)
	}
	return id, nil
}

// ValidateTier checks that t is on the configured ladder. An empty tier passes.
func ValidateTier(ladder models.TierLadder, t models.Tier, fieldName string) error {
	if t == "" || ladder.Contains(t) {
		return nil
	}
	return &ValidationError{
		Message: "Validation failed",
		Fields:  map[string]string{fieldName: fmt.Sprintf("%s must be one of: %v", fieldName, ladder)},
	}
}
