package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeLookupFailure           ErrorType = "lookup_failure"
	ErrorTypeInvalidContext          ErrorType = "invalid_context"
	ErrorTypeRateLimit               ErrorType = "rate_limit"
	ErrorTypeInsufficientAuthority   ErrorType = "insufficient_authority"
	ErrorTypeInsufficientEntitlement ErrorType = "insufficient_entitlement"
	ErrorTypeAuditWriteFailure       ErrorType = "audit_write_failure"
	ErrorTypeNotFound                ErrorType = "not_found"
	ErrorTypeValidation              ErrorType = "validation"
	ErrorTypeUnauthorized            ErrorType = "unauthorized"
	ErrorTypeForbidden               ErrorType = "forbidden"
	ErrorTypeConflict                ErrorType = "conflict"
	ErrorTypeInternal                ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables. These are comparison targets for errors.Is;
// build returned errors with NewDomainError so details are never shared.
var (
	ErrLookupFailure     = NewDomainError(ErrorTypeLookupFailure, "authority or entitlement lookup failed", nil)
	ErrInvalidContext    = NewDomainError(ErrorTypeInvalidContext, "actor or tenant identity missing", nil)
	ErrRateLimited       = NewDomainError(ErrorTypeRateLimit, "rate limit exceeded", nil)
	ErrInsufficientLevel = NewDomainError(ErrorTypeInsufficientAuthority, "insufficient authority", nil)
	ErrNotEntitled       = NewDomainError(ErrorTypeInsufficientEntitlement, "subscription does not cover this feature", nil)
	ErrAuditWrite        = NewDomainError(ErrorTypeAuditWriteFailure, "audit record could not be persisted", nil)

	ErrRoleNotFound        = NewDomainError(ErrorTypeNotFound, "role not found", nil)
	ErrAssignmentNotFound  = NewDomainError(ErrorTypeNotFound, "role assignment not found", nil)
	ErrAuditRecordNotFound = NewDomainError(ErrorTypeNotFound, "audit record not found", nil)

	ErrInvalidInput        = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrUnauthorized        = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken        = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)
	ErrForbidden           = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrDuplicateAssignment = NewDomainError(ErrorTypeConflict, "role already assigned", nil)
	ErrInternal            = NewDomainError(ErrorTypeInternal, "internal server error", nil)
)

func hasType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// IsLookupFailure checks if an error is a failed or timed out external lookup
func IsLookupFailure(err error) bool { return hasType(err, ErrorTypeLookupFailure) }

// IsInvalidContextError checks if an error is a missing-identity error
func IsInvalidContextError(err error) bool { return hasType(err, ErrorTypeInvalidContext) }

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool { return hasType(err, ErrorTypeRateLimit) }

// IsInsufficientAuthorityError checks if an error is an authority denial
func IsInsufficientAuthorityError(err error) bool {
	return hasType(err, ErrorTypeInsufficientAuthority)
}

// IsInsufficientEntitlementError checks if an error is an entitlement denial
func IsInsufficientEntitlementError(err error) bool {
	return hasType(err, ErrorTypeInsufficientEntitlement)
}

// IsAuditWriteFailure checks if an error is an audit sink failure
func IsAuditWriteFailure(err error) bool { return hasType(err, ErrorTypeAuditWriteFailure) }

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool { return hasType(err, ErrorTypeNotFound) }

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool { return hasType(err, ErrorTypeValidation) }

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool { return hasType(err, ErrorTypeUnauthorized) }

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool { return hasType(err, ErrorTypeForbidden) }

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool { return hasType(err, ErrorTypeConflict) }

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool { return hasType(err, ErrorTypeInternal) }

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapLookup wraps a failed repository call as a lookup failure naming its source
func WrapLookup(source string, err error) *DomainError {
	return NewDomainError(ErrorTypeLookupFailure, source+" lookup failed", err).WithDetail("source", source)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
