package errors

import (
	"errors"
	"fmt"
)

var (
	// Notification errors
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrMalformedNotification = errors.New("malformed webhook notification")
	ErrDuplicateNotification = errors.New("duplicate webhook notification")
	ErrNotificationNotFound  = errors.New("notification not found")

	// Order errors
	ErrOrderNotFound          = errors.New("order not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// Payment attempt errors
	ErrAttemptNotFound     = errors.New("payment attempt not found")
	ErrAmountMismatch      = errors.New("amount does not match order total")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrDuplicateGatewayRef = errors.New("duplicate gateway reference")
	ErrExternalRefAssigned = errors.New("external reference already assigned")

	// Gateway errors
	ErrUnknownGateway     = errors.New("unknown payment gateway")
	ErrGatewayTimeout     = errors.New("gateway request timeout")
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrGatewayRejected    = errors.New("request rejected by gateway")

	// Persistence errors
	ErrLockTimeout         = errors.New("order lock acquisition timeout")
	ErrPersistenceConflict = errors.New("persistence conflict")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
