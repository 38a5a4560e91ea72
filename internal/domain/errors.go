package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared by the stores and orchestrators.
var (
	ErrNotFound               = errors.New("not found")
	ErrMissingDependentRecord = errors.New("missing dependent record")
	ErrStoreTimeout           = errors.New("store timeout")
	ErrStoreConflict          = errors.New("store conflict")
	ErrInvalidTransition      = errors.New("invalid lifecycle transition")
)

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInvalidState   = "INVALID_TRANSITION"
	ErrCodeConflict       = "STORE_CONFLICT"
	ErrCodeTimeout        = "STORE_TIMEOUT"
	ErrCodeRateLimit      = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalServer = "INTERNAL_SERVER_ERROR"
)

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NotFoundError names the entity that could not be resolved.
type NotFoundError struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// Unwrap lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// TransitionError is returned for a lifecycle move the state machine does not allow.
type TransitionError struct {
	MatchID string         `json:"match_id"`
	From    LifecycleState `json:"from"`
	To      LifecycleState `json:"to"`
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("match %s: cannot transition from %s to %s", e.MatchID, e.From, e.To)
}

// Unwrap lets errors.Is(err, ErrInvalidTransition) match.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// IsValidation reports whether err is a caller-side error: bad input or a forbidden transition.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrInvalidTransition)
}

// ErrorCode returns the API error code for err.
func ErrorCode(err error) string {
	var ve *ValidationError
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return ErrCodeInvalidState
	case errors.As(err, &ve):
		return ErrCodeValidation
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrStoreConflict):
		return ErrCodeConflict
	case errors.Is(err, ErrStoreTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	default:
		return ErrCodeInternalServer
	}
}
