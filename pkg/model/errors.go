package model

import (
	"errors"
	"fmt"
)

// ErrorCode represents a structured admin API error code.
type ErrorCode string

const (
	ErrValidation  ErrorCode = "VALIDATION_ERROR"
	ErrNotFound    ErrorCode = "NOT_FOUND"
	ErrInternal    ErrorCode = "INTERNAL_ERROR"
	ErrUnavailable ErrorCode = "UNAVAILABLE"
)

// APIError is a structured error returned by the admin API.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError creates a VALIDATION_ERROR APIError.
func NewValidationError(msg string) *APIError {
	return &APIError{Code: ErrValidation, Message: msg}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// NewInternalError creates an INTERNAL_ERROR APIError.
func NewInternalError(msg string) *APIError {
	return &APIError{Code: ErrInternal, Message: msg}
}

// ErrOperationTimeout marks an operation that exceeded its bounded runtime.
var ErrOperationTimeout = errors.New("operation timed out")

// InvalidTransitionError is returned when a state transition is invalid.
type InvalidTransitionError struct {
	ID   string
	From OperationStatus
	To   OperationStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid operation state transition: %s → %s (operation %s)", e.From, e.To, e.ID)
}

// UnknownKindError is returned when no executor is registered for a task kind.
type UnknownKindError struct {
	Kind TaskKind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown task kind %q", e.Kind)
}

// RPCCodeFor maps an operation failure to its JSON-RPC error code.
func RPCCodeFor(err error) int {
	var unknown *UnknownKindError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrOperationTimeout):
		return CodeTimeout
	case errors.As(err, &unknown):
		return CodeUnknownKind
	default:
		return CodeTaskFailed
	}
}
