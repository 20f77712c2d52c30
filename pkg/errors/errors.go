package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	Retryable bool   `json:"retryable,omitempty"`
	Err       error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors by code so cloned errors still compare equal to their base.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound   = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden  = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrValidation = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal   = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// Renewal workflow error kinds. Only ErrStoreUnavailable is retryable.
var (
	ErrIneligibleEnrollment   = New("INELIGIBLE_ENROLLMENT", http.StatusUnprocessableEntity, "enrollment is not a renewal candidate")
	ErrDuplicateOpenRequest   = New("DUPLICATE_OPEN_REQUEST", http.StatusConflict, "an open renewal request already exists for this enrollment")
	ErrStepOutOfOrder         = New("STEP_OUT_OF_ORDER", http.StatusConflict, "a previous workflow step is still waiting")
	ErrRoleMismatch           = New("ROLE_MISMATCH", http.StatusForbidden, "actor role does not match the step's required role")
	ErrStepAlreadyDecided     = New("STEP_ALREADY_DECIDED", http.StatusConflict, "workflow step already decided")
	ErrRequestAlreadyTerminal = New("REQUEST_ALREADY_TERMINAL", http.StatusConflict, "renewal request is already closed")
	ErrNotYetApproved         = New("NOT_YET_APPROVED", http.StatusPreconditionFailed, "renewal request is not fully approved")
	ErrStoreUnavailable       = &Error{Code: "STORE_UNAVAILABLE", Status: http.StatusServiceUnavailable, Message: "workflow store unavailable", Retryable: true}
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WrapKind attaches a cause to a copy of a predefined error kind.
func WrapKind(kind *Error, err error, message string) *Error {
	wrapped := Clone(kind, message)
	if wrapped != nil {
		wrapped.Err = err
	}
	return wrapped
}

// IsRetryable reports whether the caller may safely retry the operation.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
