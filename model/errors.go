package model

import (
	"errors"
	"fmt"
)

// Error codes shared by every client operation. Remote fault codes map
// onto these one to one; the client never substitutes its own outcome
// for the service's answer.
const (
	ErrNotFound          = "NOT_FOUND"
	ErrInvalidTransition = "INVALID_TRANSITION"
	ErrValidation        = "VALIDATION_ERROR"
	ErrMalformedQuery    = "MALFORMED_QUERY"
	ErrNotAvailable      = "NOT_AVAILABLE"
	ErrOutOfRange        = "OUT_OF_RANGE"
	ErrStaleSnapshot     = "STALE_SNAPSHOT"
	ErrTransport         = "TRANSPORT_ERROR"
)

// Error is the structured error returned by all client operations. It
// carries the taxonomy code, a human-readable message, and optional
// field-level details for validation failures. It implements the error
// interface.
type Error struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *Error {
	return &Error{Code: ErrNotFound, Message: msg}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error.
func NewInvalidTransitionError(msg string) *Error {
	return &Error{Code: ErrInvalidTransition, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(msg string, details []FieldError) *Error {
	return &Error{Code: ErrValidation, Message: msg, Details: details}
}

// NewMalformedQueryError returns a MALFORMED_QUERY error.
func NewMalformedQueryError(msg string) *Error {
	return &Error{Code: ErrMalformedQuery, Message: msg}
}

// NewNotAvailableError returns a NOT_AVAILABLE error. It marks a
// well-formed request whose answer the service cannot currently
// compute, which is an expected outcome rather than a defect.
func NewNotAvailableError(msg string) *Error {
	return &Error{Code: ErrNotAvailable, Message: msg}
}

// NewOutOfRangeError returns an OUT_OF_RANGE error.
func NewOutOfRangeError(msg string) *Error {
	return &Error{Code: ErrOutOfRange, Message: msg}
}

// NewStaleSnapshotError returns a STALE_SNAPSHOT error.
func NewStaleSnapshotError(msg string) *Error {
	return &Error{Code: ErrStaleSnapshot, Message: msg}
}

// NewTransportError returns a TRANSPORT_ERROR wrapping an opaque
// network or transport failure.
func NewTransportError(msg string) *Error {
	return &Error{Code: ErrTransport, Message: msg}
}

// CodeOf returns the taxonomy code of err, or the empty string if err
// does not carry one.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return CodeOf(err) == ErrNotFound }

// IsInvalidTransition reports whether err is an INVALID_TRANSITION error.
func IsInvalidTransition(err error) bool { return CodeOf(err) == ErrInvalidTransition }

// IsValidation reports whether err is a VALIDATION_ERROR.
func IsValidation(err error) bool { return CodeOf(err) == ErrValidation }

// IsMalformedQuery reports whether err is a MALFORMED_QUERY error.
func IsMalformedQuery(err error) bool { return CodeOf(err) == ErrMalformedQuery }

// IsNotAvailable reports whether err is a NOT_AVAILABLE error.
func IsNotAvailable(err error) bool { return CodeOf(err) == ErrNotAvailable }

// IsOutOfRange reports whether err is an OUT_OF_RANGE error.
func IsOutOfRange(err error) bool { return CodeOf(err) == ErrOutOfRange }

// IsStaleSnapshot reports whether err is a STALE_SNAPSHOT error.
func IsStaleSnapshot(err error) bool { return CodeOf(err) == ErrStaleSnapshot }

// IsTransport reports whether err is a TRANSPORT_ERROR.
func IsTransport(err error) bool { return CodeOf(err) == ErrTransport }
