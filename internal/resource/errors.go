package resource

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes errors surfaced to callers.
type ErrorCode string

const (
	// CodeValidation marks malformed, missing or forbidden input. Never retried.
	CodeValidation ErrorCode = "VALIDATION"

	// CodeNotFound marks an absent owner or record.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeCannotDeleteDefault marks a delete aimed at the current default record.
	CodeCannotDeleteDefault ErrorCode = "CANNOT_DELETE_DEFAULT"

	// CodeUnavailable marks a transient store failure that outlived the retry budget.
	CodeUnavailable ErrorCode = "UNAVAILABLE"

	// CodeConflict marks a batch that kept losing to concurrent writers.
	CodeConflict ErrorCode = "CONFLICT"

	// CodeUnauthenticated marks a request whose caller context does not match the owner.
	CodeUnauthenticated ErrorCode = "UNAUTHENTICATED"
)

// Error is the typed result returned by every wallet operation that fails.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// OwnerID identifies the affected owner, when known.
	OwnerID string

	// ID identifies the affected record, when known.
	ID string

	// Field names the offending input field (validation errors only).
	Field string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
	}
	if e.ID != "" {
		msg += fmt.Sprintf(" (id=%s)", e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsCannotDeleteDefault reports whether err rejected deletion of a default record.
func IsCannotDeleteDefault(err error) bool { return CodeOf(err) == CodeCannotDeleteDefault }

// IsUnavailable reports whether err is a transient store failure.
func IsUnavailable(err error) bool { return CodeOf(err) == CodeUnavailable }

// IsConflict reports whether err is an exhausted commit conflict.
func IsConflict(err error) bool { return CodeOf(err) == CodeConflict }

// IsUnauthenticated reports whether err rejected the caller context.
func IsUnauthenticated(err error) bool { return CodeOf(err) == CodeUnauthenticated }

// Retryable reports whether a caller may retry the failed operation as-is.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeUnavailable, CodeConflict:
		return true
	}
	return false
}

// NewValidationError creates an Error for a rejected input field.
func NewValidationError(field, message string) *Error {
	return &Error{Code: CodeValidation, Field: field, Message: message}
}

// NewNotFoundError creates an Error for an absent record.
func NewNotFoundError(ownerID, id string) *Error {
	return &Error{Code: CodeNotFound, Message: "record not found", OwnerID: ownerID, ID: id}
}

// NewNoDefaultError creates a not-found Error for a partition without a default.
func NewNoDefaultError(ownerID string, kind Kind) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("no default %s", kind), OwnerID: ownerID}
}

// NewCannotDeleteDefaultError creates an Error for a delete aimed at the default record.
func NewCannotDeleteDefaultError(ownerID, id string) *Error {
	return &Error{
		Code:    CodeCannotDeleteDefault,
		Message: "record is the current default; set another record as default first",
		OwnerID: ownerID,
		ID:      id,
	}
}

// NewUnavailableError wraps a transient failure.
func NewUnavailableError(ownerID string, err error) *Error {
	return &Error{Code: CodeUnavailable, Message: "store unavailable", OwnerID: ownerID, Err: err}
}

// NewConflictError wraps a commit conflict that survived every attempt.
func NewConflictError(ownerID string, attempts int, err error) *Error {
	return &Error{
		Code:    CodeConflict,
		Message: fmt.Sprintf("concurrent modification, gave up after %d attempts", attempts),
		OwnerID: ownerID,
		Err:     err,
	}
}

// NewUnauthenticatedError creates an Error for a caller acting outside its own partition.
func NewUnauthenticatedError(ownerID string) *Error {
	return &Error{Code: CodeUnauthenticated, Message: "caller is not authenticated as owner", OwnerID: ownerID}
}
