package billing

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error classification surfaced to API
// callers. Codes never change meaning between releases.
type Code string

const (
	// CodeValidation covers malformed input: missing fields, non-positive
	// amounts, cross-patient source mixing.
	CodeValidation Code = "validation_error"
	// CodeAlreadyBilled means a source record already carries an invoice.
	CodeAlreadyBilled Code = "already_billed"
	// CodeNotFound covers missing invoices and source records. Access-scope
	// denials use it too, so a denied invoice is indistinguishable from an
	// absent one.
	CodeNotFound Code = "not_found"
	// CodeConflict means a concurrent mutation won; the caller may retry
	// after re-reading invoice state.
	CodeConflict Code = "conflict"
	// CodeConfiguration means no cost could be resolved because the default
	// fee for the invoice kind is not configured.
	CodeConfiguration Code = "configuration_error"
)

// Error is the typed failure all billing operations return.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func NewValidation(format string, args ...interface{}) *Error {
	return newError(CodeValidation, format, args...)
}

func NewAlreadyBilled(format string, args ...interface{}) *Error {
	return newError(CodeAlreadyBilled, format, args...)
}

func NewNotFound(format string, args ...interface{}) *Error {
	return newError(CodeNotFound, format, args...)
}

func NewConflict(format string, args ...interface{}) *Error {
	return newError(CodeConflict, format, args...)
}

func NewConfiguration(format string, args ...interface{}) *Error {
	return newError(CodeConfiguration, format, args...)
}

// CodeOf extracts the billing error code from err, or "" when err is not a
// billing error.
func CodeOf(err error) Code {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
