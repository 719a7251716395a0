// Package apperr defines the error taxonomy the loop engine wraps its own
// fatal errors in: setup failures, worker stream errors, and internal
// invariant violations. The reviewer's own transient/permanent/malformed
// failure taxonomy is a narrower, internal concern of internal/reviewer
// (reviewError.kind) and does not need a code here.
package apperr

import "fmt"

// Code classifies an error into the taxonomy the loop engine reacts to.
type Code string

const (
	CodeFatalSetup  Code = "FATAL_SETUP"
	CodeStreamError Code = "STREAM_ERROR"
	CodeInvariant   Code = "INVARIANT_VIOLATION"
)

// AppError wraps an underlying error with a taxonomy code and
// human-readable context describing which operation failed.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New builds an AppError with no underlying cause.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap builds an AppError with the given underlying cause.
func Wrap(code Code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Err: cause}
}
