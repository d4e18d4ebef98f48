// Package exitcode defines structured exit codes for honk commands.
// Scripts and supervisors branch on these codes instead of parsing
// error messages.
//
// # Exit Codes
//
//   - 0: Success (including an interrupted watch loop)
//   - 1: General error
//   - 2: Usage error
//   - 10: Prerequisite missing (no process source, unreadable /proc)
//   - 30: System error (cache, lock, PID file, stuck daemon)
//   - 50: Internal invariant violated (safety gate bypass)
//
// # Usage
//
//	return exitcode.Wrap(exitcode.ErrPrerequisite, "scanning PTYs", err)
//	code := exitcode.Code(err)  // Returns ErrGeneral for non-coded errors
package exitcode

import (
	"errors"
	"fmt"
)

// Exit codes for honk commands.
const (
	// Success indicates the command completed successfully.
	Success = 0

	ErrGeneral = 1 // General/unknown error
	ErrUsage   = 2 // Invalid arguments or usage

	// ErrPrerequisite means a required tool or kernel interface is missing.
	ErrPrerequisite = 10

	// ErrSystem covers cache writes, the daemon lock, PID files and a
	// daemon that would not stop.
	ErrSystem = 30

	// ErrInvariant means a safety invariant was about to be broken. The
	// offending action was aborted.
	ErrInvariant = 50
)

// Error wraps an error with a specific exit code.
type Error struct {
	Code    int
	Message string
	Cause   error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new coded error.
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Wrapf wraps an existing error with a code and printf-style message.
func Wrapf(code int, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Newf creates a new coded error with printf-style formatting.
func Newf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Code extracts the exit code from an error.
// Returns ErrGeneral (1) if the error doesn't have a code.
func Code(err error) int {
	if err == nil {
		return Success
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrGeneral
}

// Is checks if an error has a specific exit code.
func Is(err error, code int) bool {
	return Code(err) == code
}

// Usage returns a usage error.
func Usage(format string, args ...interface{}) *Error {
	return Newf(ErrUsage, format, args...)
}

// Name is the short label used in JSON envelopes.
func Name(code int) string {
	switch code {
	case Success:
		return "ok"
	case ErrUsage:
		return "usage"
	case ErrPrerequisite:
		return "prerequisite"
	case ErrSystem:
		return "system"
	case ErrInvariant:
		return "internal"
	default:
		return "error"
	}
}
