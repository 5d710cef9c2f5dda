package runner

import (
	"errors"
	"fmt"
	"strings"
)

// CommandError is the traced failure of one external command.
type CommandError struct {
	// Message is the human-readable failure description.
	Message string

	// Code is the exit code, or -1 when the process never ran.
	Code int

	// Args is the argument vector that failed.
	Args []string

	// Dir is the working directory of the failed command.
	Dir string

	// Err is the cause when the process could not be started.
	Err error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s (error code: %d)", e.Message, e.Code)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is matches another CommandError with the same exit code.
func (e *CommandError) Is(target error) bool {
	t, ok := target.(*CommandError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Command returns the failed argument vector joined by spaces.
func (e *CommandError) Command() string {
	return strings.Join(e.Args, " ")
}

// IsCommandError reports whether err is, or wraps, a CommandError.
func IsCommandError(err error) bool {
	var e *CommandError
	return errors.As(err, &e)
}

// ExitCode extracts the exit code of a traced failure. ok is false when err
// is not a CommandError.
func ExitCode(err error) (code int, ok bool) {
	var e *CommandError
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}
