package tool

import (
	"errors"
	"fmt"
)

// Error represents a structured tool failure that preserves message and
// causal context while implementing the standard error interface, so tool
// failures chain cleanly with errors.Is/As across retries. Grounded on the
// reference runtime's toolerrors.ToolError.
type Error struct {
	Message string
	Cause   *Error
}

// NewError constructs an Error with the given message.
func NewError(message string) *Error {
	if message == "" {
		message = "tool error"
	}
	return &Error{Message: message}
}

// NewErrorWithCause constructs an Error wrapping cause.
func NewErrorWithCause(message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Message: message, Cause: fromError(cause)}
}

// Errorf formats a message and returns it as an Error.
func Errorf(format string, args ...any) *Error {
	return NewError(fmt.Sprintf(format, args...))
}

func fromError(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Message: err.Error(), Cause: fromError(errors.Unwrap(err))}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying cause, supporting errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}
