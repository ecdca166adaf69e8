/*
Package errs provides custom error types and application-level error code constants.

This file defines the CustomError struct, which implements the standard Go error interface
and includes a business code, a user-friendly message, an HTTP status code and the
silent flag used to hide the reason of authorization failures from clients.
*/
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stanislavb/roleOOC/internal/pkg/logx"
)

// CustomError is the custom error structure used throughout the application.
// It wraps the Go error interface, adding a business code and HTTP status code.
type CustomError struct {
	// Code is the business error code (see constants definition).
	Code int

	// Message is the user-friendly error description.
	Message string

	// Status is the standard HTTP status code corresponding to this error.
	Status int

	// Silent marks errors whose reason must not be disclosed to the caller.
	Silent bool

	// cause is the underlying error, kept for logs only.
	cause error
}

// Error implements the standard Go error interface. It returns a formatted
// error string containing the error code, HTTP status, and message.
func (e *CustomError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("Error Code %d (HTTP %d): %s: %v", e.Code, e.Status, e.Message, e.cause)
	}
	return fmt.Sprintf("Error Code %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *CustomError) Unwrap() error {
	return e.cause
}

// Is reports whether target is a CustomError with the same code.
func (e *CustomError) Is(target error) bool {
	var t *CustomError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// NewError constructs and returns a new *CustomError instance based on a predefined error code.
// The optional details parameter allows for formatting arguments (printf-style) to be supplied
// for the error message. If an unknown code is provided, it defaults to returning ErrUnknown.
func NewError(code int, details ...any) *CustomError {
	templateErr, ok := errorMap[code]

	if !ok {
		logx.Error(
			fmt.Errorf("attempted to create an error with an unknown code in errorMap"),
			"Unknown error code requested",
			"requested_code", code,
		)

		unknownErr := errorMap[ErrUnknown]
		return &unknownErr
	}

	customErr := templateErr

	if customErr.Status == 0 {
		customErr.Status = http.StatusOK
	}

	if strings.Contains(customErr.Message, "%") {
		if len(details) == 0 {
			details = []any{"Item"}
		}
		customErr.Message = fmt.Sprintf(customErr.Message, details...)
	} else if len(details) > 0 {
		logx.Warn(
			"Details provided for error, but message template has no formatting placeholders. Details ignored.",
			"code", code,
		)
	}

	return &customErr
}

// Wrap constructs a CustomError for code and keeps err as its cause.
func Wrap(code int, err error, details ...any) *CustomError {
	customErr := NewError(code, details...)
	customErr.cause = err
	return customErr
}

// CodeOf returns the business code carried by err, or ErrUnknown.
func CodeOf(err error) int {
	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr.Code
	}
	return ErrUnknown
}

// IsConflict reports whether err is one of the uniqueness conflict codes.
func IsConflict(err error) bool {
	_, ok := conflictCodes[CodeOf(err)]
	return ok
}

// From converts any error into a *CustomError. Errors that are not CustomErrors
// become ErrUnknown with the original error as cause.
func From(err error) *CustomError {
	if err == nil {
		return nil
	}

	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr
	}

	return Wrap(ErrUnknown, err)
}
