package entity

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAction is returned for action records whose action has no endpoint
var ErrUnknownAction = errors.New("unknown action")

// ValidationError means a record lacks a field required to address the
// remote entity. The record is skipped.
type ValidationError struct {
	Stream  string
	Field   string
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Stream, e.Field, e.Message)
}

// TransformationError means a request payload could not be built from a record
type TransformationError struct {
	Stream   string
	EntityID string
	Err      error
}

// Error implements the error interface
func (e *TransformationError) Error() string {
	return fmt.Sprintf("%s %s: failed to build payload: %v", e.Stream, e.EntityID, e.Err)
}

// Unwrap returns the underlying error
func (e *TransformationError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is or wraps a ValidationError
func IsValidationError(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

// IsTransformationError reports whether err is or wraps a TransformationError
func IsTransformationError(err error) bool {
	var tErr *TransformationError
	return errors.As(err, &tErr)
}

func missing(stream string, fields ...string) error {
	return &ValidationError{Stream: stream, Field: strings.Join(fields, "|"), Message: "required field is missing"}
}
