// Package apperr holds the error taxonomy shared by the session and upload flows.
package apperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// ValidationError reports rejected input. Operations returning it have no side effects.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validation builds a ValidationError.
func Validation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ValidationErrors groups several field failures, e.g. from a form.
type ValidationErrors []*ValidationError

func (es ValidationErrors) Error() string {
	switch len(es) {
	case 0:
		return "validation failed"
	case 1:
		return es[0].Error()
	default:
		return fmt.Sprintf("%s (and %d more)", es[0].Error(), len(es)-1)
	}
}

// PermissionDeniedError means the user or OS refused a device, typically the microphone.
// Notice is the user-visible text supplied by the collaborator that was refused.
type PermissionDeniedError struct {
	Notice string
}

func (e *PermissionDeniedError) Error() string {
	return "permission denied: " + e.Notice
}

// IsValidation reports whether err carries a ValidationError or ValidationErrors.
func IsValidation(err error) bool {
	var single *ValidationError
	if errors.As(err, &single) {
		return true
	}
	var many ValidationErrors
	return errors.As(err, &many)
}

// AsPermissionDenied extracts a PermissionDeniedError from err.
func AsPermissionDenied(err error) (*PermissionDeniedError, bool) {
	var denied *PermissionDeniedError
	if errors.As(err, &denied) {
		return denied, true
	}
	return nil, false
}

// Fields flattens err into field errors for API responses.
func Fields(err error) []*ValidationError {
	var many ValidationErrors
	if errors.As(err, &many) {
		return many
	}
	var single *ValidationError
	if errors.As(err, &single) {
		return []*ValidationError{single}
	}
	return nil
}
