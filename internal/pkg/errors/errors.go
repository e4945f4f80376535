package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalid             = errors.New("invalid")
	ErrExtraction          = errors.New("extraction failed")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrIndexUnavailable    = errors.New("index unavailable")
	ErrUploadTooLarge      = errors.New("upload too large")
)

// ValidationError reports the request field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func AsValidation(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
