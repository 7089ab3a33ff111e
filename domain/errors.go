package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a resource is absent or owned by someone else.
// The two causes are deliberately indistinguishable.
var ErrNotFound = errors.New("not found")

var (
	ErrBoardNotFound = fmt.Errorf("board %w", ErrNotFound)
	ErrTodoNotFound  = fmt.Errorf("todo %w", ErrNotFound)
)

// ErrConcurrencyConflict indicates that the underlying storage rejected a
// conditional write because the entity changed since it was read.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// FieldError describes a single rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports malformed or out-of-range input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
