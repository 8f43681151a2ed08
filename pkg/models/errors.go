package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("uniqueness violation")
	ErrUnauthorized = errors.New("missing or invalid credentials")
	ErrForbidden    = errors.New("operation not permitted")
	ErrRateLimited  = errors.New("rate limit exceeded")
)

// ValidationError carries the offending field paths so the HTTP layer can
// surface them in the error envelope's details.
type ValidationError struct {
	Message string
	Fields  []FieldError
}

type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	paths := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		paths[i] = f.Path
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(paths, ", "))
}

func NewValidationError(message string, fields ...FieldError) *ValidationError {
	return &ValidationError{Message: message, Fields: fields}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// BuildError marks a failure surfaced from the build worker.
type BuildError struct {
	SiteVersionID string
	Err           error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build of version %s failed: %v", e.SiteVersionID, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
