package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used across all layers.
var (
	ErrAuth       = errors.New("unauthenticated")
	ErrValidation = errors.New("validation error")
	ErrStore      = errors.New("store error")
	ErrFeed       = errors.New("feed error")
)

// AuthError means the session is absent, expired or could not be resolved.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unauthenticated: %s: %v", e.Reason, e.Err)
	}
	return "unauthenticated: " + e.Reason
}

func (e *AuthError) Unwrap() []error { return causes(ErrAuth, e.Err) }

// ValidationError describes a rejected user input for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// StoreError wraps a row store failure (network, auth, quota).
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return causes(ErrStore, e.Err) }

// FeedError wraps a realtime subscription failure.
type FeedError struct {
	Op  string
	Err error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed %s: %v", e.Op, e.Err)
}

func (e *FeedError) Unwrap() []error { return causes(ErrFeed, e.Err) }

func causes(sentinel, cause error) []error {
	if cause == nil {
		return []error{sentinel}
	}
	return []error{sentinel, cause}
}
