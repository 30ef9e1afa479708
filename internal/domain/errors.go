package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError rejects a request before any storage access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func Missing(field string) error {
	return ValidationError{Field: field, Reason: "is required"}
}

func Invalid(field, reason string) error {
	return ValidationError{Field: field, Reason: reason}
}

// UpstreamError wraps a failed call to the external calendar service.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("calendar %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// OrphanError reports a multi-step flow that stopped halfway: the entity
// named by Kind and ID exists while its counterpart was never written.
type OrphanError struct {
	Kind string
	ID   string
	Err  error
}

func (e *OrphanError) Error() string {
	return fmt.Sprintf("%s %s left without counterpart: %v", e.Kind, e.ID, e.Err)
}

func (e *OrphanError) Unwrap() error { return e.Err }
