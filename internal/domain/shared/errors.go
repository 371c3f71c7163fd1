// Package shared contains common domain types and errors used across all
// domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation   = errors.New("validation error")
	ErrInvalidInput = errors.New("invalid input")
	ErrEmptyValue   = errors.New("value cannot be empty")

	// LRS boundary errors
	ErrLRSTransport           = errors.New("lrs transport failure")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrInvalidScoreRange      = errors.New("invalid score range")

	// ErrNotApplicable signals that an operation has nothing to do for the
	// activity (no completion verb, grading disabled). It is not a failure.
	ErrNotApplicable = errors.New("not applicable")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g. "activity", "grading", "lrs"
	Op      string // operation that failed, e.g. "FetchStatements"
	Kind    error  // base error type for errors.Is() checking
	Message string // human-readable message
	Err     error  // underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsLRSTransport checks if the error is an LRS transport failure.
// Callers must treat these as "LRS unavailable" and abort the current
// operation; they are never retried automatically.
func IsLRSTransport(err error) bool {
	return errors.Is(err, ErrLRSTransport)
}

// IsConcurrentModification checks for an optimistic-concurrency failure
// on an LRS state write.
func IsConcurrentModification(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsNotApplicable checks whether the operation short-circuited because
// nothing is configured for the activity.
func IsNotApplicable(err error) bool {
	return errors.Is(err, ErrNotApplicable)
}
