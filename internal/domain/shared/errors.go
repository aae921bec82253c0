// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
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
	ErrInvalidID    = errors.New("invalid ID")
	ErrInvalidInput = errors.New("invalid input")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrLimitReached    = errors.New("limit reached")
	ErrStateTransition = errors.New("invalid state transition")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Infrastructure errors
	ErrStorage            = errors.New("storage failure")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "intake", "ledger"
	Op      string // Operation that failed, e.g., "Announce", "Apply"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
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

// Intake domain errors. Each value is a distinct failure the lifecycle engine
// reports to its caller; the Kind groups them for transport-level mapping.
var (
	ErrInsufficientPermission = NewDomainError("intake", "Authorize", ErrForbidden, "insufficient permission")
	ErrNoSuchInstitution      = NewDomainError("intake", "Authorize", ErrNotFound, "no such institution")
	ErrIntakeAlreadyExists    = NewDomainError("intake", "Announce", ErrAlreadyExists, "intake already exists")
	ErrInvalidParameter       = NewDomainError("intake", "Validate", ErrValidation, "invalid parameter")
	ErrNoSuchIntake           = NewDomainError("intake", "Find", ErrNotFound, "no such intake")
	ErrIntakeClosed           = NewDomainError("intake", "CheckStatus", ErrInvalidState, "intake is not open for applications")
	ErrIntakeOngoing          = NewDomainError("intake", "CheckStatus", ErrInvalidState, "intake is still ongoing")
	ErrIntakeNotClosed        = NewDomainError("intake", "CheckStatus", ErrInvalidState, "intake is not closed")
	ErrNoSuchApplication      = NewDomainError("intake", "FindApplication", ErrNotFound, "no such application")
	ErrDuplicateApplication   = NewDomainError("intake", "Apply", ErrAlreadyExists, "application already submitted")
	ErrDuplicateAcceptance    = NewDomainError("intake", "Accept", ErrAlreadyExists, "application already accepted")
	ErrAcceptanceLimitReached = NewDomainError("intake", "Accept", ErrLimitReached, "maximum accepted applicants reached")
)

// Ledger runtime errors
var (
	ErrUnknownCall     = NewDomainError("ledger", "Dispatch", ErrInvalidInput, "unknown call")
	ErrMalformedCall   = NewDomainError("ledger", "Submit", ErrValidation, "malformed call payload")
	ErrBlockNotFound   = NewDomainError("ledger", "FindBlock", ErrNotFound, "block not found")
	ErrUnsignedOrigin  = NewDomainError("ledger", "Submit", ErrUnauthorized, "extrinsic has no signer")
	ErrRuntimeStopped  = NewDomainError("ledger", "Submit", ErrServiceUnavailable, "runtime is not accepting extrinsics")
	ErrQueueFull       = NewDomainError("ledger", "Submit", ErrServiceUnavailable, "extrinsic queue is full")
	ErrBlockAborted    = NewDomainError("ledger", "ProduceBlock", ErrStorage, "block aborted after dispatch, outcome not recorded")
	ErrInvalidGenesis  = NewDomainError("ledger", "LoadGenesis", ErrValidation, "invalid genesis")
	ErrInvalidIntakeID = NewDomainError("intake", "ParseID", ErrInvalidID, "invalid intake id")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput)
}

// IsForbidden checks if the error is an authorization failure.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden) || errors.Is(err, ErrUnauthorized)
}

// IsInvalidState checks if the error is a state machine precondition failure.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState) || errors.Is(err, ErrLimitReached)
}

// IsUnavailable checks if the error comes from infrastructure rather than the domain.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStorage) || errors.Is(err, ErrServiceUnavailable)
}
