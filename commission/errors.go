/*
errors.go - Error kinds returned by the engine

PURPOSE:
  Every rejection is a distinguishable kind (sentinel, use errors.Is) plus a
  structured error carrying what the HTTP boundary needs to build a message:
  field names, expected vs actual values, period identifiers.

ERROR KINDS:
  ErrInvalidInput               raw input out of domain bounds, no side effects
  ErrCalculationMismatch        derived values fail the re-check, never corrected
  ErrFilingLocked               mutation against a locked period, always audited
  ErrNotFound                   transaction or filing lock missing
  ErrDuplicateInvoiceNumber     store integrity fault, not retryable
  ErrComplianceValidationFailed batch validation blocked a report or export
  ErrForbidden                  actor lacks the role for the operation

None of these are retried by the engine.
*/
package commission

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidInput               = errors.New("invalid input")
	ErrCalculationMismatch        = errors.New("calculation mismatch")
	ErrFilingLocked               = errors.New("filing period is locked")
	ErrNotFound                   = errors.New("not found")
	ErrDuplicateInvoiceNumber     = errors.New("duplicate invoice number")
	ErrComplianceValidationFailed = errors.New("compliance validation failed")
	ErrForbidden                  = errors.New("forbidden")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InputError describes a raw input outside its domain bounds.
type InputError struct {
	Field  string
	Value  any
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

// MismatchError describes a derived field that does not match its re-derivation.
type MismatchError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("calculation mismatch on %s: expected %s, got %s", e.Field, e.Expected, e.Actual)
}

func (e *MismatchError) Unwrap() error { return ErrCalculationMismatch }

// FilingLockedError is returned when a mutation targets a locked period.
type FilingLockedError struct {
	Period        Period
	Operation     string
	ActorID       string
	TransactionID string
}

func (e *FilingLockedError) Error() string {
	return fmt.Sprintf("cannot %s transaction: period %s (%s) is locked for filing",
		e.Operation, e.Period, e.Period.FiscalYear())
}

func (e *FilingLockedError) Unwrap() error { return ErrFilingLocked }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// IntegrityError reports a store-level uniqueness violation on invoice numbers.
// It should be unreachable given atomic allocation; treat as fatal.
type IntegrityError struct {
	InvoiceNumber string
	Err           error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity fault: invoice number %s already persisted: %v", e.InvoiceNumber, e.Err)
}

func (e *IntegrityError) Unwrap() []error { return []error{ErrDuplicateInvoiceNumber, e.Err} }

// ComplianceError carries the field-level issues that blocked a report or export.
type ComplianceError struct {
	Issues []ComplianceIssue
}

func (e *ComplianceError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		msgs = append(msgs, is.String())
	}
	return fmt.Sprintf("compliance validation failed with %d error(s): %s", len(e.Issues), strings.Join(msgs, "; "))
}

func (e *ComplianceError) Unwrap() error { return ErrComplianceValidationFailed }

// ForbiddenError names the operation the actor was not allowed to perform.
type ForbiddenError struct {
	Operation string
	ActorID   string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s is not allowed to %s", e.ActorID, e.Operation)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the caller's request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrCalculationMismatch) ||
		errors.Is(err, ErrFilingLocked) ||
		errors.Is(err, ErrComplianceValidationFailed) ||
		errors.Is(err, ErrForbidden)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
