// Package apperr defines the error taxonomy shared by services and handlers.
// Validation and immutability errors are local and never retried; external
// service errors bubble up as retryable failures with the schema-missing
// variant kept distinct from plain connectivity problems.
package apperr

import (
	"fmt"
	"strings"
)

// ValidationError carries per-field violations, surfaced verbatim to the caller.
type ValidationError struct {
	Violations map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Violations))
	for f, reason := range e.Violations {
		parts = append(parts, f+": "+reason)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// NewValidation builds a single-field validation error.
func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Violations: map[string]string{field: reason}}
}

// ImmutableStateError signals a mutation attempt on a locked document
// (quote signé, invoice payée or annulée). The reason is human readable and
// must reach the caller, never be swallowed.
type ImmutableStateError struct {
	Entity string
	Status string
	Reason string
}

func (e *ImmutableStateError) Error() string {
	return fmt.Sprintf("%s en état %q ne peut pas être modifié: %s", e.Entity, e.Status, e.Reason)
}

// OverpaymentError is returned when a payment exceeds the remaining balance
// derived from the current ledger. Remaining is included in the message so
// the caller can display the cap.
type OverpaymentError struct {
	Remaining float64
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("paiement supérieur au solde restant dû (%.2f €)", e.Remaining)
}

// ExternalServiceKind distinguishes a missing schema from an unreachable store.
type ExternalServiceKind string

const (
	KindConnectivity  ExternalServiceKind = "connectivity"
	KindSchemaMissing ExternalServiceKind = "schema_missing"
)

// ExternalServiceError wraps a failure of the underlying store.
type ExternalServiceError struct {
	Kind ExternalServiceKind
	Op   string
	Err  error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// External classifies a store error by inspecting the driver message.
func External(op string, err error) *ExternalServiceError {
	kind := KindConnectivity
	if IsMissingColumn(err) {
		kind = KindSchemaMissing
	}
	return &ExternalServiceError{Kind: kind, Op: op, Err: err}
}

// IsMissingColumn reports whether err looks like a missing-column schema
// error. Both the postgres and sqlite drivers are covered; the check is
// string based because neither driver exposes a stable sentinel for it.
func IsMissingColumn(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such column") || // sqlite
		strings.Contains(msg, "does not exist") && strings.Contains(msg, "column") || // postgres 42703
		strings.Contains(msg, "unknown column")
}
