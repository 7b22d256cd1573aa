/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place. The HTTP layer classifies errors with the
  helpers at the bottom; callers match specifics with errors.Is/errors.As.

ERROR CATEGORIES:
  1. Client errors   - bad input, business-rule rejections (4xx)
  2. Not-found       - missing or foreign-owned obligations (404)
  3. Storage errors  - wrapped with context at the store boundary (5xx)
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when an obligation does not exist or belongs
	// to a different retailer. The two cases are indistinguishable on
	// purpose: existence of another retailer's obligation must not leak.
	ErrNotFound = errors.New("obligation not found")

	// ErrInvalidInput is the root of all validation failures.
	ErrInvalidInput = errors.New("invalid input")

	// ErrOverpayment is returned when a payment would drive the pending
	// amount negative. A business-rule rejection, not a bug.
	ErrOverpayment = errors.New("payment exceeds pending amount")

	// ErrInvariantViolated is returned when a mutation would break
	// amount == pending + cleared or non-negativity.
	ErrInvariantViolated = errors.New("amount must equal pending plus cleared, both non-negative")

	// ErrHistoryRetained is returned when deleting an obligation that has
	// payment history. History is the audit trail; the parent stays.
	ErrHistoryRetained = errors.New("obligation has payment history")

	// ErrDuplicateTransaction is returned when a history row already
	// exists for the same (outstandingId, transactionId). The engine
	// normally short-circuits before this; the store constraint is the
	// backstop.
	ErrDuplicateTransaction = errors.New("duplicate transaction id for obligation")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a malformed or out-of-range field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// OverpaymentError reports how far a payment overshot the pending balance.
type OverpaymentError struct {
	OutstandingID string
	Pending       decimal.Decimal
	Requested     decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment exceeds pending amount: pending %s, requested %s",
		e.Pending.String(), e.Requested.String())
}

func (e *OverpaymentError) Unwrap() error { return ErrOverpayment }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is a caller problem that should
// not be retried without correction.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrOverpayment) ||
		errors.Is(err, ErrInvariantViolated) ||
		errors.Is(err, ErrHistoryRetained) ||
		errors.Is(err, ErrDuplicateTransaction)
}

// IsNotFound reports whether the error indicates a missing obligation.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
