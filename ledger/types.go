/*
Package ledger provides the outstanding-balance core engine.

PURPOSE:
  This package contains the types and algorithms for tracking amounts owed
  per retailer against invoices/orders, applying partial payments, deriving
  a settlement status, and keeping an append-only history of payment events.

KEY CONCEPTS IN THIS FILE (types.go):
  - Obligation: a single amount owed, tied to an order/invoice
  - HistoryEntry: an immutable record of one settlement event
  - Status: the closed settlement state (pending/partial/cleared)
  - Summary: on-demand rollup of a retailer's obligations

DESIGN PRINCIPLES:
  1. Invariant: amount == pendingAmount + clearedAmount, both non-negative
  2. Precision: decimal.Decimal at two fractional digits, never floats
  3. Single derivation: status and overdue are each computed in ONE place
  4. Auditability: history rows are never mutated or deleted

SEE ALSO:
  - engine.go: the only write path for pending/cleared/status
  - summary.go: read-side rollups
  - store.go: persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS - Closed settlement state
// =============================================================================

// Status is the persisted settlement state of an obligation.
// "overdue" is deliberately NOT a member: it is a view-level label derived
// from an unsettled status plus a past due date (see Obligation.Overdue).
type Status string

const (
	StatusPending Status = "pending" // nothing cleared yet
	StatusPartial Status = "partial" // some cleared, some pending
	StatusCleared Status = "cleared" // fully settled, terminal
)

// Valid reports whether s is one of the persisted states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPartial, StatusCleared:
		return true
	}
	return false
}

// Settled reports whether no further payments are possible.
func (s Status) Settled() bool { return s == StatusCleared }

// DeriveStatus is the single source of truth for the settlement state.
// Every code path that sets a status goes through this function.
func DeriveStatus(pending, cleared decimal.Decimal) Status {
	switch {
	case pending.IsZero():
		return StatusCleared
	case cleared.IsPositive():
		return StatusPartial
	default:
		return StatusPending
	}
}

// HistoryCompleted is the event outcome recorded on the success path.
const HistoryCompleted = "completed"

// =============================================================================
// MONEY - Two-decimal amounts
// =============================================================================

// ValidMoney reports whether d is representable in minor units
// (at most two fractional digits). Storage relies on this to keep
// balance guards exact.
func ValidMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// =============================================================================
// OBLIGATION - One amount owed per invoice/order
// =============================================================================

// Obligation is a single amount owed by a retailer. Amount is fixed at
// creation; PendingAmount and ClearedAmount move only through the
// Reconciler (or explicit back-office corrections) and always satisfy
// Amount == PendingAmount + ClearedAmount.
type Obligation struct {
	ID            string
	UserID        string
	OrderID       string
	InvoiceNumber string

	Amount        decimal.Decimal
	PendingAmount decimal.Decimal
	ClearedAmount decimal.Decimal

	DueDate *time.Time // date granularity; nil means no due date
	Status  Status
	Notes   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewObligationInput carries the creation parameters. PendingAmount is
// optional: when nil the obligation starts fully unpaid.
type NewObligationInput struct {
	UserID        string
	OrderID       string
	InvoiceNumber string
	Amount        decimal.Decimal
	PendingAmount *decimal.Decimal
	DueDate       *time.Time
	Notes         string
}

// NewObligation builds a valid obligation or returns a ValidationError.
// With no explicit pending amount: pending = amount, cleared = 0,
// status = pending. An explicit pending amount (back-office imports of
// partially settled invoices) derives cleared and the status.
func NewObligation(in NewObligationInput) (*Obligation, error) {
	if in.UserID == "" {
		return nil, &ValidationError{Field: "userId", Reason: "required"}
	}
	if !in.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if !ValidMoney(in.Amount) {
		return nil, &ValidationError{Field: "amount", Reason: "at most two decimal places"}
	}

	pending := in.Amount
	if in.PendingAmount != nil {
		pending = *in.PendingAmount
		if !ValidMoney(pending) {
			return nil, &ValidationError{Field: "pendingAmount", Reason: "at most two decimal places"}
		}
		if pending.IsNegative() || pending.GreaterThan(in.Amount) {
			return nil, &ValidationError{Field: "pendingAmount", Reason: "must be between zero and amount"}
		}
	}
	cleared := in.Amount.Sub(pending)

	now := time.Now().UTC()
	ob := &Obligation{
		ID:            uuid.NewString(),
		UserID:        in.UserID,
		OrderID:       in.OrderID,
		InvoiceNumber: in.InvoiceNumber,
		Amount:        in.Amount,
		PendingAmount: pending,
		ClearedAmount: cleared,
		DueDate:       in.DueDate,
		Status:        DeriveStatus(pending, cleared),
		Notes:         in.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return ob, nil
}

// CheckInvariant verifies amount == pending + cleared with both legs
// non-negative. Stores call this after corrections; tests call it after
// every mutation.
func (o *Obligation) CheckInvariant() error {
	if o.PendingAmount.IsNegative() || o.ClearedAmount.IsNegative() {
		return ErrInvariantViolated
	}
	if !o.Amount.Equal(o.PendingAmount.Add(o.ClearedAmount)) {
		return ErrInvariantViolated
	}
	return nil
}

// Overdue is the single derivation of the view-level "overdue" label:
// unsettled and past the due date. It never touches the persisted status.
func (o *Obligation) Overdue(today time.Time) bool {
	if o.Status.Settled() || o.DueDate == nil {
		return false
	}
	y, m, d := today.UTC().Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return o.DueDate.Before(midnight)
}

// =============================================================================
// HISTORY ENTRY - Append-only settlement event
// =============================================================================

// HistoryEntry records one settlement event against an obligation.
// Rows are never mutated or deleted; they are the audit trail.
type HistoryEntry struct {
	ID            string
	OutstandingID string
	UserID        string // denormalized owner, for per-retailer queries

	Amount        decimal.Decimal // always positive
	PaymentMethod string
	TransactionID string
	PaymentDate   time.Time // date attributed to the event
	Description   string
	Status        string // HistoryCompleted on the success path

	CreatedAt time.Time
}

// =============================================================================
// SUMMARY - Read-side rollup
// =============================================================================

// Summary aggregates a set of obligations. All fields are zero (not
// absent) when nothing matches.
type Summary struct {
	TotalAmount  decimal.Decimal
	TotalPending decimal.Decimal
	TotalCleared decimal.Decimal

	TotalCount   int
	PendingCount int // unsettled, not yet past due
	OverdueCount int // unsettled, past due
	ClearedCount int
}

// NewSummary returns a Summary with explicit decimal zeros so empty
// results serialize as 0 rather than null.
func NewSummary() Summary {
	return Summary{
		TotalAmount:  decimal.Zero,
		TotalPending: decimal.Zero,
		TotalCleared: decimal.Zero,
	}
}
