/*
store.go - Persistence interfaces for obligations and history

PURPOSE:
  Defines the interface between the domain logic and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:   obligation CRUD, the conditional debit, history append/query
  TxStore: Store plus WithTx for atomic multi-write operations

THE CONDITIONAL DEBIT:
  SettlePayment is the one primitive that moves money. It must be an
  atomic check-and-update (UPDATE ... WHERE pending >= amount, or the
  moral equivalent under a lock) so that two concurrent payments against
  the same obligation can never both pass the guard.

HISTORY CONTRACT:
  AppendHistory is insert-only. No update or delete methods exist for
  history rows, and DeleteObligation must refuse while history remains.

IMPLEMENTATIONS:
  - store/sqlite: durable store
  - ledger/store: in-memory store for tests and dev
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUERY TYPES
// =============================================================================

// ListFilter narrows ListObligations. Zero values mean "any".
type ListFilter struct {
	UserID string
	Status Status
}

// HistoryFilter narrows ListHistory. Exactly one of the fields is
// normally set; both set means AND.
type HistoryFilter struct {
	OutstandingID string
	UserID        string
}

// FieldPatch is a back-office partial update. Nil pointers leave the
// field untouched. ClearDueDate removes an existing due date.
type FieldPatch struct {
	Amount        *decimal.Decimal
	PendingAmount *decimal.Decimal
	ClearedAmount *decimal.Decimal
	DueDate       *time.Time
	ClearDueDate  bool
	Status        *Status
	Notes         *string
}

// Empty reports whether the patch changes nothing.
func (p FieldPatch) Empty() bool {
	return p.Amount == nil && p.PendingAmount == nil && p.ClearedAmount == nil &&
		p.DueDate == nil && !p.ClearDueDate && p.Status == nil && p.Notes == nil
}

// Apply mutates ob with the patch while keeping the invariant. Both store
// implementations route corrections through here so the rules live in one
// place:
//   - only amount patched: pending is re-derived as amount - cleared
//   - one of pending/cleared patched: the other leg is re-derived
//   - both patched: the explicit values must satisfy the invariant exactly
//   - status is re-derived from the amounts unless explicitly patched
func (p FieldPatch) Apply(ob *Obligation, now time.Time) error {
	for field, d := range map[string]*decimal.Decimal{
		"amount":        p.Amount,
		"pendingAmount": p.PendingAmount,
		"clearedAmount": p.ClearedAmount,
	} {
		if d != nil && !ValidMoney(*d) {
			return &ValidationError{Field: field, Reason: "at most two decimal places"}
		}
	}

	if p.Amount != nil {
		if !p.Amount.IsPositive() {
			return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
		}
		ob.Amount = *p.Amount
	}
	switch {
	case p.PendingAmount != nil && p.ClearedAmount != nil:
		ob.PendingAmount = *p.PendingAmount
		ob.ClearedAmount = *p.ClearedAmount
	case p.PendingAmount != nil:
		ob.PendingAmount = *p.PendingAmount
		ob.ClearedAmount = ob.Amount.Sub(ob.PendingAmount)
	case p.ClearedAmount != nil:
		ob.ClearedAmount = *p.ClearedAmount
		ob.PendingAmount = ob.Amount.Sub(ob.ClearedAmount)
	case p.Amount != nil:
		ob.PendingAmount = ob.Amount.Sub(ob.ClearedAmount)
	}
	if err := ob.CheckInvariant(); err != nil {
		return err
	}

	if p.Status != nil {
		if !p.Status.Valid() {
			return &ValidationError{Field: "status", Reason: "must be pending, partial or cleared"}
		}
		ob.Status = *p.Status
	} else if p.Amount != nil || p.PendingAmount != nil || p.ClearedAmount != nil {
		ob.Status = DeriveStatus(ob.PendingAmount, ob.ClearedAmount)
	}

	if p.ClearDueDate {
		ob.DueDate = nil
	} else if p.DueDate != nil {
		d := *p.DueDate
		ob.DueDate = &d
	}
	if p.Notes != nil {
		ob.Notes = *p.Notes
	}

	ob.UpdatedAt = now.UTC()
	return nil
}

// =============================================================================
// STORE
// =============================================================================

// Store handles persistence of obligations and their history.
type Store interface {
	// CreateObligation inserts a new obligation as built by NewObligation.
	CreateObligation(ctx context.Context, ob *Obligation) error

	// Obligation returns an obligation by id, or ErrNotFound.
	Obligation(ctx context.Context, id string) (*Obligation, error)

	// ObligationForUser returns the obligation only when owned by userID;
	// a miss and a foreign owner are both ErrNotFound.
	ObligationForUser(ctx context.Context, id, userID string) (*Obligation, error)

	// ListObligations returns obligations ordered by due date ascending
	// (no due date last), then creation time descending.
	ListObligations(ctx context.Context, f ListFilter) ([]Obligation, error)

	// UpdateObligationFields applies a back-office correction. It bypasses
	// the payment state machine but must leave the invariant intact,
	// returning a ValidationError or ErrInvariantViolated otherwise.
	UpdateObligationFields(ctx context.Context, id string, patch FieldPatch) (*Obligation, error)

	// DeleteObligation removes an obligation, or returns ErrHistoryRetained
	// while history rows exist.
	DeleteObligation(ctx context.Context, id string) error

	// SettlePayment atomically moves amount from pending to cleared and
	// re-derives the status, returning the updated obligation. Returns
	// ErrOverpayment when pending < amount (no mutation in that case).
	SettlePayment(ctx context.Context, id string, amount decimal.Decimal) (*Obligation, error)

	// AppendHistory inserts one immutable history row.
	AppendHistory(ctx context.Context, entry HistoryEntry) error

	// ListHistory returns history rows, newest first.
	ListHistory(ctx context.Context, f HistoryFilter) ([]HistoryEntry, error)

	// HistoryByTransactionID returns the history row recorded for an
	// external transaction id on this obligation, or nil when none exists.
	HistoryByTransactionID(ctx context.Context, outstandingID, transactionID string) (*HistoryEntry, error)
}

// TxStore wraps Store with transaction support. The reconciliation
// engine requires it: the load, the guard, and the history append must
// commit or roll back as one unit.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
