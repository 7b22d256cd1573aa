/*
engine.go - Payment reconciliation engine

PURPOSE:
  The Reconciler is the ONLY path by which pending/cleared/status of an
  obligation change as a result of a payment. It validates, applies the
  conditional debit, and appends the history row as one atomic unit.

STATE MACHINE (pending -> partial -> cleared, cleared terminal):
  - pending: nothing cleared yet
  - partial: some cleared, some pending
  - cleared: pending reached zero; further payments fail the debit guard
    (amount exceeds a pending of zero) with no special-casing

IDEMPOTENCY:
  When a transactionId is supplied and a history row already exists for
  (outstandingId, transactionId), the payment is NOT applied again; the
  current obligation state is returned. The durable store backs this with
  a unique index, so a race between check and insert still cannot
  double-apply.

FAILURE SEMANTICS:
  Validation and overpayment failures happen before or instead of any
  mutation. Storage failures after the debit roll the whole transaction
  back; readers never observe a debit without its history row.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// PaymentRequest carries one payment attempt against an obligation.
type PaymentRequest struct {
	OutstandingID string
	UserID        string
	Amount        decimal.Decimal

	PaymentMethod string
	TransactionID string
	Description   string
	PaymentDate   time.Time // zero means "today"
}

// Reconciler applies payments to obligations.
type Reconciler struct {
	Store TxStore
	Log   *logrus.Logger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewReconciler creates a reconciler over the given transactional store.
func NewReconciler(store TxStore, log *logrus.Logger) *Reconciler {
	if log == nil {
		log = logrus.New()
	}
	return &Reconciler{Store: store, Log: log, Now: time.Now}
}

// ApplyPayment applies one payment and returns the updated obligation.
//
// Sequence, all inside one storage transaction:
//  1. load the obligation scoped to the requesting user (ErrNotFound on a
//     miss or a foreign owner)
//  2. short-circuit on a duplicate transactionId
//  3. conditional debit (OverpaymentError when pending < amount)
//  4. append the history row
func (r *Reconciler) ApplyPayment(ctx context.Context, req PaymentRequest) (*Obligation, error) {
	if !req.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "invalid amount"}
	}
	if !ValidMoney(req.Amount) {
		return nil, &ValidationError{Field: "amount", Reason: "at most two decimal places"}
	}
	if req.OutstandingID == "" {
		return nil, &ValidationError{Field: "outstandingId", Reason: "required"}
	}
	if req.UserID == "" {
		return nil, &ValidationError{Field: "userId", Reason: "required"}
	}

	now := r.Now().UTC()
	paymentDate := req.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = now
	}

	var (
		result  *Obligation
		applied bool
	)
	err := r.Store.WithTx(ctx, func(s Store) error {
		ob, err := s.ObligationForUser(ctx, req.OutstandingID, req.UserID)
		if err != nil {
			return err
		}

		if req.TransactionID != "" {
			prior, err := s.HistoryByTransactionID(ctx, ob.ID, req.TransactionID)
			if err != nil {
				return err
			}
			if prior != nil {
				r.Log.WithFields(logrus.Fields{
					"outstanding_id": ob.ID,
					"transaction_id": req.TransactionID,
				}).Info("duplicate payment ignored")
				result = ob
				return nil
			}
		}

		updated, err := s.SettlePayment(ctx, ob.ID, req.Amount)
		if err != nil {
			if errors.Is(err, ErrOverpayment) {
				return &OverpaymentError{
					OutstandingID: ob.ID,
					Pending:       ob.PendingAmount,
					Requested:     req.Amount,
				}
			}
			return err
		}

		entry := HistoryEntry{
			ID:            uuid.NewString(),
			OutstandingID: ob.ID,
			UserID:        ob.UserID,
			Amount:        req.Amount,
			PaymentMethod: req.PaymentMethod,
			TransactionID: req.TransactionID,
			PaymentDate:   paymentDate,
			Description:   req.Description,
			Status:        HistoryCompleted,
			CreatedAt:     now,
		}
		if err := s.AppendHistory(ctx, entry); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		result = updated
		applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if applied {
		r.Log.WithFields(logrus.Fields{
			"outstanding_id": result.ID,
			"user_id":        result.UserID,
			"amount":         req.Amount.String(),
			"status":         string(result.Status),
		}).Info("payment applied")
	}

	return result, nil
}
