// Package store provides an in-memory ledger.Store implementation
// (for testing/dev).
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmalink/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	obligations map[string]ledger.Obligation
	history     []ledger.HistoryEntry
}

func NewMemory() *Memory {
	return &Memory{obligations: make(map[string]ledger.Obligation)}
}

func (m *Memory) CreateObligation(_ context.Context, ob *ledger.Obligation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(ob)
}

func (m *Memory) createLocked(ob *ledger.Obligation) error {
	if err := ob.CheckInvariant(); err != nil {
		return err
	}
	m.obligations[ob.ID] = *ob
	return nil
}

func (m *Memory) Obligation(_ context.Context, id string) (*ledger.Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.obligationLocked(id)
}

func (m *Memory) obligationLocked(id string) (*ledger.Obligation, error) {
	ob, ok := m.obligations[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &ob, nil
}

func (m *Memory) ObligationForUser(_ context.Context, id, userID string) (*ledger.Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.obligationForUserLocked(id, userID)
}

func (m *Memory) obligationForUserLocked(id, userID string) (*ledger.Obligation, error) {
	ob, ok := m.obligations[id]
	// A foreign owner looks exactly like a miss.
	if !ok || ob.UserID != userID {
		return nil, ledger.ErrNotFound
	}
	return &ob, nil
}

func (m *Memory) ListObligations(_ context.Context, f ledger.ListFilter) ([]ledger.Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(f), nil
}

func (m *Memory) listLocked(f ledger.ListFilter) []ledger.Obligation {
	result := make([]ledger.Obligation, 0, len(m.obligations))
	for _, ob := range m.obligations {
		if f.UserID != "" && ob.UserID != f.UserID {
			continue
		}
		if f.Status != "" && ob.Status != f.Status {
			continue
		}
		result = append(result, ob)
	}
	// Due date ascending with nulls last, then newest first.
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		switch {
		case a.DueDate == nil && b.DueDate != nil:
			return false
		case a.DueDate != nil && b.DueDate == nil:
			return true
		case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return result
}

func (m *Memory) UpdateObligationFields(_ context.Context, id string, patch ledger.FieldPatch) (*ledger.Obligation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(id, patch)
}

func (m *Memory) updateLocked(id string, patch ledger.FieldPatch) (*ledger.Obligation, error) {
	ob, ok := m.obligations[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	if err := patch.Apply(&ob, time.Now()); err != nil {
		return nil, err
	}
	m.obligations[id] = ob
	return &ob, nil
}

func (m *Memory) DeleteObligation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id)
}

func (m *Memory) deleteLocked(id string) error {
	if _, ok := m.obligations[id]; !ok {
		return ledger.ErrNotFound
	}
	for _, h := range m.history {
		if h.OutstandingID == id {
			return ledger.ErrHistoryRetained
		}
	}
	delete(m.obligations, id)
	return nil
}

func (m *Memory) SettlePayment(_ context.Context, id string, amount decimal.Decimal) (*ledger.Obligation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settleLocked(id, amount)
}

func (m *Memory) settleLocked(id string, amount decimal.Decimal) (*ledger.Obligation, error) {
	ob, ok := m.obligations[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	// The check-and-update is atomic under the store lock.
	if ob.PendingAmount.LessThan(amount) {
		return nil, ledger.ErrOverpayment
	}
	ob.PendingAmount = ob.PendingAmount.Sub(amount)
	ob.ClearedAmount = ob.ClearedAmount.Add(amount)
	ob.Status = ledger.DeriveStatus(ob.PendingAmount, ob.ClearedAmount)
	ob.UpdatedAt = time.Now().UTC()
	m.obligations[id] = ob
	return &ob, nil
}

func (m *Memory) AppendHistory(_ context.Context, entry ledger.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendHistoryLocked(entry)
}

func (m *Memory) appendHistoryLocked(entry ledger.HistoryEntry) error {
	if entry.TransactionID != "" {
		for _, h := range m.history {
			if h.OutstandingID == entry.OutstandingID && h.TransactionID == entry.TransactionID {
				return ledger.ErrDuplicateTransaction
			}
		}
	}
	m.history = append(m.history, entry)
	return nil
}

func (m *Memory) ListHistory(_ context.Context, f ledger.HistoryFilter) ([]ledger.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listHistoryLocked(f), nil
}

func (m *Memory) listHistoryLocked(f ledger.HistoryFilter) []ledger.HistoryEntry {
	var result []ledger.HistoryEntry
	// Insertion order is chronological; walk backwards for newest first.
	for i := len(m.history) - 1; i >= 0; i-- {
		h := m.history[i]
		if f.OutstandingID != "" && h.OutstandingID != f.OutstandingID {
			continue
		}
		if f.UserID != "" && h.UserID != f.UserID {
			continue
		}
		result = append(result, h)
	}
	return result
}

func (m *Memory) HistoryByTransactionID(_ context.Context, outstandingID, transactionID string) (*ledger.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.historyByTxnLocked(outstandingID, transactionID), nil
}

func (m *Memory) historyByTxnLocked(outstandingID, transactionID string) *ledger.HistoryEntry {
	if transactionID == "" {
		return nil
	}
	for i := range m.history {
		h := m.history[i]
		if h.OutstandingID == outstandingID && h.TransactionID == transactionID {
			return &h
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction, simulated with a snapshot +
// rollback on error. The store lock is held for the whole transaction,
// which also serializes concurrent payments against the same obligation.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm.Memory}
	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	obligations map[string]ledger.Obligation
	history     []ledger.HistoryEntry
}

func (tm *TxMemory) snapshot() memorySnapshot {
	obs := make(map[string]ledger.Obligation, len(tm.obligations))
	for k, v := range tm.obligations {
		obs[k] = v
	}
	hist := append([]ledger.HistoryEntry(nil), tm.history...)
	return memorySnapshot{obligations: obs, history: hist}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.obligations = s.obligations
	tm.history = s.history
}

// txMemoryView routes to the parent's unlocked helpers; the lock is
// already held by WithTx.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) CreateObligation(_ context.Context, ob *ledger.Obligation) error {
	return tv.parent.createLocked(ob)
}

func (tv *txMemoryView) Obligation(_ context.Context, id string) (*ledger.Obligation, error) {
	return tv.parent.obligationLocked(id)
}

func (tv *txMemoryView) ObligationForUser(_ context.Context, id, userID string) (*ledger.Obligation, error) {
	return tv.parent.obligationForUserLocked(id, userID)
}

func (tv *txMemoryView) ListObligations(_ context.Context, f ledger.ListFilter) ([]ledger.Obligation, error) {
	return tv.parent.listLocked(f), nil
}

func (tv *txMemoryView) UpdateObligationFields(_ context.Context, id string, patch ledger.FieldPatch) (*ledger.Obligation, error) {
	return tv.parent.updateLocked(id, patch)
}

func (tv *txMemoryView) DeleteObligation(_ context.Context, id string) error {
	return tv.parent.deleteLocked(id)
}

func (tv *txMemoryView) SettlePayment(_ context.Context, id string, amount decimal.Decimal) (*ledger.Obligation, error) {
	return tv.parent.settleLocked(id, amount)
}

func (tv *txMemoryView) AppendHistory(_ context.Context, entry ledger.HistoryEntry) error {
	return tv.parent.appendHistoryLocked(entry)
}

func (tv *txMemoryView) ListHistory(_ context.Context, f ledger.HistoryFilter) ([]ledger.HistoryEntry, error) {
	return tv.parent.listHistoryLocked(f), nil
}

func (tv *txMemoryView) HistoryByTransactionID(_ context.Context, outstandingID, transactionID string) (*ledger.HistoryEntry, error) {
	return tv.parent.historyByTxnLocked(outstandingID, transactionID), nil
}
