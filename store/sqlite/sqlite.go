/*
Package sqlite provides the SQLite-backed implementation of the ledger
storage interfaces.

PURPOSE:
  Implements ledger.Store and ledger.TxStore using SQLite. In production,
  the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  obligations:         one row per amount owed, CHECK-constrained so that
                       amount_minor = pending_minor + cleared_minor with
                       both legs non-negative
  outstanding_history: append-only settlement events; a partial unique
                       index on (outstanding_id, transaction_id) backstops
                       payment idempotency

MONEY REPRESENTATION:
  Amounts are persisted as integer minor units (two decimal places), so
  the payment guard `pending_minor >= :amount` is exact integer
  arithmetic. No float drift, no lexicographic TEXT comparison.

THE PAYMENT GUARD:
  SettlePayment is a single conditional UPDATE:
    UPDATE obligations
    SET pending = pending - :amt, cleared = cleared + :amt
    WHERE id = :id AND pending_minor >= :amt
  Zero rows affected with the row still present means overpayment, and
  nothing was mutated. Combined with WithTx this closes the
  check-then-act race between concurrent payments on the same obligation.

CONCURRENCY:
  The pool is capped at one open connection: SQLite has a single writer
  anyway, and a single connection keeps ":memory:" databases coherent.
  A mutex is additionally held across writes and WithTx.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency
  and crash recovery.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/pharmalink/ledger-engine/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite has a single writer, and :memory: databases
	// are per-connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an existing database handle without migrating.
// Used by tests that substitute a mocked connection.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS obligations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		order_id TEXT,
		invoice_number TEXT,
		amount_minor INTEGER NOT NULL,
		pending_minor INTEGER NOT NULL,
		cleared_minor INTEGER NOT NULL,
		due_date TEXT,
		status TEXT NOT NULL,
		notes TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (amount_minor = pending_minor + cleared_minor),
		CHECK (pending_minor >= 0),
		CHECK (cleared_minor >= 0)
	);

	CREATE INDEX IF NOT EXISTS idx_obligations_user
		ON obligations(user_id);
	CREATE INDEX IF NOT EXISTS idx_obligations_user_status
		ON obligations(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_obligations_due
		ON obligations(due_date);

	-- Append-only settlement events. No UPDATE or DELETE is ever issued
	-- against this table.
	CREATE TABLE IF NOT EXISTS outstanding_history (
		id TEXT PRIMARY KEY,
		outstanding_id TEXT NOT NULL REFERENCES obligations(id),
		user_id TEXT NOT NULL,
		amount_minor INTEGER NOT NULL,
		payment_method TEXT,
		transaction_id TEXT,
		payment_date TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_outstanding
		ON outstanding_history(outstanding_id);
	CREATE INDEX IF NOT EXISTS idx_history_user
		ON outstanding_history(user_id);

	-- An external transaction id may settle a given obligation only once.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_history_txn
		ON outstanding_history(outstanding_id, transaction_id)
		WHERE transaction_id IS NOT NULL AND transaction_id != '';
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, so the query helpers
// below run identically inside and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// OBLIGATIONS (ledger.Store interface)
// =============================================================================

const obligationColumns = `id, user_id, order_id, invoice_number,
	amount_minor, pending_minor, cleared_minor, due_date, status, notes,
	created_at, updated_at`

func (s *Store) CreateObligation(ctx context.Context, ob *ledger.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createObligation(ctx, s.db, ob)
}

func (s *Store) createObligation(ctx context.Context, db dbtx, ob *ledger.Obligation) error {
	if err := ob.CheckInvariant(); err != nil {
		return err
	}

	query := `
		INSERT INTO obligations
		(id, user_id, order_id, invoice_number, amount_minor, pending_minor,
		 cleared_minor, due_date, status, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		ob.ID,
		ob.UserID,
		nullString(ob.OrderID),
		nullString(ob.InvoiceNumber),
		toMinor(ob.Amount),
		toMinor(ob.PendingAmount),
		toMinor(ob.ClearedAmount),
		nullDate(ob.DueDate),
		string(ob.Status),
		nullString(ob.Notes),
		ob.CreatedAt.UTC().Format(time.RFC3339Nano),
		ob.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert obligation: %w", err)
	}
	return nil
}

func (s *Store) Obligation(ctx context.Context, id string) (*ledger.Obligation, error) {
	return s.getObligation(ctx, s.db,
		"SELECT "+obligationColumns+" FROM obligations WHERE id = ?", id)
}

func (s *Store) ObligationForUser(ctx context.Context, id, userID string) (*ledger.Obligation, error) {
	// A foreign owner looks exactly like a miss.
	return s.getObligation(ctx, s.db,
		"SELECT "+obligationColumns+" FROM obligations WHERE id = ? AND user_id = ?", id, userID)
}

func (s *Store) getObligation(ctx context.Context, db dbtx, query string, args ...any) (*ledger.Obligation, error) {
	ob, err := scanObligation(db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query obligation: %w", err)
	}
	return ob, nil
}

func (s *Store) ListObligations(ctx context.Context, f ledger.ListFilter) ([]ledger.Obligation, error) {
	return s.listObligations(ctx, s.db, f)
}

func (s *Store) listObligations(ctx context.Context, db dbtx, f ledger.ListFilter) ([]ledger.Obligation, error) {
	query := "SELECT " + obligationColumns + " FROM obligations"
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY (due_date IS NULL) ASC, due_date ASC, created_at DESC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query obligations: %w", err)
	}
	defer rows.Close()

	var result []ledger.Obligation
	for rows.Next() {
		ob, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ob)
	}
	return result, rows.Err()
}

func (s *Store) UpdateObligationFields(ctx context.Context, id string, patch ledger.FieldPatch) (*ledger.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateObligationFields(ctx, s.db, id, patch)
}

func (s *Store) updateObligationFields(ctx context.Context, db dbtx, id string, patch ledger.FieldPatch) (*ledger.Obligation, error) {
	ob, err := s.getObligation(ctx, db,
		"SELECT "+obligationColumns+" FROM obligations WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if err := patch.Apply(ob, time.Now()); err != nil {
		return nil, err
	}

	query := `
		UPDATE obligations
		SET amount_minor = ?, pending_minor = ?, cleared_minor = ?,
		    due_date = ?, status = ?, notes = ?, updated_at = ?
		WHERE id = ?
	`
	_, err = db.ExecContext(ctx, query,
		toMinor(ob.Amount),
		toMinor(ob.PendingAmount),
		toMinor(ob.ClearedAmount),
		nullDate(ob.DueDate),
		string(ob.Status),
		nullString(ob.Notes),
		ob.UpdatedAt.Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update obligation: %w", err)
	}
	return ob, nil
}

func (s *Store) DeleteObligation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteObligation(ctx, s.db, id)
}

func (s *Store) deleteObligation(ctx context.Context, db dbtx, id string) error {
	// History is the audit trail: refuse to drop a parent that has any.
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM outstanding_history WHERE outstanding_id = ?", id,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to count history: %w", err)
	}
	if count > 0 {
		return ledger.ErrHistoryRetained
	}

	res, err := db.ExecContext(ctx, "DELETE FROM obligations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete obligation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// SettlePayment performs the atomic conditional debit. The guard and the
// update are one statement, so a stale in-memory copy can never overdraw
// the pending balance.
func (s *Store) SettlePayment(ctx context.Context, id string, amount decimal.Decimal) (*ledger.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settlePayment(ctx, s.db, id, amount)
}

func (s *Store) settlePayment(ctx context.Context, db dbtx, id string, amount decimal.Decimal) (*ledger.Obligation, error) {
	minor := toMinor(amount)

	query := `
		UPDATE obligations
		SET pending_minor = pending_minor - ?,
		    cleared_minor = cleared_minor + ?,
		    status = CASE WHEN pending_minor - ? = 0 THEN 'cleared' ELSE 'partial' END,
		    updated_at = ?
		WHERE id = ? AND pending_minor >= ?
	`
	res, err := db.ExecContext(ctx, query,
		minor, minor, minor,
		time.Now().UTC().Format(time.RFC3339Nano),
		id, minor,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to settle payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to settle payment: %w", err)
	}
	if affected == 0 {
		// Guard failed: either the row is gone or the balance is short.
		if _, err := s.getObligation(ctx, db,
			"SELECT "+obligationColumns+" FROM obligations WHERE id = ?", id); err != nil {
			return nil, err
		}
		return nil, ledger.ErrOverpayment
	}

	return s.getObligation(ctx, db,
		"SELECT "+obligationColumns+" FROM obligations WHERE id = ?", id)
}

// =============================================================================
// HISTORY (append-only)
// =============================================================================

const historyColumns = `id, outstanding_id, user_id, amount_minor,
	payment_method, transaction_id, payment_date, description, status,
	created_at`

func (s *Store) AppendHistory(ctx context.Context, entry ledger.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendHistory(ctx, s.db, entry)
}

func (s *Store) appendHistory(ctx context.Context, db dbtx, entry ledger.HistoryEntry) error {
	query := `
		INSERT INTO outstanding_history
		(id, outstanding_id, user_id, amount_minor, payment_method,
		 transaction_id, payment_date, description, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		entry.ID,
		entry.OutstandingID,
		entry.UserID,
		toMinor(entry.Amount),
		nullString(entry.PaymentMethod),
		nullString(entry.TransactionID),
		entry.PaymentDate.UTC().Format("2006-01-02"),
		nullString(entry.Description),
		entry.Status,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateTransaction
		}
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (s *Store) ListHistory(ctx context.Context, f ledger.HistoryFilter) ([]ledger.HistoryEntry, error) {
	return s.listHistory(ctx, s.db, f)
}

func (s *Store) listHistory(ctx context.Context, db dbtx, f ledger.HistoryFilter) ([]ledger.HistoryEntry, error) {
	query := "SELECT " + historyColumns + " FROM outstanding_history"
	var (
		where []string
		args  []any
	)
	if f.OutstandingID != "" {
		where = append(where, "outstanding_id = ?")
		args = append(args, f.OutstandingID)
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var result []ledger.HistoryEntry
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *entry)
	}
	return result, rows.Err()
}

func (s *Store) HistoryByTransactionID(ctx context.Context, outstandingID, transactionID string) (*ledger.HistoryEntry, error) {
	return s.historyByTransactionID(ctx, s.db, outstandingID, transactionID)
}

func (s *Store) historyByTransactionID(ctx context.Context, db dbtx, outstandingID, transactionID string) (*ledger.HistoryEntry, error) {
	if transactionID == "" {
		return nil, nil
	}
	row := db.QueryRowContext(ctx,
		"SELECT "+historyColumns+" FROM outstanding_history WHERE outstanding_id = ? AND transaction_id = ?",
		outstandingID, transactionID)

	entry, err := scanHistory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return entry, nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every call through the parent's query helpers bound to
// the transaction. It never takes the store mutex; WithTx already holds it.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) CreateObligation(ctx context.Context, ob *ledger.Obligation) error {
	return ts.parent.createObligation(ctx, ts.tx, ob)
}

func (ts *txStore) Obligation(ctx context.Context, id string) (*ledger.Obligation, error) {
	return ts.parent.getObligation(ctx, ts.tx,
		"SELECT "+obligationColumns+" FROM obligations WHERE id = ?", id)
}

func (ts *txStore) ObligationForUser(ctx context.Context, id, userID string) (*ledger.Obligation, error) {
	return ts.parent.getObligation(ctx, ts.tx,
		"SELECT "+obligationColumns+" FROM obligations WHERE id = ? AND user_id = ?", id, userID)
}

func (ts *txStore) ListObligations(ctx context.Context, f ledger.ListFilter) ([]ledger.Obligation, error) {
	return ts.parent.listObligations(ctx, ts.tx, f)
}

func (ts *txStore) UpdateObligationFields(ctx context.Context, id string, patch ledger.FieldPatch) (*ledger.Obligation, error) {
	return ts.parent.updateObligationFields(ctx, ts.tx, id, patch)
}

func (ts *txStore) DeleteObligation(ctx context.Context, id string) error {
	return ts.parent.deleteObligation(ctx, ts.tx, id)
}

func (ts *txStore) SettlePayment(ctx context.Context, id string, amount decimal.Decimal) (*ledger.Obligation, error) {
	return ts.parent.settlePayment(ctx, ts.tx, id, amount)
}

func (ts *txStore) AppendHistory(ctx context.Context, entry ledger.HistoryEntry) error {
	return ts.parent.appendHistory(ctx, ts.tx, entry)
}

func (ts *txStore) ListHistory(ctx context.Context, f ledger.HistoryFilter) ([]ledger.HistoryEntry, error) {
	return ts.parent.listHistory(ctx, ts.tx, f)
}

func (ts *txStore) HistoryByTransactionID(ctx context.Context, outstandingID, transactionID string) (*ledger.HistoryEntry, error) {
	return ts.parent.historyByTransactionID(ctx, ts.tx, outstandingID, transactionID)
}

// =============================================================================
// SCANNING & HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanObligation(row scanner) (*ledger.Obligation, error) {
	var (
		ob            ledger.Obligation
		orderID       sql.NullString
		invoiceNumber sql.NullString
		amountMinor   int64
		pendingMinor  int64
		clearedMinor  int64
		dueDate       sql.NullString
		status        string
		notes         sql.NullString
		createdAt     string
		updatedAt     string
	)

	err := row.Scan(
		&ob.ID, &ob.UserID, &orderID, &invoiceNumber,
		&amountMinor, &pendingMinor, &clearedMinor,
		&dueDate, &status, &notes, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	ob.OrderID = orderID.String
	ob.InvoiceNumber = invoiceNumber.String
	ob.Amount = fromMinor(amountMinor)
	ob.PendingAmount = fromMinor(pendingMinor)
	ob.ClearedAmount = fromMinor(clearedMinor)
	ob.Status = ledger.Status(status)
	ob.Notes = notes.String
	if dueDate.Valid && dueDate.String != "" {
		t, err := time.Parse("2006-01-02", dueDate.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse due_date: %w", err)
		}
		ob.DueDate = &t
	}
	if ob.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if ob.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &ob, nil
}

func scanHistory(row scanner) (*ledger.HistoryEntry, error) {
	var (
		entry         ledger.HistoryEntry
		amountMinor   int64
		paymentMethod sql.NullString
		transactionID sql.NullString
		paymentDate   string
		description   sql.NullString
		createdAt     string
	)

	err := row.Scan(
		&entry.ID, &entry.OutstandingID, &entry.UserID, &amountMinor,
		&paymentMethod, &transactionID, &paymentDate, &description,
		&entry.Status, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Amount = fromMinor(amountMinor)
	entry.PaymentMethod = paymentMethod.String
	entry.TransactionID = transactionID.String
	entry.Description = description.String
	if entry.PaymentDate, err = time.Parse("2006-01-02", paymentDate); err != nil {
		return nil, fmt.Errorf("failed to parse payment_date: %w", err)
	}
	if entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &entry, nil
}

// toMinor converts a two-decimal amount to integer minor units.
// ledger.ValidMoney guards the scale before amounts reach the store.
func toMinor(d decimal.Decimal) int64 {
	return d.Shift(2).IntPart()
}

func fromMinor(n int64) decimal.Decimal {
	return decimal.New(n, -2)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format("2006-01-02"), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
