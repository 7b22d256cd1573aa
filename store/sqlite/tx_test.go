package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmalink/ledger-engine/ledger"
	"github.com/pharmalink/ledger-engine/store/sqlite"
)

// These tests drive the reconciler against a mocked connection to pin
// down the transaction boundary: a failure after the debit must roll the
// whole payment back.

var obligationCols = []string{
	"id", "user_id", "order_id", "invoice_number",
	"amount_minor", "pending_minor", "cleared_minor",
	"due_date", "status", "notes", "created_at", "updated_at",
}

func obligationRow(pendingMinor, clearedMinor int64, status string) *sqlmock.Rows {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return sqlmock.NewRows(obligationCols).AddRow(
		"ob-1", "retailer-1", nil, nil,
		pendingMinor+clearedMinor, pendingMinor, clearedMinor,
		nil, status, nil, now, now,
	)
}

func TestWithTx_HistoryFailure_RollsBackDebit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM obligations WHERE id = . AND user_id = .").
		WillReturnRows(obligationRow(100000, 0, "pending"))
	mock.ExpectExec("UPDATE obligations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM obligations WHERE id = .").
		WillReturnRows(obligationRow(60000, 40000, "partial"))
	mock.ExpectExec("INSERT INTO outstanding_history").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	r := ledger.NewReconciler(sqlite.NewWithDB(db), nil)
	_, err = r.ApplyPayment(context.Background(), ledger.PaymentRequest{
		OutstandingID: "ob-1",
		UserID:        "retailer-1",
		Amount:        decimal.RequireFromString("400"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScan_CorruptTimestamp_Errors(t *testing.T) {
	// A mangled created_at must surface as an error, not a zero time.
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows(obligationCols).AddRow(
		"ob-1", "retailer-1", nil, nil,
		100000, 100000, 0,
		nil, "pending", nil, "not-a-timestamp", "not-a-timestamp",
	)
	mock.ExpectQuery("FROM obligations WHERE id = .").WillReturnRows(rows)

	_, err = sqlite.NewWithDB(db).Obligation(context.Background(), "ob-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "created_at")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_SuccessfulPayment_Commits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM obligations WHERE id = . AND user_id = .").
		WillReturnRows(obligationRow(100000, 0, "pending"))
	mock.ExpectExec("UPDATE obligations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM obligations WHERE id = .").
		WillReturnRows(obligationRow(60000, 40000, "partial"))
	mock.ExpectExec("INSERT INTO outstanding_history").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	r := ledger.NewReconciler(sqlite.NewWithDB(db), nil)
	ob, err := r.ApplyPayment(context.Background(), ledger.PaymentRequest{
		OutstandingID: "ob-1",
		UserID:        "retailer-1",
		Amount:        decimal.RequireFromString("400"),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPartial, ob.Status)
	assert.True(t, ob.PendingAmount.Equal(decimal.RequireFromString("600")))
	assert.NoError(t, mock.ExpectationsWereMet())
}
