package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/swapmarket/backend/internal/ledger"
	"github.com/swapmarket/backend/internal/models"
	"github.com/swapmarket/backend/internal/notify"
)

func newWalletFixture(t *testing.T) (*WalletService, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	service := NewWalletService(db, ledger.NewService(db), notify.NewNotifier(nil))
	return service, mock, func() { db.Close() }
}

func userCtx(r *http.Request, userID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), "userID", userID))
}

func TestWalletService_TransferFee(t *testing.T) {
	service, _, cleanup := newWalletFixture(t)
	defer cleanup()

	// Defaults: 50 fixed plus 50 basis points.
	assert.Equal(t, int64(55), service.TransferFee(1000))
	assert.Equal(t, int64(550), service.TransferFee(100000))
	assert.Equal(t, int64(50), service.TransferFee(1))
	// Integer truncation, no float rounding: 9999 * 50 / 10000 = 49.
	assert.Equal(t, int64(99), service.TransferFee(9999))
}

func TestWalletService_GetWallet(t *testing.T) {
	service, mock, cleanup := newWalletFixture(t)
	defer cleanup()

	t.Run("returns balance and recent activity", func(t *testing.T) {
		mock.ExpectQuery("SELECT wallet_balance FROM users WHERE id = \\$1").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}).AddRow(4500))

		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM transactions WHERE user_id = \\$1").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		mock.ExpectQuery("SELECT transaction_id, (.+) LIMIT \\$2 OFFSET \\$3").
			WithArgs("user-1", 10, 0).
			WillReturnRows(sqlmock.NewRows(transactionColumns).
				AddRow("tx-1", "user-1", models.TxTypeTopUp, 4500, 0, 4500,
					models.TxStatusCompleted, nil, "", nil, nil, time.Now()))

		req := userCtx(httptest.NewRequest(http.MethodGet, "/wallet", nil), "user-1")
		w := httptest.NewRecorder()

		service.GetWallet(w, req)
		assert.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Balance      int64                `json:"balance"`
			Transactions []models.Transaction `json:"transactions"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, int64(4500), response.Balance)
		assert.Len(t, response.Transactions, 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown wallet returns 404", func(t *testing.T) {
		mock.ExpectQuery("SELECT wallet_balance FROM users WHERE id = \\$1").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}))

		req := userCtx(httptest.NewRequest(http.MethodGet, "/wallet", nil), "ghost")
		w := httptest.NewRecorder()

		service.GetWallet(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing identity returns 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
		w := httptest.NewRecorder()

		service.GetWallet(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletService_Transfer(t *testing.T) {
	service, mock, cleanup := newWalletFixture(t)
	defer cleanup()

	feeAccount := "00000000-0000-0000-0000-000000000001"

	t.Run("debits sender including fee", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").
			WillReturnResult(sqlmock.NewResult(0, 0))

		// Ascending lock order: fee account first, then the two users.
		mock.ExpectQuery("SELECT wallet_balance FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs(feeAccount).
			WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}).AddRow(0))
		mock.ExpectQuery("SELECT wallet_balance FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}).AddRow(10000))
		mock.ExpectQuery("SELECT wallet_balance FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs("user-2").
			WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}).AddRow(0))

		mock.ExpectExec("UPDATE users SET wallet_balance = \\$1, updated_at = \\$2 WHERE id = \\$3").
			WithArgs(int64(8945), sqlmock.AnyArg(), "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), "user-1", models.TxTypeTransferOut, int64(-1055), int64(55), int64(8945),
				models.TxStatusCompleted, nil, nil, "lunch", "user-2", nil, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE users SET wallet_balance = \\$1, updated_at = \\$2 WHERE id = \\$3").
			WithArgs(int64(1000), sqlmock.AnyArg(), "user-2").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE users SET wallet_balance = \\$1, updated_at = \\$2 WHERE id = \\$3").
			WithArgs(int64(55), sqlmock.AnyArg(), feeAccount).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		body := `{"toUserId":"user-2","amount":1000,"message":"lunch"}`
		req := userCtx(httptest.NewRequest(http.MethodPost, "/wallet/transfer", strings.NewReader(body)), "user-1")
		w := httptest.NewRecorder()

		service.Transfer(w, req)
		assert.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Success bool               `json:"success"`
			Fee     int64              `json:"fee"`
			Debit   models.Transaction `json:"debit"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.True(t, response.Success)
		assert.Equal(t, int64(55), response.Fee)
		assert.Equal(t, int64(-1055), response.Debit.Amount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance returns 400 and nothing commits", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT wallet_balance FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs(feeAccount).
			WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}).AddRow(0))
		mock.ExpectQuery("SELECT wallet_balance FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}).AddRow(100))
		mock.ExpectQuery("SELECT wallet_balance FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs("user-2").
			WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}).AddRow(0))

		mock.ExpectRollback()

		body := `{"toUserId":"user-2","amount":1000}`
		req := userCtx(httptest.NewRequest(http.MethodPost, "/wallet/transfer", strings.NewReader(body)), "user-1")
		w := httptest.NewRecorder()

		service.Transfer(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("self transfer rejected without touching the database", func(t *testing.T) {
		body := `{"toUserId":"user-1","amount":1000}`
		req := userCtx(httptest.NewRequest(http.MethodPost, "/wallet/transfer", strings.NewReader(body)), "user-1")
		w := httptest.NewRecorder()

		service.Transfer(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletService_RedeemVoucher(t *testing.T) {
	service, mock, cleanup := newWalletFixture(t)
	defer cleanup()

	t.Run("voucher code is the idempotency key", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT transaction_id, (.+) FROM transactions WHERE idempotency_key = \\$1").
			WithArgs("voucher:GIFT-2026").
			WillReturnRows(sqlmock.NewRows(transactionColumns))

		mock.ExpectQuery("SELECT wallet_balance FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}).AddRow(0))

		mock.ExpectExec("UPDATE users SET wallet_balance = \\$1, updated_at = \\$2 WHERE id = \\$3").
			WithArgs(int64(2500), sqlmock.AnyArg(), "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("SAVEPOINT append_entry").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), "user-1", models.TxTypeVoucher, int64(2500), int64(0), int64(2500),
				models.TxStatusCompleted, "GIFT-2026", "voucher:GIFT-2026", sqlmock.AnyArg(), nil, nil, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		body := `{"userId":"user-1","code":"GIFT-2026","amount":2500}`
		req := httptest.NewRequest(http.MethodPost, "/vouchers/redeem", strings.NewReader(body))
		w := httptest.NewRecorder()

		service.RedeemVoucher(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replayed code credits nothing new", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT transaction_id, (.+) FROM transactions WHERE idempotency_key = \\$1").
			WithArgs("voucher:GIFT-2026").
			WillReturnRows(sqlmock.NewRows(transactionColumns).
				AddRow("tx-prior", "user-1", models.TxTypeVoucher, 2500, 0, 2500,
					models.TxStatusCompleted, "GIFT-2026", "Voucher GIFT-2026", nil, nil, time.Now()))

		mock.ExpectCommit()

		body := `{"userId":"user-1","code":"GIFT-2026","amount":2500}`
		req := httptest.NewRequest(http.MethodPost, "/vouchers/redeem", strings.NewReader(body))
		w := httptest.NewRecorder()

		service.RedeemVoucher(w, req)
		assert.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Transaction models.Transaction `json:"transaction"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "tx-prior", response.Transaction.TransactionID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
