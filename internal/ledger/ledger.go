package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/spf13/viper"

	"github.com/swapmarket/backend/internal/audit"
	"github.com/swapmarket/backend/internal/models"
)

// Service is the only writer of users.wallet_balance and the transactions
// table. Every mutation runs in a single database transaction that locks
// the affected wallet rows, validates the non-negative invariant, writes
// the new balance and appends the ledger row with a balance snapshot.
type Service struct {
	db            *sql.DB
	audit         *audit.Logger
	feeAccountID  string
	lockTimeoutMS int
}

// Options carries the optional ledger entry fields.
type Options struct {
	Reference        string
	IdempotencyKey   string
	RelatedUserID    string
	RelatedListingID string
}

func NewService(db *sql.DB) *Service {
	viper.SetDefault("platform.fee_account_id", "00000000-0000-0000-0000-000000000001")
	viper.SetDefault("ledger.lock_timeout_ms", 3000)

	return &Service{
		db:            db,
		audit:         audit.NewLogger(),
		feeAccountID:  viper.GetString("platform.fee_account_id"),
		lockTimeoutMS: viper.GetInt("ledger.lock_timeout_ms"),
	}
}

// FeeAccountID returns the platform operator wallet that retains fees.
func (s *Service) FeeAccountID() string {
	return s.feeAccountID
}

// Credit increases the user's balance by amount and appends a completed
// transaction. When an idempotency key is supplied and a row already
// carries it, the call is a no-op returning the existing transaction.
func (s *Service) Credit(ctx context.Context, userID string, amount int64, txType, description string, opts Options) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, &FieldError{Field: "amount", Message: "must be positive"}
	}
	if !models.IsValidTxType(txType) {
		return nil, &FieldError{Field: "type", Message: "unknown transaction type"}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin credit transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.setLockTimeout(ctx, tx); err != nil {
		return nil, err
	}

	txn, err := s.CreditTx(ctx, tx, userID, amount, txType, description, opts)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, mapLockError(fmt.Errorf("commit credit: %w", err))
	}

	s.audit.LogLedgerEntry(txn.TransactionID, userID, txType, txn.Amount, txn.BalanceAfter)
	return txn, nil
}

// CreditTx is the composable form of Credit for callers that need the
// credit inside their own atomic unit (top-up approval). The caller owns
// commit and rollback.
func (s *Service) CreditTx(ctx context.Context, tx *sql.Tx, userID string, amount int64, txType, description string, opts Options) (*models.Transaction, error) {
	if opts.IdempotencyKey != "" {
		existing, err := s.findByIdempotencyKey(ctx, tx, opts.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			log.Printf("[LEDGER] Idempotent replay for key %s, returning transaction %s", opts.IdempotencyKey, existing.TransactionID)
			return existing, nil
		}
	}

	balance, err := s.lockWallet(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	newBalance := balance + amount
	if err := s.updateBalance(ctx, tx, userID, newBalance); err != nil {
		return nil, err
	}

	return s.appendTransaction(ctx, tx, entry{
		UserID:       userID,
		Type:         txType,
		Amount:       amount,
		BalanceAfter: newBalance,
		Description:  description,
		Options:      opts,
	})
}

// Debit decreases the user's balance by amount, failing with
// InsufficientBalance when the wallet cannot cover it. No partial debit
// is ever persisted. Debits carry no idempotency key; the same logical
// debit should not recur and retry de-duplication is the caller's job.
func (s *Service) Debit(ctx context.Context, userID string, amount int64, txType, description string, opts Options) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, &FieldError{Field: "amount", Message: "must be positive"}
	}
	if !models.IsValidTxType(txType) {
		return nil, &FieldError{Field: "type", Message: "unknown transaction type"}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin debit transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.setLockTimeout(ctx, tx); err != nil {
		return nil, err
	}

	txn, err := s.debitTx(ctx, tx, userID, amount, 0, txType, description, opts)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, mapLockError(fmt.Errorf("commit debit: %w", err))
	}

	s.audit.LogLedgerEntry(txn.TransactionID, userID, txType, txn.Amount, txn.BalanceAfter)
	return txn, nil
}

func (s *Service) debitTx(ctx context.Context, tx *sql.Tx, userID string, amount, fee int64, txType, description string, opts Options) (*models.Transaction, error) {
	balance, err := s.lockWallet(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	total := amount + fee
	if balance < total {
		return nil, &InsufficientBalanceError{UserID: userID, Available: balance, Requested: total}
	}

	newBalance := balance - total
	if err := s.updateBalance(ctx, tx, userID, newBalance); err != nil {
		return nil, err
	}

	return s.appendTransaction(ctx, tx, entry{
		UserID:       userID,
		Type:         txType,
		Amount:       -total, // signed so balance == SUM(amount) holds
		Fee:          fee,
		BalanceAfter: newBalance,
		Description:  description,
		Options:      opts,
	})
}

// Transfer moves amount from one wallet to another and retains fee on the
// platform operator account as its own ledger row. All three legs commit
// together or not at all. Wallet rows are locked in ascending id order so
// opposite-direction transfers between the same pair cannot deadlock.
func (s *Service) Transfer(ctx context.Context, fromUserID, toUserID string, amount, fee int64, message string) (*models.Transaction, *models.Transaction, error) {
	if amount <= 0 {
		return nil, nil, &FieldError{Field: "amount", Message: "must be positive"}
	}
	if fee < 0 {
		return nil, nil, &FieldError{Field: "fee", Message: "must not be negative"}
	}
	if fromUserID == toUserID {
		return nil, nil, &FieldError{Field: "toUserId", Message: "cannot transfer to yourself"}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transfer transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.setLockTimeout(ctx, tx); err != nil {
		return nil, nil, err
	}

	// Lock every touched wallet up front, in a fixed global order.
	ids := []string{fromUserID, toUserID}
	if fee > 0 {
		ids = append(ids, s.feeAccountID)
	}
	balances, err := s.lockWallets(ctx, tx, ids)
	if err != nil {
		return nil, nil, err
	}

	total := amount + fee
	if balances[fromUserID] < total {
		return nil, nil, &InsufficientBalanceError{UserID: fromUserID, Available: balances[fromUserID], Requested: total}
	}

	// The legs mutate the running balances, not the lock-time snapshot:
	// when a wallet appears in more than one leg (the fee account can be
	// the receiver), a later write must see the earlier one.
	balances[fromUserID] -= total
	if err := s.updateBalance(ctx, tx, fromUserID, balances[fromUserID]); err != nil {
		return nil, nil, err
	}
	debitTxn, err := s.appendTransaction(ctx, tx, entry{
		UserID:       fromUserID,
		Type:         models.TxTypeTransferOut,
		Amount:       -total,
		Fee:          fee,
		BalanceAfter: balances[fromUserID],
		Description:  message,
		Options:      Options{RelatedUserID: toUserID},
	})
	if err != nil {
		return nil, nil, err
	}

	balances[toUserID] += amount
	if err := s.updateBalance(ctx, tx, toUserID, balances[toUserID]); err != nil {
		return nil, nil, err
	}
	creditTxn, err := s.appendTransaction(ctx, tx, entry{
		UserID:       toUserID,
		Type:         models.TxTypeTransferIn,
		Amount:       amount,
		BalanceAfter: balances[toUserID],
		Description:  message,
		Options:      Options{RelatedUserID: fromUserID},
	})
	if err != nil {
		return nil, nil, err
	}

	if fee > 0 {
		balances[s.feeAccountID] += fee
		if err := s.updateBalance(ctx, tx, s.feeAccountID, balances[s.feeAccountID]); err != nil {
			return nil, nil, err
		}
		_, err = s.appendTransaction(ctx, tx, entry{
			UserID:       s.feeAccountID,
			Type:         models.TxTypeTransferFee,
			Amount:       fee,
			BalanceAfter: balances[s.feeAccountID],
			Description:  fmt.Sprintf("Transfer fee from %s", fromUserID),
			Options:      Options{RelatedUserID: fromUserID},
		})
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, mapLockError(fmt.Errorf("commit transfer: %w", err))
	}

	s.audit.LogTransfer(debitTxn.TransactionID, fromUserID, toUserID, amount, fee)
	return debitTxn, creditTxn, nil
}

// ChargeFee debits a marketplace fee (listing, featured or offer) from
// the user's wallet. The fee column mirrors the amount so fee revenue is
// aggregable without type-casing.
func (s *Service) ChargeFee(ctx context.Context, userID, feeType string, amount int64, listingID string) (*models.Transaction, error) {
	if !models.IsPlatformFeeType(feeType) {
		return nil, &FieldError{Field: "type", Message: "not a platform fee type"}
	}
	if amount <= 0 {
		return nil, &FieldError{Field: "amount", Message: "must be positive"}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin fee transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.setLockTimeout(ctx, tx); err != nil {
		return nil, err
	}

	txn, err := s.debitTx(ctx, tx, userID, 0, amount, feeType, fmt.Sprintf("Marketplace %s", feeType), Options{RelatedListingID: listingID})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, mapLockError(fmt.Errorf("commit fee: %w", err))
	}

	s.audit.LogLedgerEntry(txn.TransactionID, userID, feeType, txn.Amount, txn.BalanceAfter)
	return txn, nil
}

// Balance reads the current wallet balance without blocking writers.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT wallet_balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrWalletNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

// Internals

type entry struct {
	UserID       string
	Type         string
	Amount       int64
	Fee          int64
	BalanceAfter int64
	Description  string
	Options      Options
}

func (s *Service) setLockTimeout(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeoutMS))
	if err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}
	return nil
}

func (s *Service) lockWallet(ctx context.Context, tx *sql.Tx, userID string) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx,
		`SELECT wallet_balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrWalletNotFound
	}
	if err != nil {
		return 0, mapLockError(fmt.Errorf("lock wallet %s: %w", userID, err))
	}
	return balance, nil
}

// lockWallets acquires all row locks in ascending user id order,
// regardless of which side is sender or receiver.
func (s *Service) lockWallets(ctx context.Context, tx *sql.Tx, userIDs []string) (map[string]int64, error) {
	ordered := append([]string(nil), userIDs...)
	sort.Strings(ordered)

	balances := make(map[string]int64, len(ordered))
	for _, id := range ordered {
		if _, done := balances[id]; done {
			continue
		}
		balance, err := s.lockWallet(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		balances[id] = balance
	}
	return balances, nil
}

func (s *Service) updateBalance(ctx context.Context, tx *sql.Tx, userID string, newBalance int64) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE users SET wallet_balance = $1, updated_at = $2 WHERE id = $3`,
		newBalance, time.Now(), userID)
	if err != nil {
		return mapLockError(fmt.Errorf("update balance for %s: %w", userID, err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("balance update touched no rows for %s", userID)
	}
	return nil
}

func (s *Service) appendTransaction(ctx context.Context, tx *sql.Tx, e entry) (*models.Transaction, error) {
	txn := &models.Transaction{
		TransactionID:    uuid.NewString(),
		UserID:           e.UserID,
		Type:             e.Type,
		Amount:           e.Amount,
		Fee:              e.Fee,
		BalanceAfter:     e.BalanceAfter,
		Status:           models.TxStatusCompleted,
		Reference:        e.Options.Reference,
		IdempotencyKey:   e.Options.IdempotencyKey,
		Description:      e.Description,
		RelatedUserID:    e.Options.RelatedUserID,
		RelatedListingID: e.Options.RelatedListingID,
		CreatedAt:        time.Now(),
	}

	// A failed INSERT aborts the whole transaction on Postgres, so the
	// keyed insert runs under a savepoint; after a unique violation the
	// savepoint is rolled back and the winner can still be read.
	if e.Options.IdempotencyKey != "" {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT append_entry"); err != nil {
			return nil, fmt.Errorf("set savepoint: %w", err)
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (transaction_id, user_id, type, amount, fee, balance_after, status, reference, idempotency_key, description, related_user_id, related_listing_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		txn.TransactionID, txn.UserID, txn.Type, txn.Amount, txn.Fee, txn.BalanceAfter,
		txn.Status, nullable(txn.Reference), nullable(txn.IdempotencyKey), txn.Description,
		nullable(txn.RelatedUserID), nullable(txn.RelatedListingID), txn.CreatedAt)
	if err != nil {
		// Two credits racing past the pre-check: the unique index on
		// idempotency_key loses the race here, so hand back the winner.
		if isUniqueViolation(err) && e.Options.IdempotencyKey != "" {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT append_entry"); rbErr == nil {
				existing, ferr := s.findByIdempotencyKey(ctx, tx, e.Options.IdempotencyKey)
				if ferr == nil && existing != nil {
					return existing, nil
				}
			}
			// The winner could not be read back; the row exists, so a
			// retry will land on the replay path.
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("append transaction: %w", err)
	}
	return txn, nil
}

func (s *Service) findByIdempotencyKey(ctx context.Context, tx *sql.Tx, key string) (*models.Transaction, error) {
	var txn models.Transaction
	var reference, relatedUser, relatedListing sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT transaction_id, user_id, type, amount, fee, balance_after, status, reference, description, related_user_id, related_listing_id, created_at
		FROM transactions WHERE idempotency_key = $1`, key).
		Scan(&txn.TransactionID, &txn.UserID, &txn.Type, &txn.Amount, &txn.Fee,
			&txn.BalanceAfter, &txn.Status, &reference, &txn.Description,
			&relatedUser, &relatedListing, &txn.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	txn.IdempotencyKey = key
	txn.Reference = reference.String
	txn.RelatedUserID = relatedUser.String
	txn.RelatedListingID = relatedListing.String
	return &txn, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// mapLockError converts lock-wait timeouts and serialization aborts into
// the retryable ErrBusy; everything else passes through unchanged.
func mapLockError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case "55P03", "40001", "40P01":
			return ErrBusy
		}
	}
	return err
}
