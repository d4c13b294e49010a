package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/spf13/viper"

	"github.com/swapmarket/backend/internal/ledger"
	"github.com/swapmarket/backend/internal/models"
	"github.com/swapmarket/backend/internal/notify"
)

// WalletService is the user-facing wallet surface: balance enquiry,
// peer transfers and voucher redemption. All mutations delegate to the
// ledger; this layer only adds the fee policy and notifications.
type WalletService struct {
	db           *sql.DB
	ledger       *ledger.Service
	transactions *TransactionService
	notifier     *notify.Notifier
	validator    *ValidationHelper
	feeBps       int64
	feeFixed     int64
}

func NewWalletService(db *sql.DB, ledgerService *ledger.Service, notifier *notify.Notifier) *WalletService {
	viper.SetDefault("fees.transfer_bps", 50)
	viper.SetDefault("fees.transfer_fixed", 50)

	return &WalletService{
		db:           db,
		ledger:       ledgerService,
		transactions: NewTransactionService(db),
		notifier:     notifier,
		validator:    NewValidationHelper(),
		feeBps:       viper.GetInt64("fees.transfer_bps"),
		feeFixed:     viper.GetInt64("fees.transfer_fixed"),
	}
}

// TransferFee computes the platform fee for a transfer amount. Integer
// basis-points math only; minor units never pass through a float.
func (s *WalletService) TransferFee(amount int64) int64 {
	return s.feeFixed + amount*s.feeBps/10000
}

// GetWallet returns balance and recent activity for the caller
// @Summary Get wallet
// @Description Current balance and the ten most recent transactions
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{balance=int64,transactions=[]models.Transaction}
// @Failure 404 {object} ErrorResponse
// @Router /wallet [get]
func (s *WalletService) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := s.ledger.Balance(r.Context(), userID)
	if err != nil {
		SendLedgerError(w, err)
		return
	}

	recent, _, err := s.transactions.List(r.Context(), TransactionFilter{UserID: userID}, 1, 10)
	if err != nil {
		log.Printf("[WALLET] Recent transactions failed for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"balance":      balance,
		"transactions": recent,
	})
}

type TransferRequest struct {
	ToUserID string `json:"toUserId" validate:"required"`
	Amount   int64  `json:"amount" validate:"required,gt=0"`
	Message  string `json:"message" validate:"max=200"`
}

// Transfer moves funds to another user's wallet
// @Summary Transfer funds
// @Description Transfer to another user; the platform fee is debited from the sender
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body TransferRequest true "Transfer"
// @Success 200 {object} object{success=bool,fee=int64,debit=models.Transaction,credit=models.Transaction}
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /wallet/transfer [post]
func (s *WalletService) Transfer(w http.ResponseWriter, r *http.Request) {
	fromUserID, ok := r.Context().Value("userID").(string)
	if !ok || fromUserID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req TransferRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	fee := s.TransferFee(req.Amount)
	debitTxn, creditTxn, err := s.ledger.Transfer(r.Context(), fromUserID, req.ToUserID, req.Amount, fee, req.Message)
	if err != nil {
		SendLedgerError(w, err)
		return
	}

	s.notifier.Notify(r.Context(), req.ToUserID, notify.Event{
		Type:    "transfer_received",
		Amount:  req.Amount,
		Message: fmt.Sprintf("You received a transfer of %d", req.Amount),
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"fee":     fee,
		"debit":   debitTxn,
		"credit":  creditTxn,
	})
}

type VoucherRedeemRequest struct {
	UserID string `json:"userId" validate:"required"`
	Code   string `json:"code" validate:"required,min=6"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
}

// RedeemVoucher credits a validated voucher to a wallet
// @Summary Redeem a voucher
// @Description Credit a voucher's value; the code doubles as the idempotency key so a code credits once
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body VoucherRedeemRequest true "Redemption"
// @Success 200 {object} object{success=bool,transaction=models.Transaction}
// @Failure 400 {object} ErrorResponse
// @Router /vouchers/redeem [post]
func (s *WalletService) RedeemVoucher(w http.ResponseWriter, r *http.Request) {
	var req VoucherRedeemRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	// Voucher code generation and validation live with the voucher
	// service; this endpoint only turns a validated code into a credit.
	txn, err := s.ledger.Credit(r.Context(), req.UserID, req.Amount, models.TxTypeVoucher,
		fmt.Sprintf("Voucher %s", req.Code), ledger.Options{
			IdempotencyKey: fmt.Sprintf("voucher:%s", req.Code),
			Reference:      req.Code,
		})
	if err != nil {
		SendLedgerError(w, err)
		return
	}

	s.notifier.Notify(r.Context(), req.UserID, notify.Event{
		Type:    "voucher_redeemed",
		Amount:  req.Amount,
		Message: fmt.Sprintf("Voucher %s credited to your wallet", req.Code),
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"transaction": txn,
	})
}
