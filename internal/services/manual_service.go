package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/swapmarket/backend/internal/audit"
	"github.com/swapmarket/backend/internal/ledger"
	"github.com/swapmarket/backend/internal/models"
)

// ManualTransactionService is the admin tool for discretionary credits
// and refunds. It owns the policy (allowed types, mandatory
// justification); the ledger itself has no opinion on either.
type ManualTransactionService struct {
	ledger    *ledger.Service
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewManualTransactionService(ledgerService *ledger.Service) *ManualTransactionService {
	return &ManualTransactionService{
		ledger:    ledgerService,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

type ManualTransactionRequest struct {
	UserID      string `json:"userId" validate:"required"`
	Type        string `json:"type" validate:"required,oneof=topup refund"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Description string `json:"description" validate:"required"`
}

// ProcessManual credits the target wallet with an admin-authorized
// discretionary transaction. Admins cannot fabricate trade or transfer
// rows; only the top-up and refund shapes are allowed here.
func (ms *ManualTransactionService) ProcessManual(ctx context.Context, req ManualTransactionRequest, adminID string) (*models.Transaction, error) {
	if strings.TrimSpace(req.Description) == "" {
		return nil, &ledger.FieldError{Field: "description", Message: "justification is required"}
	}

	var txType string
	switch req.Type {
	case "topup":
		txType = models.TxTypeManualCredit
	case "refund":
		txType = models.TxTypeRefund
	default:
		return nil, &ledger.FieldError{Field: "type", Message: "must be topup or refund"}
	}

	txn, err := ms.ledger.Credit(ctx, req.UserID, req.Amount, txType, req.Description, ledger.Options{
		Reference: fmt.Sprintf("admin:%s", adminID),
	})
	if err != nil {
		return nil, err
	}

	ms.audit.LogManualTransaction(txn.TransactionID, req.UserID, adminID, txType, req.Amount)
	return txn, nil
}

// CreateManualTransaction processes an admin manual transaction
// @Summary Create a manual transaction
// @Description Credit a user's wallet with an admin-authorized top-up or refund
// @Tags transactions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ManualTransactionRequest true "Manual transaction"
// @Success 201 {object} object{success=bool,message=string,transaction=models.Transaction}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /transactions [post]
func (ms *ManualTransactionService) CreateManualTransaction(w http.ResponseWriter, r *http.Request) {
	adminID, ok := r.Context().Value("userID").(string)
	if !ok || adminID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req ManualTransactionRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	if err := ms.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txn, err := ms.ProcessManual(r.Context(), req, adminID)
	if err != nil {
		SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"message":     "Manual transaction processed",
		"transaction": txn,
	})
}

type FeeChargeRequest struct {
	UserID    string `json:"userId" validate:"required"`
	Type      string `json:"type" validate:"required,oneof=listing-fee featured-fee offer-fee"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	ListingID string `json:"listingId" validate:"required"`
}

// ChargeFee charges a marketplace fee against a seller wallet
// @Summary Charge a platform fee
// @Description Debit a listing, featured or offer fee from a user's wallet
// @Tags transactions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body FeeChargeRequest true "Fee charge"
// @Success 201 {object} object{success=bool,transaction=models.Transaction}
// @Failure 400 {object} ErrorResponse
// @Router /fees [post]
func (ms *ManualTransactionService) ChargeFee(w http.ResponseWriter, r *http.Request) {
	var req FeeChargeRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	if err := ms.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txn, err := ms.ledger.ChargeFee(r.Context(), req.UserID, req.Type, req.Amount, req.ListingID)
	if err != nil {
		SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"transaction": txn,
	})
}
