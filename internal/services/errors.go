package services

import (
	"errors"
	"log"
	"net/http"

	"github.com/swapmarket/backend/internal/ledger"
)

// SendLedgerError maps the ledger error taxonomy onto HTTP responses.
// Business outcomes get specific, actionable messages; storage failures
// get a generic retry-later message and an operator log line.
func SendLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		SendErrorResponse(w, "Insufficient balance", http.StatusBadRequest, nil)
	case errors.Is(err, ledger.ErrWalletNotFound):
		SendErrorResponse(w, "Wallet not found", http.StatusNotFound, nil)
	case errors.Is(err, ledger.ErrRequestNotFound):
		SendErrorResponse(w, "Top-up request not found", http.StatusNotFound, nil)
	case errors.Is(err, ledger.ErrAlreadyProcessed):
		SendErrorResponse(w, "Request is no longer pending", http.StatusConflict, nil)
	case errors.Is(err, ledger.ErrBusy):
		SendErrorResponse(w, "Wallet busy, please retry", http.StatusConflict, nil)
	default:
		log.Printf("[LEDGER] Unexpected error: %v", err)
		SendErrorResponse(w, "Something went wrong, please try again later", http.StatusInternalServerError, nil)
	}
}
