package ledger

import (
	"errors"
	"fmt"
)

// Sentinel errors, for use with errors.Is. Callers branch on these
// instead of matching message strings; business outcomes (insufficient
// balance, already processed) are distinct from storage failures.
var (
	// ErrWalletNotFound is returned when the target user has no wallet row.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrInsufficientBalance is returned when a debit would drive the
	// balance below zero. This is an expected business outcome, not a
	// system failure.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAlreadyProcessed is returned when a top-up request has already
	// left the pending state. The losing caller performed no side effects.
	ErrAlreadyProcessed = errors.New("request already processed")

	// ErrRequestNotFound is returned for an unknown top-up request id.
	ErrRequestNotFound = errors.New("top-up request not found")

	// ErrBusy is returned when a row lock cannot be acquired within the
	// configured timeout, or the database aborts on a serialization
	// conflict. Safe to retry with backoff; credit retries are made
	// side-effect-free by idempotency keys.
	ErrBusy = errors.New("wallet busy, retry later")

	// ErrValidation is the root of all field-level validation failures.
	ErrValidation = errors.New("validation failed")
)

// FieldError reports a field-level validation failure. It unwraps to
// ErrValidation so callers can branch on the category.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error {
	return ErrValidation
}

// InsufficientBalanceError carries the shortfall details for messaging.
type InsufficientBalanceError struct {
	UserID    string
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for user %s: have %d, need %d",
		e.UserID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}
