package models

import (
	"time"
)

// Transaction types. Trade and transfer types only ever arise from their
// own workflows; admins cannot fabricate them through the manual endpoint.
const (
	TxTypeTopUp        = "topup"
	TxTypeTransferIn   = "transfer-in"
	TxTypeTransferOut  = "transfer-out"
	TxTypeTransferFee  = "transfer-fee"
	TxTypeListingFee   = "listing-fee"
	TxTypeFeaturedFee  = "featured-fee"
	TxTypeOfferFee     = "offer-fee"
	TxTypeVoucher      = "voucher"
	TxTypeTrade        = "trade"
	TxTypeRefund       = "refund"
	TxTypeManualCredit = "manual-credit"
	TxTypeManualDebit  = "manual-debit"
)

const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
	TxStatusRefunded  = "refunded"
)

// Transaction is one balance-affecting ledger row. Once status is
// "completed" the row is never edited; corrections are compensating rows.
type Transaction struct {
	ID               int       `json:"id" db:"id"`
	TransactionID    string    `json:"transaction_id" db:"transaction_id"`
	UserID           string    `json:"user_id" db:"user_id"`
	Type             string    `json:"type" db:"type"`
	Amount           int64     `json:"amount" db:"amount"` // signed, in minor units
	Fee              int64     `json:"fee" db:"fee"`
	BalanceAfter     int64     `json:"balance_after" db:"balance_after"`
	Status           string    `json:"status" db:"status"`
	Reference        string    `json:"reference,omitempty" db:"reference"`
	IdempotencyKey   string    `json:"-" db:"idempotency_key"`
	Description      string    `json:"description" db:"description"`
	RelatedUserID    string    `json:"related_user_id,omitempty" db:"related_user_id"`
	RelatedListingID string    `json:"related_listing_id,omitempty" db:"related_listing_id"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

var validTxTypes = map[string]bool{
	TxTypeTopUp:        true,
	TxTypeTransferIn:   true,
	TxTypeTransferOut:  true,
	TxTypeTransferFee:  true,
	TxTypeListingFee:   true,
	TxTypeFeaturedFee:  true,
	TxTypeOfferFee:     true,
	TxTypeVoucher:      true,
	TxTypeTrade:        true,
	TxTypeRefund:       true,
	TxTypeManualCredit: true,
	TxTypeManualDebit:  true,
}

func IsValidTxType(t string) bool {
	return validTxTypes[t]
}

// IsPlatformFeeType reports whether t is one of the fee charges the
// marketplace levies against a seller's wallet.
func IsPlatformFeeType(t string) bool {
	return t == TxTypeListingFee || t == TxTypeFeaturedFee || t == TxTypeOfferFee
}
