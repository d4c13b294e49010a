package models

import (
	"time"
)

// Top-up request lifecycle: pending -> approved | rejected. Both
// terminal states are reached by exactly one admin decision.
const (
	TopUpStatusPending  = "pending"
	TopUpStatusApproved = "approved"
	TopUpStatusRejected = "rejected"
)

// TopUpRequest is a user-submitted claim of an external bank deposit.
// Funds are only credited when an admin approves the claim; the request
// id doubles as the idempotency key for that credit.
type TopUpRequest struct {
	ID              string     `json:"id" db:"id"`
	UserID          string     `json:"user_id" db:"user_id"`
	Amount          int64      `json:"amount" db:"amount"` // in minor units
	Bank            string     `json:"bank" db:"bank"`
	BankName        string     `json:"bank_name" db:"bank_name"`
	ReceiptURL      string     `json:"receipt_url" db:"receipt_url"`
	Status          string     `json:"status" db:"status"`
	RejectionReason string     `json:"rejection_reason,omitempty" db:"rejection_reason"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty" db:"processed_at"`
	ProcessedBy     string     `json:"processed_by,omitempty" db:"processed_by"`
}

// TopUpRequestWithUser embeds display fields for the admin review screen.
type TopUpRequestWithUser struct {
	TopUpRequest
	UserName  string `json:"user_name" db:"user_name"`
	UserEmail string `json:"user_email" db:"user_email"`
}
