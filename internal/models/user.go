package models

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User carries the marketplace account fields the wallet core needs.
// Profile, listings and session data live with their own services.
type User struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Email         string    `json:"email" db:"email"`
	Role          string    `json:"role" db:"role"`
	WalletBalance int64     `json:"walletBalance" db:"wallet_balance"` // in minor units
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
}
