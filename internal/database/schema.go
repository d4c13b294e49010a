package database

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/spf13/viper"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		email VARCHAR(255) UNIQUE NOT NULL,
		role VARCHAR(20) NOT NULL DEFAULT 'user',
		wallet_balance BIGINT NOT NULL DEFAULT 0 CHECK (wallet_balance >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS transactions (
		id SERIAL PRIMARY KEY,
		transaction_id UUID UNIQUE NOT NULL,
		user_id UUID NOT NULL REFERENCES users(id),
		type VARCHAR(30) NOT NULL,
		amount BIGINT NOT NULL,
		fee BIGINT NOT NULL DEFAULT 0,
		balance_after BIGINT NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'completed',
		reference VARCHAR(255),
		idempotency_key VARCHAR(255),
		description TEXT,
		related_user_id UUID,
		related_listing_id UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_transactions_user_created
		ON transactions(user_id, created_at DESC)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idempotency_key
		ON transactions(idempotency_key) WHERE idempotency_key IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS topup_requests (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id),
		amount BIGINT NOT NULL CHECK (amount > 0),
		bank VARCHAR(50),
		bank_name VARCHAR(100),
		receipt_url VARCHAR(500),
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		rejection_reason TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ,
		processed_by UUID
	)`,

	`CREATE INDEX IF NOT EXISTS idx_topup_requests_status
		ON topup_requests(status, created_at DESC)`,
}

// Migrate applies the schema and seeds the platform fee account.
func Migrate(db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	feeAccountID := viper.GetString("platform.fee_account_id")
	if feeAccountID == "" {
		feeAccountID = "00000000-0000-0000-0000-000000000001"
	}
	_, err := db.Exec(`
		INSERT INTO users (id, name, email, role, wallet_balance)
		VALUES ($1, 'Platform Fees', 'fees@swapmarket.internal', 'admin', 0)
		ON CONFLICT (id) DO NOTHING`, feeAccountID)
	if err != nil {
		return fmt.Errorf("seed fee account: %w", err)
	}

	log.Println("Database schema up to date")
	return nil
}
