package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/viper"
)

// TopUpInstructionService hands a user the platform bank details for a
// planned top-up, with a payment reference and a QR image of the same
// payload for mobile banking apps. The reference is parked in redis so
// a later submission can be matched to it; it carries no ledger state.
type TopUpInstructionService struct {
	redis *redis.Client
}

func NewTopUpInstructionService(rdb *redis.Client) *TopUpInstructionService {
	viper.SetDefault("platform.bank", "SMB")
	viper.SetDefault("platform.bank_name", "SwapMarket Bank")
	viper.SetDefault("platform.bank_account", "0001122334")

	return &TopUpInstructionService{redis: rdb}
}

type TopUpInstructions struct {
	Bank          string `json:"bank"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	Amount        int64  `json:"amount"`
	Reference     string `json:"reference"`
	ExpiresAt     int64  `json:"expires_at"`
}

func (s *TopUpInstructionService) Generate(ctx context.Context, userID string, amount int64) (*TopUpInstructions, string, error) {
	instructions := &TopUpInstructions{
		Bank:          viper.GetString("platform.bank"),
		BankName:      viper.GetString("platform.bank_name"),
		AccountNumber: viper.GetString("platform.bank_account"),
		Amount:        amount,
		Reference:     s.generateReference(),
		ExpiresAt:     time.Now().Add(24 * time.Hour).Unix(),
	}

	payload, err := json.Marshal(map[string]any{
		"userId":    userID,
		"amount":    amount,
		"reference": instructions.Reference,
	})
	if err != nil {
		return nil, "", err
	}

	if s.redis != nil {
		key := fmt.Sprintf("topup:ref:%s", instructions.Reference)
		if err := s.redis.Set(ctx, key, payload, 24*time.Hour).Err(); err != nil {
			return nil, "", err
		}
	}

	qr, err := qrcode.New(string(payload), qrcode.Medium)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return nil, "", err
	}

	return instructions, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (s *TopUpInstructionService) generateReference() string {
	b := make([]byte, 10)
	rand.Read(b)
	return "TOP-" + base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)
}
