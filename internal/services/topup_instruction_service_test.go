package services

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopUpInstructionService_Generate(t *testing.T) {
	service := NewTopUpInstructionService(nil)
	ctx := context.Background()

	t.Run("returns bank details, a reference and a QR image", func(t *testing.T) {
		instructions, qrImage, err := service.Generate(ctx, "user-1", 5000)
		assert.NoError(t, err)
		assert.Equal(t, int64(5000), instructions.Amount)
		assert.NotEmpty(t, instructions.Bank)
		assert.NotEmpty(t, instructions.AccountNumber)
		assert.True(t, strings.HasPrefix(instructions.Reference, "TOP-"))

		decoded, err := base64.StdEncoding.DecodeString(qrImage)
		assert.NoError(t, err)
		// PNG magic bytes.
		assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, decoded[:4])
	})

	t.Run("references are unique per call", func(t *testing.T) {
		first, _, err := service.Generate(ctx, "user-1", 1000)
		assert.NoError(t, err)
		second, _, err := service.Generate(ctx, "user-1", 1000)
		assert.NoError(t, err)
		assert.NotEqual(t, first.Reference, second.Reference)
	})
}
