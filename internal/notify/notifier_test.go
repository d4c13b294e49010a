package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestNotifier_Notify(t *testing.T) {
	ctx := context.Background()

	t.Run("pushes and trims the per-user queue", func(t *testing.T) {
		rdb, mock := redismock.NewClientMock()
		notifier := NewNotifier(rdb)

		event := Event{
			Type:      "topup_approved",
			Amount:    5000,
			Message:   "Your top-up request has been approved",
			CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		}
		payload, err := json.Marshal(event)
		assert.NoError(t, err)

		mock.ExpectLPush("notifications:user:user-1", payload).SetVal(1)
		mock.ExpectLTrim("notifications:user:user-1", 0, 99).SetVal("OK")

		notifier.Notify(ctx, "user-1", event)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("push failure is swallowed", func(t *testing.T) {
		rdb, mock := redismock.NewClientMock()
		notifier := NewNotifier(rdb)

		event := Event{
			Type:      "transfer_received",
			Amount:    1000,
			Message:   "You received a transfer of 1000",
			CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		}
		payload, err := json.Marshal(event)
		assert.NoError(t, err)

		mock.ExpectLPush("notifications:user:user-2", payload).SetErr(assert.AnError)

		// Must not panic or propagate; the ledger write already committed.
		notifier.Notify(ctx, "user-2", event)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil redis drops the event", func(t *testing.T) {
		notifier := NewNotifier(nil)
		notifier.Notify(ctx, "user-3", Event{Type: "topup_rejected"})
	})
}
