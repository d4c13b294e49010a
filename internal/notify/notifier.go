package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// Event is one user-facing wallet notification.
type Event struct {
	Type      string    `json:"type"`
	Amount    int64     `json:"amount,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

const perUserCap = 100

// Notifier pushes wallet events onto a per-user redis list for the
// delivery service to drain. It is strictly best-effort and runs after
// the ledger commit: a failed push is logged and dropped, never
// propagated back into the financial write.
type Notifier struct {
	redis *redis.Client
}

func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{redis: rdb}
}

func (n *Notifier) Notify(ctx context.Context, userID string, event Event) {
	if n.redis == nil {
		log.Printf("[NOTIFY] Redis unavailable, dropping %s for %s", event.Type, userID)
		return
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[NOTIFY] Failed to encode %s for %s: %v", event.Type, userID, err)
		return
	}

	key := fmt.Sprintf("notifications:user:%s", userID)
	if err := n.redis.LPush(ctx, key, data).Err(); err != nil {
		log.Printf("[NOTIFY] Failed to push %s for %s: %v", event.Type, userID, err)
		return
	}
	if err := n.redis.LTrim(ctx, key, 0, perUserCap-1).Err(); err != nil {
		log.Printf("[NOTIFY] Failed to trim queue for %s: %v", userID, err)
	}
}
