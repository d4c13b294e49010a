package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	AdminID       string    `json:"admin_id,omitempty"`
	Amount        int64     `json:"amount,omitempty"`
	Status        string    `json:"status"`
	Details       any       `json:"details,omitempty"`
}

// Logger emits one JSON line per balance-affecting event. It runs after
// commit and is best-effort; a lost audit line never rolls back a ledger
// write.
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogLedgerEntry(transactionID, userID, txType string, amount int64, balanceAfter int64) {
	event := Event{
		Timestamp:     time.Now(),
		EventType:     "LEDGER_ENTRY",
		TransactionID: transactionID,
		UserID:        userID,
		Amount:        amount,
		Status:        "SUCCESS",
		Details: map[string]any{
			"type":          txType,
			"balance_after": balanceAfter,
		},
	}
	a.log(event)
}

func (a *Logger) LogTransfer(transactionID, fromUserID, toUserID string, amount, fee int64) {
	event := Event{
		Timestamp:     time.Now(),
		EventType:     "TRANSFER",
		TransactionID: transactionID,
		Amount:        amount,
		Status:        "SUCCESS",
		Details: map[string]any{
			"from_user": fromUserID,
			"to_user":   toUserID,
			"fee":       fee,
		},
	}
	a.log(event)
}

func (a *Logger) LogTopUpDecision(requestID, adminID, decision string, amount int64) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "TOPUP_DECISION",
		UserID:    "",
		AdminID:   adminID,
		Amount:    amount,
		Status:    decision,
		Details:   map[string]string{"request_id": requestID},
	}
	a.log(event)
}

func (a *Logger) LogManualTransaction(transactionID, userID, adminID, txType string, amount int64) {
	event := Event{
		Timestamp:     time.Now(),
		EventType:     "MANUAL_TRANSACTION",
		TransactionID: transactionID,
		UserID:        userID,
		AdminID:       adminID,
		Amount:        amount,
		Status:        "SUCCESS",
		Details:       map[string]string{"type": txType},
	}
	a.log(event)
}

func (a *Logger) LogError(transactionID, userID string, err error) {
	event := Event{
		Timestamp:     time.Now(),
		EventType:     "ERROR",
		TransactionID: transactionID,
		UserID:        userID,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
