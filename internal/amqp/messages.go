package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var errMissingEventID = errors.New("message has no event id")

// ExpenseChangedMessage announces a mutation the relay saw the backend accept.
// It carries identifiers only, never session data.
type ExpenseChangedMessage struct {
	EventID    string    `json:"event_id"`
	Operation  string    `json:"operation"`
	ExpenseID  string    `json:"expense_id"`
	Status     int       `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewExpenseChangedMessage creates a message with a fresh event id
func NewExpenseChangedMessage(operation, expenseID string, status int) *ExpenseChangedMessage {
	return &ExpenseChangedMessage{
		EventID:    uuid.NewString(),
		Operation:  operation,
		ExpenseID:  expenseID,
		Status:     status,
		OccurredAt: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ExpenseChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExpenseChangedMessageFromJSON creates a message from JSON bytes
func ExpenseChangedMessageFromJSON(data []byte) (*ExpenseChangedMessage, error) {
	var msg ExpenseChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.EventID == "" {
		return nil, errMissingEventID
	}
	return &msg, nil
}
