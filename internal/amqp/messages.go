package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// TransactionPayload is one parsed bank transaction as published by the
// statement-import pipeline. The id may be empty; the ingest worker assigns
// one before storing.
type TransactionPayload struct {
	ID            string `json:"id,omitempty"`
	Date          string `json:"date"`
	Description   string `json:"description"`
	Merchant      string `json:"merchant,omitempty"`
	AmountCents   int64  `json:"amount_cents"`
	Direction     string `json:"direction"`
	Category      string `json:"category,omitempty"`
	CategoryColor string `json:"category_color,omitempty"`
}

// StatementImportMessage carries the transactions extracted from one bank
// statement into the transaction store.
type StatementImportMessage struct {
	StatementID  string               `json:"statement_id"`
	ImportedAt   time.Time            `json:"imported_at"`
	Transactions []TransactionPayload `json:"transactions"`
}

func NewStatementImportMessage(statementID string, txns []TransactionPayload) *StatementImportMessage {
	return &StatementImportMessage{
		StatementID:  statementID,
		ImportedAt:   time.Now(),
		Transactions: txns,
	}
}

func (m *StatementImportMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func StatementImportMessageFromJSON(data []byte) (*StatementImportMessage, error) {
	var msg StatementImportMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal statement import message: %w", err)
	}
	if msg.StatementID == "" {
		return nil, fmt.Errorf("statement import message missing statement_id")
	}
	if len(msg.Transactions) == 0 {
		return nil, fmt.Errorf("statement import message %q has no transactions", msg.StatementID)
	}
	return &msg, nil
}
