package models

import (
	"encoding/json"
	"time"

	"github.com/ayo6706/payment-ledger/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Account struct {
	ID        string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Transaction struct {
	ID             uuid.UUID                `json:"id"`
	Kind           domain.TransactionKind   `json:"type"`
	FromAccountID  *string                  `json:"from_account_id,omitempty"`
	ToAccountID    *string                  `json:"to_account_id,omitempty"`
	Amount         decimal.Decimal          `json:"amount"`
	Status         domain.TransactionStatus `json:"status"`
	IdempotencyKey string                   `json:"idempotency_key"`
	CreatedAt      time.Time                `json:"created_at"`
}

// HistoryItem is a transaction seen from one account.
type HistoryItem struct {
	Transaction
	Direction string `json:"direction"`
}

// Page is one slice of an account's history, newest first.
type Page struct {
	Items      []HistoryItem `json:"items"`
	PageNumber int           `json:"page"`
	PageSize   int           `json:"size"`
	ItemCount  int           `json:"number_of_elements"`
	TotalItems int64         `json:"total_elements"`
	TotalPages int           `json:"total_pages"`
}

type OutboxEvent struct {
	ID           uuid.UUID           `json:"id"`
	AggregateID  uuid.UUID           `json:"aggregate_id"`
	PartitionKey string              `json:"partition_key"`
	Type         string              `json:"type"`
	Payload      json.RawMessage     `json:"payload"`
	Status       domain.OutboxStatus `json:"status"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

type AuditEntry struct {
	ID         int64           `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	ActorID    *string         `json:"actor_id,omitempty"`
	Action     string          `json:"action"`
	PrevState  *string         `json:"prev_state,omitempty"`
	NextState  *string         `json:"next_state,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// StrPtr returns nil for blank strings.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
