package repository

import (
	"context"
	"time"

	"github.com/ayo6706/payment-ledger/internal/domain"
	"github.com/ayo6706/payment-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Querier is the storage contract shared by the Postgres queries and the in-memory store.
type Querier interface {
	CreateAccount(ctx context.Context, arg CreateAccountParams) (models.Account, error)
	GetAccount(ctx context.Context, accountID string) (models.Account, error)
	AccountExists(ctx context.Context, accountID string) (bool, error)
	ConditionalDebit(ctx context.Context, accountID string, amount decimal.Decimal) (int64, error)
	ConditionalCredit(ctx context.Context, accountID string, amount decimal.Decimal) (int64, error)
	LockAccountsOrdered(ctx context.Context, accountIDs ...string) ([]string, error)

	ReserveIdempotencyKey(ctx context.Context, key string) error
	InsertTransaction(ctx context.Context, arg InsertTransactionParams) (models.Transaction, error)
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (models.Transaction, error)
	ListTransactionsByAccount(ctx context.Context, arg ListTransactionsByAccountParams) ([]models.Transaction, error)
	CountTransactionsByAccount(ctx context.Context, accountID string) (int64, error)

	InsertOutboxEvent(ctx context.Context, arg InsertOutboxEventParams) (models.OutboxEvent, error)
	ListOutboxEventsByStatus(ctx context.Context, arg ListOutboxEventsByStatusParams) ([]models.OutboxEvent, error)
	ListOutboxEventsByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]models.OutboxEvent, error)
	UpdateOutboxEventStatus(ctx context.Context, arg UpdateOutboxEventStatusParams) (int64, error)
	CountOutboxEventsOlderThan(ctx context.Context, status domain.OutboxStatus, before time.Time) (int64, error)
	ListOutboxCoverageAnomalies(ctx context.Context, limit int32) ([]OutboxCoverageAnomaly, error)

	InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (int64, error)
}

type CreateAccountParams struct {
	AccountID string
	Balance   decimal.Decimal
}

type InsertTransactionParams struct {
	ID             uuid.UUID
	Kind           domain.TransactionKind
	FromAccountID  *string
	ToAccountID    *string
	Amount         decimal.Decimal
	Status         domain.TransactionStatus
	IdempotencyKey string
}

type ListTransactionsByAccountParams struct {
	AccountID string
	Limit     int32
	Offset    int32
}

type InsertOutboxEventParams struct {
	ID           uuid.UUID
	AggregateID  uuid.UUID
	PartitionKey string
	Type         string
	Payload      []byte
	Status       domain.OutboxStatus
}

type ListOutboxEventsByStatusParams struct {
	Status domain.OutboxStatus
	Limit  int32
}

// UpdateOutboxEventStatusParams moves one event from FromStatus to Status; zero rows means it was not in FromStatus.
type UpdateOutboxEventStatusParams struct {
	ID         uuid.UUID
	FromStatus domain.OutboxStatus
	Status     domain.OutboxStatus
}

// OutboxCoverageAnomaly is a completed transaction that does not have exactly one outbox event.
type OutboxCoverageAnomaly struct {
	TransactionID uuid.UUID
	EventCount    int64
}

type InsertAuditLogParams struct {
	EntityType string
	EntityID   string
	ActorID    *string
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}
