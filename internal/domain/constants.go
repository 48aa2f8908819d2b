package domain

// Transaction kinds.
const (
	KindDebit            TransactionKind = "DEBIT"
	KindCredit           TransactionKind = "CREDIT"
	KindInternalTransfer TransactionKind = "INTERNAL_TRANSFER"
)

// Transaction statuses.
const (
	TxStatusCreated   TransactionStatus = "CREATED"
	TxStatusCompleted TransactionStatus = "COMPLETED"
	TxStatusFailed    TransactionStatus = "FAILED"
)

// Outbox statuses.
const (
	OutboxStatusNew    OutboxStatus = "NEW"
	OutboxStatusSent   OutboxStatus = "SENT"
	OutboxStatusFailed OutboxStatus = "FAILED"
)

// History directions relative to the queried account.
const (
	DirectionIn  = "IN"
	DirectionOut = "OUT"
)

const (
	EventTypeTransactionCompleted = "TransactionCompleted"

	DefaultPageSize = 20
	MaxPageSize     = 100
)
