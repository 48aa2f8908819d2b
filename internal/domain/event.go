package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionCompletedPayload is the JSON body of a TransactionCompleted outbox event.
type TransactionCompletedPayload struct {
	ID            uuid.UUID         `json:"id"`
	Kind          TransactionKind   `json:"kind"`
	FromAccountID *string           `json:"fromAccountId"`
	ToAccountID   *string           `json:"toAccountId"`
	Amount        string            `json:"amount"`
	Status        TransactionStatus `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
}

// PartitionKey routes debits and transfers by source account and credits by destination account.
func PartitionKey(kind TransactionKind, fromAccountID, toAccountID *string) string {
	switch kind {
	case KindCredit:
		return deref(toAccountID)
	default:
		return deref(fromAccountID)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
