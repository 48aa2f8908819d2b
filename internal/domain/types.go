package domain

import (
	"fmt"
	"strings"
)

// TransactionKind selects the strategy that executes a transaction.
type TransactionKind string

// ParseTransactionKind normalizes s and rejects unknown kinds.
func ParseTransactionKind(s string) (TransactionKind, error) {
	kind := TransactionKind(strings.ToUpper(strings.TrimSpace(s)))
	switch kind {
	case KindDebit, KindCredit, KindInternalTransfer:
		return kind, nil
	case "TRANSFER":
		return KindInternalTransfer, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
}

func (k TransactionKind) String() string { return string(k) }

type TransactionStatus string

func (s TransactionStatus) String() string { return string(s) }

// Terminal reports whether no further transition is allowed.
func (s TransactionStatus) Terminal() bool {
	return s == TxStatusCompleted || s == TxStatusFailed
}

type OutboxStatus string

func (s OutboxStatus) String() string { return string(s) }

// ParseOutboxStatus normalizes s and rejects unknown statuses.
func ParseOutboxStatus(s string) (OutboxStatus, error) {
	status := OutboxStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case OutboxStatusNew, OutboxStatusSent, OutboxStatusFailed:
		return status, nil
	}
	return "", fmt.Errorf("%w: unknown outbox status %q", ErrInvalidRequest, s)
}
