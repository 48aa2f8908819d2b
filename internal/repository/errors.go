package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned by single-row lookups that match nothing.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateIdempotencyKey is returned when the ledger already holds a row with the same key.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

const (
	uniqueViolationCode          = "23505"
	idempotencyKeyConstraintName = "transactions_idempotency_key_key"
)

func isIdempotencyKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolationCode && pgErr.ConstraintName == idempotencyKeyConstraintName
}
