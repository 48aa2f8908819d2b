package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/payment-ledger/internal/models"
	"github.com/jackc/pgx/v5"
)

const transactionColumns = `id, kind, from_account_id, to_account_id, amount, status, idempotency_key, created_at`

func scanTransaction(row pgx.Row) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.Kind, &t.FromAccountID, &t.ToAccountID, &t.Amount, &t.Status, &t.IdempotencyKey, &t.CreatedAt)
	return t, err
}

const reserveIdempotencyKey = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

// ReserveIdempotencyKey blocks until no other open transaction holds key, and holds it until this one ends.
// Call it inside RunInTx before looking the key up, so a second submission of the key sees the first's
// committed row instead of racing it for the account locks.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, key string) error {
	if _, err := q.db.Exec(ctx, reserveIdempotencyKey, key); err != nil {
		return fmt.Errorf("reserve idempotency key: %w", err)
	}
	return nil
}

const insertTransaction = `
INSERT INTO transactions (id, kind, from_account_id, to_account_id, amount, status, idempotency_key, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
RETURNING ` + transactionColumns

// InsertTransaction maps a unique violation on idempotency_key to ErrDuplicateIdempotencyKey.
func (q *Queries) InsertTransaction(ctx context.Context, arg InsertTransactionParams) (models.Transaction, error) {
	row := q.db.QueryRow(ctx, insertTransaction,
		arg.ID, arg.Kind, arg.FromAccountID, arg.ToAccountID, arg.Amount, arg.Status, arg.IdempotencyKey)
	t, err := scanTransaction(row)
	if err != nil {
		if isIdempotencyKeyViolation(err) {
			return models.Transaction{}, fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, arg.IdempotencyKey)
		}
		return models.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return t, nil
}

const getTransactionByIdempotencyKey = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE idempotency_key = $1
`

func (q *Queries) GetTransactionByIdempotencyKey(ctx context.Context, key string) (models.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRow(ctx, getTransactionByIdempotencyKey, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Transaction{}, ErrNotFound
		}
		return models.Transaction{}, fmt.Errorf("get transaction by idempotency key: %w", err)
	}
	return t, nil
}

const listTransactionsByAccount = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE from_account_id = $1 OR to_account_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`

func (q *Queries) ListTransactionsByAccount(ctx context.Context, arg ListTransactionsByAccountParams) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx, listTransactionsByAccount, arg.AccountID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	items := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return items, nil
}

const countTransactionsByAccount = `
SELECT COUNT(*)
FROM transactions
WHERE from_account_id = $1 OR to_account_id = $1
`

func (q *Queries) CountTransactionsByAccount(ctx context.Context, accountID string) (int64, error) {
	var n int64
	if err := q.db.QueryRow(ctx, countTransactionsByAccount, accountID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}
