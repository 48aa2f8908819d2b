package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ayo6706/payment-ledger/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const createAccount = `
INSERT INTO accounts (account_id, balance, created_at, updated_at)
VALUES ($1, $2, NOW(), NOW())
RETURNING account_id, balance, created_at, updated_at
`

func (q *Queries) CreateAccount(ctx context.Context, arg CreateAccountParams) (models.Account, error) {
	var a models.Account
	err := q.db.QueryRow(ctx, createAccount, arg.AccountID, arg.Balance).Scan(&a.ID, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return models.Account{}, fmt.Errorf("create account: %w", err)
	}
	return a, nil
}

const getAccount = `
SELECT account_id, balance, created_at, updated_at
FROM accounts
WHERE account_id = $1
`

func (q *Queries) GetAccount(ctx context.Context, accountID string) (models.Account, error) {
	var a models.Account
	err := q.db.QueryRow(ctx, getAccount, accountID).Scan(&a.ID, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, ErrNotFound
		}
		return models.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

const accountExists = `SELECT EXISTS (SELECT 1 FROM accounts WHERE account_id = $1)`

func (q *Queries) AccountExists(ctx context.Context, accountID string) (bool, error) {
	var exists bool
	if err := q.db.QueryRow(ctx, accountExists, accountID).Scan(&exists); err != nil {
		return false, fmt.Errorf("account exists: %w", err)
	}
	return exists, nil
}

// The balance predicate and the decrement share one statement; no read precedes it.
const conditionalDebit = `
UPDATE accounts
SET balance = balance - $2, updated_at = NOW()
WHERE account_id = $1 AND balance >= $2
`

func (q *Queries) ConditionalDebit(ctx context.Context, accountID string, amount decimal.Decimal) (int64, error) {
	tag, err := q.db.Exec(ctx, conditionalDebit, accountID, amount)
	if err != nil {
		return 0, fmt.Errorf("conditional debit: %w", err)
	}
	return tag.RowsAffected(), nil
}

const conditionalCredit = `
UPDATE accounts
SET balance = balance + $2, updated_at = NOW()
WHERE account_id = $1
`

func (q *Queries) ConditionalCredit(ctx context.Context, accountID string, amount decimal.Decimal) (int64, error) {
	tag, err := q.db.Exec(ctx, conditionalCredit, accountID, amount)
	if err != nil {
		return 0, fmt.Errorf("conditional credit: %w", err)
	}
	return tag.RowsAffected(), nil
}

// account_id uses the "C" collation so ORDER BY is plain byte order, matching sort.Strings.
const lockAccountsOrdered = `
SELECT account_id
FROM accounts
WHERE account_id = ANY($1::text[])
ORDER BY account_id
FOR UPDATE
`

// LockAccountsOrdered row-locks the given accounts in ascending id order and returns the ids that exist.
func (q *Queries) LockAccountsOrdered(ctx context.Context, accountIDs ...string) ([]string, error) {
	ids := append([]string(nil), accountIDs...)
	sort.Strings(ids)

	rows, err := q.db.Query(ctx, lockAccountsOrdered, ids)
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}
	locked, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}
	return locked, nil
}
