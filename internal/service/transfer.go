package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/ayo6706/payment-ledger/internal/domain"
	"github.com/ayo6706/payment-ledger/internal/models"
	"github.com/ayo6706/payment-ledger/internal/repository"
)

// TransferStrategy moves funds between two accounts.
//
// Both rows are locked in ascending id order before either balance changes, so
// concurrent A->B and B->A transfers queue on the same first lock instead of
// deadlocking.
type TransferStrategy struct{}

func (TransferStrategy) Kind() domain.TransactionKind { return domain.KindInternalTransfer }

func (TransferStrategy) Execute(ctx context.Context, q repository.Querier, cmd TransactionCommand) (models.Transaction, error) {
	from, to := cmd.Request.FromAccountID, cmd.Request.ToAccountID

	locked, err := q.LockAccountsOrdered(ctx, from, to)
	if err != nil {
		return models.Transaction{}, err
	}
	if len(locked) < 2 {
		if !slices.Contains(locked, from) {
			return models.Transaction{}, domain.NewAccountNotFound(from)
		}
		return models.Transaction{}, domain.NewAccountNotFound(to)
	}

	rows, err := q.ConditionalDebit(ctx, from, cmd.Request.Amount)
	if err != nil {
		return models.Transaction{}, err
	}
	if rows == 0 {
		return models.Transaction{}, fmt.Errorf("%w: account %s", domain.ErrInsufficientFunds, from)
	}

	rows, err = q.ConditionalCredit(ctx, to, cmd.Request.Amount)
	if err != nil {
		return models.Transaction{}, err
	}
	if rows == 0 {
		// Unreachable while the lock is held; reported the same way as a missing account.
		return models.Transaction{}, domain.NewAccountNotFound(to)
	}

	return recordCompleted(ctx, q, cmd, &from, &to)
}
