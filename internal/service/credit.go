package service

import (
	"context"

	"github.com/ayo6706/payment-ledger/internal/domain"
	"github.com/ayo6706/payment-ledger/internal/models"
	"github.com/ayo6706/payment-ledger/internal/repository"
)

// CreditStrategy deposits into a single account.
type CreditStrategy struct{}

func (CreditStrategy) Kind() domain.TransactionKind { return domain.KindCredit }

func (CreditStrategy) Execute(ctx context.Context, q repository.Querier, cmd TransactionCommand) (models.Transaction, error) {
	to := cmd.Request.ToAccountID

	rows, err := q.ConditionalCredit(ctx, to, cmd.Request.Amount)
	if err != nil {
		return models.Transaction{}, err
	}
	if rows == 0 {
		return models.Transaction{}, domain.NewAccountNotFound(to)
	}

	return recordCompleted(ctx, q, cmd, nil, &to)
}
