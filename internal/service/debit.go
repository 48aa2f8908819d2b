package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/payment-ledger/internal/domain"
	"github.com/ayo6706/payment-ledger/internal/models"
	"github.com/ayo6706/payment-ledger/internal/repository"
)

// DebitStrategy withdraws from a single account.
type DebitStrategy struct{}

func (DebitStrategy) Kind() domain.TransactionKind { return domain.KindDebit }

func (DebitStrategy) Execute(ctx context.Context, q repository.Querier, cmd TransactionCommand) (models.Transaction, error) {
	from := cmd.Request.FromAccountID

	rows, err := q.ConditionalDebit(ctx, from, cmd.Request.Amount)
	if err != nil {
		return models.Transaction{}, err
	}
	if rows == 0 {
		// Zero rows covers both a missing account and a short balance.
		exists, err := q.AccountExists(ctx, from)
		if err != nil {
			return models.Transaction{}, err
		}
		if !exists {
			return models.Transaction{}, domain.NewAccountNotFound(from)
		}
		return models.Transaction{}, fmt.Errorf("%w: account %s", domain.ErrInsufficientFunds, from)
	}

	return recordCompleted(ctx, q, cmd, &from, nil)
}
