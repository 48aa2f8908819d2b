package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/payment-ledger/internal/domain"
	"github.com/ayo6706/payment-ledger/internal/models"
	"github.com/ayo6706/payment-ledger/internal/repository"
	"github.com/shopspring/decimal"
)

type AccountService struct {
	store QueryStore
	audit *AuditService
}

func NewAccountService(store QueryStore) *AccountService {
	return &AccountService{
		store: store,
		audit: NewAuditService(),
	}
}

func (s *AccountService) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.store.Queries().GetAccount(ctx, strings.TrimSpace(accountID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewAccountNotFound(accountID)
		}
		return nil, err
	}
	return &account, nil
}

// CreateAccount provisions an account with an opening balance. Balances change afterwards only through transactions.
func (s *AccountService) CreateAccount(ctx context.Context, accountID string, openingBalance decimal.Decimal, actorID string) (*models.Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, fmt.Errorf("%w: account_id is required", domain.ErrInvalidRequest)
	}
	if openingBalance.IsNegative() {
		return nil, fmt.Errorf("%w: opening balance must not be negative", domain.ErrInvalidRequest)
	}
	if !openingBalance.Equal(openingBalance.Truncate(domain.AmountScale)) {
		return nil, fmt.Errorf("%w: opening balance must have at most %d decimal places", domain.ErrInvalidRequest, domain.AmountScale)
	}

	var account models.Account
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		exists, err := q.AccountExists(ctx, accountID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: account %s already exists", ErrAccountExists, accountID)
		}
		account, err = q.CreateAccount(ctx, repository.CreateAccountParams{
			AccountID: accountID,
			Balance:   domain.NormalizeAmount(openingBalance),
		})
		if err != nil {
			return err
		}
		return s.audit.Write(ctx, q, "account", accountID, textParam(actorID), "create", "", "", nil)
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}

var ErrAccountExists = errors.New("account already exists")
