package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CreateTransactionRequest carries the caller's intent before any state is touched.
type CreateTransactionRequest struct {
	Kind          TransactionKind
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
}

// Validate checks the account fields required by each kind and the amount rules.
func (r CreateTransactionRequest) Validate() error {
	if err := ValidateAmount(r.Amount); err != nil {
		return err
	}
	from := strings.TrimSpace(r.FromAccountID)
	to := strings.TrimSpace(r.ToAccountID)

	switch r.Kind {
	case KindDebit:
		if from == "" {
			return fmt.Errorf("%w: from_account_id is required for %s", ErrInvalidRequest, r.Kind)
		}
		if to != "" {
			return fmt.Errorf("%w: to_account_id must be empty for %s", ErrInvalidRequest, r.Kind)
		}
	case KindCredit:
		if to == "" {
			return fmt.Errorf("%w: to_account_id is required for %s", ErrInvalidRequest, r.Kind)
		}
		if from != "" {
			return fmt.Errorf("%w: from_account_id must be empty for %s", ErrInvalidRequest, r.Kind)
		}
	case KindInternalTransfer:
		if from == "" || to == "" {
			return fmt.Errorf("%w: from_account_id and to_account_id are required for %s", ErrInvalidRequest, r.Kind)
		}
		if from == to {
			return fmt.Errorf("%w: cannot transfer to the same account", ErrInvalidRequest)
		}
	case "":
		return fmt.Errorf("%w: type is required", ErrInvalidRequest)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, r.Kind)
	}
	return nil
}
