package domain

import "errors"

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrIdempotencyConflict    = errors.New("idempotency key already used")
	ErrEventSerialization     = errors.New("event serialization failed")
	ErrPublishFailure         = errors.New("event publish failed")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrUnsupportedKind        = errors.New("unsupported transaction kind")
)

// AccountNotFoundError names the missing account while still matching ErrAccountNotFound.
type AccountNotFoundError struct {
	AccountID string
}

func (e *AccountNotFoundError) Error() string {
	return "account not found: " + e.AccountID
}

func (e *AccountNotFoundError) Unwrap() error {
	return ErrAccountNotFound
}

// NewAccountNotFound returns an error for the given account id.
func NewAccountNotFound(accountID string) error {
	return &AccountNotFoundError{AccountID: accountID}
}
