package service

import (
	"context"
	"testing"

	"github.com/ayo6706/payment-ledger/internal/broker"
	"github.com/ayo6706/payment-ledger/internal/domain"
	"github.com/ayo6706/payment-ledger/internal/repository"
	"github.com/ayo6706/payment-ledger/internal/repository/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store     *memstore.Store
	publisher *broker.MockPublisher
	outbox    *OutboxService
	engine    *TransactionEngine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, memstore.New(), nil)
}

func newTestEnvWithStore(t *testing.T, store *memstore.Store, cache KeyCache) *testEnv {
	t.Helper()
	publisher := broker.NewMockPublisher()
	outbox := NewOutboxService(store, publisher)
	engine := NewTransactionEngine(store, NewIdempotencyGuard(cache), NewStrategyDispatcher(DefaultStrategies()...), outbox)
	return &testEnv{store: store, publisher: publisher, outbox: outbox, engine: engine}
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedAccount(t *testing.T, store QueryStore, id, balance string) {
	t.Helper()
	_, err := store.Queries().CreateAccount(context.Background(), repository.CreateAccountParams{
		AccountID: id,
		Balance:   amount(balance),
	})
	require.NoError(t, err)
}

func requireBalance(t *testing.T, store QueryStore, id, want string) {
	t.Helper()
	acc, err := store.Queries().GetAccount(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, want, domain.FormatAmount(acc.Balance), "balance of %s", id)
}

func debit(from, amt string) domain.CreateTransactionRequest {
	return domain.CreateTransactionRequest{Kind: domain.KindDebit, FromAccountID: from, Amount: amount(amt)}
}

func credit(to, amt string) domain.CreateTransactionRequest {
	return domain.CreateTransactionRequest{Kind: domain.KindCredit, ToAccountID: to, Amount: amount(amt)}
}

func transfer(from, to, amt string) domain.CreateTransactionRequest {
	return domain.CreateTransactionRequest{Kind: domain.KindInternalTransfer, FromAccountID: from, ToAccountID: to, Amount: amount(amt)}
}
