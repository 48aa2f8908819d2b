package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ayo6706/payment-ledger/internal/domain"
	"github.com/ayo6706/payment-ledger/internal/models"
	"github.com/ayo6706/payment-ledger/internal/repository"
	"github.com/ayo6706/payment-ledger/internal/repository/memstore"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoreWithAccount(t *testing.T, id, balance string) *memstore.Store {
	t.Helper()
	s := memstore.New()
	_, err := s.Queries().CreateAccount(context.Background(), repository.CreateAccountParams{
		AccountID: id,
		Balance:   decimal.RequireFromString(balance),
	})
	require.NoError(t, err)
	return s
}

func TestConditionalDebitNeverOverdraws(t *testing.T) {
	s := newStoreWithAccount(t, "A", "10.00")
	q := s.Queries()
	ctx := context.Background()

	rows, err := q.ConditionalDebit(ctx, "A", decimal.RequireFromString("10.01"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)

	rows, err = q.ConditionalDebit(ctx, "A", decimal.RequireFromString("10.00"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	rows, err = q.ConditionalDebit(ctx, "missing", decimal.RequireFromString("1.00"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)

	acc, err := q.GetAccount(ctx, "A")
	require.NoError(t, err)
	assert.True(t, acc.Balance.IsZero())
}

func TestRunInTxDiscardsStateOnError(t *testing.T) {
	s := newStoreWithAccount(t, "A", "10.00")
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(q repository.Querier) error {
		rows, err := q.ConditionalCredit(ctx, "A", decimal.RequireFromString("5.00"))
		require.NoError(t, err)
		require.Equal(t, int64(1), rows)
		_, err = q.InsertTransaction(ctx, repository.InsertTransactionParams{
			ID: uuid.New(), Kind: domain.KindCredit, ToAccountID: models.StrPtr("A"),
			Amount: decimal.RequireFromString("5.00"), Status: domain.TxStatusCompleted, IdempotencyKey: "k",
		})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	acc, err := s.Queries().GetAccount(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "10.00", domain.FormatAmount(acc.Balance))
	_, err = s.Queries().GetTransactionByIdempotencyKey(ctx, "k")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRunInTxHonoursCancelledContext(t *testing.T) {
	s := memstore.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.RunInTx(ctx, func(repository.Querier) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestInsertTransactionRejectsDuplicateKey(t *testing.T) {
	s := newStoreWithAccount(t, "A", "10.00")
	q := s.Queries()
	ctx := context.Background()
	params := repository.InsertTransactionParams{
		ID: uuid.New(), Kind: domain.KindDebit, FromAccountID: models.StrPtr("A"),
		Amount: decimal.RequireFromString("1.00"), Status: domain.TxStatusCompleted, IdempotencyKey: "dup",
	}

	_, err := q.InsertTransaction(ctx, params)
	require.NoError(t, err)
	params.ID = uuid.New()
	_, err = q.InsertTransaction(ctx, params)
	assert.ErrorIs(t, err, repository.ErrDuplicateIdempotencyKey)
}

func TestLockAccountsOrderedSortsAndFilters(t *testing.T) {
	s := newStoreWithAccount(t, "b", "1.00")
	_, err := s.Queries().CreateAccount(context.Background(), repository.CreateAccountParams{AccountID: "a", Balance: decimal.Zero})
	require.NoError(t, err)

	locked, err := s.Queries().LockAccountsOrdered(context.Background(), "b", "x", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, locked)
}

func TestHistoryIsNewestFirstAndPaged(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := memstore.New().WithClock(func() time.Time { return base })
	q := s.Queries()
	ctx := context.Background()
	_, err := q.CreateAccount(ctx, repository.CreateAccountParams{AccountID: "A", Balance: decimal.Zero})
	require.NoError(t, err)

	var keys []string
	for _, k := range []string{"k1", "k2", "k3"} {
		_, err := q.InsertTransaction(ctx, repository.InsertTransactionParams{
			ID: uuid.New(), Kind: domain.KindCredit, ToAccountID: models.StrPtr("A"),
			Amount: decimal.RequireFromString("1.00"), Status: domain.TxStatusCompleted, IdempotencyKey: k,
		})
		require.NoError(t, err)
		keys = append(keys, k)
	}

	page, err := q.ListTransactionsByAccount(ctx, repository.ListTransactionsByAccountParams{AccountID: "A", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, keys[2], page[0].IdempotencyKey)
	assert.Equal(t, keys[1], page[1].IdempotencyKey)

	page, err = q.ListTransactionsByAccount(ctx, repository.ListTransactionsByAccountParams{AccountID: "A", Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, keys[0], page[0].IdempotencyKey)

	page, err = q.ListTransactionsByAccount(ctx, repository.ListTransactionsByAccountParams{AccountID: "A", Limit: 2, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, page)

	n, err := q.CountTransactionsByAccount(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestOutboxStatusUpdateRequiresExpectedStatus(t *testing.T) {
	s := memstore.New()
	q := s.Queries()
	ctx := context.Background()

	first, err := q.InsertOutboxEvent(ctx, repository.InsertOutboxEventParams{
		ID: uuid.New(), AggregateID: uuid.New(), PartitionKey: "A", Type: domain.EventTypeTransactionCompleted,
		Payload: []byte(`{}`), Status: domain.OutboxStatusNew,
	})
	require.NoError(t, err)
	second, err := q.InsertOutboxEvent(ctx, repository.InsertOutboxEventParams{
		ID: uuid.New(), AggregateID: uuid.New(), PartitionKey: "B", Type: domain.EventTypeTransactionCompleted,
		Payload: []byte(`{}`), Status: domain.OutboxStatusNew,
	})
	require.NoError(t, err)

	pending, err := q.ListOutboxEventsByStatus(ctx, repository.ListOutboxEventsByStatusParams{Status: domain.OutboxStatusNew, Limit: 10})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)

	rows, err := q.UpdateOutboxEventStatus(ctx, repository.UpdateOutboxEventStatusParams{
		ID: first.ID, FromStatus: domain.OutboxStatusNew, Status: domain.OutboxStatusSent,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	rows, err = q.UpdateOutboxEventStatus(ctx, repository.UpdateOutboxEventStatusParams{
		ID: first.ID, FromStatus: domain.OutboxStatusNew, Status: domain.OutboxStatusFailed,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)

	pending, err = q.ListOutboxEventsByStatus(ctx, repository.ListOutboxEventsByStatusParams{Status: domain.OutboxStatusNew, Limit: 10})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
}

func TestCoverageAnomaliesFlagMissingEvents(t *testing.T) {
	s := newStoreWithAccount(t, "A", "0.00")
	q := s.Queries()
	ctx := context.Background()

	covered, err := q.InsertTransaction(ctx, repository.InsertTransactionParams{
		ID: uuid.New(), Kind: domain.KindCredit, ToAccountID: models.StrPtr("A"),
		Amount: decimal.RequireFromString("1.00"), Status: domain.TxStatusCompleted, IdempotencyKey: "covered",
	})
	require.NoError(t, err)
	_, err = q.InsertOutboxEvent(ctx, repository.InsertOutboxEventParams{
		ID: uuid.New(), AggregateID: covered.ID, PartitionKey: "A", Type: domain.EventTypeTransactionCompleted,
		Payload: []byte(`{}`), Status: domain.OutboxStatusNew,
	})
	require.NoError(t, err)

	bare, err := q.InsertTransaction(ctx, repository.InsertTransactionParams{
		ID: uuid.New(), Kind: domain.KindCredit, ToAccountID: models.StrPtr("A"),
		Amount: decimal.RequireFromString("1.00"), Status: domain.TxStatusCompleted, IdempotencyKey: "bare",
	})
	require.NoError(t, err)

	anomalies, err := q.ListOutboxCoverageAnomalies(ctx, 10)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, bare.ID, anomalies[0].TransactionID)
	assert.Equal(t, int64(0), anomalies[0].EventCount)
}

func TestAuditEntriesAreCommittedOnly(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	_ = s.RunInTx(ctx, func(q repository.Querier) error {
		_, err := q.InsertAuditLog(ctx, repository.InsertAuditLogParams{EntityType: "outbox_event", EntityID: "x", Action: "replay"})
		require.NoError(t, err)
		return errors.New("rollback")
	})
	assert.Empty(t, s.AuditEntries())

	require.NoError(t, s.RunInTx(ctx, func(q repository.Querier) error {
		_, err := q.InsertAuditLog(ctx, repository.InsertAuditLogParams{EntityType: "outbox_event", EntityID: "x", Action: "replay"})
		return err
	}))
	entries := s.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "replay", entries[0].Action)
}
