package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/payment-ledger/internal/db"
	"github.com/ayo6706/payment-ledger/internal/domain"
	"github.com/ayo6706/payment-ledger/internal/models"
	"github.com/ayo6706/payment-ledger/internal/repository"
	"github.com/ayo6706/payment-ledger/internal/service"
	"github.com/ayo6706/payment-ledger/internal/testutil/dblock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	_ = godotenv.Load("../../.env")
	release := dblock.Acquire()
	code := m.Run()
	release()
	os.Exit(code)
}

// setupTestDB migrates and empties the database named by DATABASE_URL, skipping when it is unset.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}

	pool, err := db.Connect(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.Migrate(pool))
	_, err = pool.Exec(context.Background(), "TRUNCATE TABLE audit_log, outbox_events, transactions, accounts CASCADE")
	require.NoError(t, err)
	return pool
}

func seed(t *testing.T, q repository.Querier, id, balance string) {
	t.Helper()
	_, err := q.CreateAccount(context.Background(), repository.CreateAccountParams{
		AccountID: id,
		Balance:   decimal.RequireFromString(balance),
	})
	require.NoError(t, err)
}

func TestConditionalUpdates(t *testing.T) {
	pool := setupTestDB(t)
	q := repository.New(pool)
	ctx := context.Background()
	seed(t, q, "A", "50.00")

	rows, err := q.ConditionalDebit(ctx, "A", decimal.RequireFromString("100.00"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)

	rows, err = q.ConditionalDebit(ctx, "A", decimal.RequireFromString("50.00"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	rows, err = q.ConditionalCredit(ctx, "missing", decimal.RequireFromString("1.00"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)

	rows, err = q.ConditionalCredit(ctx, "A", decimal.RequireFromString("12.34"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	acc, err := q.GetAccount(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "12.34", domain.FormatAmount(acc.Balance))

	_, err = q.GetAccount(ctx, "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestLockAccountsOrderedReturnsExistingIDsInOrder(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	seed(t, store.Queries(), "b", "1.00")
	seed(t, store.Queries(), "a", "1.00")

	var locked []string
	err := store.RunInTx(context.Background(), func(q repository.Querier) error {
		var err error
		locked, err = q.LockAccountsOrdered(context.Background(), "b", "zz", "a")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, locked)
	assert.True(t, sort.StringsAreSorted(locked))
}

func TestDuplicateIdempotencyKeyIsMapped(t *testing.T) {
	pool := setupTestDB(t)
	q := repository.New(pool)
	ctx := context.Background()
	seed(t, q, "A", "10.00")

	params := repository.InsertTransactionParams{
		ID:             uuid.New(),
		Kind:           domain.KindDebit,
		FromAccountID:  models.StrPtr("A"),
		Amount:         decimal.RequireFromString("1.00"),
		Status:         domain.TxStatusCompleted,
		IdempotencyKey: "pg-dup",
	}
	_, err := q.InsertTransaction(ctx, params)
	require.NoError(t, err)

	params.ID = uuid.New()
	_, err = q.InsertTransaction(ctx, params)
	require.ErrorIs(t, err, repository.ErrDuplicateIdempotencyKey)

	got, err := q.GetTransactionByIdempotencyKey(ctx, "pg-dup")
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCompleted, got.Status)
}

func TestOutboxStatusUpdateIsGuarded(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	ctx := context.Background()
	seed(t, store.Queries(), "A", "100.00")

	outbox := service.NewOutboxService(store, nil)
	engine := service.NewTransactionEngine(store, service.NewIdempotencyGuard(nil),
		service.NewStrategyDispatcher(service.DefaultStrategies()...), outbox)
	tx, err := engine.CreateTransaction(ctx, "pg-outbox", domain.CreateTransactionRequest{
		Kind:          domain.KindDebit,
		FromAccountID: "A",
		Amount:        decimal.RequireFromString("1.00"),
	})
	require.NoError(t, err)

	events, err := store.Queries().ListOutboxEventsByAggregate(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "A", events[0].PartitionKey)

	rows, err := store.Queries().UpdateOutboxEventStatus(ctx, repository.UpdateOutboxEventStatusParams{
		ID: events[0].ID, FromStatus: domain.OutboxStatusNew, Status: domain.OutboxStatusSent,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	rows, err = store.Queries().UpdateOutboxEventStatus(ctx, repository.UpdateOutboxEventStatusParams{
		ID: events[0].ID, FromStatus: domain.OutboxStatusNew, Status: domain.OutboxStatusFailed,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)

	anomalies, err := store.Queries().ListOutboxCoverageAnomalies(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, anomalies)
}

func newEngine(store *repository.Store) *service.TransactionEngine {
	return service.NewTransactionEngine(store, service.NewIdempotencyGuard(nil),
		service.NewStrategyDispatcher(service.DefaultStrategies()...), service.NewOutboxService(store, nil))
}

func balanceOf(t *testing.T, q repository.Querier, id string) decimal.Decimal {
	t.Helper()
	acc, err := q.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance
}

// runConcurrently starts every fn at once and fails the test if they do not all return within 15s.
func runConcurrently(t *testing.T, fns ...func() error) []error {
	t.Helper()
	errs := make([]error, len(fns))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func(i int, fn func() error) {
			defer wg.Done()
			<-start
			errs[i] = fn()
		}(i, fn)
	}
	close(start)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("concurrent ledger operations did not finish: possible deadlock")
	}
	return errs
}

func TestOpposingTransfersDoNotDeadlockOnPostgres(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	ctx := context.Background()
	seed(t, store.Queries(), "A", "100.00")
	seed(t, store.Queries(), "B", "100.00")
	engine := newEngine(store)

	var fns []func() error
	for i := 0; i < 20; i++ {
		from, to := "A", "B"
		if i%2 == 1 {
			from, to = "B", "A"
		}
		key := fmt.Sprintf("opposing-%d", i)
		fns = append(fns, func() error {
			_, err := engine.CreateTransaction(ctx, key, domain.CreateTransactionRequest{
				Kind: domain.KindInternalTransfer, FromAccountID: from, ToAccountID: to, Amount: decimal.RequireFromString("10.00"),
			})
			return err
		})
	}

	for _, err := range runConcurrently(t, fns...) {
		// 40P01 (deadlock detected) would surface here as an unexpected error.
		assert.NoError(t, err)
	}
	total := balanceOf(t, store.Queries(), "A").Add(balanceOf(t, store.Queries(), "B"))
	assert.Equal(t, "200.00", domain.FormatAmount(total))
}

func TestBalanceNeverNegativeUnderConcurrentDebitsOnPostgres(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	ctx := context.Background()
	seed(t, store.Queries(), "A", "100.00")
	seed(t, store.Queries(), "B", "0.00")
	engine := newEngine(store)

	var fns []func() error
	for i := 0; i < 30; i++ {
		key := fmt.Sprintf("drain-%d", i)
		req := domain.CreateTransactionRequest{Kind: domain.KindDebit, FromAccountID: "A", Amount: decimal.RequireFromString("10.00")}
		if i%3 == 0 {
			req = domain.CreateTransactionRequest{
				Kind: domain.KindInternalTransfer, FromAccountID: "A", ToAccountID: "B", Amount: decimal.RequireFromString("10.00"),
			}
		}
		fns = append(fns, func() error {
			_, err := engine.CreateTransaction(ctx, key, req)
			return err
		})
	}

	var succeeded int
	for _, err := range runConcurrently(t, fns...) {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	}
	assert.Equal(t, 10, succeeded)
	a := balanceOf(t, store.Queries(), "A")
	assert.False(t, a.IsNegative())
	assert.True(t, a.IsZero(), "A ends at %s", domain.FormatAmount(a))
}

func TestConcurrentDuplicateDebitsConflictOnPostgres(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	ctx := context.Background()
	// Covers exactly one execution: a loser that reached the debit would see InsufficientFunds.
	seed(t, store.Queries(), "A", "150.00")
	engine := newEngine(store)

	const n = 10
	fns := make([]func() error, n)
	for i := range fns {
		fns[i] = func() error {
			_, err := engine.CreateTransaction(ctx, "same-debit", domain.CreateTransactionRequest{
				Kind: domain.KindDebit, FromAccountID: "A", Amount: decimal.RequireFromString("100.00"),
			})
			return err
		}
	}

	var succeeded, conflicts int
	for _, err := range runConcurrently(t, fns...) {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrIdempotencyConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, "50.00", domain.FormatAmount(balanceOf(t, store.Queries(), "A")))
}

func TestConcurrentDuplicateTransfersConflictOnPostgres(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	ctx := context.Background()
	seed(t, store.Queries(), "A", "150.00")
	seed(t, store.Queries(), "B", "0.00")
	engine := newEngine(store)

	const n = 10
	fns := make([]func() error, n)
	for i := range fns {
		fns[i] = func() error {
			_, err := engine.CreateTransaction(ctx, "same-transfer", domain.CreateTransactionRequest{
				Kind: domain.KindInternalTransfer, FromAccountID: "A", ToAccountID: "B", Amount: decimal.RequireFromString("100.00"),
			})
			return err
		}
	}

	var succeeded, conflicts int
	for _, err := range runConcurrently(t, fns...) {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrIdempotencyConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, "50.00", domain.FormatAmount(balanceOf(t, store.Queries(), "A")))
	assert.Equal(t, "100.00", domain.FormatAmount(balanceOf(t, store.Queries(), "B")))

	events, err := store.Queries().ListOutboxEventsByStatus(ctx, repository.ListOutboxEventsByStatusParams{
		Status: domain.OutboxStatusNew, Limit: 10,
	})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestReserveIdempotencyKeyWaitsForHolder(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	ctx := context.Background()

	held := make(chan struct{})
	releaseHolder := make(chan struct{})
	holderDone := make(chan error, 1)
	go func() {
		holderDone <- store.RunInTx(ctx, func(q repository.Querier) error {
			if err := q.ReserveIdempotencyKey(ctx, "contended"); err != nil {
				return err
			}
			close(held)
			<-releaseHolder
			return nil
		})
	}()
	<-held

	waitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	err := store.RunInTx(waitCtx, func(q repository.Querier) error {
		return q.ReserveIdempotencyKey(waitCtx, "contended")
	})
	require.Error(t, err, "a second reservation must block while the first transaction is open")

	require.NoError(t, store.RunInTx(ctx, func(q repository.Querier) error {
		return q.ReserveIdempotencyKey(ctx, "other-key")
	}))

	close(releaseHolder)
	require.NoError(t, <-holderDone)
	require.NoError(t, store.RunInTx(ctx, func(q repository.Querier) error {
		return q.ReserveIdempotencyKey(ctx, "contended")
	}))
}
