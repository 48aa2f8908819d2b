// Package memstore is an in-process implementation of repository.Querier.
// Every unit of work holds a store-wide mutex and edits a private copy of the
// state that replaces the committed state only when the work succeeds.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ayo6706/payment-ledger/internal/domain"
	"github.com/ayo6706/payment-ledger/internal/models"
	"github.com/ayo6706/payment-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

// WithClock overrides the timestamp source; tests use it to control ordering.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Queries() repository.Querier {
	return &queries{store: s}
}

func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	staged := s.state.clone()
	if err := fn(&queries{store: s, st: staged}); err != nil {
		return err
	}
	s.state = staged
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

type state struct {
	accounts     map[string]models.Account
	transactions []models.Transaction
	byKey        map[string]int
	outbox       []models.OutboxEvent
	audit        []models.AuditEntry
	seq          int64
}

func newState() *state {
	return &state{
		accounts: map[string]models.Account{},
		byKey:    map[string]int{},
	}
}

func (st *state) clone() *state {
	c := &state{
		accounts:     make(map[string]models.Account, len(st.accounts)),
		transactions: append([]models.Transaction(nil), st.transactions...),
		byKey:        make(map[string]int, len(st.byKey)),
		outbox:       append([]models.OutboxEvent(nil), st.outbox...),
		audit:        append([]models.AuditEntry(nil), st.audit...),
		seq:          st.seq,
	}
	for k, v := range st.accounts {
		c.accounts[k] = v
	}
	for k, v := range st.byKey {
		c.byKey[k] = v
	}
	return c
}

// queries operates on st inside a unit of work, or on the committed state under the store mutex otherwise.
type queries struct {
	store *Store
	st    *state
}

var _ repository.Querier = (*queries)(nil)

func (q *queries) run(fn func(st *state) error) error {
	if q.st != nil {
		return fn(q.st)
	}
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	return fn(q.store.state)
}

// tick returns a strictly increasing timestamp so creation order is total.
func (q *queries) tick(st *state) time.Time {
	st.seq++
	return q.store.now().UTC().Add(time.Duration(st.seq) * time.Nanosecond)
}

func (q *queries) CreateAccount(ctx context.Context, arg repository.CreateAccountParams) (models.Account, error) {
	var out models.Account
	err := q.run(func(st *state) error {
		if _, ok := st.accounts[arg.AccountID]; ok {
			return fmt.Errorf("create account: account %s already exists", arg.AccountID)
		}
		if arg.Balance.IsNegative() {
			return fmt.Errorf("create account: balance must not be negative")
		}
		now := q.tick(st)
		out = models.Account{ID: arg.AccountID, Balance: domain.NormalizeAmount(arg.Balance), CreatedAt: now, UpdatedAt: now}
		st.accounts[arg.AccountID] = out
		return nil
	})
	return out, err
}

func (q *queries) GetAccount(ctx context.Context, accountID string) (models.Account, error) {
	var out models.Account
	err := q.run(func(st *state) error {
		a, ok := st.accounts[accountID]
		if !ok {
			return repository.ErrNotFound
		}
		out = a
		return nil
	})
	return out, err
}

func (q *queries) AccountExists(ctx context.Context, accountID string) (bool, error) {
	var ok bool
	err := q.run(func(st *state) error {
		_, ok = st.accounts[accountID]
		return nil
	})
	return ok, err
}

func (q *queries) ConditionalDebit(ctx context.Context, accountID string, amount decimal.Decimal) (int64, error) {
	var rows int64
	err := q.run(func(st *state) error {
		a, ok := st.accounts[accountID]
		if !ok || a.Balance.LessThan(amount) {
			return nil
		}
		a.Balance = a.Balance.Sub(amount)
		a.UpdatedAt = q.tick(st)
		st.accounts[accountID] = a
		rows = 1
		return nil
	})
	return rows, err
}

func (q *queries) ConditionalCredit(ctx context.Context, accountID string, amount decimal.Decimal) (int64, error) {
	var rows int64
	err := q.run(func(st *state) error {
		a, ok := st.accounts[accountID]
		if !ok {
			return nil
		}
		a.Balance = a.Balance.Add(amount)
		a.UpdatedAt = q.tick(st)
		st.accounts[accountID] = a
		rows = 1
		return nil
	})
	return rows, err
}

// LockAccountsOrdered reports the existing ids in ascending order. The unit-of-work mutex already excludes other writers.
func (q *queries) LockAccountsOrdered(ctx context.Context, accountIDs ...string) ([]string, error) {
	var locked []string
	err := q.run(func(st *state) error {
		for _, id := range accountIDs {
			if _, ok := st.accounts[id]; ok {
				locked = append(locked, id)
			}
		}
		sort.Strings(locked)
		return nil
	})
	return locked, err
}

// ReserveIdempotencyKey is a no-op: units of work already run one at a time under the store mutex.
func (q *queries) ReserveIdempotencyKey(context.Context, string) error {
	return nil
}

func (q *queries) InsertTransaction(ctx context.Context, arg repository.InsertTransactionParams) (models.Transaction, error) {
	var out models.Transaction
	err := q.run(func(st *state) error {
		if _, ok := st.byKey[arg.IdempotencyKey]; ok {
			return fmt.Errorf("%w: %s", repository.ErrDuplicateIdempotencyKey, arg.IdempotencyKey)
		}
		out = models.Transaction{
			ID:             arg.ID,
			Kind:           arg.Kind,
			FromAccountID:  arg.FromAccountID,
			ToAccountID:    arg.ToAccountID,
			Amount:         domain.NormalizeAmount(arg.Amount),
			Status:         arg.Status,
			IdempotencyKey: arg.IdempotencyKey,
			CreatedAt:      q.tick(st),
		}
		st.byKey[arg.IdempotencyKey] = len(st.transactions)
		st.transactions = append(st.transactions, out)
		return nil
	})
	return out, err
}

func (q *queries) GetTransactionByIdempotencyKey(ctx context.Context, key string) (models.Transaction, error) {
	var out models.Transaction
	err := q.run(func(st *state) error {
		idx, ok := st.byKey[key]
		if !ok {
			return repository.ErrNotFound
		}
		out = st.transactions[idx]
		return nil
	})
	return out, err
}

func touches(t models.Transaction, accountID string) bool {
	return (t.FromAccountID != nil && *t.FromAccountID == accountID) ||
		(t.ToAccountID != nil && *t.ToAccountID == accountID)
}

func (q *queries) ListTransactionsByAccount(ctx context.Context, arg repository.ListTransactionsByAccountParams) ([]models.Transaction, error) {
	items := []models.Transaction{}
	err := q.run(func(st *state) error {
		var matched []models.Transaction
		for i := len(st.transactions) - 1; i >= 0; i-- {
			if touches(st.transactions[i], arg.AccountID) {
				matched = append(matched, st.transactions[i])
			}
		}
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		})
		start := int(arg.Offset)
		if start >= len(matched) {
			return nil
		}
		end := min(start+int(arg.Limit), len(matched))
		items = append(items, matched[start:end]...)
		return nil
	})
	return items, err
}

func (q *queries) CountTransactionsByAccount(ctx context.Context, accountID string) (int64, error) {
	var n int64
	err := q.run(func(st *state) error {
		for _, t := range st.transactions {
			if touches(t, accountID) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (q *queries) InsertOutboxEvent(ctx context.Context, arg repository.InsertOutboxEventParams) (models.OutboxEvent, error) {
	var out models.OutboxEvent
	err := q.run(func(st *state) error {
		now := q.tick(st)
		out = models.OutboxEvent{
			ID:           arg.ID,
			AggregateID:  arg.AggregateID,
			PartitionKey: arg.PartitionKey,
			Type:         arg.Type,
			Payload:      append([]byte(nil), arg.Payload...),
			Status:       arg.Status,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		st.outbox = append(st.outbox, out)
		return nil
	})
	return out, err
}

func (q *queries) ListOutboxEventsByStatus(ctx context.Context, arg repository.ListOutboxEventsByStatusParams) ([]models.OutboxEvent, error) {
	events := []models.OutboxEvent{}
	err := q.run(func(st *state) error {
		for _, e := range st.outbox {
			if e.Status != arg.Status {
				continue
			}
			events = append(events, e)
			if len(events) == int(arg.Limit) {
				break
			}
		}
		return nil
	})
	return events, err
}

func (q *queries) ListOutboxEventsByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]models.OutboxEvent, error) {
	events := []models.OutboxEvent{}
	err := q.run(func(st *state) error {
		for _, e := range st.outbox {
			if e.AggregateID == aggregateID {
				events = append(events, e)
			}
		}
		return nil
	})
	return events, err
}

func (q *queries) UpdateOutboxEventStatus(ctx context.Context, arg repository.UpdateOutboxEventStatusParams) (int64, error) {
	var rows int64
	err := q.run(func(st *state) error {
		for i, e := range st.outbox {
			if e.ID != arg.ID || e.Status != arg.FromStatus {
				continue
			}
			st.outbox[i].Status = arg.Status
			st.outbox[i].UpdatedAt = q.tick(st)
			rows = 1
			return nil
		}
		return nil
	})
	return rows, err
}

func (q *queries) CountOutboxEventsOlderThan(ctx context.Context, status domain.OutboxStatus, before time.Time) (int64, error) {
	var n int64
	err := q.run(func(st *state) error {
		for _, e := range st.outbox {
			if e.Status == status && e.CreatedAt.Before(before) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (q *queries) ListOutboxCoverageAnomalies(ctx context.Context, limit int32) ([]repository.OutboxCoverageAnomaly, error) {
	var out []repository.OutboxCoverageAnomaly
	err := q.run(func(st *state) error {
		counts := make(map[uuid.UUID]int64, len(st.outbox))
		for _, e := range st.outbox {
			counts[e.AggregateID]++
		}
		for _, t := range st.transactions {
			if t.Status != domain.TxStatusCompleted || counts[t.ID] == 1 {
				continue
			}
			out = append(out, repository.OutboxCoverageAnomaly{TransactionID: t.ID, EventCount: counts[t.ID]})
			if len(out) == int(limit) {
				break
			}
		}
		return nil
	})
	return out, err
}

func (q *queries) InsertAuditLog(ctx context.Context, arg repository.InsertAuditLogParams) (int64, error) {
	var id int64
	err := q.run(func(st *state) error {
		id = int64(len(st.audit) + 1)
		st.audit = append(st.audit, models.AuditEntry{
			ID:         id,
			EntityType: arg.EntityType,
			EntityID:   arg.EntityID,
			ActorID:    arg.ActorID,
			Action:     arg.Action,
			PrevState:  arg.PrevState,
			NextState:  arg.NextState,
			Metadata:   append([]byte(nil), arg.Metadata...),
			CreatedAt:  q.tick(st),
		})
		return nil
	})
	return id, err
}

// AuditEntries returns a copy of the committed audit trail.
func (s *Store) AuditEntries() []models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditEntry(nil), s.state.audit...)
}
