package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/payment-ledger/internal/domain"
	"github.com/ayo6706/payment-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const outboxColumns = `id, aggregate_id, partition_key, event_type, payload, status, created_at, updated_at`

func scanOutboxEvent(row pgx.Row) (models.OutboxEvent, error) {
	var e models.OutboxEvent
	var payload []byte
	err := row.Scan(&e.ID, &e.AggregateID, &e.PartitionKey, &e.Type, &payload, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	e.Payload = payload
	return e, err
}

func collectOutboxEvents(rows pgx.Rows) ([]models.OutboxEvent, error) {
	defer rows.Close()
	events := []models.OutboxEvent{}
	for rows.Next() {
		e, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

const insertOutboxEvent = `
INSERT INTO outbox_events (id, aggregate_id, partition_key, event_type, payload, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, clock_timestamp(), clock_timestamp())
RETURNING ` + outboxColumns

func (q *Queries) InsertOutboxEvent(ctx context.Context, arg InsertOutboxEventParams) (models.OutboxEvent, error) {
	e, err := scanOutboxEvent(q.db.QueryRow(ctx, insertOutboxEvent,
		arg.ID, arg.AggregateID, arg.PartitionKey, arg.Type, arg.Payload, arg.Status))
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("insert outbox event: %w", err)
	}
	return e, nil
}

const listOutboxEventsByStatus = `
SELECT ` + outboxColumns + `
FROM outbox_events
WHERE status = $1
ORDER BY created_at ASC, id ASC
LIMIT $2
`

func (q *Queries) ListOutboxEventsByStatus(ctx context.Context, arg ListOutboxEventsByStatusParams) ([]models.OutboxEvent, error) {
	rows, err := q.db.Query(ctx, listOutboxEventsByStatus, arg.Status, arg.Limit)
	if err != nil {
		return nil, fmt.Errorf("list outbox events: %w", err)
	}
	return collectOutboxEvents(rows)
}

const listOutboxEventsByAggregate = `
SELECT ` + outboxColumns + `
FROM outbox_events
WHERE aggregate_id = $1
ORDER BY created_at ASC
`

func (q *Queries) ListOutboxEventsByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]models.OutboxEvent, error) {
	rows, err := q.db.Query(ctx, listOutboxEventsByAggregate, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("list outbox events by aggregate: %w", err)
	}
	return collectOutboxEvents(rows)
}

const updateOutboxEventStatus = `
UPDATE outbox_events
SET status = $3, updated_at = NOW()
WHERE id = $1 AND status = $2
`

func (q *Queries) UpdateOutboxEventStatus(ctx context.Context, arg UpdateOutboxEventStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateOutboxEventStatus, arg.ID, arg.FromStatus, arg.Status)
	if err != nil {
		return 0, fmt.Errorf("update outbox event status: %w", err)
	}
	return tag.RowsAffected(), nil
}

const countOutboxEventsOlderThan = `
SELECT COUNT(*)
FROM outbox_events
WHERE status = $1 AND created_at < $2
`

func (q *Queries) CountOutboxEventsOlderThan(ctx context.Context, status domain.OutboxStatus, before time.Time) (int64, error) {
	var n int64
	if err := q.db.QueryRow(ctx, countOutboxEventsOlderThan, status, before).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbox events: %w", err)
	}
	return n, nil
}

const listOutboxCoverageAnomalies = `
SELECT t.id, COUNT(e.id)
FROM transactions t
LEFT JOIN outbox_events e ON e.aggregate_id = t.id
WHERE t.status = 'COMPLETED'
GROUP BY t.id
HAVING COUNT(e.id) <> 1
ORDER BY t.id
LIMIT $1
`

func (q *Queries) ListOutboxCoverageAnomalies(ctx context.Context, limit int32) ([]OutboxCoverageAnomaly, error) {
	rows, err := q.db.Query(ctx, listOutboxCoverageAnomalies, limit)
	if err != nil {
		return nil, fmt.Errorf("list outbox coverage anomalies: %w", err)
	}
	defer rows.Close()

	var out []OutboxCoverageAnomaly
	for rows.Next() {
		var a OutboxCoverageAnomaly
		if err := rows.Scan(&a.TransactionID, &a.EventCount); err != nil {
			return nil, fmt.Errorf("scan outbox coverage anomaly: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
