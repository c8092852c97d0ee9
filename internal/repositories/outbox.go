package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"function-ticketing-platform/internal/models"
)

// maxOutboxAttempts is the number of deliveries before an event is parked as failed
const maxOutboxAttempts = 10

// OutboxRepository leases and settles outbox events for the relay
type OutboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func insertOutboxEvent(ctx context.Context, tx *sql.Tx, event *models.OutboxEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.AggregateType, event.AggregateID, event.Type, event.Payload, models.OutboxPending, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// LockEvents leases up to batchSize deliverable events. Rows held by another
// relay are skipped; an expired lease makes an event deliverable again.
func (r *OutboxRepository) LockEvents(ctx context.Context, batchSize int, lease time.Duration) ([]models.OutboxEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	rows, err := tx.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, status, attempts, last_error, created_at
		FROM outbox_events
		WHERE available_at <= $1
		  AND (status = 'pending' OR (status = 'processing' AND locked_until < $1))
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $2`, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to lock outbox batch: %w", err)
	}

	var events []models.OutboxEvent
	for rows.Next() {
		var e models.OutboxEvent
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.Type, &e.Payload, &e.Status, &e.Attempts, &e.LastError, &e.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox events: %w", err)
	}

	if len(events) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]int64, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = 'processing', locked_until = $1
		WHERE id = ANY($2)`, now.Add(lease), pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to lease outbox events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit outbox lease: %w", err)
	}

	return events, nil
}

// MarkEventsSent settles delivered events
func (r *OutboxRepository) MarkEventsSent(ctx context.Context, ids []int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = 'sent', sent_at = $1, locked_until = NULL
		WHERE id = ANY($2)`, time.Now(), pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to mark outbox events sent: %w", err)
	}
	return nil
}

// MarkEventFailed records a failed delivery and schedules a retry, parking the
// event once it has used up its attempts.
func (r *OutboxRepository) MarkEventFailed(ctx context.Context, id int64, errMsg string, retryAfter time.Duration) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET attempts = attempts + 1,
			last_error = $2,
			locked_until = NULL,
			available_at = $3,
			status = CASE WHEN attempts + 1 >= $4 THEN 'failed' ELSE 'pending' END
		WHERE id = $1`, id, errMsg, time.Now().Add(retryAfter), maxOutboxAttempts)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event failed: %w", err)
	}
	return nil
}
