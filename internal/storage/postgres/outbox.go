package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookshop-orders/internal/domain/checkout"
	"github.com/xenking/bookshop-orders/internal/outbox"
)

const (
	insertOutboxSQL = `INSERT INTO outbox (event_id, topic, key, payload) VALUES ($1, $2, $3, $4)`

	// SKIP LOCKED lets several relays drain the table without sending the
	// same message concurrently.
	claimOutboxSQL = `SELECT id, event_id::text, topic, key, payload, created_at FROM outbox
		WHERE sent_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	markOutboxSentSQL = `UPDATE outbox SET sent_at = now() WHERE id = ANY($1)`
)

var (
	_ checkout.EventRecorder = (*OutboxRepository)(nil)
	_ outbox.Store           = (*OutboxStore)(nil)
)

// OutboxRepository writes domain events in the caller's transaction.
type OutboxRepository struct {
	db DBTX
}

// NewOutboxRepository returns an OutboxRepository that uses db.
func NewOutboxRepository(db DBTX) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Record stores e under a fresh event id.
func (r *OutboxRepository) Record(ctx context.Context, e checkout.Event) error {
	if _, err := r.db.Exec(ctx, insertOutboxSQL, uuid.NewString(), e.Topic, e.Key, e.Payload); err != nil {
		return fmt.Errorf("inserting %s event: %w", e.Topic, err)
	}
	return nil
}

// OutboxStore claims unsent events for the relay.
type OutboxStore struct {
	pool *pgxpool.Pool
}

// NewOutboxStore returns an OutboxStore over pool.
func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

// Process claims a batch with row locks held while fn publishes it.
func (s *OutboxStore) Process(ctx context.Context, limit int, fn func(ctx context.Context, msgs []outbox.Message) error) (int, error) {
	var claimed int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, claimOutboxSQL, limit)
		if err != nil {
			return fmt.Errorf("claiming outbox messages: %w", err)
		}
		msgs, err := pgx.CollectRows(rows, scanOutboxMessage)
		if err != nil {
			return fmt.Errorf("claiming outbox messages: %w", err)
		}
		if len(msgs) == 0 {
			return nil
		}

		if err := fn(ctx, msgs); err != nil {
			return err
		}

		ids := make([]int64, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		if _, err := tx.Exec(ctx, markOutboxSentSQL, ids); err != nil {
			return fmt.Errorf("marking outbox messages sent: %w", err)
		}
		claimed = len(msgs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return claimed, nil
}

func scanOutboxMessage(row pgx.CollectableRow) (outbox.Message, error) {
	var (
		m       outbox.Message
		eventID string
	)
	if err := row.Scan(&m.ID, &eventID, &m.Topic, &m.Key, &m.Payload, &m.CreatedAt); err != nil {
		return m, err
	}
	id, err := uuid.Parse(eventID)
	if err != nil {
		return m, fmt.Errorf("parsing event id %q: %w", eventID, err)
	}
	m.EventID = id
	return m, nil
}
