package repository

import (
	"context"

	"github.com/jmehdipour/outreach-mailer/internal/model"
	"github.com/jmoiron/sqlx"
)

// OutboxRepository defines persistence methods for the outbox table.
type OutboxRepository interface {
	// Insert writes a single outbox event. If tx is nil, it will open/commit
	// an internal transaction; otherwise it uses the given tx.
	Insert(ctx context.Context, tx *sqlx.Tx, ev model.OutboxEvent) error
}

// OutboxRepositoryImpl is a sqlx-backed implementation.
type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

// NewOutboxRepository constructs an OutboxRepositoryImpl.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

// Insert adds an event row to outbox. Debezium Outbox SMT will pick it up and
// publish to Kafka based on the `topic` column, keyed by aggregate_id.
func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, ev model.OutboxEvent) error {
	const q = `
		INSERT INTO outbox (aggregate, aggregate_id, topic, payload, created_at)
		VALUES (?, ?, ?, ?, NOW(6))
	`
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, ev.Aggregate, ev.AggregateID, ev.Topic, ev.Payload)

		return err
	})
	return persistErr("insert outbox", err)
}
