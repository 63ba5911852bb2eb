package model

import "time"

// OutboxEvent is a row in the outbox table. CDC publishes Payload to Topic keyed by AggregateID.
type OutboxEvent struct {
	ID          int64     `db:"id"`
	Aggregate   string    `db:"aggregate"`    // e.g. "send_job"
	AggregateID string    `db:"aggregate_id"` // job ULID, used as the Kafka key
	Topic       string    `db:"topic"`
	Payload     []byte    `db:"payload"`
	Attempts    int       `db:"attempts"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}
