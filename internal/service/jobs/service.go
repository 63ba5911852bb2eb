package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmehdipour/outreach-mailer/internal/clock"
	"github.com/jmehdipour/outreach-mailer/internal/metrics"
	"github.com/jmehdipour/outreach-mailer/internal/model"
	"github.com/jmehdipour/outreach-mailer/internal/repository"
	"github.com/jmehdipour/outreach-mailer/internal/util"
	"github.com/jmoiron/sqlx"
)

// DefaultSendTopic is where CDC publishes send jobs written to the outbox.
const DefaultSendTopic = "email.send"

// Service writes send jobs to the outbox. CDC moves them onto the send topic,
// keyed by job id, so enqueueing never talks to Kafka directly.
type Service struct {
	db     *sqlx.DB
	outbox repository.OutboxRepository
	topic  string
	clock  clock.Clock
}

// New constructs the jobs service.
func New(db *sqlx.DB, outboxRepo repository.OutboxRepository, topic string) *Service {
	if topic == "" {
		topic = DefaultSendTopic
	}
	return &Service{db: db, outbox: outboxRepo, topic: topic, clock: clock.System{}}
}

// Enqueue validates every job, stamps enqueued_at, generates a ULID per job,
// and writes all of them to `outbox` within a single transaction.
// Returns the generated job IDs in input order.
func (s *Service) Enqueue(ctx context.Context, jobs ...model.SendJob) ([]string, error) {
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: no jobs", model.ErrInvalidJob)
	}

	events := make([]model.OutboxEvent, len(jobs))
	ids := make([]string, len(jobs))
	for i, job := range jobs {
		if err := job.Validate(); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
		if job.EnqueuedAt.IsZero() {
			job.EnqueuedAt = s.clock.Now()
		}
		payload, err := json.Marshal(job)
		if err != nil {
			return nil, fmt.Errorf("marshal job: %w", err)
		}

		ids[i] = util.NewAt(job.EnqueuedAt)
		events[i] = model.OutboxEvent{
			Aggregate:   "send_job",
			AggregateID: ids[i],
			Topic:       s.topic,
			Payload:     payload,
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, ev := range events {
		if err := s.outbox.Insert(ctx, tx, ev); err != nil {
			return nil, fmt.Errorf("insert outbox: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	metrics.JobsEnqueuedTotal.Add(float64(len(ids)))
	return ids, nil
}
