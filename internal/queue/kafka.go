package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmehdipour/outreach-mailer/internal/kafka"
	"go.uber.org/zap"
)

type fetcher interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

type writer interface {
	Write(ctx context.Context, msgs ...kafka.Message) error
}

// Kafka is a Queue over one topic. Jobs are JSON values; the message key is the job id.
// Nack re-publishes the message with a bumped attempt header and commits the original.
// Several goroutines may claim concurrently: an offset is committed only once
// every earlier message of its partition is acked or nacked.
type Kafka[T any] struct {
	consumer    fetcher
	producer    writer
	maxAttempts int
	log         *zap.Logger

	fetchMu sync.Mutex
	offsets *offsetTracker
}

func NewKafka[T any](consumer fetcher, producer writer, maxAttempts int, log *zap.Logger) *Kafka[T] {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Kafka[T]{
		consumer:    consumer,
		producer:    producer,
		maxAttempts: maxAttempts,
		log:         log,
		offsets:     newOffsetTracker(),
	}
}

// NewKafkaPublisher returns a publish-only queue for processes that never consume.
func NewKafkaPublisher[T any](producer writer, log *zap.Logger) *Kafka[T] {
	return NewKafka[T](nil, producer, 0, log)
}

// Claim skips (and commits) messages that do not decode.
func (q *Kafka[T]) Claim(ctx context.Context) (Delivery[T], error) {
	q.fetchMu.Lock()
	defer q.fetchMu.Unlock()

	for {
		m, err := q.consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Delivery[T]{}, fmt.Errorf("claim canceled: %w", ctx.Err())
			}
			q.log.Warn("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return Delivery[T]{}, fmt.Errorf("claim canceled: %w", ctx.Err())
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		q.offsets.track(m)

		var job T
		if err := json.Unmarshal(m.Value, &job); err != nil {
			q.log.Error("poison message skipped",
				zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
			if cerr := q.commit(ctx, m); cerr != nil {
				q.log.Warn("commit poison message failed", zap.Error(cerr))
			}
			continue
		}

		return Delivery[T]{
			ID:      string(m.Key),
			Attempt: kafka.Attempt(m),
			Job:     job,
			msg:     m,
		}, nil
	}
}

func (q *Kafka[T]) Ack(ctx context.Context, d Delivery[T]) error {
	return q.commit(ctx, d.msg)
}

func (q *Kafka[T]) commit(ctx context.Context, m kafka.Message) error {
	return q.offsets.complete(m, func(upTo kafka.Message) error {
		return q.consumer.Commit(ctx, upTo)
	})
}

func (q *Kafka[T]) Nack(ctx context.Context, d Delivery[T], cause error) error {
	if d.Attempt >= q.maxAttempts {
		q.log.Error("job dropped after max attempts",
			zap.String("job_id", d.ID), zap.Int("attempt", d.Attempt), zap.Error(cause))
		return q.commit(ctx, d.msg)
	}

	retry := kafka.Message{
		Key:     d.msg.Key,
		Value:   d.msg.Value,
		Headers: kafka.WithAttempt(d.msg.Headers, d.Attempt+1),
	}
	if err := q.producer.Write(ctx, retry); err != nil {
		// leave the original unfinished: nothing at or after it is committed,
		// so it comes back after a restart or rebalance
		return fmt.Errorf("republish job %s: %w", d.ID, err)
	}
	return q.commit(ctx, d.msg)
}

// Publish writes a new job with key as the message key.
func (q *Kafka[T]) Publish(ctx context.Context, key string, job T) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.producer.Write(ctx, kafka.Message{Key: []byte(key), Value: b})
}
