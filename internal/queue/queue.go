// Package queue is the pull-based job source the worker lanes consume from.
// Jobs are delivered at least once: a job that is neither acked nor nacked is
// redelivered after a restart.
package queue

import (
	"context"
	"errors"

	"github.com/jmehdipour/outreach-mailer/internal/kafka"
)

var ErrClosed = errors.New("queue closed")

// DefaultMaxAttempts bounds how often a nacked job is redelivered.
const DefaultMaxAttempts = 5

// Delivery is one claimed job.
type Delivery[T any] struct {
	ID      string
	Attempt int
	Job     T

	msg kafka.Message
}

// Queue hands out jobs one claim at a time.
type Queue[T any] interface {
	// Claim blocks until a job is available or ctx ends.
	Claim(ctx context.Context) (Delivery[T], error)
	// Ack marks the job done.
	Ack(ctx context.Context, d Delivery[T]) error
	// Nack reports a failed attempt; the job is redelivered until its attempts run out.
	Nack(ctx context.Context, d Delivery[T], cause error) error
}

// Publisher puts new jobs on a queue.
type Publisher[T any] interface {
	Publish(ctx context.Context, key string, job T) error
}
