package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/outreach-mailer/internal/clock"
	"github.com/jmehdipour/outreach-mailer/internal/metrics"
	"github.com/jmehdipour/outreach-mailer/internal/model"
	"github.com/jmehdipour/outreach-mailer/internal/queue"
	"github.com/jmehdipour/outreach-mailer/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultWebhookConcurrency is the webhook lane width when none is configured.
const DefaultWebhookConcurrency = 5

// Applier is the webhook lane. Events are independent idempotent updates, so
// several goroutines claim from the same queue.
type Applier struct {
	Queue       queue.Queue[model.WebhookEvent]
	Records     repository.SendRecordsRepository
	Clock       clock.Clock
	Log         *zap.Logger
	Concurrency int
}

func NewApplier(q queue.Queue[model.WebhookEvent], records repository.SendRecordsRepository, concurrency int, log *zap.Logger) *Applier {
	return &Applier{
		Queue:       q,
		Records:     records,
		Clock:       clock.System{},
		Log:         log,
		Concurrency: concurrency,
	}
}

func (a *Applier) defaults() {
	if a.Clock == nil {
		a.Clock = clock.System{}
	}
	if a.Log == nil {
		a.Log = zap.NewNop()
	}
	if a.Concurrency <= 0 {
		a.Concurrency = DefaultWebhookConcurrency
	}
}

// Apply updates every send record carrying the event's provider message id and
// returns how many rows changed. Unknown event types are logged and ignored.
func (a *Applier) Apply(ctx context.Context, ev model.WebhookEvent) (int64, error) {
	a.defaults()

	typ, ok := model.ParseWebhookType(ev.Type)
	if !ok {
		a.Log.Info("ignoring unknown webhook type", zap.String("type", ev.Type))
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "ignored").Inc()
		return 0, nil
	}
	if ev.Data.ProviderMessageID == "" {
		metrics.WebhookEventsTotal.WithLabelValues(typ.String(), "invalid").Inc()
		return 0, fmt.Errorf("%w: %s event without providerMessageId", model.ErrInvalidWebhook, typ)
	}

	data := ev.Data
	if data.Timestamp.IsZero() {
		data.Timestamp = a.Clock.Now()
	}

	n, err := a.Records.UpdateWhere(ctx, model.Matcher{ProviderMessageID: data.ProviderMessageID}, typ.Patch(data))
	if err != nil {
		return 0, err
	}

	result := "applied"
	if n == 0 {
		// unknown id, or a replay the store reported as unchanged
		result = "unmatched"
	}
	metrics.WebhookEventsTotal.WithLabelValues(typ.String(), result).Inc()
	a.Log.Debug("webhook applied",
		zap.String("type", typ.String()),
		zap.String("provider_message_id", data.ProviderMessageID),
		zap.Int64("rows", n),
	)
	return n, nil
}

// Run starts Concurrency consumers and blocks until ctx is cancelled and all
// in-flight events are applied.
func (a *Applier) Run(ctx context.Context) error {
	if a.Queue == nil || a.Records == nil {
		return errors.New("applier: missing dependency")
	}
	a.defaults()
	a.Log.Info("webhook lane started", zap.Int("concurrency", a.Concurrency))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < a.Concurrency; i++ {
		g.Go(func() error { return a.consume(gctx) })
	}
	return g.Wait()
}

func (a *Applier) consume(ctx context.Context) error {
	for {
		d, err := a.Queue.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			a.Log.Warn("claim failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-a.Clock.After(time.Second):
			}
			continue
		}

		work := context.WithoutCancel(ctx)
		_, err = a.Apply(work, d.Job)
		switch {
		case err == nil:
		case errors.Is(err, model.ErrInvalidWebhook):
			// retrying cannot fix the payload
			a.Log.Error("dropping invalid webhook event", zap.String("job_id", d.ID), zap.Error(err))
		default:
			a.Log.Warn("webhook apply failed", zap.String("job_id", d.ID), zap.Int("attempt", d.Attempt), zap.Error(err))
			if nerr := a.Queue.Nack(work, d, err); nerr != nil {
				a.Log.Error("nack failed", zap.Error(nerr))
			}
			continue
		}
		if err := a.Queue.Ack(work, d); err != nil {
			a.Log.Error("ack failed", zap.Error(err))
		}
	}
}
