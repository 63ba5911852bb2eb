package worker

import (
	"context"
	"errors"
	"time"

	"github.com/jmehdipour/outreach-mailer/internal/clock"
	"github.com/jmehdipour/outreach-mailer/internal/dispatcher"
	"github.com/jmehdipour/outreach-mailer/internal/metrics"
	"github.com/jmehdipour/outreach-mailer/internal/model"
	"github.com/jmehdipour/outreach-mailer/internal/queue"
	"github.com/jmehdipour/outreach-mailer/internal/ratelimit"
	"github.com/jmehdipour/outreach-mailer/internal/repository"
	"go.uber.org/zap"
)

// MinPollInterval is the shortest wait between two rate limiter polls.
const MinPollInterval = time.Second

// Sender is the send lane:
// - claims one job at a time (concurrency is always 1),
// - waits for a slot in the send window,
// - hands the email to the deliverer and records the outcome.
type Sender struct {
	// Dependencies
	Queue     queue.Queue[model.SendJob]
	Limiter   ratelimit.Limiter
	Deliverer dispatcher.Deliverer
	Records   repository.SendRecordsRepository
	Leads     repository.LeadsRepository
	Clock     clock.Clock
	Log       *zap.Logger

	// Behavior
	PollInterval time.Duration // wait between limiter polls, never below MinPollInterval
}

// NewSender builds a send lane with the system clock and the minimum poll interval.
func NewSender(
	q queue.Queue[model.SendJob],
	limiter ratelimit.Limiter,
	deliverer dispatcher.Deliverer,
	records repository.SendRecordsRepository,
	leads repository.LeadsRepository,
	log *zap.Logger,
) *Sender {
	return &Sender{
		Queue:        q,
		Limiter:      limiter,
		Deliverer:    deliverer,
		Records:      records,
		Leads:        leads,
		Clock:        clock.System{},
		Log:          log,
		PollInterval: MinPollInterval,
	}
}

func (s *Sender) defaults() {
	if s.Clock == nil {
		s.Clock = clock.System{}
	}
	if s.Log == nil {
		s.Log = zap.NewNop()
	}
	if s.PollInterval < MinPollInterval {
		s.PollInterval = MinPollInterval
	}
}

// Run claims and processes jobs until ctx is cancelled or the queue closes.
// A job whose send window slot was taken is finished even if ctx ends meanwhile.
func (s *Sender) Run(ctx context.Context) error {
	if s.Queue == nil || s.Limiter == nil || s.Deliverer == nil || s.Records == nil || s.Leads == nil {
		return errors.New("sender: missing dependency")
	}
	s.defaults()
	s.Log.Info("send lane started", zap.Duration("poll_interval", s.PollInterval))

	for {
		d, err := s.Queue.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				s.Log.Info("send lane stopped")
				return nil
			}
			s.Log.Warn("claim failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-s.Clock.After(s.PollInterval):
			}
			continue
		}
		s.handle(ctx, d)
	}
}

func (s *Sender) handle(ctx context.Context, d queue.Delivery[model.SendJob]) {
	log := s.Log.With(
		zap.String("job_id", d.ID),
		zap.Int("attempt", d.Attempt),
		zap.Int64("lead_id", d.Job.LeadID),
		zap.Int64("campaign_lead_id", d.Job.CampaignLeadID),
	)

	if err := d.Job.Validate(); err != nil {
		log.Error("dropping invalid send job", zap.Error(err))
		s.ack(ctx, d, log)
		return
	}

	if err := s.acquire(ctx); err != nil {
		// not acked: the broker redelivers it after restart
		log.Info("shutdown while waiting for send window", zap.Error(err))
		return
	}

	work := context.WithoutCancel(ctx)
	id, err := s.send(work, d.Job, log)
	if err != nil {
		log.Warn("send job failed", zap.Error(err))
		if nerr := s.Queue.Nack(work, d, err); nerr != nil {
			log.Error("nack failed", zap.Error(nerr))
		}
		return
	}
	log.Debug("send job done", zap.String("send_record_id", id))
	s.ack(work, d, log)
}

func (s *Sender) ack(ctx context.Context, d queue.Delivery[model.SendJob], log *zap.Logger) {
	if err := s.Queue.Ack(ctx, d); err != nil {
		log.Error("ack failed", zap.Error(err))
	}
}

// ProcessOne waits for the send window, delivers job and records the outcome.
// It returns the id of the created send record.
func (s *Sender) ProcessOne(ctx context.Context, job model.SendJob) (string, error) {
	s.defaults()
	if err := s.acquire(ctx); err != nil {
		return "", err
	}
	return s.send(ctx, job, s.Log.With(zap.Int64("lead_id", job.LeadID)))
}

// acquire polls the limiter until it grants a slot. A limiter error counts as a denial.
func (s *Sender) acquire(ctx context.Context) error {
	waited := false
	for {
		ok, err := s.Limiter.Allow(ctx)
		switch {
		case err != nil:
			s.Log.Warn("rate limiter unavailable", zap.Error(err))
		case ok:
			return nil
		}
		if !waited {
			waited = true
			metrics.RateLimitWaitsTotal.Inc()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Clock.After(s.PollInterval):
		}
	}
}

func (s *Sender) send(ctx context.Context, job model.SendJob, log *zap.Logger) (string, error) {
	res, derr := s.Deliverer.Send(ctx, job.Email)
	now := s.Clock.Now()

	if derr != nil {
		rec := newRecord(job, model.EventFailed, now)
		msg := derr.Error()
		rec.ErrorMessage = &msg
		var de *dispatcher.DeliveryError
		if errors.As(derr, &de) && de.Provider != "" {
			rec.Metadata["provider"] = model.String(de.Provider)
		}
		addLatency(rec.Metadata, job, now)

		if _, err := s.Records.Create(ctx, rec); err != nil {
			log.Error("could not record failed send", zap.Error(err), zap.NamedError("delivery_error", derr))
		}
		metrics.SendsTotal.WithLabelValues("failed").Inc()
		return "", derr
	}

	sentAt := res.Timestamp
	if sentAt.IsZero() {
		sentAt = now
	}
	event := model.EventSent
	if !res.Success {
		event = model.EventFailed
	}
	rec := newRecord(job, event, sentAt)
	rec.ProviderMessageID = res.ProviderMessageID
	if !res.Success {
		msg := "provider rejected the message"
		rec.ErrorMessage = &msg
	}
	rec.Metadata["provider_message_id"] = model.String(res.ProviderMessageID)
	if res.Provider != "" {
		rec.Metadata["provider"] = model.String(res.Provider)
	}
	addLatency(rec.Metadata, job, now)

	id, err := s.Records.Create(ctx, rec)
	if err != nil {
		return "", err
	}

	if !res.Success {
		metrics.SendsTotal.WithLabelValues("failed").Inc()
		return id, nil
	}
	metrics.SendsTotal.WithLabelValues("sent").Inc()

	if err := s.Leads.MarkContacted(ctx, job.LeadID); err != nil {
		log.Warn("could not mark lead contacted", zap.Error(err))
	}
	return id, nil
}

func newRecord(job model.SendJob, event model.EventType, sentAt time.Time) model.SendRecord {
	return model.SendRecord{
		LeadID:         job.LeadID,
		CampaignLeadID: job.CampaignLeadID,
		CampaignStepID: job.CampaignStepID,
		EventType:      event,
		SentAt:         sentAt,
		Metadata:       model.Metadata{},
	}
}

func addLatency(m model.Metadata, job model.SendJob, now time.Time) {
	if job.EnqueuedAt.IsZero() {
		return
	}
	m["latency_ms"] = model.Number(float64(now.Sub(job.EnqueuedAt).Milliseconds()))
}
