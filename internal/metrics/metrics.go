package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_sends_total",
			Help: "Send attempts by outcome",
		},
		[]string{"outcome"}, // sent|failed
	)

	RateLimitWaitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mailer_rate_limit_waits_total",
			Help: "Jobs that had to wait for the send window",
		},
	)

	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_webhook_events_total",
			Help: "Webhook events by type and result",
		},
		[]string{"type", "result"}, // applied|unmatched|ignored|invalid
	)

	TrackingHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_tracking_hits_total",
			Help: "Tracking endpoint hits by kind and whether the token decoded",
		},
		[]string{"kind", "decoded"}, // open|click|unsubscribe , true|false
	)

	JobsEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mailer_jobs_enqueued_total",
			Help: "Send jobs written to the outbox",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		SendsTotal,
		RateLimitWaitsTotal,
		WebhookEventsTotal,
		TrackingHitsTotal,
		JobsEnqueuedTotal,
	)
}
