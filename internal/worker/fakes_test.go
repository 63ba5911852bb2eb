package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jmehdipour/outreach-mailer/internal/dispatcher"
	"github.com/jmehdipour/outreach-mailer/internal/kafka"
	"github.com/jmehdipour/outreach-mailer/internal/model"
	"github.com/jmehdipour/outreach-mailer/internal/queue"
)

// stepClock advances itself by d whenever someone waits on it.
type stepClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *stepClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

type memRecords struct {
	mu        sync.Mutex
	rows      []model.SendRecord
	createErr error
	updateErr error
}

func (r *memRecords) Create(_ context.Context, rec model.SendRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return "", r.createErr
	}
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("rec-%d", len(r.rows)+1)
	}
	r.rows = append(r.rows, rec)
	return rec.ID, nil
}

func (r *memRecords) UpdateWhere(_ context.Context, m model.Matcher, p model.Patch) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return 0, r.updateErr
	}
	var n int64
	for i := range r.rows {
		if matches(m, r.rows[i]) && applyPatch(&r.rows[i], p) {
			n++
		}
	}
	return n, nil
}

// matches and applyPatch follow the WHERE and SET clauses of the MySQL repository.
func matches(m model.Matcher, r model.SendRecord) bool {
	if m.Empty() {
		return false
	}
	return (m.ID == "" || m.ID == r.ID) &&
		(m.ProviderMessageID == "" || m.ProviderMessageID == r.ProviderMessageID) &&
		(m.LeadID == 0 || m.LeadID == r.LeadID) &&
		(m.CampaignLeadID == 0 || m.CampaignLeadID == r.CampaignLeadID) &&
		(m.CampaignStepID == 0 || m.CampaignStepID == r.CampaignStepID)
}

func applyPatch(r *model.SendRecord, p model.Patch) bool {
	if len(p.From) > 0 && !slices.Contains(p.From, r.EventType) {
		return false
	}

	changed := false
	setOnce := func(dst **time.Time, v *time.Time) {
		if v != nil && *dst == nil {
			t := *v
			*dst = &t
			changed = true
		}
	}

	if p.EventType != nil && r.EventType != *p.EventType {
		r.EventType = *p.EventType
		changed = true
	}
	setOnce(&r.DeliveredAt, p.DeliveredAt)
	setOnce(&r.OpenedAt, p.OpenedAt)
	setOnce(&r.ClickedAt, p.ClickedAt)
	setOnce(&r.BouncedAt, p.BouncedAt)
	if p.ErrorMessage != nil && (r.ErrorMessage == nil || *r.ErrorMessage != *p.ErrorMessage) {
		msg := *p.ErrorMessage
		r.ErrorMessage = &msg
		changed = true
	}
	return changed
}

func (r *memRecords) All() []model.SendRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.SendRecord(nil), r.rows...)
}

type memLeads struct {
	mu           sync.Mutex
	contacted    []int64
	unsubscribed []int64
	err          error
}

func (l *memLeads) MarkContacted(_ context.Context, leadID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.contacted = append(l.contacted, leadID)
	return l.err
}

func (l *memLeads) MarkUnsubscribed(_ context.Context, leadID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unsubscribed = append(l.unsubscribed, leadID)
	return l.err
}

func (l *memLeads) Contacted() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int64(nil), l.contacted...)
}

type deliverFunc func(ctx context.Context, email model.EmailPayload) (dispatcher.Result, error)

func (f deliverFunc) Send(ctx context.Context, email model.EmailPayload) (dispatcher.Result, error) {
	return f(ctx, email)
}

func okDeliverer(clk *stepClock) deliverFunc {
	var mu sync.Mutex
	n := 0
	return func(_ context.Context, _ model.EmailPayload) (dispatcher.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return dispatcher.Result{
			Success:           true,
			ProviderMessageID: fmt.Sprintf("m%d", n),
			Provider:          "primary",
			Timestamp:         clk.Now(),
		}, nil
	}
}

func job(lead int64) model.SendJob {
	return model.SendJob{
		LeadID:         lead,
		CampaignLeadID: lead * 10,
		CampaignStepID: 3,
		Email:          model.EmailPayload{Recipient: fmt.Sprintf("lead%d@example.com", lead), Subject: "hi", Body: "hello"},
	}
}

// fakeBroker is a single-partition topic: Write appends, Fetch blocks until
// the next message exists, Commit records offsets.
type fakeBroker struct {
	mu        sync.Mutex
	log       []kafka.Message
	next      int
	committed []int64
	notify    chan struct{}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{notify: make(chan struct{}, 1)}
}

func newKafkaQueue[T any](b *fakeBroker, maxAttempts int) *queue.Kafka[T] {
	return queue.NewKafka[T](b, b, maxAttempts, nil)
}

func (b *fakeBroker) Fetch(ctx context.Context) (kafka.Message, error) {
	for {
		b.mu.Lock()
		if b.next < len(b.log) {
			m := b.log[b.next]
			b.next++
			b.mu.Unlock()
			return m, nil
		}
		b.mu.Unlock()
		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-b.notify:
		}
	}
}

func (b *fakeBroker) Commit(_ context.Context, m kafka.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.committed = append(b.committed, m.Offset)
	return nil
}

func (b *fakeBroker) Write(_ context.Context, msgs ...kafka.Message) error {
	b.mu.Lock()
	for _, m := range msgs {
		m.Offset = int64(len(b.log))
		b.log = append(b.log, m)
	}
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

func (b *fakeBroker) publish(key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	_ = b.Write(context.Background(), kafka.Message{Key: []byte(key), Value: raw})
}

// Committed returns the committed offsets in commit order.
func (b *fakeBroker) Committed() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.committed...)
}

// Drained reports whether every message was fetched and the last one committed.
func (b *fakeBroker) Drained() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.committed)
	return b.next == len(b.log) && n > 0 && b.committed[n-1] == int64(len(b.log)-1)
}

func (b *fakeBroker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.log)
}
