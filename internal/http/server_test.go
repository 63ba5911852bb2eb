package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/outreach-mailer/internal/config"
	"github.com/jmehdipour/outreach-mailer/internal/model"
	"github.com/jmehdipour/outreach-mailer/internal/repository"
	"github.com/jmehdipour/outreach-mailer/internal/tracking"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time                       { return c.t }
func (c fixedClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

type update struct {
	m model.Matcher
	p model.Patch
}

type fakeRecords struct {
	mu      sync.Mutex
	updates []update
	err     error
}

func (r *fakeRecords) Create(context.Context, model.SendRecord) (string, error) { return "", nil }

func (r *fakeRecords) UpdateWhere(_ context.Context, m model.Matcher, p model.Patch) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update{m: m, p: p})
	return 1, r.err
}

type fakeLeads struct {
	unsubscribed []int64
	err          error
}

func (l *fakeLeads) MarkContacted(context.Context, int64) error { return nil }

func (l *fakeLeads) MarkUnsubscribed(_ context.Context, id int64) error {
	l.unsubscribed = append(l.unsubscribed, id)
	return l.err
}

type fakeReports struct {
	gotStep  int64
	gotEvent model.EventType
	err      error
}

func (r *fakeReports) ListByStep(_ context.Context, stepID int64, et model.EventType, _, _ int) ([]model.SendRecord, error) {
	r.gotStep, r.gotEvent = stepID, et
	return []model.SendRecord{{ID: "r1", CampaignStepID: stepID, EventType: model.EventDelivered}}, r.err
}

func (r *fakeReports) StatsByStep(_ context.Context, stepID int64) (repository.StepStats, error) {
	return repository.StepStats{CampaignStepID: stepID, Total: 3, Sent: 2, Failed: 1}, r.err
}

type fakeJobs struct {
	got []model.SendJob
	err error
}

func (j *fakeJobs) Enqueue(_ context.Context, jobs ...model.SendJob) ([]string, error) {
	if j.err != nil {
		return nil, j.err
	}
	j.got = append(j.got, jobs...)
	ids := make([]string, len(jobs))
	for i := range jobs {
		ids[i] = fmt.Sprintf("job-%d", i+1)
	}
	return ids, nil
}

type published struct {
	key string
	ev  model.WebhookEvent
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, key string, ev model.WebhookEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{key: key, ev: ev})
	return nil
}

type fixture struct {
	srv      *Server
	records  *fakeRecords
	leads    *fakeLeads
	reports  *fakeReports
	jobs     *fakeJobs
	webhooks *fakePublisher
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		records:  &fakeRecords{},
		leads:    &fakeLeads{},
		reports:  &fakeReports{},
		jobs:     &fakeJobs{},
		webhooks: &fakePublisher{},
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.srv = newServer(config.HTTPConfig{
		BaseURL:    "https://t.example.com/",
		APIClients: []config.APIClientConfig{{Name: "scheduler", Key: "k1"}},
	}, Deps{
		Records:  f.records,
		Leads:    f.leads,
		Reports:  f.reports,
		Jobs:     f.jobs,
		Webhooks: f.webhooks,
		Clock:    fixedClock{t: f.now},
	})
	return f
}

func (f *fixture) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func token(t *testing.T, tok tracking.Token) string {
	t.Helper()
	s, err := tracking.Encode(tok)
	require.NoError(t, err)
	return s
}

func requirePixel(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	cfg, err := png.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 1, cfg.Width)
	require.Equal(t, 1, cfg.Height)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestPixelRecordsOpen(t *testing.T) {
	f := newFixture(t)
	tok := token(t, tracking.Token{LeadID: 1, CampaignLeadID: 2, CampaignStepID: 3})

	rec := f.do(http.MethodGet, "/o.png?id="+tok, "")
	requirePixel(t, rec)
	require.Contains(t, rec.Header().Get("Cache-Control"), "no-store")

	require.Len(t, f.records.updates, 1)
	u := f.records.updates[0]
	require.Equal(t, model.Matcher{LeadID: 1, CampaignLeadID: 2, CampaignStepID: 3}, u.m)
	require.NotNil(t, u.p.OpenedAt)
	require.True(t, u.p.OpenedAt.Equal(f.now))
	require.Nil(t, u.p.EventType)
}

func TestPixelWithBadTokenStillServesImage(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{"/o.png?id=garbage!!", "/o.png?id=bm90LWpzb24", "/o.png"} {
		requirePixel(t, f.do(http.MethodGet, target, ""))
	}
	require.Empty(t, f.records.updates)
}

func TestPixelStoreErrorStillServesImage(t *testing.T) {
	f := newFixture(t)
	f.records.err = errors.New("db down")
	tok := token(t, tracking.Token{LeadID: 1, CampaignLeadID: 2, CampaignStepID: 3})
	requirePixel(t, f.do(http.MethodGet, "/o.png?id="+tok, ""))
}

func TestRedirect(t *testing.T) {
	tests := []struct {
		name     string
		target   func(t *testing.T) string
		code     int
		location string
		clicks   int
	}{
		{
			name: "token destination",
			target: func(t *testing.T) string {
				return "/r/" + token(t, tracking.Token{LeadID: 1, CampaignLeadID: 2, CampaignStepID: 3, OriginalURL: "https://example.com/offer"}) +
					"?url=https%3A%2F%2Fexample.com%2Ffallback"
			},
			code: http.StatusFound, location: "https://example.com/offer", clicks: 1,
		},
		{
			name: "token without destination falls back to url param",
			target: func(t *testing.T) string {
				return "/r/" + token(t, tracking.Token{LeadID: 1, CampaignLeadID: 2, CampaignStepID: 3}) + "?url=https%3A%2F%2Fexample.com%2Ffallback"
			},
			code: http.StatusFound, location: "https://example.com/fallback", clicks: 1,
		},
		{
			name:   "bad token falls back without recording",
			target: func(*testing.T) string { return "/r/not-a-token?url=https%3A%2F%2Fexample.com%2Ffallback" },
			code:   http.StatusFound, location: "https://example.com/fallback",
		},
		{
			name:   "no destination",
			target: func(*testing.T) string { return "/r/not-a-token" },
			code:   http.StatusNotFound,
		},
		{
			name:   "non-http destination is refused",
			target: func(*testing.T) string { return "/r/not-a-token?url=javascript%3Aalert(1)" },
			code:   http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(http.MethodGet, tt.target(t), "")
			require.Equal(t, tt.code, rec.Code)
			require.Equal(t, tt.location, rec.Header().Get("Location"))
			require.Len(t, f.records.updates, tt.clicks)
			if tt.clicks > 0 {
				require.NotNil(t, f.records.updates[0].p.ClickedAt)
			}
		})
	}
}

func TestUnsubscribe(t *testing.T) {
	f := newFixture(t)
	tok := token(t, tracking.Token{LeadID: 7, CampaignLeadID: 2, CampaignStepID: 3})

	rec := f.do(http.MethodGet, "/unsubscribe/"+tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "unsubscribed")

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/unsubscribe/42", "").Code)
	require.Equal(t, []int64{7, 42}, f.leads.unsubscribed)

	rec = f.do(http.MethodGet, "/unsubscribe/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "could not process")

	f.leads.err = errors.New("db down")
	rec = f.do(http.MethodGet, "/unsubscribe/42", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "db down")
}

func TestWebhookIngest(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/webhooks/email",
		`{"type":"email_opened","data":{"providerMessageId":"m1","timestamp":"2024-05-01T12:00:00Z"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.webhooks.sent, 1)

	got := f.webhooks.sent[0]
	require.Equal(t, "m1", got.key)
	require.Equal(t, "email_opened", got.ev.Type)
	require.True(t, got.ev.Data.Timestamp.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))

	require.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/webhooks/email", `{"type":`).Code)

	f.webhooks.err = errors.New("broker down")
	require.Equal(t, http.StatusServiceUnavailable,
		f.do(http.MethodPost, "/webhooks/email", `{"type":"delivered","data":{"providerMessageId":"m2"}}`).Code)
}

func TestSendJobs(t *testing.T) {
	f := newFixture(t)
	body := `{"jobs":[{"lead_id":1,"campaign_lead_id":10,"campaign_step_id":3,"email":{"recipient":"a@example.com","subject":"s","body":"b"}}]}`

	require.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/v1/jobs/send", body).Code)

	rec := f.do(http.MethodPost, "/v1/jobs/send", body, "X-API-Key", "k1")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		Enqueued int      `json:"enqueued"`
		IDs      []string `json:"ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Enqueued)
	require.Equal(t, []string{"job-1"}, resp.IDs)
	require.Equal(t, "a@example.com", f.jobs.got[0].Email.Recipient)

	require.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/v1/jobs/send", `{"jobs":[]}`, "X-API-Key", "k1").Code)

	f.jobs.err = fmt.Errorf("job 0: %w", model.ErrInvalidJob)
	require.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/v1/jobs/send", body, "X-API-Key", "k1").Code)

	f.jobs.err = &repository.PersistenceError{Op: "insert outbox", Err: errors.New("down")}
	require.Equal(t, http.StatusInternalServerError, f.do(http.MethodPost, "/v1/jobs/send", body, "X-API-Key", "k1").Code)
}

func TestReports(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/v1/reports/steps/3/sends?event_type=delivered&limit=10", "", "X-API-Key", "k1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(3), f.reports.gotStep)
	require.Equal(t, model.EventDelivered, f.reports.gotEvent)
	require.Contains(t, rec.Body.String(), `"limit":10`)

	require.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/v1/reports/steps/x/sends", "", "X-API-Key", "k1").Code)
	require.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/v1/reports/steps/3/sends?event_type=lost", "", "X-API-Key", "k1").Code)

	rec = f.do(http.MethodGet, "/v1/reports/steps/3/stats", "", "X-API-Key", "k1")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats repository.StepStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, uint64(3), stats.Total)

	f.reports.err = errors.New("clickhouse down")
	require.Equal(t, http.StatusInternalServerError, f.do(http.MethodGet, "/v1/reports/steps/3/stats", "", "X-API-Key", "k1").Code)
}

func TestTrackingLinks(t *testing.T) {
	f := newFixture(t)
	body := `{"lead_id":4,"campaign_lead_id":40,"campaign_step_id":400,"urls":["https://example.com/a?b=1"]}`
	rec := f.do(http.MethodPost, "/v1/tracking/links", body, "X-API-Key", "k1")
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Pixel       string            `json:"pixel"`
		Unsubscribe string            `json:"unsubscribe"`
		Redirects   map[string]string `json:"redirects"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.True(t, strings.HasPrefix(out.Pixel, "https://t.example.com/o.png?id="))
	require.True(t, strings.HasPrefix(out.Unsubscribe, "https://t.example.com/unsubscribe/"))
	require.Contains(t, out.Redirects, "https://example.com/a?b=1")

	// the built links round-trip through the public routes
	path := strings.TrimPrefix(out.Unsubscribe, "https://t.example.com")
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, path, "").Code)
	require.Equal(t, []int64{4}, f.leads.unsubscribed)

	path = strings.TrimPrefix(out.Redirects["https://example.com/a?b=1"], "https://t.example.com")
	rec = f.do(http.MethodGet, path, "")
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "https://example.com/a?b=1", rec.Header().Get("Location"))

	require.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/v1/tracking/links", `{"lead_id":4}`, "X-API-Key", "k1").Code)
	require.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/v1/tracking/links",
		`{"lead_id":4,"campaign_lead_id":40,"campaign_step_id":400,"urls":["javascript:alert(1)"]}`, "X-API-Key", "k1").Code)
	require.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/v1/tracking/links", body).Code)
}
