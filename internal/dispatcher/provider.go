package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jmehdipour/outreach-mailer/internal/clock"
	"github.com/jmehdipour/outreach-mailer/internal/model"
)

// Provider is one outbound email transport guarded by its own breaker.
type Provider interface {
	Name() string
	Ready() bool
	Acquire() bool
	Send(ctx context.Context, email model.EmailPayload) (Result, error)
}

// HTTPProvider posts emails as JSON to an ESP-style HTTP API.
// The API is expected to answer 2xx with {"message_id": "...", "accepted": true}.
type HTTPProvider struct {
	name     string
	baseURL  string
	sendPath string
	client   *http.Client
	clock    clock.Clock
	br       *MicroBreaker
}

func NewHTTPProvider(
	name, baseURL, sendPath string,
	timeoutMs, failThreshold, openForMs int,
) *HTTPProvider {
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}

	if openForMs <= 0 {
		openForMs = 15000
	}

	if sendPath == "" {
		sendPath = "/v1/messages"
	}

	clk := clock.System{}
	return &HTTPProvider{
		name:     name,
		baseURL:  baseURL,
		sendPath: sendPath,
		client:   &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		clock:    clk,
		br:       NewMicroBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond, clk),
	}
}

func (p *HTTPProvider) Name() string  { return p.name }
func (p *HTTPProvider) Ready() bool   { return p.br.Ready() }
func (p *HTTPProvider) Acquire() bool { return p.br.TryAcquire() }

type sendResponse struct {
	MessageID string `json:"message_id"`
	Accepted  *bool  `json:"accepted"`
}

func (p *HTTPProvider) Send(ctx context.Context, email model.EmailPayload) (Result, error) {
	res, err := p.post(ctx, email)
	if err != nil {
		p.br.OnFailure()
		return Result{}, err
	}

	p.br.OnSuccess()

	return res, nil
}

func (p *HTTPProvider) post(ctx context.Context, email model.EmailPayload) (Result, error) {
	b, err := json.Marshal(email)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.sendPath, bytes.NewReader(b))
	if err != nil {
		return Result{}, err
	}

	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return Result{}, err
	}

	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return Result{}, fmt.Errorf("provider=%s path=%s status=%d", p.name, p.sendPath, res.StatusCode)
	}

	var body sendResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&body); err != nil && err != io.EOF {
		return Result{}, fmt.Errorf("provider=%s decode response: %w", p.name, err)
	}

	return Result{
		Success:           body.Accepted == nil || *body.Accepted,
		ProviderMessageID: body.MessageID,
		Provider:          p.name,
		Timestamp:         p.clock.Now(),
	}, nil
}
