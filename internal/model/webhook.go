package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidWebhook = errors.New("invalid webhook event")

type WebhookType string

const (
	WebhookDelivered WebhookType = "delivered"
	WebhookOpened    WebhookType = "opened"
	WebhookClicked   WebhookType = "clicked"
	WebhookBounced   WebhookType = "bounced"
)

func (t WebhookType) String() string { return string(t) }

// ParseWebhookType normalizes provider naming ("email_opened", "Opened") into a WebhookType.
// Returns (value, true) only for the four lifecycle types.
func ParseWebhookType(s string) (WebhookType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "email_")
	s = strings.TrimPrefix(s, "email.")
	switch WebhookType(s) {
	case WebhookDelivered, WebhookOpened, WebhookClicked, WebhookBounced:
		return WebhookType(s), true
	default:
		return "", false
	}
}

// WebhookEvent is a provider lifecycle callback as published to the webhook lane.
type WebhookEvent struct {
	Type string      `json:"type"`
	Data WebhookData `json:"data"`
}

type WebhookData struct {
	ProviderMessageID string    `json:"providerMessageId"`
	Timestamp         time.Time `json:"timestamp"`
	Reason            string    `json:"reason,omitempty"`
}

// UnmarshalJSON accepts the timestamp as RFC 3339 or as unix seconds.
func (d *WebhookData) UnmarshalJSON(b []byte) error {
	var w struct {
		ProviderMessageID string          `json:"providerMessageId"`
		Timestamp         json.RawMessage `json:"timestamp"`
		Reason            string          `json:"reason"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := WebhookData{ProviderMessageID: w.ProviderMessageID, Reason: w.Reason}
	if raw := strings.TrimSpace(string(w.Timestamp)); raw != "" && raw != "null" {
		if strings.HasPrefix(raw, `"`) {
			var s string
			if err := json.Unmarshal(w.Timestamp, &s); err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return fmt.Errorf("timestamp: %w", err)
			}
			out.Timestamp = t
		} else {
			sec, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("timestamp: %w", err)
			}
			out.Timestamp = time.Unix(sec, 0).UTC()
		}
	}
	*d = out
	return nil
}

// Patch translates a lifecycle callback into a record update.
func (t WebhookType) Patch(d WebhookData) Patch {
	ts := d.Timestamp
	switch t {
	case WebhookDelivered:
		et := EventDelivered
		return Patch{EventType: &et, From: []EventType{EventSent}, DeliveredAt: &ts}
	case WebhookOpened:
		return Patch{OpenedAt: &ts}
	case WebhookClicked:
		return Patch{ClickedAt: &ts}
	case WebhookBounced:
		et := EventBounced
		reason := d.Reason
		return Patch{EventType: &et, From: []EventType{EventSent}, BouncedAt: &ts, ErrorMessage: &reason}
	default:
		return Patch{}
	}
}
