package model

import "time"

type EventType string

const (
	EventSent      EventType = "SENT"
	EventFailed    EventType = "FAILED"
	EventDelivered EventType = "DELIVERED"
	EventBounced   EventType = "BOUNCED"
)

func (e EventType) String() string {
	return string(e)
}

func (e EventType) Valid() bool {
	return e == EventSent || e == EventFailed || e == EventDelivered || e == EventBounced
}

// SendRecord is the DB entity persisted in send_records, one row per send attempt.
type SendRecord struct {
	ID                string     `db:"id"                  json:"id"`
	LeadID            int64      `db:"lead_id"             json:"lead_id"`
	CampaignLeadID    int64      `db:"campaign_lead_id"    json:"campaign_lead_id"`
	CampaignStepID    int64      `db:"campaign_step_id"    json:"campaign_step_id"`
	EventType         EventType  `db:"event_type"          json:"event_type"`
	SentAt            time.Time  `db:"sent_at"             json:"sent_at"`
	DeliveredAt       *time.Time `db:"delivered_at"        json:"delivered_at,omitempty"`
	OpenedAt          *time.Time `db:"opened_at"           json:"opened_at,omitempty"`
	ClickedAt         *time.Time `db:"clicked_at"          json:"clicked_at,omitempty"`
	BouncedAt         *time.Time `db:"bounced_at"          json:"bounced_at,omitempty"`
	ErrorMessage      *string    `db:"error_message"       json:"error_message,omitempty"`
	ProviderMessageID string     `db:"provider_message_id" json:"provider_message_id"`
	Metadata          Metadata   `db:"metadata"            json:"metadata"`
	CreatedAt         time.Time  `db:"created_at"          json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"          json:"updated_at"`
}

// Matcher selects the records an update applies to. Zero fields are ignored.
type Matcher struct {
	ID                string
	ProviderMessageID string
	LeadID            int64
	CampaignLeadID    int64
	CampaignStepID    int64
}

// Empty reports whether the matcher would select every row.
func (m Matcher) Empty() bool {
	return m == Matcher{}
}

// Patch is a lifecycle update. Timestamps are write-once: a timestamp that is
// already set on the record is kept. When From is non-empty the whole patch
// only applies to records whose current event type is listed in it.
type Patch struct {
	EventType    *EventType
	From         []EventType
	DeliveredAt  *time.Time
	OpenedAt     *time.Time
	ClickedAt    *time.Time
	BouncedAt    *time.Time
	ErrorMessage *string
}
