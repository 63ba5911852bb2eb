package model

import (
	"errors"
	"strings"
	"time"
)

var ErrInvalidJob = errors.New("invalid send job")

// EmailPayload is what the deliverer puts on the wire.
type EmailPayload struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// SendJob is one email to send for a (lead, campaign step) pair.
// It is published by the campaign scheduler and consumed by the send lane.
type SendJob struct {
	LeadID         int64        `json:"lead_id"`
	CampaignLeadID int64        `json:"campaign_lead_id"`
	CampaignStepID int64        `json:"campaign_step_id"`
	Email          EmailPayload `json:"email"`
	EnqueuedAt     time.Time    `json:"enqueued_at"`
}

// Validate checks the fields the send lane relies on.
func (j SendJob) Validate() error {
	switch {
	case j.LeadID <= 0:
		return errors.Join(ErrInvalidJob, errors.New("lead_id must be positive"))
	case j.CampaignLeadID <= 0:
		return errors.Join(ErrInvalidJob, errors.New("campaign_lead_id must be positive"))
	case j.CampaignStepID <= 0:
		return errors.Join(ErrInvalidJob, errors.New("campaign_step_id must be positive"))
	case strings.TrimSpace(j.Email.Recipient) == "":
		return errors.Join(ErrInvalidJob, errors.New("email.recipient is required"))
	}
	return nil
}
