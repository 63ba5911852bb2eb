package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/outreach-mailer/internal/model"
)

// Result is what a deliverer reports for one email.
type Result struct {
	Success           bool
	ProviderMessageID string
	Provider          string
	Timestamp         time.Time
}

// Deliverer sends one email. It either returns a Result or fails with a *DeliveryError.
type Deliverer interface {
	Send(ctx context.Context, email model.EmailPayload) (Result, error)
}

// DeliveryError means the transport could not hand the email to a provider.
type DeliveryError struct {
	Provider string
	Err      error
}

func (e *DeliveryError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("delivery failed: %v", e.Err)
	}
	return fmt.Sprintf("delivery via %s failed: %v", e.Provider, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
