package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jmehdipour/outreach-mailer/internal/model"
	"go.uber.org/zap"
)

var (
	ErrNoHealthy = errors.New("no healthy providers")
	ErrNoAcquire = errors.New("provider not acquired")
)

// Dispatcher spreads sends over healthy providers round-robin and retries on
// another provider when one fails. It is the Deliverer the send lane uses.
type Dispatcher struct {
	providers         []Provider
	roundRobinCounter atomic.Uint64
	maxAttempts       int
	log               *zap.Logger
}

func NewDispatcher(provs []Provider, maxAttempts int, log *zap.Logger) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 2
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Dispatcher{providers: provs, maxAttempts: maxAttempts, log: log}
}

func (d *Dispatcher) selectProvider() (Provider, error) {
	healthy := make([]Provider, 0, len(d.providers))
	for _, p := range d.providers {
		if p.Ready() {
			healthy = append(healthy, p)
		}
	}

	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}

	x := d.roundRobinCounter.Add(1)
	idx := int((x - 1) % uint64(len(healthy)))

	return healthy[idx], nil
}

func (d *Dispatcher) tryOnce(ctx context.Context, email model.EmailPayload) (Result, error) {
	p, err := d.selectProvider()
	if err != nil {
		return Result{}, &DeliveryError{Err: err}
	}

	if !p.Acquire() {
		return Result{}, &DeliveryError{Provider: p.Name(), Err: ErrNoAcquire}
	}

	res, err := p.Send(ctx, email)
	if err != nil {
		return Result{}, &DeliveryError{Provider: p.Name(), Err: err}
	}
	return res, nil
}

// Send implements Deliverer. The returned error is always a *DeliveryError.
func (d *Dispatcher) Send(ctx context.Context, email model.EmailPayload) (Result, error) {
	var last error
	for i := 0; i < d.maxAttempts; i++ {
		res, err := d.tryOnce(ctx, email)
		if err == nil {
			return res, nil
		}
		last = err
		d.log.Warn("delivery attempt failed", zap.Int("attempt", i+1), zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}

	return Result{}, last
}
