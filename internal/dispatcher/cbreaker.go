package dispatcher

import (
	"sync"
	"time"

	"github.com/jmehdipour/outreach-mailer/internal/clock"
)

type state int

const (
	closed state = iota
	open
	halfOpen
)

func (s state) String() string {
	switch s {
	case open:
		return "open"
	case halfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// MicroBreaker trips after failThreshold consecutive failures, stays open for openFor,
// then lets exactly one probe through.
type MicroBreaker struct {
	mu               sync.Mutex
	clock            clock.Clock
	st               state
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
	probeInFlight    bool
}

func NewMicroBreaker(threshold int, openFor time.Duration, clk clock.Clock) *MicroBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &MicroBreaker{failThreshold: threshold, openFor: openFor, clock: clk}
}

// Ready reports whether TryAcquire could succeed, without taking the probe slot.
func (b *MicroBreaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.st {
	case open:
		return !b.clock.Now().Before(b.nextTryAt) && !b.probeInFlight
	case halfOpen:
		return !b.probeInFlight
	default:
		return true
	}
}

func (b *MicroBreaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case open:
		if !b.clock.Now().Before(b.nextTryAt) && !b.probeInFlight {
			b.st = halfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case halfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return true
		}
		return false
	default:
		return true
	}
}

func (b *MicroBreaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails = 0
	b.st = closed
	b.probeInFlight = false
}

func (b *MicroBreaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == halfOpen {
		b.st = open
		b.nextTryAt = b.clock.Now().Add(b.openFor)
		b.probeInFlight = false
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failThreshold {
		b.st = open
		b.nextTryAt = b.clock.Now().Add(b.openFor)
	}
}

// State returns the breaker state name, for logs and metrics.
func (b *MicroBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.String()
}
