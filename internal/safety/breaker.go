package safety

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hedge-volume/internal/core"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type circuitState string

const (
	circuitClosed   circuitState = "closed"
	circuitOpen     circuitState = "open"
	circuitHalfOpen circuitState = "half_open"
)

const defaultCooldown = 5 * time.Minute

// Notifier receives breaker state change notifications.
type Notifier interface {
	Notify(text string)
}

// Breaker halts position opening after too many consecutive execution
// failures. Once tripped it stays open for a cooldown, then lets a single
// probe attempt through; a probe failure re-trips immediately.
type Breaker struct {
	enabled     bool
	maxFailures int
	cooldown    time.Duration
	clock       core.Clock

	mu       sync.Mutex
	state    circuitState
	failures int
	openedAt time.Time
	openErr  error

	notifier Notifier
	log      *logrus.Entry
}

func NewBreaker(enabled bool, maxFailures int, cooldown time.Duration, clock core.Clock) *Breaker {
	if maxFailures < 1 {
		maxFailures = 3
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if clock == nil {
		clock = core.RealClock{}
	}
	return &Breaker{
		enabled:     enabled,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		clock:       clock,
		state:       circuitClosed,
		log:         logrus.WithField("component", "breaker"),
	}
}

func (b *Breaker) SetNotifier(n Notifier) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifier = n
}

// Allow reports whether a new open may be attempted. After the cooldown an
// open circuit transitions to half-open and admits one probe.
func (b *Breaker) Allow() error {
	if b == nil || !b.enabled {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case circuitClosed, circuitHalfOpen:
		return nil
	case circuitOpen:
		if b.clock.Now().Sub(b.openedAt) < b.cooldown {
			return b.openErr
		}
		b.state = circuitHalfOpen
		b.log.Info("circuit half-open, allowing probe attempt")
		return nil
	}
	return nil
}

// Record feeds an open attempt's outcome into the circuit.
func (b *Breaker) Record(err error) {
	if b == nil || !b.enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != circuitClosed || b.failures > 0 {
			b.log.WithFields(logrus.Fields{
				"previous_failures": b.failures,
				"from_state":        string(b.state),
			}).Info("circuit recovered")
			b.notifyLocked("circuit breaker recovered")
		}
		b.state = circuitClosed
		b.failures = 0
		b.openErr = nil
		return
	}

	if b.state == circuitHalfOpen {
		b.tripLocked(err, "probe failed")
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.tripLocked(err, "consecutive failures")
	}
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) tripLocked(err error, reason string) {
	b.state = circuitOpen
	b.openedAt = b.clock.Now()
	b.openErr = fmt.Errorf("%w: %d consecutive open failures (%s), cooldown %s, last error: %v",
		ErrCircuitOpen, b.failures, reason, b.cooldown, err)
	b.log.WithFields(logrus.Fields{
		"failures": b.failures,
		"cooldown": b.cooldown.String(),
	}).Errorf("circuit tripped: %v", err)
	b.notifyLocked(fmt.Sprintf("circuit breaker tripped after %d failures, pausing opens for %s", b.failures, b.cooldown))
}

func (b *Breaker) notifyLocked(text string) {
	if b.notifier == nil {
		return
	}
	b.notifier.Notify(text)
}
