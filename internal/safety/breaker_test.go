package safety

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(text string) {
	n.messages = append(n.messages, text)
}

var errVenue = errors.New("venue down")

func TestBreakerTripsAfterMaxFailures(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	notifier := &recordingNotifier{}
	b := NewBreaker(true, 3, time.Minute, clock)
	b.SetNotifier(notifier)

	b.Record(errVenue)
	b.Record(errVenue)
	if err := b.Allow(); err != nil {
		t.Fatalf("allow after 2 failures: %v", err)
	}

	b.Record(errVenue)
	err := b.Allow()
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("allow err = %v, want %v", err, ErrCircuitOpen)
	}
	if len(notifier.messages) == 0 {
		t.Fatal("no trip notification")
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := NewBreaker(true, 3, time.Minute, &fakeClock{now: time.Now()})

	b.Record(errVenue)
	b.Record(errVenue)
	b.Record(nil)
	if b.Failures() != 0 {
		t.Fatalf("failures = %d, want 0", b.Failures())
	}
	b.Record(errVenue)
	b.Record(errVenue)
	if err := b.Allow(); err != nil {
		t.Fatalf("allow: %v", err)
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := NewBreaker(true, 1, time.Minute, clock)

	b.Record(errVenue)
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("allow while open = %v, want %v", err, ErrCircuitOpen)
	}

	// Cooldown elapsed: one probe is admitted.
	clock.now = clock.now.Add(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe not admitted: %v", err)
	}

	// A failed probe re-trips without accumulating to maxFailures again.
	b.Record(errVenue)
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("allow after failed probe = %v, want %v", err, ErrCircuitOpen)
	}

	// A successful probe closes the circuit.
	clock.now = clock.now.Add(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("second probe not admitted: %v", err)
	}
	b.Record(nil)
	if err := b.Allow(); err != nil {
		t.Fatalf("allow after recovery: %v", err)
	}
}

func TestBreakerDisabledNeverTrips(t *testing.T) {
	b := NewBreaker(false, 1, time.Minute, &fakeClock{now: time.Now()})
	for i := 0; i < 10; i++ {
		b.Record(errVenue)
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("disabled breaker blocked: %v", err)
	}
}
