package engine

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hedge-volume/internal/hedge"
	"hedge-volume/internal/pricing"
	"hedge-volume/internal/safety"
	"hedge-volume/internal/sizing"
	"hedge-volume/internal/store"
	"hedge-volume/internal/strategy"
	"hedge-volume/internal/symbols"
	"hedge-volume/internal/venue"
	"hedge-volume/internal/venue/paper"
)

const testSymbol = "BTC/USDC"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestEngine(t *testing.T, cfg Config) (*Engine, *store.Store) {
	t.Helper()

	a := paper.New("venuea", venue.Capabilities{})
	b := paper.New("venueb", venue.Capabilities{})
	a.SetQuote(testSymbol, dec("99.9"), dec("100"))
	b.SetQuote(testSymbol, dec("99.95"), dec("100.05"))
	registry := venue.NewRegistry()
	if err := registry.Register(a); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(b); err != nil {
		t.Fatalf("register: %v", err)
	}

	mapping := symbols.Mapping{
		testSymbol: {"venuea": testSymbol, "venueb": testSymbol},
	}
	rng := rand.New(rand.NewSource(7))
	ledger := hedge.NewLedger(decimal.Zero, nil)
	sizer := sizing.NewSizer(dec("0.01"), dec("0.1"), sizing.LogUniform, rng)
	executor := hedge.NewExecutor(hedge.ExecutorConfig{
		Registry: registry,
		Mapping:  mapping,
		Sizer:    sizer,
		Ledger:   ledger,
		Sleep:    func(ctx context.Context, d time.Duration) {},
	})
	planner, err := strategy.NewPlanner([]strategy.VolumeTarget{
		{Symbol: testSymbol, DailyTarget: dec("100"), Priority: dec("1")},
	}, nil, rng)
	if err != nil {
		t.Fatalf("NewPlanner: %v", err)
	}
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	e := New(cfg, Deps{
		Registry: registry,
		Mapping:  mapping,
		Selector: pricing.NewSelector(dec("5")),
		Sizer:    sizer,
		Executor: executor,
		Ledger:   ledger,
		Planner:  planner,
		Breaker:  safety.NewBreaker(true, 3, time.Minute, nil),
		Store:    st,
		RNG:      rng,
	})
	return e, st
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestEngineOpensAndDrainsOnStop(t *testing.T) {
	e, st := newTestEngine(t, Config{
		MaxConcurrent:   2,
		ManagerInterval: time.Hour,
		OpenIntervalMin: time.Millisecond,
		OpenIntervalMax: 2 * time.Millisecond,
		CapPoll:         time.Millisecond,
		// Lifetimes far in the future so only the shutdown drain closes.
		Lifecycle: strategy.Lifecycle{Min: time.Hour, Max: 2 * time.Hour},
	})

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	waitFor(t, 5*time.Second, func() bool {
		return e.Statistics().TotalOpened >= 1
	}, "engine never opened a position")

	e.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	stats := e.Statistics()
	if stats.ActivePositions != 0 {
		t.Fatalf("active = %d, want 0 after drain", stats.ActivePositions)
	}
	if stats.ClosedPositions < 1 {
		t.Fatalf("closed = %d, want >= 1", stats.ClosedPositions)
	}

	status, found, err := st.LoadRuntimeStatus()
	if err != nil || !found {
		t.Fatalf("load status = %v found=%v", err, found)
	}
	if status.State != "stopped" {
		t.Fatalf("state = %s, want stopped", status.State)
	}
}

func TestEngineManagerClosesAgedPositions(t *testing.T) {
	e, _ := newTestEngine(t, Config{
		MaxConcurrent:   1,
		ManagerInterval: 2 * time.Millisecond,
		OpenIntervalMin: time.Millisecond,
		OpenIntervalMax: 2 * time.Millisecond,
		CapPoll:         time.Millisecond,
		// Every position is immediately due for closing.
		Lifecycle: strategy.Lifecycle{Min: 0, Max: time.Nanosecond},
	})

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	waitFor(t, 5*time.Second, func() bool {
		return e.Statistics().ClosedPositions >= 2
	}, "manager never closed positions")

	e.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestEngineCapPollRetriesWithoutOpenInterval(t *testing.T) {
	e, _ := newTestEngine(t, Config{
		MaxConcurrent:   1,
		ManagerInterval: time.Hour,
		// An interval this long only elapses after a successful open, so a
		// freed cap must be picked up by the poll, not the interval.
		OpenIntervalMin: time.Hour,
		OpenIntervalMax: 2 * time.Hour,
		CapPoll:         time.Millisecond,
		Lifecycle:       strategy.Lifecycle{Min: time.Hour, Max: 2 * time.Hour},
	})

	blocker := &hedge.Position{
		ID:         "blocker",
		Symbol:     testSymbol,
		LongVenue:  "venuea",
		ShortVenue: "venueb",
		Size:       dec("0.05"),
		LongPrice:  dec("100"),
		ShortPrice: dec("99.95"),
		OpenedAt:   time.Now(),
		Status:     hedge.StatusOpen,
	}
	e.ledger.Record(blocker)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	// Let the farm loop hit the concurrency gate a few times first.
	time.Sleep(20 * time.Millisecond)
	e.ledger.Complete(blocker, hedge.StatusClosed, decimal.Zero)

	waitFor(t, 5*time.Second, func() bool {
		return e.Statistics().TotalOpened >= 2
	}, "freed capacity not used until the open interval elapsed")

	e.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestEngineHonorsMaxConcurrent(t *testing.T) {
	e, _ := newTestEngine(t, Config{
		MaxConcurrent:   1,
		ManagerInterval: time.Hour,
		OpenIntervalMin: time.Millisecond,
		OpenIntervalMax: 2 * time.Millisecond,
		CapPoll:         time.Millisecond,
		Lifecycle:       strategy.Lifecycle{Min: time.Hour, Max: 2 * time.Hour},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitFor(t, 5*time.Second, func() bool {
		return e.Statistics().TotalOpened >= 1
	}, "engine never opened a position")

	// Give the farm loop time to overshoot if it were going to.
	time.Sleep(20 * time.Millisecond)
	if active := e.Statistics().ActivePositions; active > 1 {
		t.Fatalf("active = %d, want at most 1", active)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
