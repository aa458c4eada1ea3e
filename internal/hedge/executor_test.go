package hedge

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hedge-volume/internal/core"
	"hedge-volume/internal/pricing"
	"hedge-volume/internal/sizing"
	"hedge-volume/internal/symbols"
	"hedge-volume/internal/venue"
	"hedge-volume/internal/venue/paper"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type recordingAlerter struct {
	messages []string
}

func (a *recordingAlerter) Notify(text string) {
	a.messages = append(a.messages, text)
}

func noSleep(ctx context.Context, d time.Duration) {}

const testSymbol = "BTC/USDC"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestVenues(t *testing.T, capsA, capsB venue.Capabilities) (*paper.Gateway, *paper.Gateway, *venue.Registry) {
	t.Helper()
	a := paper.New("venuea", capsA)
	b := paper.New("venueb", capsB)
	a.SetQuote(testSymbol, dec("99"), dec("100"))
	b.SetQuote(testSymbol, dec("99.5"), dec("100.5"))
	registry := venue.NewRegistry()
	if err := registry.Register(a); err != nil {
		t.Fatalf("register venuea: %v", err)
	}
	if err := registry.Register(b); err != nil {
		t.Fatalf("register venueb: %v", err)
	}
	return a, b, registry
}

func newTestExecutor(t *testing.T, registry *venue.Registry, clock core.Clock, alerter Alerter) *Executor {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	return NewExecutor(ExecutorConfig{
		Registry: registry,
		Mapping: symbols.Mapping{
			testSymbol: {"venuea": testSymbol, "venueb": testSymbol},
		},
		Sizer:       sizing.NewSizer(dec("0.001"), dec("1"), sizing.LogUniform, rng),
		Ledger:      NewLedger(decimal.Zero, clock),
		Clock:       clock,
		Sleep:       noSleep,
		SettleDelay: time.Millisecond,
		Cooldown:    time.Millisecond,
		Alerter:     alerter,
	})
}

func openDecision() pricing.Decision {
	return pricing.Decision{
		Acceptable: true,
		LongVenue:  "venuea",
		ShortVenue: "venueb",
		LongPrice:  dec("100"),
		ShortPrice: dec("99.5"),
	}
}

func TestOpenPositionRecordsBothLegs(t *testing.T) {
	a, b, registry := newTestVenues(t, venue.Capabilities{}, venue.Capabilities{})
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	e := newTestExecutor(t, registry, clock, nil)

	p, err := e.OpenPosition(context.Background(), testSymbol, openDecision(), dec("0.5"))
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if p.Status != StatusOpen {
		t.Fatalf("status = %s, want %s", p.Status, StatusOpen)
	}
	if p.LongPrice.Cmp(dec("100")) != 0 {
		t.Fatalf("long price = %s, want 100", p.LongPrice)
	}
	if p.ShortPrice.Cmp(dec("99.5")) != 0 {
		t.Fatalf("short price = %s, want 99.5", p.ShortPrice)
	}
	if got := a.NetPosition(testSymbol); got.Cmp(dec("0.5")) != 0 {
		t.Fatalf("venuea net = %s, want 0.5", got)
	}
	if got := b.NetPosition(testSymbol); got.Cmp(dec("-0.5")) != 0 {
		t.Fatalf("venueb net = %s, want -0.5", got)
	}
	if e.Ledger().ActiveCount() != 1 {
		t.Fatalf("active = %d, want 1", e.Ledger().ActiveCount())
	}
}

func TestOpenPositionCompensatesWhenShortLegFails(t *testing.T) {
	a, b, registry := newTestVenues(t, venue.Capabilities{}, venue.Capabilities{})
	alerter := &recordingAlerter{}
	e := newTestExecutor(t, registry, &fakeClock{now: time.Now()}, alerter)

	b.FailNextCreate(core.Sell, core.ErrInsufficientBalance)

	_, err := e.OpenPosition(context.Background(), testSymbol, openDecision(), dec("0.5"))
	if err == nil {
		t.Fatal("OpenPosition succeeded, want compensated failure")
	}
	if kind := KindOf(err); kind != FailureCompensated {
		t.Fatalf("failure kind = %s, want %s", kind, FailureCompensated)
	}
	// The filled long leg must be unwound so the venue ends flat.
	if got := a.NetPosition(testSymbol); got.Cmp(decimal.Zero) != 0 {
		t.Fatalf("venuea net = %s, want 0 after compensation", got)
	}
	if calls := a.CreateCalls(); len(calls) != 2 {
		t.Fatalf("venuea orders = %d, want open plus compensation", len(calls))
	} else if calls[1].Side != core.Sell {
		t.Fatalf("compensating side = %s, want sell", calls[1].Side)
	}
	if e.Ledger().ActiveCount() != 0 {
		t.Fatalf("active = %d, want 0", e.Ledger().ActiveCount())
	}
	if len(alerter.messages) == 0 {
		t.Fatal("no alert sent for compensation")
	}
}

func TestOpenPositionBothLegsFailIsTransient(t *testing.T) {
	a, b, registry := newTestVenues(t, venue.Capabilities{}, venue.Capabilities{})
	e := newTestExecutor(t, registry, &fakeClock{now: time.Now()}, nil)

	a.FailNextCreate(core.Buy, core.ErrOrderRejected)
	b.FailNextCreate(core.Sell, core.ErrOrderRejected)

	_, err := e.OpenPosition(context.Background(), testSymbol, openDecision(), dec("0.5"))
	if err == nil {
		t.Fatal("OpenPosition succeeded, want error")
	}
	if kind := KindOf(err); kind != FailureTransient {
		t.Fatalf("failure kind = %s, want %s", kind, FailureTransient)
	}
	if got := a.NetPosition(testSymbol); got.Cmp(decimal.Zero) != 0 {
		t.Fatalf("venuea net = %s, want 0", got)
	}
}

func TestOpenPositionUnknownVenueIsConfigFailure(t *testing.T) {
	_, _, registry := newTestVenues(t, venue.Capabilities{}, venue.Capabilities{})
	e := newTestExecutor(t, registry, &fakeClock{now: time.Now()}, nil)

	d := openDecision()
	d.LongVenue = "missing"
	_, err := e.OpenPosition(context.Background(), testSymbol, d, dec("0.5"))
	if err == nil {
		t.Fatal("OpenPosition succeeded, want config failure")
	}
	if kind := KindOf(err); kind != FailureConfig {
		t.Fatalf("failure kind = %s, want %s", kind, FailureConfig)
	}
}

func TestOpenPositionSettlesAsyncVenue(t *testing.T) {
	_, _, registry := newTestVenues(t, venue.Capabilities{AsyncSettlement: true}, venue.Capabilities{})
	e := newTestExecutor(t, registry, &fakeClock{now: time.Now()}, nil)

	p, err := e.OpenPosition(context.Background(), testSymbol, openDecision(), dec("0.5"))
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	// The async venue reports zero fill at submission; the re-query must
	// recover the real average.
	if p.LongPrice.Cmp(dec("100")) != 0 {
		t.Fatalf("long price = %s, want settled average 100", p.LongPrice)
	}
}

func TestOpenPositionRaisesSizeToVenueMinimums(t *testing.T) {
	a, _, registry := newTestVenues(t, venue.Capabilities{}, venue.Capabilities{})
	a.SetRules(testSymbol, core.Rules{MinQty: dec("0.6")})
	e := newTestExecutor(t, registry, &fakeClock{now: time.Now()}, nil)

	p, err := e.OpenPosition(context.Background(), testSymbol, openDecision(), dec("0.5"))
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	// Both legs carry the adjusted size even though only one venue has rules.
	want := dec("0.66")
	if p.Size.Cmp(want) != 0 {
		t.Fatalf("size = %s, want %s", p.Size, want)
	}
}

func TestClosePositionComputesPnL(t *testing.T) {
	a, b, registry := newTestVenues(t, venue.Capabilities{}, venue.Capabilities{})
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	e := newTestExecutor(t, registry, clock, nil)

	p, err := e.OpenPosition(context.Background(), testSymbol, openDecision(), dec("0.5"))
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	// Move both books before the close. Close sells venuea at its bid 101
	// and buys venueb back at its ask 100.
	a.SetQuote(testSymbol, dec("101"), dec("102"))
	b.SetQuote(testSymbol, dec("99"), dec("100"))
	clock.now = clock.now.Add(time.Hour)

	if err := e.ClosePosition(context.Background(), p); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if p.Status != StatusClosed {
		t.Fatalf("status = %s, want %s", p.Status, StatusClosed)
	}
	// (101-100)*0.5 + (99.5-100)*0.5 = 0.25
	if p.PnL.Cmp(dec("0.25")) != 0 {
		t.Fatalf("pnl = %s, want 0.25", p.PnL)
	}
	if e.Ledger().ActiveCount() != 0 {
		t.Fatalf("active = %d, want 0", e.Ledger().ActiveCount())
	}
}

func TestClosePositionLegFailureClosesWithZeroPnL(t *testing.T) {
	a, _, registry := newTestVenues(t, venue.Capabilities{}, venue.Capabilities{})
	alerter := &recordingAlerter{}
	e := newTestExecutor(t, registry, &fakeClock{now: time.Now()}, alerter)

	p, err := e.OpenPosition(context.Background(), testSymbol, openDecision(), dec("0.5"))
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	a.FailNextCreate(core.Sell, errors.New("venue down"))
	if err := e.ClosePosition(context.Background(), p); err != nil {
		t.Fatalf("ClosePosition returned error: %v", err)
	}
	if p.Status != StatusClosed {
		t.Fatalf("status = %s, want %s", p.Status, StatusClosed)
	}
	if p.PnL.Cmp(decimal.Zero) != 0 {
		t.Fatalf("pnl = %s, want 0", p.PnL)
	}
	if len(alerter.messages) == 0 {
		t.Fatal("no alert sent for incomplete close")
	}
}

func TestClosePositionEmptyBookMarksFailed(t *testing.T) {
	a, _, registry := newTestVenues(t, venue.Capabilities{}, venue.Capabilities{})
	e := newTestExecutor(t, registry, &fakeClock{now: time.Now()}, nil)

	p, err := e.OpenPosition(context.Background(), testSymbol, openDecision(), dec("0.5"))
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	a.SetBook(testSymbol, core.OrderBook{})
	if err := e.ClosePosition(context.Background(), p); err == nil {
		t.Fatal("ClosePosition succeeded with empty book")
	}
	if p.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", p.Status, StatusFailed)
	}
}

func TestCheckFillReportsUnevenLegs(t *testing.T) {
	a, b, registry := newTestVenues(t, venue.Capabilities{}, venue.Capabilities{})
	alerter := &recordingAlerter{}
	e := newTestExecutor(t, registry, &fakeClock{now: time.Now()}, alerter)

	longLeg := leg{gw: a, native: testSymbol, side: core.Buy}
	shortLeg := leg{gw: b, native: testSymbol, side: core.Sell}

	// A difference inside the absolute tolerance passes quietly.
	e.checkFill(longLeg, shortLeg,
		core.Order{ID: "l1", Filled: dec("0.5005")},
		core.Order{ID: "s1", Filled: dec("0.5")})
	if len(alerter.messages) != 0 {
		t.Fatalf("alerted on 0.0005 difference: %v", alerter.messages)
	}

	// Beyond it the legs are uneven and an alert goes out.
	e.checkFill(longLeg, shortLeg,
		core.Order{ID: "l2", Filled: dec("0.502")},
		core.Order{ID: "s2", Filled: dec("0.5")})
	if len(alerter.messages) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerter.messages))
	}

	// A zero-fill leg is the compensation path's problem, not a mismatch.
	e.checkFill(longLeg, shortLeg,
		core.Order{ID: "l3", Filled: dec("0.5")},
		core.Order{ID: "s3"})
	if len(alerter.messages) != 1 {
		t.Fatalf("alerted on zero-fill leg: %v", alerter.messages)
	}
}

func TestFillPricePreference(t *testing.T) {
	ref := dec("97")
	cases := []struct {
		name  string
		order core.Order
		want  string
	}{
		{"average wins", core.Order{Average: dec("99"), Price: dec("98")}, "99"},
		{"price next", core.Order{Price: dec("98")}, "98"},
		{"reference last", core.Order{}, "97"},
	}
	for _, tc := range cases {
		if got := fillPrice(tc.order, ref); got.Cmp(dec(tc.want)) != 0 {
			t.Fatalf("%s: fillPrice = %s, want %s", tc.name, got, tc.want)
		}
	}
}
