package hedge

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"hedge-volume/internal/core"
	"hedge-volume/internal/pricing"
	"hedge-volume/internal/sizing"
	"hedge-volume/internal/symbols"
	"hedge-volume/internal/venue"
)

const (
	defaultSettleDelay = 3 * time.Second
	defaultCooldown    = 5 * time.Second
)

// fillMismatchTol is the absolute quantity by which the two legs' fills may
// differ before the hedge is reported uneven.
var fillMismatchTol = decimal.RequireFromString("0.001")

// Alerter receives human-facing notifications about execution incidents.
type Alerter interface {
	Notify(text string)
}

// SleepFunc waits for d or until ctx is canceled.
type SleepFunc func(ctx context.Context, d time.Duration)

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Executor opens and closes hedged position pairs across two venues. Both
// legs are submitted concurrently; if exactly one leg fills, the filled leg
// is unwound with a compensating market order so exposure stays flat.
type Executor struct {
	registry    *venue.Registry
	mapping     symbols.Mapping
	sizer       *sizing.Sizer
	ledger      *Ledger
	leverage    int
	clock       core.Clock
	sleep       SleepFunc
	settleDelay time.Duration
	cooldown    time.Duration
	alert       Alerter
	log         *logrus.Entry
}

type ExecutorConfig struct {
	Registry *venue.Registry
	Mapping  symbols.Mapping
	Sizer    *sizing.Sizer
	Ledger   *Ledger
	// Leverage is applied to venues that support it before the first order.
	Leverage int
	Clock    core.Clock
	Sleep    SleepFunc
	// SettleDelay is the wait before re-querying an order on an
	// async-settlement venue that reported zero fill.
	SettleDelay time.Duration
	// Cooldown is the pause after opening through an async-settlement venue.
	Cooldown time.Duration
	Alerter  Alerter
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	e := &Executor{
		registry:    cfg.Registry,
		mapping:     cfg.Mapping,
		sizer:       cfg.Sizer,
		ledger:      cfg.Ledger,
		leverage:    cfg.Leverage,
		clock:       cfg.Clock,
		sleep:       cfg.Sleep,
		settleDelay: cfg.SettleDelay,
		cooldown:    cfg.Cooldown,
		alert:       cfg.Alerter,
		log:         logrus.WithField("component", "executor"),
	}
	if e.clock == nil {
		e.clock = core.RealClock{}
	}
	if e.sleep == nil {
		e.sleep = sleepContext
	}
	if e.settleDelay <= 0 {
		e.settleDelay = defaultSettleDelay
	}
	if e.cooldown <= 0 {
		e.cooldown = defaultCooldown
	}
	return e
}

// Ledger exposes the ledger the executor records into.
func (e *Executor) Ledger() *Ledger { return e.ledger }

type leg struct {
	gw     venue.Gateway
	native string
	side   core.Side
	ref    decimal.Decimal
}

type legResult struct {
	order core.Order
	err   error
}

// OpenPosition submits both legs of a hedge for symbol in the direction d,
// sized at size before per-venue minimum adjustment. On success the
// resulting position is recorded in the ledger and returned.
func (e *Executor) OpenPosition(ctx context.Context, symbol string, d pricing.Decision, size decimal.Decimal) (*Position, error) {
	longLeg, shortLeg, err := e.resolveLegs(symbol, d)
	if err != nil {
		return nil, err
	}

	e.ensureLeverage(ctx, longLeg.gw, longLeg.native)
	e.ensureLeverage(ctx, shortLeg.gw, shortLeg.native)

	// Both venues must accept the size, so take the larger adjustment.
	adjLong := e.sizer.AdjustForMarketMinimums(ctx, size, longLeg.gw, longLeg.native, d.LongPrice)
	adjShort := e.sizer.AdjustForMarketMinimums(ctx, size, shortLeg.gw, shortLeg.native, d.ShortPrice)
	final := adjLong
	if adjShort.Cmp(final) > 0 {
		final = adjShort
	}

	longRes, shortRes := e.submitLegs(ctx, longLeg, shortLeg, final)

	if longRes.err != nil && shortRes.err != nil {
		return nil, execErr(FailureTransient, "open "+symbol,
			fmt.Errorf("both legs rejected: long %s: %v; short %s: %v",
				longLeg.gw.Name(), longRes.err, shortLeg.gw.Name(), shortRes.err))
	}
	if longRes.err != nil {
		e.compensate(ctx, shortLeg, final, "long leg rejected")
		return nil, execErr(FailureCompensated, "open "+symbol,
			fmt.Errorf("long leg on %s: %w", longLeg.gw.Name(), longRes.err))
	}
	if shortRes.err != nil {
		e.compensate(ctx, longLeg, final, "short leg rejected")
		return nil, execErr(FailureCompensated, "open "+symbol,
			fmt.Errorf("short leg on %s: %w", shortLeg.gw.Name(), shortRes.err))
	}

	longOrder := e.settleIfNeeded(ctx, longLeg, longRes.order)
	shortOrder := e.settleIfNeeded(ctx, shortLeg, shortRes.order)

	e.checkFill(longLeg, shortLeg, longOrder, shortOrder)

	now := e.clock.Now()
	p := &Position{
		ID:           NewPositionID(symbol, d.LongVenue, d.ShortVenue, now),
		Symbol:       symbol,
		LongVenue:    d.LongVenue,
		ShortVenue:   d.ShortVenue,
		Size:         final,
		LongPrice:    fillPrice(longOrder, d.LongPrice),
		ShortPrice:   fillPrice(shortOrder, d.ShortPrice),
		OpenedAt:     now,
		Status:       StatusOpen,
		LongOrderID:  longOrder.ID,
		ShortOrderID: shortOrder.ID,
	}
	e.ledger.Record(p)

	e.log.WithFields(logrus.Fields{
		"position": p.ID,
		"symbol":   symbol,
		"long":     p.LongVenue,
		"short":    p.ShortVenue,
		"size":     p.Size.String(),
		"cost":     p.Cost().String(),
	}).Info("position opened")

	if longLeg.gw.Capabilities().AsyncSettlement || shortLeg.gw.Capabilities().AsyncSettlement {
		e.sleep(ctx, e.cooldown)
	}
	return p, nil
}

// ClosePosition unwinds p by selling the long leg and buying back the short
// leg. Leg failures during close leave the position marked closed with zero
// PnL; failures before any order is sent mark it failed.
func (e *Executor) ClosePosition(ctx context.Context, p *Position) error {
	d := pricing.Decision{LongVenue: p.LongVenue, ShortVenue: p.ShortVenue}
	longLeg, shortLeg, err := e.resolveLegs(p.Symbol, d)
	if err != nil {
		e.ledger.Complete(p, StatusFailed, decimal.Zero)
		return err
	}

	closeLongRef, closeShortRef, err := e.closePrices(ctx, longLeg, shortLeg)
	if err != nil {
		e.ledger.Complete(p, StatusFailed, decimal.Zero)
		return execErr(FailureTransient, "close "+p.ID, err)
	}

	// Close legs invert the open sides.
	longLeg.side = core.Sell
	longLeg.ref = closeLongRef
	shortLeg.side = core.Buy
	shortLeg.ref = closeShortRef

	longRes, shortRes := e.submitLegs(ctx, longLeg, shortLeg, p.Size)
	if longRes.err != nil || shortRes.err != nil {
		e.log.WithFields(logrus.Fields{
			"position":  p.ID,
			"long_err":  fmt.Sprint(longRes.err),
			"short_err": fmt.Sprint(shortRes.err),
		}).Warn("close leg rejected, recording position closed with zero pnl")
		e.notify(fmt.Sprintf("close incomplete for %s: long=%v short=%v", p.ID, longRes.err, shortRes.err))
		e.ledger.Complete(p, StatusClosed, decimal.Zero)
		return nil
	}

	longOrder := e.settleIfNeeded(ctx, longLeg, longRes.order)
	shortOrder := e.settleIfNeeded(ctx, shortLeg, shortRes.order)

	closeLong := fillPrice(longOrder, closeLongRef)
	closeShort := fillPrice(shortOrder, closeShortRef)
	pnl := closeLong.Sub(p.LongPrice).Mul(p.Size).
		Add(p.ShortPrice.Sub(closeShort).Mul(p.Size))

	e.ledger.Complete(p, StatusClosed, pnl)
	e.log.WithFields(logrus.Fields{
		"position": p.ID,
		"pnl":      pnl.String(),
		"lifetime": p.Lifetime(e.clock.Now()).String(),
	}).Info("position closed")
	return nil
}

func (e *Executor) resolveLegs(symbol string, d pricing.Decision) (leg, leg, error) {
	longGW, ok := e.registry.Get(d.LongVenue)
	if !ok {
		return leg{}, leg{}, execErr(FailureConfig, "resolve "+symbol, fmt.Errorf("unknown venue %s", d.LongVenue))
	}
	shortGW, ok := e.registry.Get(d.ShortVenue)
	if !ok {
		return leg{}, leg{}, execErr(FailureConfig, "resolve "+symbol, fmt.Errorf("unknown venue %s", d.ShortVenue))
	}
	nativeLong, ok := e.mapping.Native(symbol, d.LongVenue)
	if !ok {
		return leg{}, leg{}, execErr(FailureConfig, "resolve "+symbol, fmt.Errorf("%s not mapped on %s", symbol, d.LongVenue))
	}
	nativeShort, ok := e.mapping.Native(symbol, d.ShortVenue)
	if !ok {
		return leg{}, leg{}, execErr(FailureConfig, "resolve "+symbol, fmt.Errorf("%s not mapped on %s", symbol, d.ShortVenue))
	}
	longLeg := leg{gw: longGW, native: nativeLong, side: core.Buy, ref: d.LongPrice}
	shortLeg := leg{gw: shortGW, native: nativeShort, side: core.Sell, ref: d.ShortPrice}
	return longLeg, shortLeg, nil
}

func (e *Executor) ensureLeverage(ctx context.Context, gw venue.Gateway, native string) {
	if e.leverage <= 0 || !gw.Capabilities().SupportsLeverage {
		return
	}
	if err := gw.SetLeverage(ctx, e.leverage, native); err != nil {
		e.log.WithFields(logrus.Fields{
			"venue":  gw.Name(),
			"symbol": native,
		}).Warnf("set leverage failed: %v", err)
	}
}

func (e *Executor) submitLegs(ctx context.Context, a, b leg, size decimal.Decimal) (legResult, legResult) {
	chA := make(chan legResult, 1)
	chB := make(chan legResult, 1)
	submit := func(l leg, ch chan legResult) {
		order, err := l.gw.CreateOrder(ctx, core.OrderRequest{
			Symbol: l.native,
			Type:   core.Market,
			Side:   l.side,
			Amount: size,
			Price:  venue.MarketPriceHint(l.gw, l.ref),
		})
		ch <- legResult{order: order, err: err}
	}
	go submit(a, chA)
	go submit(b, chB)
	return <-chA, <-chB
}

// compensate unwinds the single filled leg of a half-opened hedge.
func (e *Executor) compensate(ctx context.Context, filled leg, size decimal.Decimal, cause string) {
	side := filled.side.Opposite()
	hint := decimal.Zero
	if filled.gw.Capabilities().RequiresMarketPrice {
		hint = filled.ref
		if book, err := filled.gw.FetchOrderBook(ctx, filled.native, 1); err == nil {
			// Cross the book: a compensating sell hits the bid, a buy lifts
			// the ask.
			if side == core.Sell {
				if bid, ok := book.BestBid(); ok {
					hint = bid.Price
				}
			} else {
				if ask, ok := book.BestAsk(); ok {
					hint = ask.Price
				}
			}
		}
	}
	_, err := filled.gw.CreateOrder(ctx, core.OrderRequest{
		Symbol: filled.native,
		Type:   core.Market,
		Side:   side,
		Amount: size,
		Price:  hint,
	})
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"venue":  filled.gw.Name(),
			"symbol": filled.native,
			"size":   size.String(),
		}).Errorf("compensation failed, residual exposure: %v", err)
		e.notify(fmt.Sprintf("COMPENSATION FAILED on %s %s size %s: %v", filled.gw.Name(), filled.native, size.String(), err))
		return
	}
	e.log.WithFields(logrus.Fields{
		"venue":  filled.gw.Name(),
		"symbol": filled.native,
		"size":   size.String(),
	}).Warnf("compensated filled leg: %s", cause)
	e.notify(fmt.Sprintf("compensated %s leg on %s %s size %s (%s)", filled.side, filled.gw.Name(), filled.native, size.String(), cause))
}

// settleIfNeeded re-queries an order on an async-settlement venue that
// still reports zero fill right after submission.
func (e *Executor) settleIfNeeded(ctx context.Context, l leg, order core.Order) core.Order {
	if !l.gw.Capabilities().AsyncSettlement {
		return order
	}
	if order.Status != core.OrderOpen && order.Filled.Cmp(decimal.Zero) > 0 {
		return order
	}
	e.sleep(ctx, e.settleDelay)
	refreshed, err := l.gw.FetchOrder(ctx, order.ID, l.native)
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"venue": l.gw.Name(),
			"order": order.ID,
		}).Warnf("settlement re-query failed: %v", err)
		return order
	}
	return refreshed
}

// checkFill polices leg symmetry: both legs of the hedge must fill the same
// quantity, or the book carries a directional remainder.
func (e *Executor) checkFill(longLeg, shortLeg leg, longOrder, shortOrder core.Order) {
	if longOrder.Filled.Cmp(decimal.Zero) <= 0 || shortOrder.Filled.Cmp(decimal.Zero) <= 0 {
		return
	}
	diff := longOrder.Filled.Sub(shortOrder.Filled).Abs()
	if diff.Cmp(fillMismatchTol) <= 0 {
		return
	}
	e.log.WithFields(logrus.Fields{
		"long_venue":   longLeg.gw.Name(),
		"short_venue":  shortLeg.gw.Name(),
		"long_filled":  longOrder.Filled.String(),
		"short_filled": shortOrder.Filled.String(),
	}).Warn("hedge legs filled unevenly")
	e.notify(fmt.Sprintf("uneven fills on %s: long %s filled %s, short %s filled %s",
		longLeg.native, longLeg.gw.Name(), longOrder.Filled.String(),
		shortLeg.gw.Name(), shortOrder.Filled.String()))
}

// closePrices fetches the prices the close legs will cross: the long
// venue's bid and the short venue's ask.
func (e *Executor) closePrices(ctx context.Context, longLeg, shortLeg leg) (decimal.Decimal, decimal.Decimal, error) {
	longBook, err := longLeg.gw.FetchOrderBook(ctx, longLeg.native, 1)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("fetch %s book: %w", longLeg.gw.Name(), err)
	}
	shortBook, err := shortLeg.gw.FetchOrderBook(ctx, shortLeg.native, 1)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("fetch %s book: %w", shortLeg.gw.Name(), err)
	}
	bid, okBid := longBook.BestBid()
	ask, okAsk := shortBook.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, decimal.Zero, core.ErrEmptyBook
	}
	return bid.Price, ask.Price, nil
}

// fillPrice picks the best available price for a fill: the venue-reported
// average, then the order price, then the reference used at submission.
func fillPrice(o core.Order, reference decimal.Decimal) decimal.Decimal {
	if o.Average.Cmp(decimal.Zero) > 0 {
		return o.Average
	}
	if o.Price.Cmp(decimal.Zero) > 0 {
		return o.Price
	}
	return reference
}

func (e *Executor) notify(text string) {
	if e.alert == nil {
		return
	}
	e.alert.Notify(text)
}
