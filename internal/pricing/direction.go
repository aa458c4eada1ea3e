package pricing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"hedge-volume/internal/core"
	"hedge-volume/internal/venue"
)

// Decision is the outcome of comparing the two possible hedge directions
// across a venue pair.
type Decision struct {
	Acceptable bool
	LongVenue  string
	ShortVenue string
	// LongPrice is the ask the long leg would cross; ShortPrice the bid the
	// short leg would hit.
	LongPrice  decimal.Decimal
	ShortPrice decimal.Decimal
	// Cost is buy price minus sell price; negative means the crossing pays.
	Cost      decimal.Decimal
	SpreadPct decimal.Decimal
	Reason    string
}

type Selector struct {
	// MaxSpreadPct is the largest acceptable spread between the two legs,
	// in percent of the midpoint.
	MaxSpreadPct decimal.Decimal

	log *logrus.Entry
}

func NewSelector(maxSpreadPct decimal.Decimal) *Selector {
	return &Selector{
		MaxSpreadPct: maxSpreadPct,
		log:          logrus.WithField("component", "direction"),
	}
}

// SelectDirection fetches both venues' books concurrently and picks the
// cheaper of the two crossings: buy A's ask / sell B's bid, or buy B's ask /
// sell A's bid. The buyer of the chosen crossing becomes the long venue.
func (s *Selector) SelectDirection(ctx context.Context, symbol string, a, b venue.Gateway, nativeA, nativeB string) (Decision, error) {
	bookA, bookB, err := fetchBooks(ctx, a, b, nativeA, nativeB)
	if err != nil {
		return Decision{Acceptable: false, Reason: err.Error()}, err
	}

	aBid, okAB := bookA.BestBid()
	aAsk, okAA := bookA.BestAsk()
	bBid, okBB := bookB.BestBid()
	bAsk, okBA := bookB.BestAsk()
	if !okAB || !okAA || !okBB || !okBA {
		return Decision{Acceptable: false, Reason: "order book empty"}, nil
	}

	// Crossing 1: long on a, short on b.
	cost1 := aAsk.Price.Sub(bBid.Price)
	// Crossing 2: long on b, short on a.
	cost2 := bAsk.Price.Sub(aBid.Price)

	d := Decision{}
	if cost1.Cmp(cost2) <= 0 {
		d.LongVenue, d.ShortVenue = a.Name(), b.Name()
		d.LongPrice, d.ShortPrice = aAsk.Price, bBid.Price
		d.Cost = cost1
	} else {
		d.LongVenue, d.ShortVenue = b.Name(), a.Name()
		d.LongPrice, d.ShortPrice = bAsk.Price, aBid.Price
		d.Cost = cost2
	}

	mid := core.Midpoint(d.LongPrice, d.ShortPrice)
	if mid.Cmp(decimal.Zero) <= 0 {
		return Decision{Acceptable: false, Reason: "non-positive midpoint"}, nil
	}
	d.SpreadPct = d.Cost.Abs().Div(mid).Mul(decimal.NewFromInt(100))
	d.Acceptable = d.SpreadPct.Cmp(s.MaxSpreadPct) <= 0
	if d.Acceptable {
		d.Reason = fmt.Sprintf("long %s short %s, spread %s%%", d.LongVenue, d.ShortVenue, d.SpreadPct.StringFixed(3))
	} else {
		d.Reason = fmt.Sprintf("spread %s%% above tolerance %s%%", d.SpreadPct.StringFixed(3), s.MaxSpreadPct.String())
	}

	s.log.WithFields(logrus.Fields{
		"symbol":     symbol,
		"long":       d.LongVenue,
		"short":      d.ShortVenue,
		"cost":       d.Cost.String(),
		"spread_pct": d.SpreadPct.StringFixed(4),
		"acceptable": d.Acceptable,
	}).Debug("direction selected")
	return d, nil
}

func fetchBooks(ctx context.Context, a, b venue.Gateway, nativeA, nativeB string) (core.OrderBook, core.OrderBook, error) {
	type result struct {
		book core.OrderBook
		err  error
	}
	chA := make(chan result, 1)
	chB := make(chan result, 1)
	go func() {
		book, err := a.FetchOrderBook(ctx, nativeA, 1)
		chA <- result{book, err}
	}()
	go func() {
		book, err := b.FetchOrderBook(ctx, nativeB, 1)
		chB <- result{book, err}
	}()
	resA := <-chA
	resB := <-chB
	if resA.err != nil {
		return core.OrderBook{}, core.OrderBook{}, fmt.Errorf("fetch %s book: %w", a.Name(), resA.err)
	}
	if resB.err != nil {
		return core.OrderBook{}, core.OrderBook{}, fmt.Errorf("fetch %s book: %w", b.Name(), resB.err)
	}
	return resA.book, resB.book, nil
}
