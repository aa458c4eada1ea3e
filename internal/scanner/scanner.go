package scanner

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"hedge-volume/internal/core"
	"hedge-volume/internal/pricing"
	"hedge-volume/internal/symbols"
	"hedge-volume/internal/venue"
)

// Opportunity is one observed crossing between a venue pair. Cost below
// zero means the crossing pays the taker.
type Opportunity struct {
	Symbol     string
	LongVenue  string
	ShortVenue string
	Cost       decimal.Decimal
	SpreadPct  decimal.Decimal
	Observed   time.Time
}

// Scanner walks every venue pair for a set of symbols and reports the best
// direction per pair. It never trades.
type Scanner struct {
	registry *venue.Registry
	mapping  symbols.Mapping
	selector *pricing.Selector
	clock    core.Clock
	log      *logrus.Entry
}

func New(registry *venue.Registry, mapping symbols.Mapping, selector *pricing.Selector, clock core.Clock) *Scanner {
	if clock == nil {
		clock = core.RealClock{}
	}
	return &Scanner{
		registry: registry,
		mapping:  mapping,
		selector: selector,
		clock:    clock,
		log:      logrus.WithField("component", "scanner"),
	}
}

// Scan evaluates each symbol across all venue pair combinations. Pairs that
// fail to price are skipped with a warning.
func (s *Scanner) Scan(ctx context.Context, syms []string) []Opportunity {
	gateways := s.registry.All()
	var out []Opportunity
	for _, symbol := range syms {
		for i := 0; i < len(gateways); i++ {
			for j := i + 1; j < len(gateways); j++ {
				a, b := gateways[i], gateways[j]
				nativeA, okA := s.mapping.Native(symbol, a.Name())
				nativeB, okB := s.mapping.Native(symbol, b.Name())
				if !okA || !okB {
					continue
				}
				d, err := s.selector.SelectDirection(ctx, symbol, a, b, nativeA, nativeB)
				if err != nil {
					s.log.WithFields(logrus.Fields{
						"symbol": symbol,
						"pair":   a.Name() + "/" + b.Name(),
					}).Warnf("scan failed: %v", err)
					continue
				}
				if d.LongVenue == "" {
					continue
				}
				out = append(out, Opportunity{
					Symbol:     symbol,
					LongVenue:  d.LongVenue,
					ShortVenue: d.ShortVenue,
					Cost:       d.Cost,
					SpreadPct:  d.SpreadPct,
					Observed:   s.clock.Now(),
				})
			}
		}
	}
	return out
}

// Profitable filters opportunities whose crossing pays, meaning the long
// leg's ask sits below the short leg's bid.
func Profitable(opps []Opportunity) []Opportunity {
	var out []Opportunity
	for _, o := range opps {
		if o.Cost.Cmp(decimal.Zero) < 0 {
			out = append(out, o)
		}
	}
	return out
}
