package sizing

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"hedge-volume/internal/venue"
)

type Distribution string

const (
	LogNormal  Distribution = "lognormal"
	LogUniform Distribution = "loguniform"
)

const sizePrecision = 6

// minimumBuffer scales a size up 10% past a venue minimum so rounding on the
// venue side cannot push it back under.
var minimumBuffer = decimal.RequireFromString("1.1")

type Sizer struct {
	Min          decimal.Decimal
	Max          decimal.Decimal
	Distribution Distribution

	rng *rand.Rand
	log *logrus.Entry
}

func NewSizer(min, max decimal.Decimal, dist Distribution, rng *rand.Rand) *Sizer {
	if dist != LogNormal && dist != LogUniform {
		dist = LogUniform
	}
	return &Sizer{
		Min:          min,
		Max:          max,
		Distribution: dist,
		rng:          rng,
		log:          logrus.WithField("component", "sizing"),
	}
}

// GenerateSize draws a position size from the configured distribution,
// jitters it ±5% so repeated draws never look identical, clips it to
// [Min, Max] and rounds to six decimal places.
func (s *Sizer) GenerateSize() decimal.Decimal {
	minF, _ := s.Min.Float64()
	maxF, _ := s.Max.Float64()
	logMin := math.Log(minF)
	logMax := math.Log(maxF)

	var size float64
	if s.Distribution == LogNormal {
		// Mean centered in log space, 3 sigma spanning half the log range.
		mean := (logMin + logMax) / 2
		stddev := (logMax - logMin) / 6
		size = math.Exp(s.rng.NormFloat64()*stddev + mean)
	} else {
		size = math.Exp(logMin + s.rng.Float64()*(logMax-logMin))
	}

	size *= 0.95 + s.rng.Float64()*0.10
	size = math.Max(minF, math.Min(maxF, size))
	rounded := decimal.NewFromFloat(size).Round(sizePrecision)
	if rounded.Cmp(s.Min) < 0 {
		return s.Min
	}
	if rounded.Cmp(s.Max) > 0 {
		return s.Max
	}
	return rounded
}

// AdjustForMarketMinimums raises size until it satisfies the venue's minimum
// quantity and minimum notional (each with a 10% buffer), then snaps to the
// venue's quantity step. Failures to read the rules leave the size unchanged.
func (s *Sizer) AdjustForMarketMinimums(ctx context.Context, size decimal.Decimal, gw venue.Gateway, symbol string, price decimal.Decimal) decimal.Decimal {
	rules, err := gw.MarketRules(ctx, symbol)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"venue":  gw.Name(),
			"symbol": symbol,
		}).Warnf("fetch market rules failed: %v", err)
		return size
	}

	adjusted := size
	if rules.MinNotional.Cmp(decimal.Zero) > 0 && price.Cmp(decimal.Zero) > 0 {
		required := rules.MinNotional.Div(price).Mul(minimumBuffer)
		if adjusted.Cmp(required) < 0 {
			s.log.WithFields(logrus.Fields{
				"venue":        gw.Name(),
				"symbol":       symbol,
				"min_notional": rules.MinNotional.String(),
				"required_qty": required.String(),
			}).Info("size raised to minimum notional")
			adjusted = required
		}
	}
	if rules.MinQty.Cmp(decimal.Zero) > 0 {
		buffered := rules.MinQty.Mul(minimumBuffer)
		if adjusted.Cmp(buffered) < 0 {
			adjusted = buffered
		}
	}
	if rules.QtyStep.Cmp(decimal.Zero) > 0 {
		snapped := snapUp(adjusted, rules.QtyStep)
		if rules.MinQty.Cmp(decimal.Zero) > 0 && snapped.Cmp(rules.MinQty) < 0 {
			snapped = snapped.Add(rules.QtyStep)
		}
		adjusted = snapped
	}
	return adjusted
}

// snapUp rounds value up to the next multiple of step so an adjusted size
// never drops back below a minimum it was raised to meet.
func snapUp(value, step decimal.Decimal) decimal.Decimal {
	return value.Div(step).Ceil().Mul(step)
}

func (d Distribution) Validate() error {
	switch d {
	case LogNormal, LogUniform:
		return nil
	}
	return fmt.Errorf("distribution must be %s or %s", LogNormal, LogUniform)
}
