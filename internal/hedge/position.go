package hedge

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusOpen    Status = "open"
	StatusClosed  Status = "closed"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Position is a hedged pair: a long leg on one venue and a short leg of the
// same size on another. It is created only after both opening legs confirmed
// and is mutated only by the executor's close path.
type Position struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	LongVenue  string          `json:"long_venue"`
	ShortVenue string          `json:"short_venue"`
	Size       decimal.Decimal `json:"size"`
	LongPrice  decimal.Decimal `json:"long_price"`
	ShortPrice decimal.Decimal `json:"short_price"`
	OpenedAt   time.Time       `json:"opened_at"`
	ClosedAt   *time.Time      `json:"closed_at,omitempty"`
	Status     Status          `json:"status"`
	PnL        decimal.Decimal `json:"pnl"`

	// Order ids are references into each venue's own order system.
	LongOrderID  string `json:"long_order_id,omitempty"`
	ShortOrderID string `json:"short_order_id,omitempty"`
}

// Spread is the absolute price difference between the two legs at open.
func (p *Position) Spread() decimal.Decimal {
	return p.LongPrice.Sub(p.ShortPrice).Abs()
}

// Cost is the spread wear paid to open the position.
func (p *Position) Cost() decimal.Decimal {
	return p.Spread().Mul(p.Size)
}

// Lifetime reports how long the position has been (or was) open.
func (p *Position) Lifetime(now time.Time) time.Duration {
	end := now
	if p.ClosedAt != nil {
		end = *p.ClosedAt
	}
	return end.Sub(p.OpenedAt)
}

// NewPositionID builds a readable, globally unique position identifier.
func NewPositionID(symbol, longVenue, shortVenue string, openedAt time.Time) string {
	compact := strings.NewReplacer("/", "", ":", "").Replace(symbol)
	return fmt.Sprintf("%s_%s_%s_%d_%s", compact, longVenue, shortVenue, openedAt.Unix(), uuid.NewString()[:8])
}
