package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

type OrderType string

type OrderStatus string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

const (
	Limit  OrderType = "limit"
	Market OrderType = "market"
)

const (
	OrderOpen     OrderStatus = "open"
	OrderFilled   OrderStatus = "filled"
	OrderCanceled OrderStatus = "canceled"
	OrderRejected OrderStatus = "rejected"
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type Order struct {
	ID        string
	Symbol    string
	Side      Side
	Type      OrderType
	Price     decimal.Decimal
	Amount    decimal.Decimal
	Filled    decimal.Decimal
	Remaining decimal.Decimal
	Average   decimal.Decimal
	Status    OrderStatus
	CreatedAt time.Time
}

type OrderRequest struct {
	Symbol string
	Type   OrderType
	Side   Side
	Amount decimal.Decimal
	// Price is a hint for market orders on venues that require one; venues
	// that reject priced market orders are sent a zero Price.
	Price decimal.Decimal
}

type Level struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

type OrderBook struct {
	Symbol    string
	Bids      []Level
	Asks      []Level
	Timestamp time.Time
}

func (b OrderBook) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

func (b OrderBook) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

type Rules struct {
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
	QtyStep     decimal.Decimal
}

type Balance map[string]decimal.Decimal

type PositionInfo struct {
	Symbol        string
	Side          string
	Contracts     decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnl decimal.Decimal
}

func Midpoint(a, b decimal.Decimal) decimal.Decimal {
	return a.Add(b).Div(decimal.NewFromInt(2))
}

func RoundDown(value, step decimal.Decimal) decimal.Decimal {
	if step.Cmp(decimal.Zero) <= 0 {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}
