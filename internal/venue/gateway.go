package venue

import (
	"context"

	"github.com/shopspring/decimal"

	"hedge-volume/internal/core"
)

// Capabilities is resolved once when a venue is registered and consulted as
// data afterwards. It replaces runtime probing of gateway methods.
type Capabilities struct {
	// SupportsLeverage marks venues that accept SetLeverage.
	SupportsLeverage bool
	// RequiresMarketPrice marks venues whose market orders must carry a
	// price hint. Venues without the flag reject priced market orders.
	RequiresMarketPrice bool
	// ListingBased marks venues whose tradable symbols come from a market
	// listing and may need symbol variant resolution.
	ListingBased bool
	// AsyncSettlement marks venues that settle market orders asynchronously:
	// a just-submitted order can report zero fill while still open and must
	// be re-queried after a short delay.
	AsyncSettlement bool
}

type Gateway interface {
	Name() string
	Capabilities() Capabilities
	// Markets returns the venue's tradable symbols. Only meaningful for
	// listing-based venues.
	Markets(ctx context.Context) ([]string, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (core.OrderBook, error)
	FetchBalance(ctx context.Context) (core.Balance, error)
	CreateOrder(ctx context.Context, req core.OrderRequest) (core.Order, error)
	FetchOrder(ctx context.Context, id, symbol string) (core.Order, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	FetchPositions(ctx context.Context, symbols []string) ([]core.PositionInfo, error)
	SetLeverage(ctx context.Context, leverage int, symbol string) error
	MarketRules(ctx context.Context, symbol string) (core.Rules, error)
	Connect(ctx context.Context) error
	Close() error
}

// MarketPriceHint returns the price to attach to a market order for gw,
// honoring the per-venue price hint requirement.
func MarketPriceHint(gw Gateway, price decimal.Decimal) decimal.Decimal {
	if gw.Capabilities().RequiresMarketPrice {
		return price
	}
	return decimal.Zero
}
