package paper

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"hedge-volume/internal/core"
	"hedge-volume/internal/venue"
)

// Gateway is an in-memory venue used by tests and paper mode. Market orders
// fill at the configured top of book; limit orders are accepted but never
// matched. Behavior knobs (submit errors, async settlement) let tests drive
// the executor through its failure paths.
type Gateway struct {
	name string
	caps venue.Capabilities

	mu       sync.Mutex
	books    map[string]core.OrderBook
	rules    map[string]core.Rules
	balances core.Balance
	orders   map[string]*core.Order
	orderSeq int
	posQty   map[string]decimal.Decimal
	posEntry map[string]decimal.Decimal
	clock    core.Clock

	// FailNextCreate makes the next CreateOrder for the given side fail.
	failCreate map[core.Side]error
	// pendingSettle holds orders reported unfilled until re-queried.
	pendingSettle map[string]bool

	createCalls []core.OrderRequest
	leverage    map[string]int
	connected   bool
}

func New(name string, caps venue.Capabilities) *Gateway {
	return &Gateway{
		name:          name,
		caps:          caps,
		books:         make(map[string]core.OrderBook),
		rules:         make(map[string]core.Rules),
		balances:      core.Balance{"USDC": decimal.NewFromInt(1_000_000)},
		orders:        make(map[string]*core.Order),
		posQty:        make(map[string]decimal.Decimal),
		posEntry:      make(map[string]decimal.Decimal),
		clock:         core.RealClock{},
		failCreate:    make(map[core.Side]error),
		pendingSettle: make(map[string]bool),
		leverage:      make(map[string]int),
	}
}

func (g *Gateway) Name() string { return g.name }

func (g *Gateway) Capabilities() venue.Capabilities { return g.caps }

func (g *Gateway) SetClock(clock core.Clock) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clock = clock
}

// SetBook installs the order book served for symbol.
func (g *Gateway) SetBook(symbol string, book core.OrderBook) {
	g.mu.Lock()
	defer g.mu.Unlock()
	book.Symbol = symbol
	g.books[symbol] = book
}

// SetQuote installs a one-level book around bid/ask for symbol.
func (g *Gateway) SetQuote(symbol string, bid, ask decimal.Decimal) {
	qty := decimal.NewFromInt(100)
	g.SetBook(symbol, core.OrderBook{
		Bids: []core.Level{{Price: bid, Qty: qty}},
		Asks: []core.Level{{Price: ask, Qty: qty}},
	})
}

func (g *Gateway) SetRules(symbol string, rules core.Rules) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules[symbol] = rules
}

func (g *Gateway) SetBalance(currency string, amount decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[currency] = amount
}

// FailNextCreate makes the next CreateOrder with the given side return err.
func (g *Gateway) FailNextCreate(side core.Side, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failCreate[side] = err
}

// CreateCalls returns every order request submitted so far.
func (g *Gateway) CreateCalls() []core.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]core.OrderRequest, len(g.createCalls))
	copy(out, g.createCalls)
	return out
}

func (g *Gateway) Leverage(symbol string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.leverage[symbol]
}

func (g *Gateway) Markets(ctx context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	symbols := make([]string, 0, len(g.books))
	for symbol := range g.books {
		symbols = append(symbols, symbol)
	}
	return symbols, nil
}

func (g *Gateway) FetchOrderBook(ctx context.Context, symbol string, depth int) (core.OrderBook, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	book, ok := g.books[symbol]
	if !ok {
		return core.OrderBook{}, fmt.Errorf("paper %s: unknown symbol %s", g.name, symbol)
	}
	book.Timestamp = g.clock.Now()
	if depth > 0 {
		if len(book.Bids) > depth {
			book.Bids = book.Bids[:depth]
		}
		if len(book.Asks) > depth {
			book.Asks = book.Asks[:depth]
		}
	}
	return book, nil
}

func (g *Gateway) FetchBalance(ctx context.Context) (core.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(core.Balance, len(g.balances))
	for cur, amt := range g.balances {
		out[cur] = amt
	}
	return out, nil
}

func (g *Gateway) CreateOrder(ctx context.Context, req core.OrderRequest) (core.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.createCalls = append(g.createCalls, req)
	if err := g.failCreate[req.Side]; err != nil {
		delete(g.failCreate, req.Side)
		return core.Order{}, err
	}
	if req.Amount.Cmp(decimal.Zero) <= 0 {
		return core.Order{}, fmt.Errorf("paper %s: invalid amount", g.name)
	}
	book, ok := g.books[req.Symbol]
	if !ok {
		return core.Order{}, fmt.Errorf("paper %s: unknown symbol %s", g.name, req.Symbol)
	}

	var fillPrice decimal.Decimal
	if req.Side == core.Buy {
		ask, ok := book.BestAsk()
		if !ok {
			return core.Order{}, core.ErrEmptyBook
		}
		fillPrice = ask.Price
	} else {
		bid, ok := book.BestBid()
		if !ok {
			return core.Order{}, core.ErrEmptyBook
		}
		fillPrice = bid.Price
	}

	g.orderSeq++
	order := core.Order{
		ID:        fmt.Sprintf("%s-%d", g.name, g.orderSeq),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Price:     req.Price,
		Amount:    req.Amount,
		CreatedAt: g.clock.Now(),
	}

	if req.Type == core.Market {
		g.applyFill(req.Symbol, req.Side, req.Amount, fillPrice)
		order.Average = fillPrice
		order.Filled = req.Amount
		order.Remaining = decimal.Zero
		order.Status = core.OrderFilled
		if g.caps.AsyncSettlement {
			// Reported unfilled until the caller re-queries, like venues
			// that settle market orders off the submission path.
			g.pendingSettle[order.ID] = true
			settled := order
			g.orders[order.ID] = &settled
			order.Filled = decimal.Zero
			order.Remaining = req.Amount
			order.Average = decimal.Zero
			order.Status = core.OrderOpen
			return order, nil
		}
		g.orders[order.ID] = &order
		return order, nil
	}

	order.Status = core.OrderOpen
	order.Remaining = req.Amount
	g.orders[order.ID] = &order
	return order, nil
}

func (g *Gateway) FetchOrder(ctx context.Context, id, symbol string) (core.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	order, ok := g.orders[id]
	if !ok {
		return core.Order{}, core.ErrOrderNotFound
	}
	delete(g.pendingSettle, id)
	return *order, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, id, symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	order, ok := g.orders[id]
	if !ok {
		return core.ErrOrderNotFound
	}
	if order.Status != core.OrderOpen {
		return core.ErrOrderRejected
	}
	order.Status = core.OrderCanceled
	return nil
}

func (g *Gateway) FetchPositions(ctx context.Context, symbols []string) ([]core.PositionInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]core.PositionInfo, 0, len(symbols))
	for _, symbol := range symbols {
		qty := g.posQty[symbol]
		if qty.Cmp(decimal.Zero) == 0 {
			continue
		}
		side := "long"
		if qty.Cmp(decimal.Zero) < 0 {
			side = "short"
		}
		out = append(out, core.PositionInfo{
			Symbol:     symbol,
			Side:       side,
			Contracts:  qty.Abs(),
			EntryPrice: g.posEntry[symbol],
		})
	}
	return out, nil
}

func (g *Gateway) SetLeverage(ctx context.Context, leverage int, symbol string) error {
	if !g.caps.SupportsLeverage {
		return core.ErrNotSupported
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leverage[symbol] = leverage
	return nil
}

func (g *Gateway) MarketRules(ctx context.Context, symbol string) (core.Rules, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rules[symbol], nil
}

func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = true
	return nil
}

func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = false
	return nil
}

// NetPosition reports the venue's net quantity for symbol, for asserting
// flatness after compensation.
func (g *Gateway) NetPosition(symbol string) decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.posQty[symbol]
}

func (g *Gateway) applyFill(symbol string, side core.Side, qty, price decimal.Decimal) {
	cur := g.posQty[symbol]
	var next decimal.Decimal
	if side == core.Buy {
		next = cur.Add(qty)
	} else {
		next = cur.Sub(qty)
	}
	switch {
	case next.Cmp(decimal.Zero) == 0:
		g.posEntry[symbol] = decimal.Zero
	case cur.Cmp(decimal.Zero) == 0, cur.Sign() != next.Sign():
		g.posEntry[symbol] = price
	case next.Abs().Cmp(cur.Abs()) > 0:
		g.posEntry[symbol] = price
	}
	g.posQty[symbol] = next
}

var _ venue.Gateway = (*Gateway)(nil)
