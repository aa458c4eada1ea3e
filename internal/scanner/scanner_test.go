package scanner

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"hedge-volume/internal/pricing"
	"hedge-volume/internal/symbols"
	"hedge-volume/internal/venue"
	"hedge-volume/internal/venue/paper"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestScanner(t *testing.T) *Scanner {
	t.Helper()
	a := paper.New("venuea", venue.Capabilities{})
	b := paper.New("venueb", venue.Capabilities{})
	c := paper.New("venuec", venue.Capabilities{})
	// venueb's ask sits below venuea's bid, a paying crossing; venuec is
	// quoted wide enough that neither pair with it pays.
	a.SetQuote("BTC/USDC", dec("100"), dec("101"))
	b.SetQuote("BTC/USDC", dec("98"), dec("99"))
	c.SetQuote("BTC/USDC", dec("98"), dec("102"))

	registry := venue.NewRegistry()
	for _, gw := range []*paper.Gateway{a, b, c} {
		if err := registry.Register(gw); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	mapping := symbols.Mapping{
		"BTC/USDC": {
			"venuea": "BTC/USDC",
			"venueb": "BTC/USDC",
			"venuec": "BTC/USDC",
		},
	}
	return New(registry, mapping, pricing.NewSelector(dec("5")), nil)
}

func TestScanCoversAllVenuePairs(t *testing.T) {
	s := newTestScanner(t)
	opps := s.Scan(context.Background(), []string{"BTC/USDC"})
	if len(opps) != 3 {
		t.Fatalf("opportunities = %d, want 3 pairs", len(opps))
	}
	for _, o := range opps {
		if o.Observed.IsZero() {
			t.Fatal("observation time not set")
		}
	}
}

func TestScanSkipsUnmappedSymbols(t *testing.T) {
	s := newTestScanner(t)
	opps := s.Scan(context.Background(), []string{"ETH/USDC"})
	if len(opps) != 0 {
		t.Fatalf("opportunities = %d, want 0 for unmapped symbol", len(opps))
	}
}

func TestProfitableFiltersPayingCrossings(t *testing.T) {
	s := newTestScanner(t)
	opps := s.Scan(context.Background(), []string{"BTC/USDC"})

	paying := Profitable(opps)
	if len(paying) != 1 {
		t.Fatalf("paying = %d, want 1", len(paying))
	}
	o := paying[0]
	if o.LongVenue != "venueb" || o.ShortVenue != "venuea" {
		t.Fatalf("direction = long %s short %s, want long venueb short venuea", o.LongVenue, o.ShortVenue)
	}
	if o.Cost.Cmp(dec("-1")) != 0 {
		t.Fatalf("cost = %s, want -1", o.Cost)
	}
}
