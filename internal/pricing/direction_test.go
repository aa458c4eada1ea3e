package pricing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"hedge-volume/internal/core"
	"hedge-volume/internal/venue"
	"hedge-volume/internal/venue/paper"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSelectDirectionPicksCheaperCrossing(t *testing.T) {
	a := paper.New("venuea", venue.Capabilities{})
	b := paper.New("venueb", venue.Capabilities{})
	// Long on b costs 98-99 = -1, long on a costs 100-97 = 3.
	a.SetQuote("BTC/USDC", dec("99"), dec("100"))
	b.SetQuote("BTC/USDC", dec("97"), dec("98"))

	s := NewSelector(dec("5"))
	d, err := s.SelectDirection(context.Background(), "BTC/USDC", a, b, "BTC/USDC", "BTC/USDC")
	if err != nil {
		t.Fatalf("SelectDirection: %v", err)
	}
	if d.LongVenue != "venueb" || d.ShortVenue != "venuea" {
		t.Fatalf("direction = long %s short %s, want long venueb short venuea", d.LongVenue, d.ShortVenue)
	}
	if d.Cost.Cmp(dec("-1")) != 0 {
		t.Fatalf("cost = %s, want -1", d.Cost)
	}
	if !d.Acceptable {
		t.Fatalf("not acceptable: %s", d.Reason)
	}
}

func TestSelectDirectionRejectsWideSpread(t *testing.T) {
	a := paper.New("venuea", venue.Capabilities{})
	b := paper.New("venueb", venue.Capabilities{})
	a.SetQuote("BTC/USDC", dec("90"), dec("110"))
	b.SetQuote("BTC/USDC", dec("89"), dec("111"))

	s := NewSelector(dec("0.05"))
	d, err := s.SelectDirection(context.Background(), "BTC/USDC", a, b, "BTC/USDC", "BTC/USDC")
	if err != nil {
		t.Fatalf("SelectDirection: %v", err)
	}
	if d.Acceptable {
		t.Fatalf("spread %s%% accepted with tolerance 0.05%%", d.SpreadPct)
	}
}

func TestSelectDirectionSpreadPercent(t *testing.T) {
	a := paper.New("venuea", venue.Capabilities{})
	b := paper.New("venueb", venue.Capabilities{})
	// Chosen crossing buys at 100 and sells at 99; mid 99.5.
	a.SetQuote("BTC/USDC", dec("98"), dec("100"))
	b.SetQuote("BTC/USDC", dec("99"), dec("101"))

	s := NewSelector(dec("5"))
	d, err := s.SelectDirection(context.Background(), "BTC/USDC", a, b, "BTC/USDC", "BTC/USDC")
	if err != nil {
		t.Fatalf("SelectDirection: %v", err)
	}
	want := dec("1").Div(dec("99.5")).Mul(dec("100"))
	if d.SpreadPct.Cmp(want) != 0 {
		t.Fatalf("spread = %s, want %s", d.SpreadPct, want)
	}
}

func TestSelectDirectionEmptyBook(t *testing.T) {
	a := paper.New("venuea", venue.Capabilities{})
	b := paper.New("venueb", venue.Capabilities{})
	a.SetBook("BTC/USDC", core.OrderBook{})
	b.SetQuote("BTC/USDC", dec("99"), dec("100"))

	s := NewSelector(dec("5"))
	d, err := s.SelectDirection(context.Background(), "BTC/USDC", a, b, "BTC/USDC", "BTC/USDC")
	if err != nil {
		t.Fatalf("SelectDirection: %v", err)
	}
	if d.Acceptable {
		t.Fatal("empty book accepted")
	}
}
