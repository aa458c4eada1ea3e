package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"hedge-volume/internal/config"
	"hedge-volume/internal/core"
	"hedge-volume/internal/pricing"
	"hedge-volume/internal/scanner"
	"hedge-volume/internal/symbols"
	"hedge-volume/internal/venue"
	"hedge-volume/internal/venue/binance"
	"hedge-volume/internal/venue/paper"
	"hedge-volume/internal/venue/stream"
	"hedge-volume/pkg/logger"
)

// marketwatch prints cross-venue spreads without ever trading. With -ws it
// follows a single live depth stream instead of polling the registry.
func main() {
	var (
		configPath string
		symbolFlag string
		wsURL      string
		intervalS  int
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.StringVar(&symbolFlag, "symbol", "", "restrict to one symbol, e.g. BTC/USD")
	flag.StringVar(&wsURL, "ws", "", "follow a websocket depth stream at this url instead of scanning")
	flag.IntVar(&intervalS, "interval-sec", 10, "scan interval in seconds")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if wsURL != "" {
		if symbolFlag == "" {
			fatal("-ws requires -symbol")
		}
		watchStream(ctx, wsURL, strings.ToUpper(symbolFlag))
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	if err := logger.Init(logger.Config{Level: "warn"}); err != nil {
		fatal(err.Error())
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		fatal(err.Error())
	}
	candidates := make([]string, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		if symbolFlag != "" && !strings.EqualFold(t.Symbol, symbolFlag) {
			continue
		}
		candidates = append(candidates, t.Symbol)
	}
	if symbolFlag != "" && len(candidates) == 0 {
		candidates = append(candidates, strings.ToUpper(symbolFlag))
	}
	resolved, mapping, err := symbols.NewResolver().Resolve(ctx, candidates, registry.All())
	if err != nil {
		fatal(err.Error())
	}

	sc := scanner.New(registry, mapping, pricing.NewSelector(cfg.Risk.MaxSpreadPct.Decimal), core.RealClock{})
	ticker := time.NewTicker(time.Duration(intervalS) * time.Second)
	defer ticker.Stop()
	for {
		for _, o := range sc.Scan(ctx, resolved) {
			marker := " "
			if o.Cost.Cmp(decimal.Zero) < 0 {
				marker = "*"
			}
			fmt.Printf("%s %s %-12s long=%-10s short=%-10s cost=%-12s spread_pct=%s\n",
				o.Observed.Format("15:04:05"), marker, o.Symbol, o.LongVenue, o.ShortVenue,
				o.Cost.String(), o.SpreadPct.StringFixed(4))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func watchStream(ctx context.Context, url, symbol string) {
	feed := stream.NewFeed(url, symbol, 5)
	go feed.Run(ctx)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		book, ok := feed.Snapshot()
		if !ok {
			continue
		}
		bid, okBid := book.BestBid()
		ask, okAsk := book.BestAsk()
		if !okBid || !okAsk {
			continue
		}
		fmt.Printf("%s %s bid=%s ask=%s mid=%s\n",
			book.Timestamp.Format("15:04:05"), symbol,
			bid.Price.String(), ask.Price.String(),
			core.Midpoint(bid.Price, ask.Price).String())
	}
}

func buildRegistry(cfg config.Config) (*venue.Registry, error) {
	registry := venue.NewRegistry()
	for _, vc := range cfg.Venues {
		caps := venue.Capabilities{
			SupportsLeverage:    vc.SupportsLeverage,
			RequiresMarketPrice: vc.RequiresMarketPrice,
			ListingBased:        vc.ListingBased,
			AsyncSettlement:     vc.AsyncSettlement,
		}
		var gw venue.Gateway
		if cfg.Mode == config.ModeLive && vc.Driver == "binance" {
			live, err := binance.New(binance.Options{
				Name:         vc.Name,
				Capabilities: caps,
				APIKey:       vc.APIKey,
				APISecret:    vc.APISecret,
				RestBaseURL:  vc.RestBaseURL,
			})
			if err != nil {
				return nil, err
			}
			gw = live
		} else {
			pg := paper.New(vc.Name, caps)
			for sym, q := range vc.PaperQuotes {
				pg.SetQuote(sym, q.Bid.Decimal, q.Ask.Decimal)
			}
			gw = pg
		}
		if err := registry.Register(gw); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, "error: "+msg)
	os.Exit(1)
}
