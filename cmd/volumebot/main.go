package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"hedge-volume/internal/alert"
	"hedge-volume/internal/config"
	"hedge-volume/internal/core"
	"hedge-volume/internal/engine"
	"hedge-volume/internal/hedge"
	"hedge-volume/internal/pricing"
	"hedge-volume/internal/safety"
	"hedge-volume/internal/sizing"
	"hedge-volume/internal/store"
	"hedge-volume/internal/strategy"
	"hedge-volume/internal/symbols"
	"hedge-volume/internal/venue"
	"hedge-volume/internal/venue/binance"
	"hedge-volume/internal/venue/paper"
	"hedge-volume/pkg/logger"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	if cfg.Mode == config.ModeScan {
		fatal("scan mode is served by the marketwatch command")
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Observability.Logging.Level,
		File:       cfg.Observability.Logging.File,
		MaxSizeMB:  cfg.Observability.Logging.MaxSizeMB,
		MaxBackups: cfg.Observability.Logging.MaxBackups,
		MaxAgeDays: cfg.Observability.Logging.MaxAgeDays,
	}); err != nil {
		fatal(err.Error())
	}
	log := logrus.WithField("component", "volumebot")

	alerts := buildAlertManager(cfg)
	if alerts != nil {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := alerts.Close(closeCtx); err != nil {
				log.Warnf("close alert manager: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stateDir := filepath.Join(cfg.State.Dir, cfg.InstanceID)
	st, err := store.New(stateDir)
	if err != nil {
		fatal(err.Error())
	}
	lock, err := store.AcquireModeLock(stateDir, string(cfg.Mode))
	if err != nil {
		fatal(err.Error())
	}
	defer func() {
		if relErr := lock.Release(); relErr != nil {
			log.Warnf("release mode lock: %v", relErr)
		}
	}()

	registry, err := buildRegistry(cfg)
	if err != nil {
		fatal(err.Error())
	}
	defer func() {
		for _, gw := range registry.All() {
			_ = gw.Close()
		}
	}()
	for _, gw := range registry.All() {
		if err := gw.Connect(ctx); err != nil {
			fatal(fmt.Sprintf("connect %s: %v", gw.Name(), err))
		}
	}

	candidates := make([]string, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		candidates = append(candidates, t.Symbol)
	}
	resolved, mapping, err := symbols.NewResolver().Resolve(ctx, candidates, registry.All())
	if err != nil {
		fatal(err.Error())
	}
	log.Infof("resolved %d of %d symbols across %d venues", len(resolved), len(candidates), registry.Len())

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	clock := core.RealClock{}

	ledger := hedge.NewLedger(cfg.Risk.DailyMaxVolume.Decimal, clock)
	sizer := sizing.NewSizer(cfg.Sizing.Min.Decimal, cfg.Sizing.Max.Decimal, sizing.Distribution(cfg.Sizing.Distribution), rng)
	selector := pricing.NewSelector(cfg.Risk.MaxSpreadPct.Decimal)

	targets := make([]strategy.VolumeTarget, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		resolvedTarget := false
		for _, sym := range resolved {
			if sym == t.Symbol {
				resolvedTarget = true
				break
			}
		}
		if !resolvedTarget {
			log.Warnf("dropping target %s: not tradable on all venues", t.Symbol)
			continue
		}
		targets = append(targets, strategy.VolumeTarget{
			Symbol:      t.Symbol,
			DailyTarget: t.DailyTarget.Decimal,
			Priority:    t.Priority.Decimal,
		})
	}
	planner, err := strategy.NewPlanner(targets, clock, rng)
	if err != nil {
		fatal(err.Error())
	}

	breaker := safety.NewBreaker(
		cfg.CircuitBreaker.Enabled,
		cfg.CircuitBreaker.MaxFailures,
		time.Duration(cfg.CircuitBreaker.CooldownSec)*time.Second,
		clock,
	)
	if alerts != nil {
		breaker.SetNotifier(alerts)
	}

	executor := hedge.NewExecutor(hedge.ExecutorConfig{
		Registry:    registry,
		Mapping:     mapping,
		Sizer:       sizer,
		Ledger:      ledger,
		Leverage:    cfg.Risk.Leverage,
		Clock:       clock,
		SettleDelay: time.Duration(cfg.Timing.SettleDelaySec) * time.Second,
		Cooldown:    time.Duration(cfg.Timing.CooldownSec) * time.Second,
		Alerter:     alerterOrNil(alerts),
	})

	eng := engine.New(engine.Config{
		MaxConcurrent:   cfg.Risk.MaxConcurrent,
		ManagerInterval: time.Duration(cfg.Timing.ManagerIntervalSec) * time.Second,
		OpenIntervalMin: time.Duration(cfg.Timing.OpenIntervalMinSec) * time.Second,
		OpenIntervalMax: time.Duration(cfg.Timing.OpenIntervalMaxSec) * time.Second,
		CapPoll:         time.Duration(cfg.Timing.CapPollSec) * time.Second,
		Lifecycle: strategy.Lifecycle{
			Min: time.Duration(cfg.Risk.MinLifetimeSec) * time.Second,
			Max: time.Duration(cfg.Risk.MaxLifetimeSec) * time.Second,
		},
	}, engine.Deps{
		Registry: registry,
		Mapping:  mapping,
		Selector: selector,
		Sizer:    sizer,
		Executor: executor,
		Ledger:   ledger,
		Planner:  planner,
		Breaker:  breaker,
		Store:    st,
		Alert:    alerterOrNil(alerts),
		RNG:      rng,
		Clock:    clock,
	})

	log.WithFields(logrus.Fields{
		"mode":     string(cfg.Mode),
		"instance": cfg.InstanceID,
		"venues":   registry.Len(),
		"targets":  len(targets),
	}).Info("starting")

	if err := eng.Run(ctx); err != nil {
		fatal(err.Error())
	}

	stats := eng.Statistics()
	fmt.Printf(
		"summary instance=%s opened=%d closed=%d failed=%d volume=%s spread_cost=%s pnl=%s\n",
		cfg.InstanceID,
		stats.TotalOpened,
		stats.ClosedPositions,
		stats.FailedPositions,
		stats.TotalVolume.String(),
		stats.TotalSpreadCost.String(),
		stats.TotalPnL.String(),
	)
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
		var (
			gw  venue.Gateway
			err error
		)
		if cfg.Mode == config.ModeLive {
			gw, err = buildLiveGateway(vc, caps)
			if err != nil {
				return nil, err
			}
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

func buildLiveGateway(vc config.VenueConfig, caps venue.Capabilities) (venue.Gateway, error) {
	switch vc.Driver {
	case "binance":
		return binance.New(binance.Options{
			Name:         vc.Name,
			Capabilities: caps,
			APIKey:       vc.APIKey,
			APISecret:    vc.APISecret,
			RestBaseURL:  vc.RestBaseURL,
		})
	default:
		return nil, fmt.Errorf("venue %q: unknown driver %q", vc.Name, vc.Driver)
	}
}

func buildAlertManager(cfg config.Config) *alert.Manager {
	tg := cfg.Observability.Telegram
	if !tg.Enabled {
		return nil
	}
	notifier := alert.NewTelegramNotifier(tg.Enabled, tg.BotToken, tg.ChatID, tg.APIBaseURL, time.Duration(tg.TimeoutSec)*time.Second)
	return alert.NewManager(string(cfg.Mode), notifier)
}

func alerterOrNil(m *alert.Manager) hedge.Alerter {
	if m == nil {
		return nil
	}
	return m
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, "error: "+msg)
	os.Exit(1)
}
