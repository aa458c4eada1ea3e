package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hedge-volume/internal/core"
	"hedge-volume/internal/hedge"
	"hedge-volume/internal/pricing"
	"hedge-volume/internal/safety"
	"hedge-volume/internal/sizing"
	"hedge-volume/internal/store"
	"hedge-volume/internal/strategy"
	"hedge-volume/internal/symbols"
	"hedge-volume/internal/venue"
)

const (
	defaultManagerInterval = 30 * time.Second
	defaultCapPoll         = time.Minute
	errorPause             = 5 * time.Second
	rejectPause            = 10 * time.Second
)

// Config carries the engine's timing and concurrency knobs.
type Config struct {
	MaxConcurrent   int
	ManagerInterval time.Duration
	// OpenIntervalMin/Max bound the random pause between open attempts.
	OpenIntervalMin time.Duration
	OpenIntervalMax time.Duration
	// CapPoll is how often a blocked loop re-checks the daily or
	// concurrency cap.
	CapPoll   time.Duration
	Lifecycle strategy.Lifecycle
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.ManagerInterval <= 0 {
		c.ManagerInterval = defaultManagerInterval
	}
	if c.OpenIntervalMin <= 0 {
		c.OpenIntervalMin = 30 * time.Second
	}
	if c.OpenIntervalMax < c.OpenIntervalMin {
		c.OpenIntervalMax = c.OpenIntervalMin
	}
	if c.CapPoll <= 0 {
		c.CapPoll = defaultCapPoll
	}
	return c
}

// Engine drives the two long-running loops: the farming loop that opens new
// hedged positions, and the manager loop that ages and closes them.
type Engine struct {
	cfg      Config
	registry *venue.Registry
	mapping  symbols.Mapping
	selector *pricing.Selector
	sizer    *sizing.Sizer
	executor *hedge.Executor
	ledger   *hedge.Ledger
	planner  *strategy.Planner
	breaker  *safety.Breaker
	store    *store.Store
	alert    hedge.Alerter
	rng      *rand.Rand
	// mgrRNG is drawn by the manager goroutine; rand.Rand is not safe for
	// concurrent use with the farm loop's rng.
	mgrRNG *rand.Rand
	clock  core.Clock
	sleep  hedge.SleepFunc
	log    *logrus.Entry

	startedAt    time.Time
	capAlertSent bool
	stopOnce     sync.Once
	stopped      chan struct{}
}

type Deps struct {
	Registry *venue.Registry
	Mapping  symbols.Mapping
	Selector *pricing.Selector
	Sizer    *sizing.Sizer
	Executor *hedge.Executor
	Ledger   *hedge.Ledger
	Planner  *strategy.Planner
	Breaker  *safety.Breaker
	Store    *store.Store
	Alert    hedge.Alerter
	RNG      *rand.Rand
	Clock    core.Clock
	Sleep    hedge.SleepFunc
}

func New(cfg Config, deps Deps) *Engine {
	e := &Engine{
		cfg:      cfg.withDefaults(),
		registry: deps.Registry,
		mapping:  deps.Mapping,
		selector: deps.Selector,
		sizer:    deps.Sizer,
		executor: deps.Executor,
		ledger:   deps.Ledger,
		planner:  deps.Planner,
		breaker:  deps.Breaker,
		store:    deps.Store,
		alert:    deps.Alert,
		rng:      deps.RNG,
		clock:    deps.Clock,
		sleep:    deps.Sleep,
		log:      logrus.WithField("component", "engine"),
		stopped:  make(chan struct{}),
	}
	if e.clock == nil {
		e.clock = core.RealClock{}
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	e.mgrRNG = rand.New(rand.NewSource(e.rng.Int63()))
	if e.sleep == nil {
		e.sleep = func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			case <-e.stopped:
			}
		}
	}
	return e
}

// Stop asks both loops to wind down without waiting for them.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopped) })
}

func (e *Engine) running(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-e.stopped:
		return false
	default:
		return true
	}
}

// Run executes the farming loop until ctx is canceled or Stop is called,
// with the manager loop running alongside. On exit every open position is
// closed and the final statistics are logged.
func (e *Engine) Run(ctx context.Context) error {
	e.startedAt = e.clock.Now()
	e.persistStatus("running", "")
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.managerLoop(ctx)
	}()

	e.farmLoop(ctx)
	e.Stop()
	wg.Wait()

	// Shutdown drain uses a fresh context so cancellation of ctx does not
	// abandon open exposure.
	drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	e.CloseAllPositions(drainCtx)
	e.logSummary()
	e.persistStatus("stopped", "")
	e.notify("engine stopped, session summary logged")

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (e *Engine) farmLoop(ctx context.Context) {
	for e.running(ctx) {
		opened, err := e.openOnce(ctx)
		switch {
		case err != nil:
			e.log.Warnf("open cycle: %v", err)
			e.sleep(ctx, errorPause)
		case opened:
			e.sleep(ctx, e.nextOpenDelay())
		}
		// Gate polls and rejections sleep inside openOnce and retry
		// straight away; only a successful open waits a full interval.
	}
}

// openOnce attempts a single hedge open, reporting whether a position was
// actually opened.
func (e *Engine) openOnce(ctx context.Context) (bool, error) {
	if err := e.breaker.Allow(); err != nil {
		e.persistStatus("degraded", err.Error())
		e.sleep(ctx, e.cfg.CapPoll)
		return false, nil
	}
	if e.ledger.DailyBudgetExhausted() {
		if !e.capAlertSent {
			e.capAlertSent = true
			e.log.Info("daily volume budget exhausted, waiting for rollover")
			e.notify("daily volume budget exhausted, pausing opens until rollover")
		}
		e.sleep(ctx, e.cfg.CapPoll)
		return false, nil
	}
	e.capAlertSent = false
	if e.ledger.ActiveCount() >= e.cfg.MaxConcurrent {
		e.sleep(ctx, e.cfg.CapPoll)
		return false, nil
	}

	symbol := e.planner.PickSymbol()
	gwA, gwB, err := e.registry.SamplePair(e.rng)
	if err != nil {
		return false, err
	}
	nativeA, okA := e.mapping.Native(symbol, gwA.Name())
	nativeB, okB := e.mapping.Native(symbol, gwB.Name())
	if !okA || !okB {
		e.log.WithField("symbol", symbol).Warn("symbol not mapped on sampled venues, skipping")
		e.sleep(ctx, rejectPause)
		return false, nil
	}

	decision, err := e.selector.SelectDirection(ctx, symbol, gwA, gwB, nativeA, nativeB)
	if err != nil {
		return false, err
	}
	if !decision.Acceptable {
		e.log.WithFields(logrus.Fields{
			"symbol": symbol,
			"reason": decision.Reason,
		}).Debug("direction rejected")
		e.sleep(ctx, rejectPause)
		return false, nil
	}

	size := e.sizer.GenerateSize()
	p, err := e.executor.OpenPosition(ctx, symbol, decision, size)
	e.breaker.Record(err)
	if err != nil {
		if hedge.KindOf(err) == hedge.FailureConfig {
			e.log.Errorf("unrecoverable open failure: %v", err)
		}
		return false, err
	}

	e.planner.RecordVolume(symbol, p.Size)
	e.persistActive()
	return true, nil
}

func (e *Engine) nextOpenDelay() time.Duration {
	span := e.cfg.OpenIntervalMax - e.cfg.OpenIntervalMin
	if span <= 0 {
		return e.cfg.OpenIntervalMin
	}
	return e.cfg.OpenIntervalMin + time.Duration(e.rng.Int63n(int64(span)))
}

func (e *Engine) managerLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ManagerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopped:
			return
		case <-ticker.C:
			e.manageOnce(ctx)
		}
	}
}

// manageOnce scans the open positions and closes the ones whose lifetime
// draw came up. Closes run sequentially so venues are not hammered.
func (e *Engine) manageOnce(ctx context.Context) {
	now := e.clock.Now()
	var due []*hedge.Position
	for _, p := range e.ledger.Active() {
		if e.cfg.Lifecycle.ShouldClose(p.Lifetime(now), e.mgrRNG) {
			due = append(due, p)
		}
	}
	for _, p := range due {
		if !e.running(ctx) {
			return
		}
		if err := e.executor.ClosePosition(ctx, p); err != nil {
			e.log.WithField("position", p.ID).Errorf("close failed: %v", err)
		}
		e.persistCompleted(p)
	}
	if len(due) > 0 {
		e.persistActive()
	}
	e.persistStatus("running", "")
}

// CloseAllPositions unwinds every open position sequentially.
func (e *Engine) CloseAllPositions(ctx context.Context) {
	active := e.ledger.Active()
	if len(active) == 0 {
		return
	}
	e.log.Infof("closing %d open positions", len(active))
	for _, p := range active {
		if ctx.Err() != nil {
			e.log.Warnf("shutdown drain interrupted with %d positions left", e.ledger.ActiveCount())
			return
		}
		if err := e.executor.ClosePosition(ctx, p); err != nil {
			e.log.WithField("position", p.ID).Errorf("close failed: %v", err)
		}
		e.persistCompleted(p)
	}
	e.persistActive()
}

func (e *Engine) Statistics() hedge.Statistics {
	return e.ledger.Statistics()
}

func (e *Engine) logSummary() {
	stats := e.ledger.Statistics()
	e.log.WithFields(logrus.Fields{
		"total_opened":    stats.TotalOpened,
		"closed":          stats.ClosedPositions,
		"failed":          stats.FailedPositions,
		"total_volume":    stats.TotalVolume.String(),
		"spread_cost":     stats.TotalSpreadCost.String(),
		"total_pnl":       stats.TotalPnL.String(),
		"avg_lifetime":    stats.AvgLifetime.String(),
		"daily_volume":    stats.DailyVolume.String(),
		"daily_remaining": stats.DailyRemaining.String(),
	}).Info("session summary")
	for _, prog := range e.planner.Progress() {
		e.log.WithFields(logrus.Fields{
			"symbol":     prog.Symbol,
			"achieved":   prog.Achieved.String(),
			"target":     prog.Target.String(),
			"completion": prog.Completion.StringFixed(2),
		}).Info("volume progress")
	}
}

func (e *Engine) persistActive() {
	if e.store == nil {
		return
	}
	if err := e.store.SaveActivePositions(e.ledger.Snapshot()); err != nil {
		e.log.Warnf("persist active positions: %v", err)
	}
}

func (e *Engine) persistCompleted(p *hedge.Position) {
	if e.store == nil {
		return
	}
	if err := e.store.AppendCompleted(p); err != nil {
		e.log.Warnf("persist completed position: %v", err)
	}
}

func (e *Engine) notify(text string) {
	if e.alert == nil {
		return
	}
	e.alert.Notify(text)
}

func (e *Engine) persistStatus(state, lastErr string) {
	if e.store == nil {
		return
	}
	stats := e.ledger.Statistics()
	err := e.store.SaveRuntimeStatus(store.RuntimeStatus{
		Mode:            "farm",
		State:           state,
		StartedAt:       e.startedAt,
		ActivePositions: stats.ActivePositions,
		DailyVolume:     stats.DailyVolume,
		LastError:       lastErr,
	})
	if err != nil {
		e.log.Warnf("persist runtime status: %v", err)
	}
}
