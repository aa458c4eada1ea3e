package hedge

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"hedge-volume/internal/core"
)

// Ledger tracks active positions and an append-only history of completed
// ones. All mutation happens under one lock so a position is never visible
// in the active set with a terminal status.
type Ledger struct {
	mu        sync.Mutex
	active    []*Position
	history   []*Position
	dailyMax  decimal.Decimal
	dailyVol  decimal.Decimal
	lastReset time.Time
	clock     core.Clock
	log       *logrus.Entry
}

type Statistics struct {
	ActivePositions int
	TotalOpened     int
	TotalVolume     decimal.Decimal
	TotalSpreadCost decimal.Decimal
	TotalPnL        decimal.Decimal
	AvgSpreadCost   decimal.Decimal
	AvgLifetime     time.Duration
	DailyVolume     decimal.Decimal
	DailyRemaining  decimal.Decimal
	ClosedPositions int
	FailedPositions int
}

func NewLedger(dailyMax decimal.Decimal, clock core.Clock) *Ledger {
	if clock == nil {
		clock = core.RealClock{}
	}
	return &Ledger{
		dailyMax:  dailyMax,
		clock:     clock,
		lastReset: clock.Now(),
		log:       logrus.WithField("component", "ledger"),
	}
}

// Record adds a freshly opened position to the active set and counts its
// size against the daily volume budget.
func (l *Ledger) Record(p *Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetIfNewDayLocked()
	l.active = append(l.active, p)
	l.dailyVol = l.dailyVol.Add(p.Size)
}

// Complete atomically transitions an active position to a terminal status
// and moves it to history. A position not found in the active set is left
// untouched (already completed).
func (l *Ledger) Complete(p *Position, status Status, pnl decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := -1
	for i, candidate := range l.active {
		if candidate.ID == p.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	now := l.clock.Now()
	p.Status = status
	p.PnL = pnl
	p.ClosedAt = &now
	l.active = append(l.active[:idx], l.active[idx+1:]...)
	l.history = append(l.history, p)
}

// Active returns a snapshot of the open positions.
func (l *Ledger) Active() []*Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Position, len(l.active))
	copy(out, l.active)
	return out
}

// Snapshot returns value copies of the open positions, taken under the
// ledger lock so they are safe to persist while completions keep running.
func (l *Ledger) Snapshot() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Position, 0, len(l.active))
	for _, p := range l.active {
		out = append(out, *p)
	}
	return out
}

func (l *Ledger) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// DailyVolume returns today's accumulated volume, applying the lazy
// local-date rollover.
func (l *Ledger) DailyVolume() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetIfNewDayLocked()
	return l.dailyVol
}

// DailyBudgetExhausted reports whether today's volume reached the cap.
func (l *Ledger) DailyBudgetExhausted() bool {
	if l.dailyMax.Cmp(decimal.Zero) <= 0 {
		return false
	}
	return l.DailyVolume().Cmp(l.dailyMax) >= 0
}

func (l *Ledger) Statistics() Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetIfNewDayLocked()

	stats := Statistics{
		ActivePositions: len(l.active),
		TotalOpened:     len(l.active) + len(l.history),
		TotalVolume:     decimal.Zero,
		TotalSpreadCost: decimal.Zero,
		TotalPnL:        decimal.Zero,
		AvgSpreadCost:   decimal.Zero,
		DailyVolume:     l.dailyVol,
		DailyRemaining:  decimal.Zero,
	}
	for _, p := range l.active {
		stats.TotalVolume = stats.TotalVolume.Add(p.Size)
		stats.TotalSpreadCost = stats.TotalSpreadCost.Add(p.Cost())
	}
	var lifetimes time.Duration
	for _, p := range l.history {
		stats.TotalVolume = stats.TotalVolume.Add(p.Size)
		stats.TotalSpreadCost = stats.TotalSpreadCost.Add(p.Cost())
		switch p.Status {
		case StatusClosed:
			stats.ClosedPositions++
			stats.TotalPnL = stats.TotalPnL.Add(p.PnL)
			lifetimes += p.Lifetime(l.clock.Now())
		case StatusFailed:
			stats.FailedPositions++
		}
	}
	if stats.ClosedPositions > 0 {
		stats.AvgLifetime = lifetimes / time.Duration(stats.ClosedPositions)
	}
	if stats.TotalOpened > 0 {
		stats.AvgSpreadCost = stats.TotalSpreadCost.Div(decimal.NewFromInt(int64(stats.TotalOpened)))
	}
	if l.dailyMax.Cmp(decimal.Zero) > 0 {
		remaining := l.dailyMax.Sub(l.dailyVol)
		if remaining.Cmp(decimal.Zero) > 0 {
			stats.DailyRemaining = remaining
		}
	}
	return stats
}

func (l *Ledger) resetIfNewDayLocked() {
	now := l.clock.Now()
	y1, m1, d1 := l.lastReset.Date()
	y2, m2, d2 := now.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return
	}
	l.log.Infof("daily volume reset, yesterday=%s", l.dailyVol.String())
	l.dailyVol = decimal.Zero
	l.lastReset = now
}
