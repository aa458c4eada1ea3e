package strategy

import (
	"errors"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"

	"hedge-volume/internal/core"
)

var ErrNoTargets = errors.New("no volume targets configured")

// VolumeTarget is a daily volume goal for one symbol. Priority biases
// symbol selection toward higher values.
type VolumeTarget struct {
	Symbol      string
	DailyTarget decimal.Decimal
	Priority    decimal.Decimal
}

// SymbolProgress reports how far along a target is for the current day.
type SymbolProgress struct {
	Symbol     string
	Target     decimal.Decimal
	Achieved   decimal.Decimal
	Completion decimal.Decimal
}

// Planner picks which symbol to trade next, weighting each target by its
// remaining completion times its priority so lagging symbols catch up.
// Achieved volume resets on the local date change.
type Planner struct {
	mu        sync.Mutex
	targets   []VolumeTarget
	achieved  map[string]decimal.Decimal
	lastReset struct{ y, m, d int }
	clock     core.Clock
	rng       *rand.Rand
}

func NewPlanner(targets []VolumeTarget, clock core.Clock, rng *rand.Rand) (*Planner, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	if clock == nil {
		clock = core.RealClock{}
	}
	p := &Planner{
		targets:  targets,
		achieved: make(map[string]decimal.Decimal, len(targets)),
		clock:    clock,
		rng:      rng,
	}
	for i := range p.targets {
		if p.targets[i].Priority.Cmp(decimal.Zero) <= 0 {
			p.targets[i].Priority = decimal.NewFromInt(1)
		}
	}
	p.markReset()
	return p, nil
}

func (p *Planner) markReset() {
	y, m, d := p.clock.Now().Date()
	p.lastReset.y, p.lastReset.m, p.lastReset.d = y, int(m), d
}

func (p *Planner) resetIfNewDayLocked() {
	y, m, d := p.clock.Now().Date()
	if y == p.lastReset.y && int(m) == p.lastReset.m && d == p.lastReset.d {
		return
	}
	p.achieved = make(map[string]decimal.Decimal, len(p.targets))
	p.lastReset.y, p.lastReset.m, p.lastReset.d = y, int(m), d
}

// PickSymbol returns the next symbol to trade. Each target's weight is
// (1 - completion) * priority; when every target is complete the pick is
// uniform so volume keeps flowing.
func (p *Planner) PickSymbol() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetIfNewDayLocked()

	weights := make([]float64, len(p.targets))
	total := 0.0
	for i, t := range p.targets {
		remaining := decimal.NewFromInt(1).Sub(p.completionLocked(t))
		w, _ := remaining.Mul(t.Priority).Float64()
		if w < 0 {
			w = 0
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return p.targets[p.rng.Intn(len(p.targets))].Symbol
	}
	pick := p.rng.Float64() * total
	for i, w := range weights {
		pick -= w
		if pick < 0 {
			return p.targets[i].Symbol
		}
	}
	return p.targets[len(p.targets)-1].Symbol
}

// RecordVolume credits size toward symbol's daily target.
func (p *Planner) RecordVolume(symbol string, size decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetIfNewDayLocked()
	p.achieved[symbol] = p.achieved[symbol].Add(size)
}

func (p *Planner) completionLocked(t VolumeTarget) decimal.Decimal {
	if t.DailyTarget.Cmp(decimal.Zero) <= 0 {
		return decimal.Zero
	}
	c := p.achieved[t.Symbol].Div(t.DailyTarget)
	one := decimal.NewFromInt(1)
	if c.Cmp(one) > 0 {
		return one
	}
	return c
}

// Progress snapshots per-symbol completion for reporting.
func (p *Planner) Progress() []SymbolProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetIfNewDayLocked()

	out := make([]SymbolProgress, 0, len(p.targets))
	for _, t := range p.targets {
		out = append(out, SymbolProgress{
			Symbol:     t.Symbol,
			Target:     t.DailyTarget,
			Achieved:   p.achieved[t.Symbol],
			Completion: p.completionLocked(t),
		})
	}
	return out
}

func (p *Planner) Symbols() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.targets))
	for i, t := range p.targets {
		out[i] = t.Symbol
	}
	return out
}
