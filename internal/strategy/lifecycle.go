package strategy

import (
	"math/rand"
	"time"
)

// closeProbabilityCap keeps position lifetimes spread out instead of
// clustering near the minimum.
const closeProbabilityCap = 0.3

// Lifecycle decides when an open position should be unwound. Inside the
// [Min, Max) window the close probability rises linearly with age, capped
// so most positions survive several checks.
type Lifecycle struct {
	Min time.Duration
	Max time.Duration
}

// ShouldClose reports whether a position of the given age should be closed
// now. Ages below Min never close; ages at or past Max always do.
func (l Lifecycle) ShouldClose(age time.Duration, rng *rand.Rand) bool {
	if age < l.Min {
		return false
	}
	if age >= l.Max {
		return true
	}
	span := l.Max - l.Min
	if span <= 0 {
		return true
	}
	p := float64(age-l.Min) / float64(span)
	if p > closeProbabilityCap {
		p = closeProbabilityCap
	}
	return rng.Float64() < p
}
