package core

import "time"

// Clock abstracts wall time so position aging and daily rollovers are
// testable without waiting.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
