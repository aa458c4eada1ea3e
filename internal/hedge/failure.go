package hedge

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a hedge operation could not produce a
// position, so the caller can decide between aborting, retrying and
// counting against the breaker.
type FailureKind string

const (
	// FailureConfig means the request can never succeed as configured
	// (unmapped symbol, unknown venue). Retrying is pointless.
	FailureConfig FailureKind = "config"
	// FailureTransient means both legs were rejected and nothing was
	// left on any venue. Safe to retry later.
	FailureTransient FailureKind = "transient"
	// FailureCompensated means one leg filled and was unwound by a
	// compensating order. Exposure is flat but fees were paid.
	FailureCompensated FailureKind = "compensated"
)

type ExecError struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Kind)
}

func (e *ExecError) Unwrap() error { return e.Err }

func execErr(kind FailureKind, op string, err error) *ExecError {
	return &ExecError{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the failure kind from err, defaulting to transient.
func KindOf(err error) FailureKind {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return FailureTransient
}
