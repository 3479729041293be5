// Package clock abstracts wall-clock time and periodic timers so the
// liveness supervisor's heartbeat and stale sweeps can be driven by tests
// without real sleeps.
package clock

import "time"

// Ticker is the subset of *time.Ticker the supervisor needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock is a source of the current time and of periodic tickers.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Real is a Clock backed by the standard library.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }
