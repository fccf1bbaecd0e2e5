// Package realclock backs the Clock port with the time package.
package realclock

import (
	"time"

	"github.com/acolita/goexpect/internal/ports"
)

// Clock implements ports.Clock using wall-clock time.
type Clock struct{}

// New returns a new real Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	return time.Now()
}

// NewTimer returns a one-shot timer backed by time.Timer.
func (c *Clock) NewTimer(d time.Duration) ports.Timer {
	return &realTimer{timer: time.NewTimer(d)}
}

// NewTicker returns a Ticker backed by time.Ticker.
func (c *Clock) NewTicker(d time.Duration) ports.Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTimer struct {
	timer *time.Timer
}

func (t *realTimer) C() <-chan time.Time { return t.timer.C }

func (t *realTimer) Stop() bool { return t.timer.Stop() }

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time { return t.ticker.C }

func (t *realTicker) Stop() { t.ticker.Stop() }

var _ ports.Clock = (*Clock)(nil)
