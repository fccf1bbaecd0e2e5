// Package fakeclock provides a controllable Clock implementation for testing.
package fakeclock

import (
	"sync"
	"time"

	"github.com/acolita/goexpect/internal/ports"
)

// Clock is a fake clock that only moves when Advance is called.
type Clock struct {
	mu      sync.Mutex
	current time.Time
	timers  []*fakeTimer
	tickers []*fakeTicker
	added   chan struct{}
}

// New creates a new fake clock initialized to the given time.
func New(initial time.Time) *Clock {
	return &Clock{current: initial, added: make(chan struct{}, 64)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NewTimer returns a timer that fires when Advance moves past its deadline.
func (c *Clock) NewTimer(d time.Duration) ports.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{ch: make(chan time.Time, 1), deadline: c.current.Add(d)}
	if d <= 0 {
		t.fired = true
		t.ch <- c.current
	} else {
		c.timers = append(c.timers, t)
	}
	c.notifyAdded()
	return t
}

// NewTicker returns a ticker driven by Advance.
func (c *Clock) NewTicker(d time.Duration) ports.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTicker{ch: make(chan time.Time, 1), interval: d, next: c.current.Add(d)}
	c.tickers = append(c.tickers, t)
	c.notifyAdded()
	return t
}

// notifyAdded must be called with c.mu held.
func (c *Clock) notifyAdded() {
	select {
	case c.added <- struct{}{}:
	default:
	}
}

// WaitForTimers blocks until at least n timers or tickers have been created
// since the last call, or the real-time limit passes. It reports success.
func (c *Clock) WaitForTimers(n int, limit time.Duration) bool {
	deadline := time.After(limit)
	for i := 0; i < n; i++ {
		select {
		case <-c.added:
		case <-deadline:
			return false
		}
	}
	return true
}

// Advance moves the clock forward by duration d, firing due timers and tickers.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = c.current.Add(d)
	now := c.current

	remaining := c.timers[:0]
	for _, t := range c.timers {
		if t.fire(now) {
			continue
		}
		remaining = append(remaining, t)
	}
	c.timers = remaining

	for _, t := range c.tickers {
		t.tick(now)
	}
}

type fakeTimer struct {
	mu       sync.Mutex
	ch       chan time.Time
	deadline time.Time
	fired    bool
	stopped  bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.fired && !t.stopped
	t.stopped = true
	return wasActive
}

// fire reports whether the timer is done (fired now or earlier, or stopped).
func (t *fakeTimer) fire(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return true
	}
	if now.Before(t.deadline) {
		return false
	}
	t.fired = true
	t.ch <- now
	return true
}

type fakeTicker struct {
	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTicker) tick(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.interval <= 0 {
		return
	}
	for !now.Before(t.next) {
		t.next = t.next.Add(t.interval)
		select {
		case t.ch <- now:
		default:
		}
	}
}

var _ ports.Clock = (*Clock)(nil)
