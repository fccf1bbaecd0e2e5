// Package timer provides a one-shot countdown that reports either expiry or
// interruption to a listener. Each wait owns its own Timer, so expiry never
// leaks into unrelated waits.
package timer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/acolita/goexpect/internal/adapters/realclock"
	"github.com/acolita/goexpect/internal/ports"
)

var (
	// ErrInvalidDelay is returned for a delay that is not strictly positive.
	ErrInvalidDelay = errors.New("timer delay must be positive")
	// ErrNilListener is returned when no listener is given.
	ErrNilListener = errors.New("timer listener must not be nil")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("timer already started")
)

// Status is the state of a Timer. It only moves forward:
// NotStarted -> Started -> TimedOut or Interrupted.
type Status int32

const (
	NotStarted Status = iota
	Started
	TimedOut
	Interrupted
)

func (s Status) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Started:
		return "started"
	case TimedOut:
		return "timed-out"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Listener receives exactly one of the two callbacks.
type Listener interface {
	// OnTimeout is called when the delay elapsed.
	OnTimeout()
	// OnInterrupted is called when the countdown was cancelled first.
	OnInterrupted(reason error)
}

// Timer fires its listener once after a delay.
type Timer struct {
	delay    time.Duration
	listener Listener
	clock    ports.Clock
	status   atomic.Int32
}

// New creates a timer. A nil clock means wall-clock time.
func New(delay time.Duration, l Listener, clock ports.Clock) (*Timer, error) {
	if delay <= 0 {
		return nil, ErrInvalidDelay
	}
	if l == nil {
		return nil, ErrNilListener
	}
	if clock == nil {
		clock = realclock.New()
	}
	return &Timer{delay: delay, listener: l, clock: clock}, nil
}

// Status returns the current state.
func (t *Timer) Status() Status { return Status(t.status.Load()) }

// Start begins the countdown on its own goroutine. Cancelling ctx before the
// delay elapses interrupts the timer. If ctx is never cancelled and the
// timer is dropped, the goroutine still ends at expiry.
func (t *Timer) Start(ctx context.Context) error {
	if !t.status.CompareAndSwap(int32(NotStarted), int32(Started)) {
		return ErrAlreadyStarted
	}

	countdown := t.clock.NewTimer(t.delay)
	go func() {
		select {
		case <-countdown.C():
			if t.status.CompareAndSwap(int32(Started), int32(TimedOut)) {
				t.listener.OnTimeout()
			}
		case <-ctx.Done():
			countdown.Stop()
			if t.status.CompareAndSwap(int32(Started), int32(Interrupted)) {
				t.listener.OnInterrupted(ctx.Err())
			}
		}
	}()
	return nil
}
