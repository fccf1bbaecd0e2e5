package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/acolita/goexpect/internal/ports"
)

var (
	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("session: timed out")
	// ErrInvalidTimeout is returned for a zero or negative timeout other than Forever.
	ErrInvalidTimeout = errors.New("session: timeout must be positive or Forever")
	// ErrClosed is returned when operating on a stopped or exited session.
	ErrClosed = errors.New("session: closed")
	// ErrStillRunning is returned by ExitValue before the subordinate exits.
	ErrStillRunning = fmt.Errorf("session: %w", ports.ErrNotFinished)
	// ErrAlreadyInteractive is returned by a second call to Interact.
	ErrAlreadyInteractive = errors.New("session: already interactive")
	// ErrNoStderr is returned by ExpectErr when the subordinate has no error stream.
	ErrNoStderr = errors.New("session: subordinate has no error stream")
	// ErrUnsupported is returned by Resize and Interrupt when the subordinate
	// cannot do either.
	ErrUnsupported = errors.New("session: not supported by subordinate")
)

// TimeoutError reports a wait that gave up. Closed is set when the stream
// ended before the deadline.
type TimeoutError struct {
	Pattern string
	Timeout time.Duration
	Closed  bool
}

func (e *TimeoutError) Error() string {
	if e.Pattern == "" && !e.Closed {
		return fmt.Sprintf("session: subordinate still running after %s", e.Timeout)
	}
	if e.Closed {
		return fmt.Sprintf("session: stream closed before %q was seen", e.Pattern)
	}
	return fmt.Sprintf("session: %q not seen within %s", e.Pattern, e.Timeout)
}

// Is makes errors.Is(err, ErrTimeout) true.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// LaunchError wraps a failure to create or start the subordinate.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string { return "session: launch: " + e.Err.Error() }

func (e *LaunchError) Unwrap() error { return e.Err }

// TransportError is an I/O failure on one of the subordinate's streams.
type TransportError struct {
	Op     string
	Stream string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session: %s %s: %v", e.Op, e.Stream, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
