package ports

import (
	"errors"
	"io"
)

// ErrNotFinished is returned by ExitCode while the subordinate is running.
var ErrNotFinished = errors.New("subordinate is still running")

// Subordinate is anything a session can drive: a local process, a
// PTY-backed shell, a socket, an SSH channel or a scripted stand-in.
type Subordinate interface {
	// Start launches the subordinate. It is called exactly once by the
	// session constructor.
	Start() error

	// Stdout returns the subordinate's output stream.
	Stdout() io.Reader

	// Stderr returns the subordinate's error stream, or nil when there is none.
	Stderr() io.Reader

	// Stdin returns the subordinate's input sink.
	Stdin() io.Writer

	// IsFinished reports whether the subordinate has exited.
	IsFinished() bool

	// ExitCode returns the exit code once IsFinished is true,
	// ErrNotFinished otherwise.
	ExitCode() (int, error)

	// Stop terminates the subordinate. It is idempotent and IsFinished
	// must report true once it returns.
	Stop() error
}

// DoneNotifier is implemented by subordinates that can signal their exit.
// The returned channel is closed once IsFinished becomes true.
type DoneNotifier interface {
	Done() <-chan struct{}
}

// Resizer is implemented by subordinates attached to a terminal.
type Resizer interface {
	Resize(rows, cols uint16) error
}

// Interrupter is implemented by subordinates that accept an interrupt
// (SIGINT or its remote equivalent).
type Interrupter interface {
	Interrupt() error
}
