package session

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/acolita/goexpect/internal/adapters/realclock"
	"github.com/acolita/goexpect/internal/ports"
)

// Forever disables the deadline of a wait.
const Forever time.Duration = -1

const (
	// DefaultTimeout applies when Options.DefaultTimeout is zero.
	DefaultTimeout = 30 * time.Second
	// DefaultPollInterval is the liveness poll used by ExpectClose for
	// subordinates that cannot signal their exit.
	DefaultPollInterval = 500 * time.Millisecond
)

// Factory creates the subordinate a session drives.
type Factory func() (ports.Subordinate, error)

// Console is the controlling terminal used by Interact.
type Console struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// StdConsole returns the process's own standard streams.
func StdConsole() Console {
	return Console{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

// Recorder taps the session's traffic.
type Recorder interface {
	// OutputWriter receives everything read from stdout.
	OutputWriter() io.Writer
	// RecordInput is called with every successful Send.
	RecordInput(data string)
	Close() error
}

// Options configures a Session.
type Options struct {
	// DefaultTimeout bounds Expect, ExpectErr and ExpectClose. Zero means
	// DefaultTimeout, Forever disables it.
	DefaultTimeout time.Duration

	// PollInterval paces ExpectClose when the subordinate has no Done channel.
	PollInterval time.Duration

	// StdoutEcho and StderrEcho mirror the streams live. Optional.
	StdoutEcho io.Writer
	StderrEcho io.Writer

	// Console is used by Interact. Zero value means StdConsole().
	Console Console

	Recorder Recorder
	Clock    ports.Clock
	Logger   *slog.Logger
}

func (o Options) withDefaults() (Options, error) {
	if o.DefaultTimeout == 0 {
		o.DefaultTimeout = DefaultTimeout
	}
	if err := validTimeout(o.DefaultTimeout); err != nil {
		return o, err
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Console.In == nil && o.Console.Out == nil && o.Console.Err == nil {
		o.Console = StdConsole()
	}
	if o.Clock == nil {
		o.Clock = realclock.New()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o, nil
}

func validTimeout(d time.Duration) error {
	if d == Forever || d > 0 {
		return nil
	}
	return ErrInvalidTimeout
}
