// Package session drives a subordinate the way a person at a terminal
// would: send input, then wait until its output contains some text.
package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acolita/goexpect/internal/ports"
	"github.com/acolita/goexpect/internal/relay"
)

// stream is one observed direction of subordinate output.
type stream struct {
	name  string
	relay *relay.Relay
	// turn is a one-slot semaphore serialising waits so each one owns the
	// cursor while it runs. Queued waits still honour their own deadline.
	turn   chan struct{}
	cursor *relay.Cursor
}

// Session controls a single subordinate.
type Session struct {
	sub   ports.Subordinate
	opts  Options
	clock ports.Clock
	log   *slog.Logger

	stdout *stream
	stderr *stream

	defaultTimeout atomic.Int64
	timedOut       atomic.Bool
	closed         atomic.Bool
	stopped        atomic.Bool
	stopOnce       sync.Once
	stopErr        error

	mu          sync.Mutex
	interactive []*relay.Relay
	mirrors     []*relay.Cursor
}

// New creates the subordinate with factory, starts it and begins relaying
// its output.
func New(factory Factory, opts Options) (*Session, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, &LaunchError{Err: errors.New("nil factory")}
	}

	sub, err := factory()
	if err != nil {
		return nil, &LaunchError{Err: err}
	}
	if sub == nil {
		return nil, &LaunchError{Err: errors.New("factory returned no subordinate")}
	}
	if err := sub.Start(); err != nil {
		return nil, &LaunchError{Err: err}
	}
	if sub.Stdout() == nil {
		_ = sub.Stop()
		return nil, &LaunchError{Err: errors.New("subordinate has no output stream")}
	}

	s := &Session{
		sub:   sub,
		opts:  opts,
		clock: opts.Clock,
		log:   opts.Logger,
	}
	s.defaultTimeout.Store(int64(opts.DefaultTimeout))

	var tap io.Writer
	if opts.Recorder != nil {
		tap = opts.Recorder.OutputWriter()
	}
	s.stdout = s.newStream("stdout", sub.Stdout(), tap, opts.StdoutEcho)
	if errSrc := sub.Stderr(); errSrc != nil {
		s.stderr = s.newStream("stderr", errSrc, nil, opts.StderrEcho)
	}

	s.stdout.relay.Start()
	if s.stderr != nil {
		s.stderr.relay.Start()
	}

	s.log.Debug("session started",
		slog.Bool("stderr", s.stderr != nil),
		slog.Duration("default_timeout", opts.DefaultTimeout),
	)
	return s, nil
}

func (s *Session) newStream(name string, src io.Reader, sink, echo io.Writer) *stream {
	r := relay.New(src, relay.Options{
		Name:   name,
		Sink:   sink,
		Echo:   echo,
		Logger: s.log,
	})
	return &stream{name: name, relay: r, turn: make(chan struct{}, 1), cursor: r.NewCursor()}
}

// Send writes text to the subordinate verbatim. No newline is added.
func (s *Session) Send(text string) error {
	if s.stopped.Load() || s.IsClosed() {
		return ErrClosed
	}

	w := s.sub.Stdin()
	if _, err := io.WriteString(w, text); err != nil {
		if s.IsClosed() {
			return ErrClosed
		}
		return &TransportError{Op: "send", Stream: "stdin", Err: err}
	}
	if f, ok := w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return &TransportError{Op: "flush", Stream: "stdin", Err: err}
		}
	}

	if s.opts.Recorder != nil {
		s.opts.Recorder.RecordInput(text)
	}
	s.log.Debug("sent input", slog.String("input", text))
	return nil
}

// DefaultTimeout returns the timeout used by the methods without one.
func (s *Session) DefaultTimeout() time.Duration {
	return time.Duration(s.defaultTimeout.Load())
}

// SetDefaultTimeout replaces the default timeout. Waits already in progress
// keep theirs.
func (s *Session) SetDefaultTimeout(d time.Duration) error {
	if err := validTimeout(d); err != nil {
		return err
	}
	s.defaultTimeout.Store(int64(d))
	return nil
}

// Expect waits for pattern on stdout using the default timeout.
func (s *Session) Expect(pattern string) error {
	return s.ExpectTimeout(pattern, s.DefaultTimeout())
}

// ExpectTimeout waits up to timeout for pattern on stdout.
func (s *Session) ExpectTimeout(pattern string, timeout time.Duration) error {
	return s.expect(s.stdout, pattern, timeout)
}

// ExpectErr waits for pattern on stderr using the default timeout.
func (s *Session) ExpectErr(pattern string) error {
	return s.ExpectErrTimeout(pattern, s.DefaultTimeout())
}

// ExpectErrTimeout waits up to timeout for pattern on stderr.
func (s *Session) ExpectErrTimeout(pattern string, timeout time.Duration) error {
	if s.stderr == nil {
		return ErrNoStderr
	}
	return s.expect(s.stderr, pattern, timeout)
}

// ExpectClose waits for the subordinate to exit using the default timeout.
func (s *Session) ExpectClose() error {
	return s.ExpectCloseTimeout(s.DefaultTimeout())
}

// LastExpectTimedOut reports whether the most recent wait gave up.
func (s *Session) LastExpectTimedOut() bool { return s.timedOut.Load() }

// IsClosed reports whether the subordinate has finished. Once true it stays
// true.
func (s *Session) IsClosed() bool {
	if s.closed.Load() {
		return true
	}
	if s.sub.IsFinished() {
		s.closed.Store(true)
		return true
	}
	return false
}

// ExitValue returns the subordinate's exit code, or ErrStillRunning.
func (s *Session) ExitValue() (int, error) {
	if !s.IsClosed() {
		return 0, ErrStillRunning
	}
	code, err := s.sub.ExitCode()
	if errors.Is(err, ports.ErrNotFinished) {
		return 0, ErrStillRunning
	}
	return code, err
}

// CurrentStdout returns everything read from stdout so far.
func (s *Session) CurrentStdout() string { return s.stdout.relay.CurrentContents() }

// CurrentStderr returns everything read from stderr so far. ok is false
// when the subordinate has no error stream.
func (s *Session) CurrentStderr() (string, bool) {
	if s.stderr == nil {
		return "", false
	}
	return s.stderr.relay.CurrentContents(), true
}

// Resize passes a new terminal size to the subordinate.
func (s *Session) Resize(rows, cols uint16) error {
	if s.stopped.Load() || s.IsClosed() {
		return ErrClosed
	}
	r, ok := s.sub.(ports.Resizer)
	if !ok {
		return ErrUnsupported
	}
	return r.Resize(rows, cols)
}

// Interrupt sends the subordinate an interrupt, like Ctrl-C at a terminal.
func (s *Session) Interrupt() error {
	if s.stopped.Load() || s.IsClosed() {
		return ErrClosed
	}
	i, ok := s.sub.(ports.Interrupter)
	if !ok {
		return ErrUnsupported
	}
	if err := i.Interrupt(); err != nil {
		return &TransportError{Op: "interrupt", Stream: "stdin", Err: err}
	}
	s.log.Debug("sent interrupt")
	return nil
}

// Stop ends interactive mode, stops the subordinate and closes the
// recorder. Later calls return the first call's result.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)

		s.stdout.relay.StopProcessing()
		if s.stderr != nil {
			s.stderr.relay.StopProcessing()
		}

		s.mu.Lock()
		for _, r := range s.interactive {
			r.StopProcessing()
		}
		for _, c := range s.mirrors {
			_ = c.Close()
		}
		s.mu.Unlock()

		var errs []error
		if err := s.sub.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop subordinate: %w", err))
		}
		s.closed.Store(true)

		if s.opts.Recorder != nil {
			if err := s.opts.Recorder.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close recorder: %w", err))
			}
		}
		s.stopErr = errors.Join(errs...)
		s.log.Debug("session stopped")
	})
	return s.stopErr
}
