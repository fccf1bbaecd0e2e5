// Package fakespawn provides scripted subordinates for testing sessions
// without launching real processes.
package fakespawn

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acolita/goexpect/internal/ports"
)

// DefaultGap is the pause before each staged chunk.
const DefaultGap = 500 * time.Millisecond

// Staged is a subordinate that writes canned chunks to its stdout (and
// optionally stderr), one chunk per gap, then reports itself finished.
type Staged struct {
	stdout     [][]byte
	stderr     [][]byte
	gap        time.Duration
	exitCode   int
	startErr   error
	failWrites error

	outR, errR *io.PipeReader
	outW, errW *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer

	started  atomic.Bool
	finished atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	producer sync.WaitGroup
	stops    atomic.Int32
}

// Option configures a Staged subordinate.
type Option func(*Staged)

// WithGap sets the pause before each chunk.
func WithGap(d time.Duration) Option {
	return func(s *Staged) { s.gap = d }
}

// WithStderr stages chunks on the error stream, interleaved by index with stdout.
func WithStderr(chunks ...string) Option {
	return func(s *Staged) { s.stderr = toBytes(chunks) }
}

// WithExitCode sets the code reported once finished.
func WithExitCode(code int) Option {
	return func(s *Staged) { s.exitCode = code }
}

// WithStartError makes Start fail with err.
func WithStartError(err error) Option {
	return func(s *Staged) { s.startErr = err }
}

// WithWriteError makes every write to stdin fail with err.
func WithWriteError(err error) Option {
	return func(s *Staged) { s.failWrites = err }
}

// New returns a subordinate that emits the given stdout chunks.
func New(chunks []string, opts ...Option) *Staged {
	s := &Staged{
		stdout: toBytes(chunks),
		gap:    DefaultGap,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.outR, s.outW = io.Pipe()
	if s.stderr != nil {
		s.errR, s.errW = io.Pipe()
	}
	return s
}

// NewFinished returns a subordinate that has already exited with no output.
func NewFinished(opts ...Option) *Staged {
	s := New(nil, opts...)
	s.outW.Close()
	if s.errW != nil {
		s.errW.Close()
	}
	s.markFinished()
	return s
}

func toBytes(chunks []string) [][]byte {
	out := make([][]byte, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, []byte(c))
	}
	return out
}

// Start begins producing chunks.
func (s *Staged) Start() error {
	if s.startErr != nil {
		return s.startErr
	}
	if !s.started.CompareAndSwap(false, true) || s.finished.Load() {
		return nil
	}

	s.producer.Add(1)
	go s.produce()
	return nil
}

func (s *Staged) produce() {
	defer s.producer.Done()
	defer s.markFinished()
	defer s.outW.Close()
	if s.errW != nil {
		defer s.errW.Close()
	}

	n := max(len(s.stdout), len(s.stderr))
	for i := 0; i < n; i++ {
		select {
		case <-time.After(s.gap):
		case <-s.stop:
			return
		}
		if i < len(s.stdout) {
			if _, err := s.outW.Write(s.stdout[i]); err != nil {
				return
			}
		}
		if i < len(s.stderr) {
			if _, err := s.errW.Write(s.stderr[i]); err != nil {
				return
			}
		}
	}
}

func (s *Staged) markFinished() {
	if s.finished.CompareAndSwap(false, true) {
		close(s.done)
	}
}

// Stdout returns the staged output stream.
func (s *Staged) Stdout() io.Reader { return s.outR }

// Stderr returns the staged error stream, nil unless WithStderr was used.
func (s *Staged) Stderr() io.Reader {
	if s.errR == nil {
		return nil
	}
	return s.errR
}

// Stdin returns a sink that records everything written to it.
func (s *Staged) Stdin() io.Writer { return stdin{s} }

// IsFinished reports whether all chunks were produced or Stop was called.
func (s *Staged) IsFinished() bool { return s.finished.Load() }

// Done is closed once the subordinate is finished.
func (s *Staged) Done() <-chan struct{} { return s.done }

// ExitCode returns the configured exit code once finished.
func (s *Staged) ExitCode() (int, error) {
	if !s.IsFinished() {
		return 0, ports.ErrNotFinished
	}
	return s.exitCode, nil
}

// Stop aborts production and closes the streams.
func (s *Staged) Stop() error {
	s.stops.Add(1)
	s.stopOnce.Do(func() {
		close(s.stop)
		s.outR.Close()
		if s.errR != nil {
			s.errR.Close()
		}
		s.producer.Wait()
		s.markFinished()
	})
	return nil
}

// StopCalls returns how many times Stop was invoked.
func (s *Staged) StopCalls() int { return int(s.stops.Load()) }

// Written returns everything sent to stdin.
func (s *Staged) Written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

type stdin struct{ s *Staged }

func (w stdin) Write(p []byte) (int, error) {
	if w.s.failWrites != nil {
		return 0, w.s.failWrites
	}
	if w.s.IsFinished() {
		return 0, io.ErrClosedPipe
	}
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.s.written.Write(p)
}

var (
	_ ports.Subordinate  = (*Staged)(nil)
	_ ports.DoneNotifier = (*Staged)(nil)
)
