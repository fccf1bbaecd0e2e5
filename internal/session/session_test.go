package session

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acolita/goexpect/internal/ports"
	"github.com/acolita/goexpect/internal/testing/fakes/fakeclock"
	"github.com/acolita/goexpect/internal/testing/fakes/fakespawn"
)

func stagedFactory(s *fakespawn.Staged) Factory {
	return func() (ports.Subordinate, error) { return s, nil }
}

func newSession(t *testing.T, sub ports.Subordinate, opts Options) *Session {
	t.Helper()
	if opts.DefaultTimeout == 0 {
		opts.DefaultTimeout = 5 * time.Second
	}
	s, err := New(func() (ports.Subordinate, error) { return sub, nil }, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestExpect_TwoChunks(t *testing.T) {
	s := newSession(t, fakespawn.New([]string{"flaska", "gris"}), Options{})

	if err := s.Expect("flaska"); err != nil {
		t.Fatalf("Expect(flaska): %v", err)
	}
	if err := s.Expect("gris"); err != nil {
		t.Fatalf("Expect(gris): %v", err)
	}
	if s.LastExpectTimedOut() {
		t.Error("LastExpectTimedOut should be false after a match")
	}
}

func TestExpect_SkipsUnmatchedChunk(t *testing.T) {
	s := newSession(t, fakespawn.New([]string{"flaska", "nyckel", "gris"}), Options{})

	if err := s.Expect("flaska"); err != nil {
		t.Fatalf("Expect(flaska): %v", err)
	}
	if err := s.Expect("gris"); err != nil {
		t.Fatalf("Expect(gris): %v", err)
	}
}

func TestExpect_TimeoutAfterOneSecond(t *testing.T) {
	sub := fakespawn.New([]string{"flaska", "nyckel", "gris", "hund", "katt", "mus"})
	s := newSession(t, sub, Options{})

	start := time.Now()
	err := s.ExpectTimeout("klubba", time.Second)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	var te *TimeoutError
	if !errors.As(err, &te) || te.Closed || te.Pattern != "klubba" {
		t.Errorf("TimeoutError = %+v", te)
	}
	if elapsed < 900*time.Millisecond || elapsed > 1100*time.Millisecond {
		t.Errorf("timed out after %v, want about 1s", elapsed)
	}
	if !s.LastExpectTimedOut() {
		t.Error("LastExpectTimedOut should be true")
	}
}

func TestExpect_TimeoutWithFakeClock(t *testing.T) {
	clock := fakeclock.New(time.Unix(0, 0))
	sub := fakespawn.New([]string{"late"}, fakespawn.WithGap(time.Hour))
	s := newSession(t, sub, Options{Clock: clock})

	errc := make(chan error, 1)
	go func() { errc <- s.ExpectTimeout("late", 10*time.Second) }()

	if !clock.WaitForTimers(1, 2*time.Second) {
		t.Fatal("wait never armed its timer")
	}
	clock.Advance(10 * time.Second)

	select {
	case err := <-errc:
		if !errors.Is(err, ErrTimeout) {
			t.Errorf("err = %v, want ErrTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return after the clock advanced")
	}
}

func TestExpect_StreamEndIsTimeout(t *testing.T) {
	sub := fakespawn.New([]string{"only this"}, fakespawn.WithGap(10*time.Millisecond))
	s := newSession(t, sub, Options{})

	err := s.ExpectTimeout("missing", 5*time.Second)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
	if !te.Closed {
		t.Error("Closed should be set when the stream ended")
	}
	if !s.LastExpectTimedOut() {
		t.Error("LastExpectTimedOut should be true")
	}
}

func TestExpect_PatternCannotSpanLineBreak(t *testing.T) {
	sub := fakespawn.New([]string{"fla\n", "ska"}, fakespawn.WithGap(10*time.Millisecond))
	s := newSession(t, sub, Options{})

	if err := s.ExpectTimeout("flaska", 5*time.Second); !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if got := s.CurrentStdout(); got != "fla\nska" {
		t.Errorf("CurrentStdout = %q", got)
	}
}

func TestExpect_CaseInsensitiveAndKeepsRest(t *testing.T) {
	sub := fakespawn.New([]string{"Alpha BETA gamma"}, fakespawn.WithGap(10*time.Millisecond))
	s := newSession(t, sub, Options{})

	if err := s.Expect("beta"); err != nil {
		t.Fatalf("Expect(beta): %v", err)
	}
	if err := s.Expect("GAMMA"); err != nil {
		t.Fatalf("Expect(GAMMA): %v", err)
	}
	if err := s.ExpectTimeout("alpha", time.Second); !errors.Is(err, ErrTimeout) {
		t.Errorf("consumed text matched again: %v", err)
	}
}

func TestExpect_InvalidTimeout(t *testing.T) {
	s := newSession(t, fakespawn.New([]string{"x"}), Options{})

	for _, d := range []time.Duration{0, -5 * time.Second} {
		if err := s.ExpectTimeout("x", d); !errors.Is(err, ErrInvalidTimeout) {
			t.Errorf("ExpectTimeout(%v) = %v, want ErrInvalidTimeout", d, err)
		}
		if err := s.ExpectCloseTimeout(d); !errors.Is(err, ErrInvalidTimeout) {
			t.Errorf("ExpectCloseTimeout(%v) = %v, want ErrInvalidTimeout", d, err)
		}
	}
	if err := s.SetDefaultTimeout(-3); !errors.Is(err, ErrInvalidTimeout) {
		t.Errorf("SetDefaultTimeout(-3) = %v, want ErrInvalidTimeout", err)
	}
	if err := s.SetDefaultTimeout(Forever); err != nil {
		t.Errorf("SetDefaultTimeout(Forever) = %v", err)
	}
	if s.DefaultTimeout() != Forever {
		t.Errorf("DefaultTimeout = %v, want Forever", s.DefaultTimeout())
	}
}

func TestExpect_ForeverWaitsForData(t *testing.T) {
	sub := fakespawn.New([]string{"eventually"}, fakespawn.WithGap(50*time.Millisecond))
	s := newSession(t, sub, Options{DefaultTimeout: Forever})

	if err := s.Expect("eventually"); err != nil {
		t.Fatalf("Expect: %v", err)
	}
}

func TestExpect_QueuedWaitKeepsItsDeadline(t *testing.T) {
	sub := fakespawn.New([]string{"late"}, fakespawn.WithGap(10*time.Second))
	s := newSession(t, sub, Options{})

	first := make(chan error, 1)
	go func() { first <- s.ExpectTimeout("never", Forever) }()
	eventually(t, "first wait to own stdout", func() bool { return len(s.stdout.turn) == 1 })

	start := time.Now()
	err := s.ExpectTimeout("other", 200*time.Millisecond)
	elapsed := time.Since(start)

	var te *TimeoutError
	if !errors.As(err, &te) || te.Closed {
		t.Fatalf("err = %v, want a deadline timeout", err)
	}
	if elapsed < 150*time.Millisecond || elapsed > 600*time.Millisecond {
		t.Errorf("queued wait returned after %v, want about 200ms", elapsed)
	}
	if !s.LastExpectTimedOut() {
		t.Error("LastExpectTimedOut = false")
	}

	select {
	case err := <-first:
		t.Fatalf("first wait returned early: %v", err)
	default:
	}

	_ = s.Stop()
	select {
	case <-first:
	case <-time.After(3 * time.Second):
		t.Fatal("first wait still blocked after Stop")
	}
}

func TestExpectErr(t *testing.T) {
	sub := fakespawn.New([]string{"out"},
		fakespawn.WithGap(10*time.Millisecond),
		fakespawn.WithStderr("warning: disk"),
	)
	s := newSession(t, sub, Options{})

	if err := s.ExpectErr("WARNING"); err != nil {
		t.Fatalf("ExpectErr: %v", err)
	}
	if err := s.Expect("out"); err != nil {
		t.Fatalf("Expect: %v", err)
	}
	if got, ok := s.CurrentStderr(); !ok || got != "warning: disk" {
		t.Errorf("CurrentStderr = %q, %v", got, ok)
	}
}

func TestExpectErr_NoStream(t *testing.T) {
	s := newSession(t, fakespawn.New([]string{"x"}), Options{})

	if err := s.ExpectErr("anything"); !errors.Is(err, ErrNoStderr) {
		t.Errorf("ExpectErr = %v, want ErrNoStderr", err)
	}
	if _, ok := s.CurrentStderr(); ok {
		t.Error("CurrentStderr should report no stream")
	}
}

func TestExpectClose_AlreadyFinished(t *testing.T) {
	s := newSession(t, fakespawn.NewFinished(), Options{})

	start := time.Now()
	if err := s.ExpectCloseTimeout(time.Second); err != nil {
		t.Fatalf("ExpectCloseTimeout: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("ExpectClose took %v on a finished subordinate", elapsed)
	}
}

func TestExpectClose_WaitsForExit(t *testing.T) {
	sub := fakespawn.New([]string{"a", "b"}, fakespawn.WithGap(20*time.Millisecond), fakespawn.WithExitCode(3))
	s := newSession(t, sub, Options{})

	if _, err := s.ExitValue(); !errors.Is(err, ErrStillRunning) {
		t.Errorf("ExitValue before exit = %v, want ErrStillRunning", err)
	}
	if !errors.Is(ErrStillRunning, ports.ErrNotFinished) {
		t.Error("ErrStillRunning should wrap ports.ErrNotFinished")
	}

	if err := s.ExpectClose(); err != nil {
		t.Fatalf("ExpectClose: %v", err)
	}
	if !s.IsClosed() {
		t.Error("IsClosed should be true after ExpectClose")
	}
	code, err := s.ExitValue()
	if err != nil || code != 3 {
		t.Errorf("ExitValue = %d, %v; want 3, nil", code, err)
	}
}

func TestExpectClose_Timeout(t *testing.T) {
	sub := fakespawn.New([]string{"tick"}, fakespawn.WithGap(time.Hour))
	s := newSession(t, sub, Options{})

	start := time.Now()
	err := s.ExpectCloseTimeout(time.Second)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed < 900*time.Millisecond || elapsed > 1100*time.Millisecond {
		t.Errorf("timed out after %v, want about 1s", elapsed)
	}
	if !s.LastExpectTimedOut() {
		t.Error("LastExpectTimedOut should be true")
	}
}

func TestExpectClose_PollsWithoutDoneChannel(t *testing.T) {
	clock := fakeclock.New(time.Unix(0, 0))
	staged := fakespawn.New([]string{"x"}, fakespawn.WithGap(200*time.Millisecond))
	// The anonymous wrapper hides Done so ExpectClose has to poll.
	var sub ports.Subordinate = struct{ ports.Subordinate }{staged}
	s := newSession(t, sub, Options{Clock: clock, PollInterval: time.Second})

	errc := make(chan error, 1)
	go func() { errc <- s.ExpectCloseTimeout(time.Minute) }()

	if !clock.WaitForTimers(2, 2*time.Second) {
		t.Fatal("timer and ticker were not created")
	}
	eventually(t, "subordinate exit", staged.IsFinished)
	clock.Advance(time.Second)

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("ExpectCloseTimeout = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll tick did not observe the exit")
	}
}

func TestStop_Idempotent(t *testing.T) {
	sub := fakespawn.New([]string{"a", "b"}, fakespawn.WithGap(time.Hour))
	s, err := New(stagedFactory(sub), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if !s.IsClosed() {
		t.Error("IsClosed should be true after Stop")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if !s.IsClosed() {
		t.Error("IsClosed should stay true")
	}
	if got := sub.StopCalls(); got != 1 {
		t.Errorf("subordinate stopped %d times, want 1", got)
	}
	if err := s.Send("late"); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Stop = %v, want ErrClosed", err)
	}
	if err := s.Interact(); !errors.Is(err, ErrClosed) {
		t.Errorf("Interact after Stop = %v, want ErrClosed", err)
	}
}

func TestCurrentStdout_Idempotent(t *testing.T) {
	sub := fakespawn.New([]string{"one ", "two"}, fakespawn.WithGap(10*time.Millisecond))
	s := newSession(t, sub, Options{})

	if err := s.ExpectClose(); err != nil {
		t.Fatalf("ExpectClose: %v", err)
	}
	eventually(t, "relay drain", func() bool { return s.CurrentStdout() == "one two" })
	if a, b := s.CurrentStdout(), s.CurrentStdout(); a != b {
		t.Errorf("CurrentStdout changed: %q then %q", a, b)
	}
}

func TestSend(t *testing.T) {
	sub := fakespawn.New([]string{"prompt"}, fakespawn.WithGap(time.Hour))
	s := newSession(t, sub, Options{})

	if err := s.Send("ls -l"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.Send("\n"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := sub.Written(); got != "ls -l\n" {
		t.Errorf("Written = %q", got)
	}
}

func TestSend_WriteFailure(t *testing.T) {
	boom := errors.New("broken pipe")
	sub := fakespawn.New([]string{"x"}, fakespawn.WithGap(time.Hour), fakespawn.WithWriteError(boom))
	s := newSession(t, sub, Options{})

	err := s.Send("data")
	var te *TransportError
	if !errors.As(err, &te) || te.Stream != "stdin" {
		t.Fatalf("Send = %v, want *TransportError on stdin", err)
	}
	if !errors.Is(err, boom) {
		t.Error("TransportError should unwrap to the write error")
	}
}

func TestNew_LaunchErrors(t *testing.T) {
	cause := errors.New("no such binary")

	tests := []struct {
		name    string
		factory Factory
	}{
		{"nil factory", nil},
		{"factory fails", func() (ports.Subordinate, error) { return nil, cause }},
		{"start fails", stagedFactory(fakespawn.New(nil, fakespawn.WithStartError(cause)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.factory, Options{})
			var le *LaunchError
			if !errors.As(err, &le) {
				t.Fatalf("New = %v, want *LaunchError", err)
			}
		})
	}

	if _, err := New(stagedFactory(fakespawn.New(nil)), Options{DefaultTimeout: -2}); !errors.Is(err, ErrInvalidTimeout) {
		t.Errorf("New with negative timeout = %v, want ErrInvalidTimeout", err)
	}
}

// brokenSub fails its first stdout read.
type brokenSub struct {
	*fakespawn.Staged
	err error
}

func (b brokenSub) Stdout() io.Reader { return errReader{b.err} }

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestExpect_TransportFaultBeforeData(t *testing.T) {
	boom := errors.New("connection reset")
	sub := brokenSub{Staged: fakespawn.New(nil, fakespawn.WithGap(time.Hour)), err: boom}
	s := newSession(t, sub, Options{})

	err := s.ExpectTimeout("anything", 5*time.Second)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if !errors.Is(err, boom) {
		t.Error("TransportError should unwrap to the read error")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("a transport fault is not a timeout")
	}
}

func TestEcho(t *testing.T) {
	echo := &syncBuffer{}
	sub := fakespawn.New([]string{"mirrored"}, fakespawn.WithGap(10*time.Millisecond))
	s := newSession(t, sub, Options{StdoutEcho: echo})

	if err := s.Expect("mirrored"); err != nil {
		t.Fatalf("Expect: %v", err)
	}
	eventually(t, "echo", func() bool { return echo.String() == "mirrored" })
}

func TestInteract(t *testing.T) {
	echo := &syncBuffer{}
	out := &syncBuffer{}
	inR, inW := io.Pipe()
	defer inW.Close()

	sub := fakespawn.New([]string{"hello ", "world", "bye"}, fakespawn.WithGap(200*time.Millisecond))
	s := newSession(t, sub, Options{
		StdoutEcho: echo,
		Console:    Console{In: inR, Out: out, Err: io.Discard},
	})

	if err := s.Expect("hello"); err != nil {
		t.Fatalf("Expect: %v", err)
	}
	if err := s.Interact(); err != nil {
		t.Fatalf("Interact: %v", err)
	}
	if err := s.Interact(); !errors.Is(err, ErrAlreadyInteractive) {
		t.Errorf("second Interact = %v, want ErrAlreadyInteractive", err)
	}

	if _, err := inW.Write([]byte("typed")); err != nil {
		t.Fatalf("console write: %v", err)
	}
	eventually(t, "console input relayed", func() bool { return sub.Written() == "typed" })
	eventually(t, "output mirrored", func() bool { return strings.Contains(out.String(), "world") })

	if strings.Contains(echo.String(), "world") {
		t.Errorf("echo should be off in interactive mode, got %q", echo.String())
	}
	if strings.Contains(out.String(), "hello") {
		t.Errorf("console got output consumed before Interact: %q", out.String())
	}
}

type fakeRecorder struct {
	mu     sync.Mutex
	out    bytes.Buffer
	inputs []string
	closed int
}

func (r *fakeRecorder) OutputWriter() io.Writer { return recorderOutput{r} }

func (r *fakeRecorder) RecordInput(data string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, data)
}

func (r *fakeRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

type recorderOutput struct{ r *fakeRecorder }

func (w recorderOutput) Write(p []byte) (int, error) {
	w.r.mu.Lock()
	defer w.r.mu.Unlock()
	return w.r.out.Write(p)
}

func TestRecorder(t *testing.T) {
	rec := &fakeRecorder{}
	sub := fakespawn.New([]string{"login: "}, fakespawn.WithGap(10*time.Millisecond))
	s, err := New(stagedFactory(sub), Options{Recorder: rec})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Expect("login"); err != nil {
		t.Fatalf("Expect: %v", err)
	}
	if err := s.Send("root\n"); err != nil && !errors.Is(err, ErrClosed) {
		t.Fatalf("Send: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	_ = s.Stop()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.out.String() != "login: " {
		t.Errorf("recorded output = %q", rec.out.String())
	}
	if rec.closed != 1 {
		t.Errorf("recorder closed %d times, want 1", rec.closed)
	}
}

// controllable adds terminal control to a staged subordinate.
type controllable struct {
	*fakespawn.Staged
	mu         sync.Mutex
	rows, cols uint16
	interrupts int
}

func (c *controllable) Resize(rows, cols uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows, c.cols = rows, cols
	return nil
}

func (c *controllable) Interrupt() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupts++
	return nil
}

func TestResizeAndInterrupt(t *testing.T) {
	sub := &controllable{Staged: fakespawn.New([]string{"x"}, fakespawn.WithGap(5*time.Second))}
	s := newSession(t, sub, Options{})

	if err := s.Resize(50, 132); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if err := s.Interrupt(); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	sub.mu.Lock()
	if sub.rows != 50 || sub.cols != 132 || sub.interrupts != 1 {
		t.Errorf("got %dx%d, %d interrupts", sub.rows, sub.cols, sub.interrupts)
	}
	sub.mu.Unlock()

	_ = s.Stop()
	if err := s.Resize(1, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Resize after Stop = %v, want ErrClosed", err)
	}
	if err := s.Interrupt(); !errors.Is(err, ErrClosed) {
		t.Errorf("Interrupt after Stop = %v, want ErrClosed", err)
	}
}

func TestResizeAndInterrupt_Unsupported(t *testing.T) {
	s := newSession(t, fakespawn.New([]string{"x"}, fakespawn.WithGap(5*time.Second)), Options{})

	if err := s.Resize(24, 80); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Resize = %v, want ErrUnsupported", err)
	}
	if err := s.Interrupt(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Interrupt = %v, want ErrUnsupported", err)
	}
}
