package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/acolita/goexpect/internal/ports"
	"github.com/acolita/goexpect/internal/timer"
)

// deadline starts a timer for one wait. The returned channel is nil for
// Forever, which blocks a select case for good.
func (s *Session) deadline(ctx context.Context, timeout time.Duration) (<-chan struct{}, error) {
	if timeout == Forever {
		return nil, nil
	}
	sig := timer.NewSignal()
	t, err := timer.New(timeout, sig, s.clock)
	if err != nil {
		return nil, err
	}
	if err := t.Start(ctx); err != nil {
		return nil, err
	}
	return sig.Fired(), nil
}

// expect consumes st's output until pattern is seen, the timeout passes or
// the stream ends and is drained.
func (s *Session) expect(st *stream, pattern string, timeout time.Duration) error {
	if err := validTimeout(timeout); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fired, err := s.deadline(ctx, timeout)
	if err != nil {
		return err
	}

	select {
	case st.turn <- struct{}{}:
		defer func() { <-st.turn }()
	case <-fired:
		s.timedOut.Store(true)
		s.log.Debug("pattern wait timed out while queued",
			slog.String("stream", st.name),
			slog.String("pattern", pattern),
			slog.Duration("timeout", timeout),
		)
		return &TimeoutError{Pattern: pattern, Timeout: timeout}
	}

	m := newMatcher(pattern)
	for {
		data, changed, ended := st.cursor.Pending()
		n, ok := m.feed(data)
		st.cursor.Advance(n)
		if ok {
			s.timedOut.Store(false)
			s.log.Debug("pattern matched", slog.String("stream", st.name), slog.String("pattern", pattern))
			return nil
		}

		if ended {
			if fault := st.relay.Err(); fault != nil && st.relay.Len() == 0 {
				s.timedOut.Store(false)
				return &TransportError{Op: "read", Stream: st.name, Err: fault}
			}
			s.timedOut.Store(true)
			s.log.Debug("stream closed before match", slog.String("stream", st.name), slog.String("pattern", pattern))
			return &TimeoutError{Pattern: pattern, Timeout: timeout, Closed: true}
		}

		select {
		case <-changed:
		case <-fired:
			s.timedOut.Store(true)
			s.log.Debug("pattern wait timed out",
				slog.String("stream", st.name),
				slog.String("pattern", pattern),
				slog.Duration("timeout", timeout),
			)
			return &TimeoutError{Pattern: pattern, Timeout: timeout}
		}
	}
}

// ExpectCloseTimeout waits up to timeout for the subordinate to exit.
func (s *Session) ExpectCloseTimeout(timeout time.Duration) error {
	if err := validTimeout(timeout); err != nil {
		return err
	}
	if s.IsClosed() {
		s.timedOut.Store(false)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fired, err := s.deadline(ctx, timeout)
	if err != nil {
		return err
	}

	var done <-chan struct{}
	if dn, ok := s.sub.(ports.DoneNotifier); ok {
		done = dn.Done()
	}
	ticker := s.clock.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			// Fall back to polling if the flag lags the channel.
			done = nil
		case <-ticker.C():
		case <-fired:
			s.timedOut.Store(true)
			s.log.Debug("close wait timed out", slog.Duration("timeout", timeout))
			return &TimeoutError{Timeout: timeout}
		}
		if s.IsClosed() {
			s.timedOut.Store(false)
			return nil
		}
	}
}
