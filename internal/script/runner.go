package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/acolita/goexpect/internal/adapters/realclock"
	"github.com/acolita/goexpect/internal/config"
	"github.com/acolita/goexpect/internal/ports"
	"github.com/acolita/goexpect/internal/session"
)

// Session is the part of *session.Session a script drives.
type Session interface {
	Send(text string) error
	DefaultTimeout() time.Duration
	ExpectTimeout(pattern string, timeout time.Duration) error
	ExpectErrTimeout(pattern string, timeout time.Duration) error
	ExpectCloseTimeout(timeout time.Duration) error
	Interact() error
	Interrupt() error
}

var _ Session = (*session.Session)(nil)

// StepResult records the outcome of one step.
type StepResult struct {
	Index    int
	Step     Step
	Err      error
	Skipped  bool
	Duration time.Duration
}

// Result collects the outcome of a run, one entry per executed step.
type Result struct {
	Script *Script
	Steps  []StepResult
}

// Failed returns the failing step, or nil.
func (r *Result) Failed() *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Err != nil && !r.Steps[i].Skipped {
			return &r.Steps[i]
		}
	}
	return nil
}

// StepError is returned by Run when a required step fails.
type StepError struct {
	Script string
	Index  int
	Step   string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("script %s: step %d (%s): %v", e.Script, e.Index+1, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Runner executes scripts.
type Runner struct {
	clock ports.Clock
	log   *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClock sets the clock used to time steps.
func WithClock(c ports.Clock) RunnerOption {
	return func(r *Runner) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.log = l }
}

// NewRunner creates a Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{clock: realclock.New(), log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the steps of s in order. It stops at the first required
// step that fails, and checks ctx between steps.
func (r *Runner) Run(ctx context.Context, s *Script, sess Session) (*Result, error) {
	res := &Result{Script: s}
	for i, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		start := r.clock.Now()
		err := r.runStep(s, step, sess)
		sr := StepResult{
			Index:    i,
			Step:     step,
			Err:      err,
			Duration: r.clock.Now().Sub(start),
		}

		if err != nil && step.Optional && errors.Is(err, session.ErrTimeout) {
			sr.Skipped = true
			r.log.Debug("optional step skipped",
				slog.String("script", s.Name),
				slog.String("step", step.Name),
			)
		}
		res.Steps = append(res.Steps, sr)

		if err != nil && !sr.Skipped {
			r.log.Debug("script step failed",
				slog.String("script", s.Name),
				slog.String("step", step.Name),
				slog.String("error", err.Error()),
			)
			return res, &StepError{Script: s.Name, Index: i, Step: step.Name, Err: err}
		}
	}

	r.log.Debug("script completed",
		slog.String("script", s.Name),
		slog.Int("steps", len(res.Steps)),
	)
	return res, nil
}

func (r *Runner) runStep(s *Script, step Step, sess Session) error {
	timeout := r.timeout(s, step, sess)
	switch step.Kind {
	case KindExpect:
		return sess.ExpectTimeout(step.Arg, timeout)
	case KindExpectErr:
		return sess.ExpectErrTimeout(step.Arg, timeout)
	case KindSend:
		return sess.Send(step.Arg)
	case KindSendLine:
		return sess.Send(step.Arg + "\n")
	case KindExpectClose:
		return sess.ExpectCloseTimeout(timeout)
	case KindInteract:
		return sess.Interact()
	case KindInterrupt:
		return sess.Interrupt()
	default:
		return fmt.Errorf("unknown step kind %v", step.Kind)
	}
}

// timeout resolves step, then script, then session defaults.
func (r *Runner) timeout(s *Script, step Step, sess Session) time.Duration {
	switch {
	case step.Timeout != 0:
		return tdur(step.Timeout)
	case s.DefaultTimeout != 0:
		return tdur(s.DefaultTimeout)
	default:
		return sess.DefaultTimeout()
	}
}

func tdur(t config.Timeout) time.Duration {
	if t == config.Forever {
		return session.Forever
	}
	return t.Duration()
}
