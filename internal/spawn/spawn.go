// Package spawn provides the concrete subordinates a session can drive:
// local processes, PTY-backed processes, TCP sockets and SSH sessions.
package spawn

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/acolita/goexpect/internal/ports"
)

var (
	// ErrEmptyCommand is returned when no program is given.
	ErrEmptyCommand = errors.New("spawn: empty command")
	// ErrNotStarted is returned by operations that need a started subordinate.
	ErrNotStarted = errors.New("spawn: not started")
)

// Factory creates a subordinate. It is assignable to session.Factory.
type Factory = func() (ports.Subordinate, error)

// Command returns a factory for a local process.
func Command(path string, args ...string) Factory {
	return func() (ports.Subordinate, error) {
		return subordinate[*Process](NewProcess(ProcessOptions{Path: path, Args: args}))
	}
}

// CommandLine returns a factory for a shell-style command line.
func CommandLine(line string) Factory {
	return func() (ports.Subordinate, error) {
		return subordinate[*Process](NewCommandLine(line))
	}
}

// PTYCommand returns a factory for a process on a pseudo-terminal.
func PTYCommand(opts PTYOptions) Factory {
	return func() (ports.Subordinate, error) {
		return subordinate[*PTY](NewPTY(opts))
	}
}

// TCP returns a factory for a raw socket session.
func TCP(host string, port int, opts TelnetOptions) Factory {
	return func() (ports.Subordinate, error) {
		return subordinate[*Telnet](NewTelnet(host, port, opts))
	}
}

// Remote returns a factory for an SSH session.
func Remote(opts SSHOptions) Factory {
	return func() (ports.Subordinate, error) {
		return subordinate[*SSH](NewSSH(opts))
	}
}

// subordinate keeps a failed constructor from yielding a non-nil interface
// holding a nil pointer.
func subordinate[T ports.Subordinate](s T, err error) (ports.Subordinate, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// lifecycle tracks exit for the subordinates in this package.
type lifecycle struct {
	finished atomic.Bool
	once     sync.Once
	done     chan struct{}

	mu   sync.Mutex
	code int
}

func (l *lifecycle) init() {
	l.done = make(chan struct{})
}

func (l *lifecycle) finish(code int) {
	l.once.Do(func() {
		l.mu.Lock()
		l.code = code
		l.mu.Unlock()
		l.finished.Store(true)
		close(l.done)
	})
}

// IsFinished reports whether the subordinate has exited.
func (l *lifecycle) IsFinished() bool { return l.finished.Load() }

// Done is closed once the subordinate has exited.
func (l *lifecycle) Done() <-chan struct{} { return l.done }

// ExitCode returns the exit code once finished.
func (l *lifecycle) ExitCode() (int, error) {
	if !l.finished.Load() {
		return 0, ports.ErrNotFinished
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.code, nil
}
