package spawn

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/creack/pty"
)

// PTYOptions configures a process attached to a pseudo-terminal.
type PTYOptions struct {
	Path string // Program to run (defaults to the user's shell)
	Args []string
	Term string // Terminal type (default: dumb)
	Rows uint16 // Terminal rows (default: 24)
	Cols uint16 // Terminal columns (default: 80)
	Dir  string
	Env  []string
}

// PTY is a process whose stdin, stdout and stderr are one terminal. It has
// no separate error stream.
type PTY struct {
	lifecycle

	opts PTYOptions
	cmd  *exec.Cmd
	tty  *os.File

	started  atomic.Bool
	stopOnce sync.Once
}

// NewPTY prepares a PTY process. Dumb terminal settings keep escape
// sequences out of the output.
func NewPTY(opts PTYOptions) (*PTY, error) {
	if opts.Path == "" {
		opts.Path = detectShell()
	}
	if opts.Term == "" {
		opts.Term = "dumb"
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if opts.Cols == 0 {
		opts.Cols = 80
	}
	p := &PTY{opts: opts}
	p.init()
	return p, nil
}

// Start launches the process on a new pseudo-terminal.
func (p *PTY) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return nil
	}

	cmd := exec.Command(p.opts.Path, p.opts.Args...)
	cmd.Dir = p.opts.Dir
	cmd.Env = append(os.Environ(), "TERM="+p.opts.Term, "NO_COLOR=1")
	cmd.Env = append(cmd.Env, p.opts.Env...)

	tty, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: p.opts.Rows, Cols: p.opts.Cols})
	if err != nil {
		p.finish(-1)
		return fmt.Errorf("start pty: %w", err)
	}
	p.cmd = cmd
	p.tty = tty

	go func() {
		_ = cmd.Wait()
		p.finish(cmd.ProcessState.ExitCode())
	}()
	return nil
}

// Stdout returns the terminal's output.
func (p *PTY) Stdout() io.Reader {
	if p.tty == nil {
		return nil
	}
	return eioReader{p.tty}
}

// Stderr returns nil; the terminal merges both streams.
func (p *PTY) Stderr() io.Reader { return nil }

// Stdin returns the terminal's input.
func (p *PTY) Stdin() io.Writer { return p.tty }

// Resize changes the terminal window size.
func (p *PTY) Resize(rows, cols uint16) error {
	if p.tty == nil {
		return ErrNotStarted
	}
	return pty.Setsize(p.tty, &pty.Winsize{Rows: rows, Cols: cols})
}

// Interrupt sends SIGINT to the process.
func (p *PTY) Interrupt() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return ErrNotStarted
	}
	return p.cmd.Process.Signal(syscall.SIGINT)
}

// Stop kills the process and closes the terminal.
func (p *PTY) Stop() error {
	var errs []error
	p.stopOnce.Do(func() {
		if p.cmd == nil {
			p.finish(-1)
			return
		}
		if !p.IsFinished() {
			if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				errs = append(errs, fmt.Errorf("kill process: %w", err))
			}
		}
		<-p.Done()
		if err := p.tty.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pty: %w", err))
		}
	})
	return errors.Join(errs...)
}

// eioReader reports the EIO a Linux pty returns once the child side is
// gone as end of stream.
type eioReader struct{ f *os.File }

func (r eioReader) Read(b []byte) (int, error) {
	n, err := r.f.Read(b)
	if err != nil && errors.Is(err, syscall.EIO) {
		return n, io.EOF
	}
	return n, err
}

// detectShell detects the user's default shell.
func detectShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	for _, shell := range []string{"/bin/bash", "/bin/zsh", "/bin/sh"} {
		if _, err := os.Stat(shell); err == nil {
			return shell
		}
	}
	return "/bin/sh"
}
