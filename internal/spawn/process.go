package spawn

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
)

// ProcessOptions describes a local process.
type ProcessOptions struct {
	Path string
	Args []string
	// Dir is the working directory; empty means the caller's.
	Dir string
	// Env is appended to the caller's environment.
	Env []string
}

// Process is a local program attached through pipes.
type Process struct {
	lifecycle

	opts ProcessOptions
	cmd  *exec.Cmd

	stdin  io.WriteCloser
	stdout *os.File
	stderr *os.File

	started  atomic.Bool
	stopOnce sync.Once
}

// NewProcess prepares a process. Nothing runs until Start.
func NewProcess(opts ProcessOptions) (*Process, error) {
	if opts.Path == "" {
		return nil, ErrEmptyCommand
	}
	p := &Process{opts: opts}
	p.init()
	return p, nil
}

// Start launches the process.
func (p *Process) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return nil
	}

	cmd := exec.Command(p.opts.Path, p.opts.Args...)
	cmd.Dir = p.opts.Dir
	if len(p.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), p.opts.Env...)
	}

	// Output pipes are created here rather than by exec so that Wait does
	// not close them before the relays have drained them.
	outR, outW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	stdin, err := cmd.StdinPipe()
	if err != nil {
		closeAll(outR, outW, errR, errW)
		return fmt.Errorf("stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		closeAll(outR, outW, errR, errW)
		p.finish(-1)
		return fmt.Errorf("start %s: %w", p.opts.Path, err)
	}
	outW.Close()
	errW.Close()

	p.cmd = cmd
	p.stdin = stdin
	p.stdout = outR
	p.stderr = errR

	go p.wait()
	return nil
}

func (p *Process) wait() {
	// A non-zero status is reported through ExitCode, not as an error.
	_ = p.cmd.Wait()
	p.finish(p.cmd.ProcessState.ExitCode())
}

// Stdout returns the process's standard output.
func (p *Process) Stdout() io.Reader {
	if p.stdout == nil {
		return nil
	}
	return p.stdout
}

// Stderr returns the process's standard error.
func (p *Process) Stderr() io.Reader {
	if p.stderr == nil {
		return nil
	}
	return p.stderr
}

// Stdin returns the process's standard input.
func (p *Process) Stdin() io.Writer { return p.stdin }

// Interrupt sends os.Interrupt to the process.
func (p *Process) Interrupt() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return ErrNotStarted
	}
	return p.cmd.Process.Signal(os.Interrupt)
}

// Pid returns the process id, or 0 before Start.
func (p *Process) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Stop kills the process if it is still running and releases its pipes.
func (p *Process) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		if p.cmd == nil {
			p.finish(-1)
			return
		}
		if !p.IsFinished() {
			if kerr := p.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
				err = fmt.Errorf("kill process: %w", kerr)
			}
		}
		<-p.Done()
		p.stdin.Close()
		p.stdout.Close()
		p.stderr.Close()
	})
	return err
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		f.Close()
	}
}
