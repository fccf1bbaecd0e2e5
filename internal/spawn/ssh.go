package spawn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/goexpect/internal/adapters/realclock"
	"github.com/acolita/goexpect/internal/adapters/realsshdialer"
	"github.com/acolita/goexpect/internal/ports"
)

// SSHOptions configures a remote session.
type SSHOptions struct {
	Host string
	Port int // default 22
	User string
	Auth []ssh.AuthMethod
	// HostKeyCallback defaults to accepting any key.
	HostKeyCallback ssh.HostKeyCallback

	// Command runs instead of the login shell when set.
	Command string
	// PTY requests a remote terminal. Its output then arrives on stdout only.
	PTY  bool
	Term string // default: dumb
	Rows int    // default: 24
	Cols int    // default: 80

	DialTimeout       time.Duration
	KeepaliveInterval time.Duration // default 30s, negative disables

	Dialer ports.SSHDialer
	Clock  ports.Clock
}

// SSH is a command or shell running on a remote host.
type SSH struct {
	lifecycle

	opts   SSHOptions
	config *ssh.ClientConfig

	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	stderr  io.Reader

	started  atomic.Bool
	stopOnce sync.Once
	stopKA   chan struct{}
}

// NewSSH validates opts and prepares the session.
func NewSSH(opts SSHOptions) (*SSH, error) {
	if opts.Host == "" {
		return nil, errors.New("spawn: host is required")
	}
	if opts.User == "" {
		return nil, errors.New("spawn: user is required")
	}
	if len(opts.Auth) == 0 {
		return nil, ErrNoAuthMethods
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.KeepaliveInterval == 0 {
		opts.KeepaliveInterval = 30 * time.Second
	}
	if opts.HostKeyCallback == nil {
		opts.HostKeyCallback = ssh.InsecureIgnoreHostKey()
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
	if opts.Dialer == nil {
		opts.Dialer = realsshdialer.New()
	}
	if opts.Clock == nil {
		opts.Clock = realclock.New()
	}

	s := &SSH{
		opts: opts,
		config: &ssh.ClientConfig{
			User:            opts.User,
			Auth:            opts.Auth,
			HostKeyCallback: opts.HostKeyCallback,
			Timeout:         opts.DialTimeout,
		},
		stopKA: make(chan struct{}),
	}
	s.init()
	return s, nil
}

// Addr returns the remote address.
func (s *SSH) Addr() string {
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
}

// Start connects, opens a session and runs the command or shell.
func (s *SSH) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DialTimeout)
	defer cancel()
	client, err := s.opts.Dialer.Dial(ctx, s.Addr(), s.config)
	if err != nil {
		s.finish(-1)
		return fmt.Errorf("ssh dial %s: %w", s.Addr(), err)
	}

	if err := s.open(client); err != nil {
		client.Close()
		s.finish(-1)
		return err
	}

	s.client = client
	go s.wait()
	if s.opts.KeepaliveInterval > 0 {
		go s.keepalive(s.stopKA)
	}
	return nil
}

func (s *SSH) open(client *ssh.Client) error {
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if s.opts.PTY {
		modes := ssh.TerminalModes{
			ssh.ECHO:          0,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		if err := session.RequestPty(s.opts.Term, s.opts.Rows, s.opts.Cols, modes); err != nil {
			session.Close()
			return fmt.Errorf("request pty: %w", err)
		}
	}

	if s.opts.Command != "" {
		err = session.Start(s.opts.Command)
	} else {
		err = session.Shell()
	}
	if err != nil {
		session.Close()
		return fmt.Errorf("start remote command: %w", err)
	}

	s.session = session
	s.stdin = stdin
	s.stdout = stdout
	s.stderr = stderr
	return nil
}

func (s *SSH) wait() {
	s.finish(exitStatus(s.session.Wait()))
}

// exitStatus maps the result of ssh.Session.Wait to an exit code. A session
// torn down without a status reports -1.
func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus()
	}
	return -1
}

// keepalive sends periodic requests so idle connections are not dropped.
// A failed request is left for the next read on the session to surface.
func (s *SSH) keepalive(stop <-chan struct{}) {
	ticker := s.opts.Clock.NewTicker(s.opts.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-s.Done():
			return
		case <-ticker.C():
			if _, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				slog.Debug("ssh keepalive failed", slog.String("addr", s.Addr()), slog.String("error", err.Error()))
			}
		}
	}
}

// Resize reports a new window size to the remote terminal.
func (s *SSH) Resize(rows, cols uint16) error {
	if s.session == nil {
		return ErrNotStarted
	}
	if !s.opts.PTY {
		return errors.New("spawn: no remote terminal")
	}
	return s.session.WindowChange(int(rows), int(cols))
}

// Interrupt sends SIGINT to the remote command.
func (s *SSH) Interrupt() error {
	if s.session == nil {
		return ErrNotStarted
	}
	return s.session.Signal(ssh.SIGINT)
}

// Stdout returns the remote standard output.
func (s *SSH) Stdout() io.Reader { return s.stdout }

// Stderr returns the remote standard error.
func (s *SSH) Stderr() io.Reader { return s.stderr }

// Stdin returns the remote standard input.
func (s *SSH) Stdin() io.Writer { return s.stdin }

// Stop closes the session and the connection.
func (s *SSH) Stop() error {
	var errs []error
	s.stopOnce.Do(func() {
		close(s.stopKA)
		if s.session != nil {
			if err := s.session.Close(); err != nil && !errors.Is(err, io.EOF) {
				errs = append(errs, fmt.Errorf("close session: %w", err))
			}
		}
		if s.client != nil {
			if err := s.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, fmt.Errorf("close client: %w", err))
			}
			<-s.Done()
		}
		s.finish(-1)
	})
	return errors.Join(errs...)
}
