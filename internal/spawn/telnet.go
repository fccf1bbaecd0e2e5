package spawn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultDialTimeout bounds connection setup for sockets and SSH.
const DefaultDialTimeout = 30 * time.Second

// TelnetOptions configures a socket session.
type TelnetOptions struct {
	DialTimeout time.Duration
}

// Telnet is a raw TCP session with a line-oriented server. No telnet
// option negotiation is performed. It is finished once the peer closes or
// Stop is called, and always exits with code 0.
type Telnet struct {
	lifecycle

	addr string
	opts TelnetOptions
	conn net.Conn

	started  atomic.Bool
	stopOnce sync.Once
}

// NewTelnet prepares a connection to host:port.
func NewTelnet(host string, port int, opts TelnetOptions) (*Telnet, error) {
	if host == "" {
		return nil, errors.New("spawn: host is required")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("spawn: invalid port %d", port)
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	t := &Telnet{addr: net.JoinHostPort(host, strconv.Itoa(port)), opts: opts}
	t.init()
	return t, nil
}

// Addr returns the remote address.
func (t *Telnet) Addr() string { return t.addr }

// Start connects to the remote host.
func (t *Telnet) Start() error {
	if !t.started.CompareAndSwap(false, true) {
		return nil
	}
	conn, err := net.DialTimeout("tcp", t.addr, t.opts.DialTimeout)
	if err != nil {
		t.finish(0)
		return fmt.Errorf("dial %s: %w", t.addr, err)
	}
	t.conn = conn
	return nil
}

// Stdout returns the socket's input direction. Reading end of stream
// marks the session finished.
func (t *Telnet) Stdout() io.Reader {
	if t.conn == nil {
		return nil
	}
	return eofWatcher{r: t.conn, onEOF: func() { t.finish(0) }}
}

// Stderr returns nil; a socket has a single inbound stream.
func (t *Telnet) Stderr() io.Reader { return nil }

// Stdin returns the socket's output direction.
func (t *Telnet) Stdin() io.Writer { return t.conn }

// Stop closes the connection.
func (t *Telnet) Stop() error {
	var err error
	t.stopOnce.Do(func() {
		if t.conn != nil {
			if cerr := t.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = fmt.Errorf("close connection: %w", cerr)
			}
		}
		t.finish(0)
	})
	return err
}

type eofWatcher struct {
	r     io.Reader
	onEOF func()
}

func (w eofWatcher) Read(p []byte) (int, error) {
	n, err := w.r.Read(p)
	if errors.Is(err, io.EOF) {
		w.onEOF()
	}
	return n, err
}
