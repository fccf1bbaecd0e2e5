// Package realsshdialer provides a real implementation of the SSHDialer port.
package realsshdialer

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/crypto/ssh"
)

// Dialer implements ports.SSHDialer over a plain TCP connection.
type Dialer struct{}

// New creates a new Dialer.
func New() *Dialer {
	return &Dialer{}
}

// Dial connects to addr and runs the SSH client handshake on the connection.
// The handshake is bounded by config.Timeout as well as ctx.
func (d *Dialer) Dial(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	nd := net.Dialer{Timeout: config.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake %s: %w", addr, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}
