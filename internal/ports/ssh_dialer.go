package ports

import (
	"context"

	"golang.org/x/crypto/ssh"
)

// SSHDialer abstracts SSH connection establishment for testing.
type SSHDialer interface {
	// Dial connects to addr over TCP and performs the SSH handshake.
	Dial(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}
