package sshtest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"golang.org/x/crypto/ssh"
)

func dial(t *testing.T, s *Server, user, password string) (*ssh.Client, error) {
	t.Helper()
	return ssh.Dial("tcp", s.Addr(), &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
}

func TestServer_ExecWithExitStatus(t *testing.T) {
	s, err := New(WithHandler(func(command string, stdin io.Reader, stdout, stderr io.Writer) int {
		fmt.Fprintf(stdout, "ran %s", command)
		fmt.Fprint(stderr, "oops")
		return 7
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	client, err := dial(t, s, "test", "test")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = session.Run("build")
	var exitErr *ssh.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitStatus() != 7 {
		t.Fatalf("Run = %v, want exit status 7", err)
	}
	if stdout.String() != "ran build" {
		t.Errorf("stdout = %q", stdout.String())
	}
	if stderr.String() != "oops" {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestServer_RejectsBadPassword(t *testing.T) {
	s, err := New(WithUser("alice", "secret"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if _, err := dial(t, s, "alice", "wrong"); err == nil {
		t.Fatal("expected authentication failure")
	}
	client, err := dial(t, s, "alice", "secret")
	if err != nil {
		t.Fatalf("dial with correct password: %v", err)
	}
	client.Close()
}

func TestServer_EchoShell(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	client, err := dial(t, s, "test", "test")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	session.Stdin = bytes.NewBufferString("ping")
	var out bytes.Buffer
	session.Stdout = &out
	if err := session.Shell(); err != nil {
		t.Fatalf("Shell: %v", err)
	}
	if err := session.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.String() != "ping" {
		t.Errorf("echo = %q", out.String())
	}
	if s.Port() == 0 || s.Host() == "" {
		t.Errorf("bad address %q", s.Addr())
	}
}
