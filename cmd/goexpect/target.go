package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
	"golang.org/x/crypto/ssh"

	"github.com/acolita/goexpect/internal/adapters/realdialog"
	"github.com/acolita/goexpect/internal/config"
	"github.com/acolita/goexpect/internal/console"
	"github.com/acolita/goexpect/internal/credentials"
	"github.com/acolita/goexpect/internal/ports"
	"github.com/acolita/goexpect/internal/session"
	"github.com/acolita/goexpect/internal/spawn"
)

// sshTarget is a parsed user@host[:port].
type sshTarget struct {
	user string
	host string
	port int
}

func parseSSHTarget(s string) (sshTarget, error) {
	t := sshTarget{port: 22}
	at := strings.LastIndex(s, "@")
	if at <= 0 {
		return t, fmt.Errorf("ssh target %q: want user@host[:port]", s)
	}
	t.user = s[:at]
	hostPort := s[at+1:]

	if host, port, err := net.SplitHostPort(hostPort); err == nil {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return t, fmt.Errorf("ssh target %q: invalid port %q", s, port)
		}
		t.host, t.port = host, n
	} else {
		t.host = strings.Trim(hostPort, "[]")
	}
	if t.host == "" {
		return t, fmt.Errorf("ssh target %q: missing host", s)
	}
	return t, nil
}

func parseHostPort(s string) (string, int, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, fmt.Errorf("tcp target %q: %w", s, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return "", 0, fmt.Errorf("tcp target %q: invalid port %q", s, port)
	}
	return host, n, nil
}

// targetName describes what the session runs, for logs and recordings.
func targetName(opts *cliOptions) string {
	switch {
	case opts.tcp != "":
		return "tcp " + opts.tcp
	case opts.ssh != "":
		return "ssh " + opts.ssh
	case len(opts.command) > 0:
		return shellquote.Join(opts.command...)
	default:
		return "shell"
	}
}

// buildFactory selects the subordinate variant for the parsed flags.
func buildFactory(opts *cliOptions, cfg *config.Config, fsys ports.FileSystem, term *console.Terminal) (session.Factory, error) {
	switch {
	case opts.tcp != "":
		host, port, err := parseHostPort(opts.tcp)
		if err != nil {
			return nil, err
		}
		return spawn.TCP(host, port, spawn.TelnetOptions{}), nil

	case opts.ssh != "":
		return sshFactory(opts, cfg, fsys, term)

	case opts.pty:
		popts := spawn.PTYOptions{}
		if len(opts.command) > 0 {
			popts.Path, popts.Args = opts.command[0], opts.command[1:]
		}
		if cols, rows, err := term.Size(); err == nil {
			popts.Cols, popts.Rows = uint16(cols), uint16(rows)
		}
		return spawn.PTYCommand(popts), nil

	case len(opts.command) == 1 && strings.ContainsAny(opts.command[0], " \t"):
		return spawn.CommandLine(opts.command[0]), nil

	default:
		return spawn.Command(opts.command[0], opts.command[1:]...), nil
	}
}

func sshFactory(opts *cliOptions, cfg *config.Config, fsys ports.FileSystem, term *console.Terminal) (session.Factory, error) {
	target, err := parseSSHTarget(opts.ssh)
	if err != nil {
		return nil, err
	}

	auth, err := sshAuth(target, cfg.SSH, fsys)
	if err != nil {
		return nil, err
	}
	hostKeys, err := spawn.BuildHostKeyCallback(cfg.SSH.KnownHosts, fsys)
	if err != nil {
		return nil, err
	}

	sopts := spawn.SSHOptions{
		Host:            target.host,
		Port:            target.port,
		User:            target.user,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		PTY:             opts.pty || len(opts.command) == 0,
	}
	if len(opts.command) > 0 {
		sopts.Command = shellquote.Join(opts.command...)
	}
	if cols, rows, err := term.Size(); err == nil {
		sopts.Cols, sopts.Rows = cols, rows
	}
	return spawn.Remote(sopts), nil
}

// sshAuth builds auth methods, asking for a password only when no key,
// agent, environment or keyring secret is available.
func sshAuth(target sshTarget, cfg config.SSHConfig, fsys ports.FileSystem) ([]ssh.AuthMethod, error) {
	ac := spawn.AuthConfig{
		KeyPath:  cfg.KeyPath,
		UseAgent: cfg.UseAgent,
		Host:     target.host,
		FS:       fsys,
	}
	if cfg.PassphraseEnv != "" {
		ac.KeyPassphrase = fsys.Getenv(cfg.PassphraseEnv)
	}

	resolver := &credentials.Resolver{Env: cfg.PasswordEnv, FS: fsys}
	if cfg.Keyring {
		resolver.Store = credentials.NewKeyring()
	}
	if pw, err := resolver.Password(target.user, target.host); err == nil {
		ac.Password = pw
	}

	methods, err := spawn.BuildAuthMethods(ac)
	if !errors.Is(err, spawn.ErrNoAuthMethods) {
		return methods, err
	}

	slog.Debug("no ssh credentials found, prompting", slog.String("host", target.host))
	resolver.Dialog = realdialog.New()
	pw, err := resolver.Password(target.user, target.host)
	if err != nil {
		return nil, err
	}
	ac.Password = pw
	return spawn.BuildAuthMethods(ac)
}
