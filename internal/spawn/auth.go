package spawn

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/acolita/goexpect/internal/adapters/realfs"
	"github.com/acolita/goexpect/internal/ports"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	KeyPath       string // Path to private key file
	KeyPassphrase string // Passphrase for encrypted keys
	UseAgent      bool   // Use SSH agent for authentication
	Password      string // Password for password authentication
	Host          string // Target host for ~/.ssh/config lookup

	// FS defaults to the real filesystem.
	FS ports.FileSystem
}

// ErrNoAuthMethods is returned when nothing can authenticate the user.
var ErrNoAuthMethods = errors.New("spawn: no authentication methods available")

// BuildAuthMethods constructs SSH auth methods from config, in the order
// agent, explicit key, ~/.ssh/config key, default keys, password.
func BuildAuthMethods(cfg AuthConfig) ([]ssh.AuthMethod, error) {
	fsys := cfg.FS
	if fsys == nil {
		fsys = realfs.New()
	}

	var methods []ssh.AuthMethod

	if cfg.UseAgent {
		if agentAuth, err := sshAgentAuth(fsys); err == nil {
			methods = append(methods, agentAuth)
		} else {
			slog.Debug("ssh agent unavailable", slog.String("error", err.Error()))
		}
	}

	if cfg.KeyPath != "" {
		keyAuth, err := privateKeyAuth(cfg.KeyPath, cfg.KeyPassphrase, fsys)
		if err != nil {
			return nil, fmt.Errorf("private key auth: %w", err)
		}
		methods = append(methods, keyAuth)
	}

	if cfg.KeyPath == "" && cfg.Host != "" {
		if configKey := sshConfigIdentityFile(cfg.Host, fsys); configKey != "" {
			if keyAuth, err := privateKeyAuth(configKey, cfg.KeyPassphrase, fsys); err == nil {
				methods = append(methods, keyAuth)
			}
		}
	}

	if cfg.KeyPath == "" && cfg.Password == "" && len(methods) == 0 {
		for _, keyPath := range []string{"~/.ssh/id_ed25519", "~/.ssh/id_rsa", "~/.ssh/id_ecdsa"} {
			if keyAuth, err := privateKeyAuth(keyPath, cfg.KeyPassphrase, fsys); err == nil {
				methods = append(methods, keyAuth)
				break
			}
		}
	}

	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password), keyboardInteractiveAuth(cfg.Password))
	}

	if len(methods) == 0 {
		return nil, ErrNoAuthMethods
	}
	return methods, nil
}

func sshAgentAuth(fsys ports.FileSystem) (ssh.AuthMethod, error) {
	socket := fsys.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, errors.New("SSH_AUTH_SOCK not set")
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("dial agent: %w", err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

func privateKeyAuth(keyPath, passphrase string, fsys ports.FileSystem) (ssh.AuthMethod, error) {
	keyData, err := fsys.ReadFile(expandPath(keyPath, fsys))
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

func keyboardInteractiveAuth(password string) ssh.AuthMethod {
	return ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	})
}

// BuildHostKeyCallback verifies host keys against a known_hosts file. A
// missing file accepts any key with a warning.
func BuildHostKeyCallback(knownHostsPath string, fsys ports.FileSystem) (ssh.HostKeyCallback, error) {
	if fsys == nil {
		fsys = realfs.New()
	}
	if knownHostsPath == "" {
		knownHostsPath = "~/.ssh/known_hosts"
	}
	expanded := expandPath(knownHostsPath, fsys)

	if _, err := fsys.ReadFile(expanded); errors.Is(err, fs.ErrNotExist) {
		slog.Warn("known_hosts not found, host keys are not verified", slog.String("path", expanded))
		return ssh.InsecureIgnoreHostKey(), nil
	}

	callback, err := knownhosts.New(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

func expandPath(path string, fsys ports.FileSystem) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := fsys.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// sshConfigIdentityFile returns the IdentityFile of the first Host block
// in ~/.ssh/config that matches host.
func sshConfigIdentityFile(host string, fsys ports.FileSystem) string {
	data, err := fsys.ReadFile(expandPath("~/.ssh/config", fsys))
	if err != nil {
		return ""
	}

	var matchesHost bool
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}

		value := strings.Join(parts[1:], " ")
		switch strings.ToLower(parts[0]) {
		case "host":
			matchesHost = matchHostPattern(host, value)
		case "identityfile":
			if matchesHost {
				return expandPath(value, fsys)
			}
		}
	}
	return ""
}

// matchHostPattern checks host against space-separated ssh_config patterns
// where * matches any run and ? a single character.
func matchHostPattern(host, patterns string) bool {
	for _, p := range strings.Fields(patterns) {
		if ok, _ := filepath.Match(p, host); ok {
			return true
		}
	}
	return false
}
