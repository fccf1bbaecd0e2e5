// Package config handles configuration parsing for goexpect.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/acolita/goexpect/internal/ports"
)

// Forever is the Timeout value that disables a deadline.
const Forever Timeout = -1

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/goexpect/config.yaml or ~/.config/goexpect/config.yaml
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "goexpect", "config.yaml")
}

// Config represents the top-level configuration.
type Config struct {
	DefaultTimeout Timeout         `yaml:"default_timeout"`
	PollInterval   time.Duration   `yaml:"poll_interval"`
	Echo           bool            `yaml:"echo"`
	Logging        LoggingConfig   `yaml:"logging"`
	Recording      RecordingConfig `yaml:"recording"`
	SSH            SSHConfig       `yaml:"ssh"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Sanitize bool   `yaml:"sanitize"` // sanitize sensitive data from logs
}

// RecordingConfig defines session recording settings.
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"` // enable session recording
	Path    string `yaml:"path"`    // directory to store recordings
}

// SSHConfig defines defaults for SSH subordinates.
type SSHConfig struct {
	KnownHosts    string `yaml:"known_hosts"`
	UseAgent      bool   `yaml:"use_agent"`
	KeyPath       string `yaml:"key_path"`
	PassphraseEnv string `yaml:"passphrase_env"` // env var containing key passphrase
	PasswordEnv   string `yaml:"password_env"`   // env var containing SSH password
	Keyring       bool   `yaml:"keyring"`        // look passwords up in the OS keyring
}

// Timeout is a duration that also accepts "forever". Bare integers are
// seconds.
type Timeout time.Duration

// Duration returns t as a time.Duration; Forever maps to -1.
func (t Timeout) Duration() time.Duration { return time.Duration(t) }

func (t Timeout) String() string {
	if t == Forever {
		return "forever"
	}
	return time.Duration(t).String()
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *Timeout) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: timeout must be a scalar", value.Line)
	}
	parsed, err := ParseTimeout(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*t = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (t Timeout) MarshalYAML() (any, error) {
	return t.String(), nil
}

// ParseTimeout parses "forever", a Go duration, or a whole number of seconds.
func ParseTimeout(s string) (Timeout, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "forever", "infinite", "never":
		return Forever, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return Timeout(time.Duration(n) * time.Second), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", s)
	}
	return Timeout(d), nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DefaultTimeout: Timeout(30 * time.Second),
		PollInterval:   500 * time.Millisecond,
		Echo:           true,
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
		Recording: RecordingConfig{
			Path: "~/.local/share/goexpect/recordings",
		},
		SSH: SSHConfig{
			KnownHosts: "~/.ssh/known_hosts",
			UseAgent:   true,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. An optional FileSystem can be passed for testing; if omitted,
// the real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	var data []byte
	var err error
	if len(fsys) > 0 && fsys[0] != nil {
		data, err = fsys[0].ReadFile(path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DefaultTimeout != Forever && c.DefaultTimeout <= 0 {
		return fmt.Errorf("default_timeout must be positive or forever, got %s", c.DefaultTimeout)
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("poll_interval must not be negative, got %s", c.PollInterval)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}
	if c.Recording.Enabled && c.Recording.Path == "" {
		return errors.New("recording.path is required when recording is enabled")
	}
	return nil
}

// ExpandHome replaces a leading ~/ with the user's home directory.
func ExpandHome(path string, fsys ports.FileSystem) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	var home string
	var err error
	if fsys != nil {
		home, err = fsys.UserHomeDir()
	} else {
		home, err = os.UserHomeDir()
	}
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
