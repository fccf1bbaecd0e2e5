package credentials

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/acolita/goexpect/internal/ports"
)

// ErrNoPassword is returned when no source produced a password.
var ErrNoPassword = errors.New("no password available")

// Store is the keyring surface the resolver uses.
type Store interface {
	Password(user, host string) (string, bool, error)
	StorePassword(user, host, password string) error
}

// Resolver looks an SSH password up in the environment, then the keyring,
// then asks the operator. Each source is optional.
type Resolver struct {
	// Env names an environment variable holding the password.
	Env string
	// Store is consulted when set. Prompted answers are saved to it.
	Store Store
	// Dialog prompts the operator when set.
	Dialog ports.Dialog
	// FS supplies the environment.
	FS ports.FileSystem
}

// Password resolves the password for user@host.
func (r *Resolver) Password(user, host string) (string, error) {
	if r.Env != "" && r.FS != nil {
		if v := r.FS.Getenv(r.Env); v != "" {
			slog.Debug("password from environment", slog.String("var", r.Env))
			return v, nil
		}
	}

	if r.Store != nil {
		v, ok, err := r.Store.Password(user, host)
		switch {
		case err != nil:
			slog.Debug("keyring lookup failed", slog.String("error", err.Error()))
		case ok:
			slog.Debug("password from keyring",
				slog.String("user", user),
				slog.String("host", host),
			)
			return v, nil
		}
	}

	if r.Dialog == nil {
		return "", ErrNoPassword
	}
	v, err := r.Dialog.Password(
		fmt.Sprintf("Password for %s@%s", user, host),
		"Used for SSH password and keyboard-interactive authentication.",
	)
	if err != nil {
		return "", fmt.Errorf("prompt password: %w", err)
	}
	if r.Store != nil && v != "" {
		if err := r.Store.StorePassword(user, host, v); err != nil {
			slog.Warn("could not save password to keyring", slog.String("error", err.Error()))
		}
	}
	return v, nil
}
