// Package credentials resolves SSH secrets for goexpect.
package credentials

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name used for keyring entries.
const KeyringService = "goexpect"

// Keyring stores secrets in the OS keyring (macOS Keychain, Linux Secret
// Service, Windows Credential Manager). Values are base64 encoded.
type Keyring struct {
	service string
}

// NewKeyring returns a store under KeyringService.
func NewKeyring() *Keyring {
	return &Keyring{service: KeyringService}
}

func passwordKey(user, host string) string {
	return fmt.Sprintf("server:%s@%s", user, host)
}

func passphraseKey(keyPath string) string {
	return fmt.Sprintf("ssh-passphrase:%s", keyPath)
}

// Password returns the stored SSH password for user@host. ok is false when
// no entry exists.
func (k *Keyring) Password(user, host string) (string, bool, error) {
	return k.get(passwordKey(user, host))
}

// StorePassword saves the SSH password for user@host.
func (k *Keyring) StorePassword(user, host, password string) error {
	if err := k.set(passwordKey(user, host), password); err != nil {
		return fmt.Errorf("store password: %w", err)
	}
	slog.Debug("stored server password in keyring",
		slog.String("user", user),
		slog.String("host", host),
	)
	return nil
}

// DeletePassword removes the entry for user@host. A missing entry is not an
// error.
func (k *Keyring) DeletePassword(user, host string) error {
	return k.delete(passwordKey(user, host))
}

// Passphrase returns the stored passphrase for a private key file.
func (k *Keyring) Passphrase(keyPath string) (string, bool, error) {
	return k.get(passphraseKey(keyPath))
}

// StorePassphrase saves the passphrase for a private key file.
func (k *Keyring) StorePassphrase(keyPath, passphrase string) error {
	if err := k.set(passphraseKey(keyPath), passphrase); err != nil {
		return fmt.Errorf("store passphrase: %w", err)
	}
	return nil
}

func (k *Keyring) get(key string) (string, bool, error) {
	encoded, err := keyring.Get(k.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("keyring get: %w", err)
	}
	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", false, fmt.Errorf("keyring decode: %w", err)
	}
	return string(value), true, nil
}

func (k *Keyring) set(key, value string) error {
	return keyring.Set(k.service, key, base64.StdEncoding.EncodeToString([]byte(value)))
}

func (k *Keyring) delete(key string) error {
	if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}
