package security

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name for entries in the OS keyring
// (macOS Keychain, Linux Secret Service, Windows Credential Manager).
const KeyringService = "mariner"

// KeyringStore persists credentials in the OS keyring. When no keyring is
// available the store disables itself and every operation reports that.
type KeyringStore struct {
	mu      sync.RWMutex
	enabled bool
}

// NewKeyringStore probes the OS keyring and returns a store, disabled if the
// probe fails.
func NewKeyringStore() *KeyringStore {
	const probe = "__mariner_probe__"
	if err := keyring.Set(KeyringService, probe, "probe"); err != nil {
		slog.Debug("keyring not available, credentials stay in memory only", "error", err)
		return &KeyringStore{}
	}
	_ = keyring.Delete(KeyringService, probe)
	return &KeyringStore{enabled: true}
}

// IsEnabled reports whether the OS keyring is usable.
func (ks *KeyringStore) IsEnabled() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.enabled
}

// SetEnabled overrides keyring usage, e.g. from configuration.
func (ks *KeyringStore) SetEnabled(enabled bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.enabled = enabled
}

// StoreServerPassword saves the login password for user@host.
func (ks *KeyringStore) StoreServerPassword(host, user string, password []byte) error {
	return ks.set(serverKey(host, user), password)
}

// GetServerPassword returns the stored password for user@host, or nil when
// none is stored.
func (ks *KeyringStore) GetServerPassword(host, user string) ([]byte, error) {
	return ks.get(serverKey(host, user))
}

// DeleteServerPassword removes the stored password for user@host.
func (ks *KeyringStore) DeleteServerPassword(host, user string) error {
	return ks.delete(serverKey(host, user))
}

// StoreKeyPassphrase saves the passphrase for a private key file.
func (ks *KeyringStore) StoreKeyPassphrase(keyPath string, passphrase []byte) error {
	return ks.set(passphraseKey(keyPath), passphrase)
}

// GetKeyPassphrase returns the stored passphrase for a private key file, or
// nil when none is stored.
func (ks *KeyringStore) GetKeyPassphrase(keyPath string) ([]byte, error) {
	return ks.get(passphraseKey(keyPath))
}

// DeleteKeyPassphrase removes the stored passphrase for a private key file.
func (ks *KeyringStore) DeleteKeyPassphrase(keyPath string) error {
	return ks.delete(passphraseKey(keyPath))
}

func serverKey(host, user string) string {
	return fmt.Sprintf("server:%s@%s", user, host)
}

func passphraseKey(keyPath string) string {
	return fmt.Sprintf("passphrase:%s", keyPath)
}

func (ks *KeyringStore) set(key string, secret []byte) error {
	if !ks.IsEnabled() {
		return fmt.Errorf("keyring not available")
	}
	// Base64 keeps arbitrary bytes intact through backends that only take
	// strings.
	encoded := base64.StdEncoding.EncodeToString(secret)
	if err := keyring.Set(KeyringService, key, encoded); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}
	return nil
}

func (ks *KeyringStore) get(key string) ([]byte, error) {
	if !ks.IsEnabled() {
		return nil, fmt.Errorf("keyring not available")
	}
	encoded, err := keyring.Get(KeyringService, key)
	if err != nil {
		if err == keyring.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("keyring get: %w", err)
	}
	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("keyring decode: %w", err)
	}
	return secret, nil
}

func (ks *KeyringStore) delete(key string) error {
	if !ks.IsEnabled() {
		return fmt.Errorf("keyring not available")
	}
	if err := keyring.Delete(KeyringService, key); err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}
