package keyring

import (
	"errors"
	"fmt"
	"sync"

	"github.com/99designs/keyring"
)

const (
	serviceName = "mclaw"

	// DatabaseURLKey holds a database URL that carries credentials.
	DatabaseURLKey = "database_url"
)

var (
	ring     keyring.Keyring
	ringOnce sync.Once
	ringErr  error
	ringMu   sync.Mutex
)

// initKeyring opens the OS keyring once with fallback backends
func initKeyring() (keyring.Keyring, error) {
	ringMu.Lock()
	defer ringMu.Unlock()

	ringOnce.Do(func() {
		if ring != nil {
			return
		}
		ring, ringErr = keyring.Open(keyring.Config{
			ServiceName: serviceName,
			AllowedBackends: []keyring.BackendType{
				keyring.KeychainBackend,      // macOS Keychain
				keyring.SecretServiceBackend, // Linux Secret Service (GNOME Keyring, KWallet)
				keyring.WinCredBackend,       // Windows Credential Manager
				keyring.PassBackend,          // Pass (password-store.org)
			},
		})
	})
	return ring, ringErr
}

// UseKeyring replaces the backend, e.g. with keyring.NewArrayKeyring in tests.
func UseKeyring(kr keyring.Keyring) {
	ringMu.Lock()
	defer ringMu.Unlock()

	ringOnce.Do(func() {})
	ring, ringErr = kr, nil
}

// SetSecret stores value under key
func SetSecret(key, value string) error {
	kr, err := initKeyring()
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}

	return kr.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "mclaw " + key,
	})
}

// GetSecret returns the value stored under key, or "" when nothing is stored
func GetSecret(key string) (string, error) {
	kr, err := initKeyring()
	if err != nil {
		return "", fmt.Errorf("failed to open keyring: %w", err)
	}

	item, err := kr.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to retrieve %s: %w", key, err)
	}
	return string(item.Data), nil
}

// DeleteSecret removes key. Removing a missing key is not an error.
func DeleteSecret(key string) error {
	kr, err := initKeyring()
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}

	err = kr.Remove(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return err
}
