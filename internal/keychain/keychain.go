// Package keychain holds the operator-supplied vault passphrase.
//
// On macOS the passphrase is a generic password in the login Keychain:
//   - Service: "com.hotmacro"
//   - Account: "vault/passphrase"
//
// scoped with kSecAttrAccessibleWhenUnlockedThisDeviceOnly. Other platforms
// get an in-memory store, so the vault falls back to its built-in passphrase.
package keychain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an item does not exist in the store.
var ErrNotFound = errors.New("keychain item not found")

// PassphraseKey is the account under which the vault passphrase is stored.
const PassphraseKey = "vault/passphrase"

// Store is the interface for keychain item operations.
type Store interface {
	Set(key, value string) error
	Get(key string) (string, error)
	Delete(key string) error
}

// Passphrase returns the vault passphrase from s.
// It returns ErrNotFound (wrapped) when none has been stored.
func Passphrase(s Store) ([]byte, error) {
	val, err := s.Get(PassphraseKey)
	if err != nil {
		return nil, err
	}
	if val == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, PassphraseKey)
	}
	return []byte(val), nil
}

// SetPassphrase stores the vault passphrase in s.
func SetPassphrase(s Store, passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase must not be empty")
	}
	return s.Set(PassphraseKey, passphrase)
}
