//go:build !darwin

package keychain

// NewSystemStore returns a MemoryStore outside macOS. Nothing persists, so a
// "keychain" passphrase source always falls back to the built-in passphrase.
func NewSystemStore() Store {
	return NewMemoryStore()
}
