//go:build integration && darwin

package keychain

import "testing"

// Uses the real login Keychain:
//   go test -tags integration ./internal/keychain/
// The first run may prompt for Keychain access approval.

func TestKeychainPassphraseRoundTrip(t *testing.T) {
	s := &SystemStore{service: "com.hotmacro.test"}
	defer s.Delete(PassphraseKey)

	if err := SetPassphrase(s, "integration-passphrase"); err != nil {
		t.Fatalf("SetPassphrase: %v", err)
	}
	p, err := Passphrase(s)
	if err != nil {
		t.Fatalf("Passphrase: %v", err)
	}
	if string(p) != "integration-passphrase" {
		t.Errorf("expected 'integration-passphrase', got %q", p)
	}
}

func TestKeychainOverwrite(t *testing.T) {
	s := &SystemStore{service: "com.hotmacro.test"}
	defer s.Delete("test/overwrite")

	s.Set("test/overwrite", "first")
	s.Set("test/overwrite", "second")

	val, err := s.Get("test/overwrite")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "second" {
		t.Errorf("expected 'second', got %q", val)
	}
}
