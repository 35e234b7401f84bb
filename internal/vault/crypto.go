package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltLength is the size of the persisted KDF salt.
	SaltLength = 16
	// KeyLength is the size of the derived store key.
	KeyLength = chacha20poly1305.KeySize
	// Iterations is the PBKDF2 work factor.
	Iterations = 100_000
)

// magic prefixes every store blob and is bound as associated data.
var magic = []byte("HMV1")

var errCiphertext = errors.New("vault: ciphertext rejected")

func deriveKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, Iterations, KeyLength, sha256.New)
}

// loadOrCreateSalt reads the salt file, creating it with fresh random bytes
// if it does not exist yet.
func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != SaltLength {
			return nil, fmt.Errorf("%w: %s has %d bytes", ErrBadSalt, path, len(salt))
		}
		return salt, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading salt: %w", err)
	}

	salt = make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return nil, fmt.Errorf("creating vault dir: %w", err)
	}
	// O_EXCL: never clobber a salt another process just created.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fileMode)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return loadOrCreateSalt(path)
		}
		return nil, fmt.Errorf("creating salt: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(salt); err != nil {
		return nil, fmt.Errorf("writing salt: %w", err)
	}
	return salt, nil
}

func seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	out := make([]byte, 0, len(magic)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, magic...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, magic), nil
}

func open(key, blob []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errCiphertext
	}
	head := len(magic) + aead.NonceSize()
	if len(blob) < head+aead.Overhead() {
		return nil, errCiphertext
	}
	if string(blob[:len(magic)]) != string(magic) {
		return nil, errCiphertext
	}
	nonce := blob[len(magic):head]
	plain, err := aead.Open(nil, nonce, blob[head:], magic)
	if err != nil {
		return nil, errCiphertext
	}
	return plain, nil
}
