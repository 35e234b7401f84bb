// Package vault stores site credentials encrypted at rest.
//
// The store is a single file sealed with XChaCha20-Poly1305 under a key
// derived with PBKDF2-HMAC-SHA256 from a passphrase and a per-install salt:
//   - credentials.enc: "HMV1" | nonce | ciphertext (JSON site → entry map)
//   - salt.bin:        16 random bytes, created once
//
// Any failure to read, decrypt or parse the store yields an empty mapping.
// The cause is never surfaced to the operator, so a wrong key and a
// corrupted file look identical from the outside.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/benaskins/hotmacro/internal/audit"
)

const (
	// StoreFileName is the encrypted credential store inside the data dir.
	StoreFileName = "credentials.enc"
	// SaltFileName holds the KDF salt inside the data dir.
	SaltFileName = "salt.bin"

	fileMode = 0600
	dirMode  = 0700
)

// DefaultPassphrase is used when no operator-supplied passphrase is configured.
// It only keeps the store from being grep-able on disk.
const DefaultPassphrase = "hotmacro/credential-store/v1"

// ErrBadSalt is returned when the salt file exists but has the wrong length.
// The salt is never regenerated in that case: a new salt would orphan the store.
var ErrBadSalt = errors.New("vault: salt file is malformed")

// Entry is a stored login for one site.
type Entry struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoadStatus reports which branch Load took.
type LoadStatus int

const (
	// LoadOK means the store was decrypted and parsed.
	LoadOK LoadStatus = iota
	// LoadAbsent means there was no store file yet.
	LoadAbsent
	// LoadFellBack means the store existed but could not be used.
	LoadFellBack
)

func (s LoadStatus) String() string {
	switch s {
	case LoadOK:
		return "ok"
	case LoadAbsent:
		return "absent"
	case LoadFellBack:
		return "fell_back"
	default:
		return "unknown"
	}
}

// LoadResult is the outcome of Load. Credentials is never nil.
type LoadResult struct {
	Credentials map[string]Entry
	Status      LoadStatus
}

// Vault owns the site → credential mapping.
type Vault struct {
	storePath  string
	saltPath   string
	passphrase []byte
	audit      *audit.Logger
	logger     *slog.Logger

	mu    sync.Mutex
	key   []byte
	creds map[string]Entry
}

// Option configures a Vault.
type Option func(*Vault)

// WithPassphrase overrides the built-in passphrase.
func WithPassphrase(p []byte) Option {
	return func(v *Vault) {
		if len(p) > 0 {
			v.passphrase = p
		}
	}
}

// WithAudit records credential access to the given audit log.
func WithAudit(l *audit.Logger) Option {
	return func(v *Vault) {
		v.audit = l
	}
}

// New creates a vault rooted at dir. Nothing is read until DeriveKey or Load.
func New(dir string, opts ...Option) *Vault {
	v := &Vault{
		storePath:  filepath.Join(dir, StoreFileName),
		saltPath:   filepath.Join(dir, SaltFileName),
		passphrase: []byte(DefaultPassphrase),
		logger:     slog.With("component", "vault"),
		creds:      make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Open creates a vault and loads the store into memory.
func Open(dir string, opts ...Option) (*Vault, LoadStatus, error) {
	v := New(dir, opts...)
	res, err := v.Load()
	if err != nil {
		return nil, res.Status, err
	}
	return v, res.Status, nil
}

// DeriveKey returns the store key, creating the salt file on first use.
// The key is derived once per Vault.
func (v *Vault) DeriveKey() ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.deriveKeyLocked()
}

func (v *Vault) deriveKeyLocked() ([]byte, error) {
	if v.key != nil {
		return v.key, nil
	}
	salt, err := loadOrCreateSalt(v.saltPath)
	if err != nil {
		return nil, err
	}
	v.key = deriveKey(v.passphrase, salt)
	return v.key, nil
}

// Load reads the store and replaces the in-memory mapping. The returned
// error is non-nil only when the key cannot be derived (salt unreadable).
func (v *Vault) Load() (LoadResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	key, err := v.deriveKeyLocked()
	if err != nil {
		return LoadResult{Credentials: map[string]Entry{}, Status: LoadFellBack}, err
	}

	creds, status := v.readStore(key)
	v.creds = creds
	return LoadResult{Credentials: copyEntries(creds), Status: status}, nil
}

func (v *Vault) readStore(key []byte) (map[string]Entry, LoadStatus) {
	blob, err := os.ReadFile(v.storePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]Entry{}, LoadAbsent
		}
		v.logger.Debug("credential store unreadable, starting empty", "error", err)
		return map[string]Entry{}, LoadFellBack
	}

	plain, err := open(key, blob)
	if err != nil {
		v.logger.Debug("credential store unusable, starting empty")
		return map[string]Entry{}, LoadFellBack
	}

	creds := make(map[string]Entry)
	if err := json.Unmarshal(plain, &creds); err != nil {
		v.logger.Debug("credential store unusable, starting empty")
		return map[string]Entry{}, LoadFellBack
	}
	if creds == nil {
		creds = make(map[string]Entry)
	}
	return creds, LoadOK
}

// Save encrypts creds and atomically replaces the store file.
// The in-memory mapping becomes creds.
func (v *Vault) Save(creds map[string]Entry) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	cp := copyEntries(creds)
	if err := v.saveLocked(cp); err != nil {
		return err
	}
	v.creds = cp
	return nil
}

func (v *Vault) saveLocked(creds map[string]Entry) error {
	key, err := v.deriveKeyLocked()
	if err != nil {
		return err
	}

	plain, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	blob, err := seal(key, plain)
	if err != nil {
		return err
	}
	return writeFileAtomic(v.storePath, blob)
}

// Get returns the entry stored for site, matched exactly.
func (v *Vault) Get(site string) (Entry, bool) {
	v.mu.Lock()
	e, ok := v.creds[site]
	v.mu.Unlock()

	if ok {
		v.record(audit.Entry{Action: audit.ActionCredentialRead, Key: site})
	}
	return e, ok
}

// Put upserts the entry for site and persists immediately. On a failed write
// the in-memory mapping is left unchanged.
func (v *Vault) Put(site, username, password string) error {
	if site == "" {
		return fmt.Errorf("vault: site is required")
	}

	v.mu.Lock()
	next := copyEntries(v.creds)
	next[site] = Entry{Username: username, Password: password}
	err := v.saveLocked(next)
	if err == nil {
		v.creds = next
	}
	v.mu.Unlock()

	if err != nil {
		v.record(audit.Entry{Action: audit.ActionCredentialWrite, Key: site, Error: err.Error()})
		return fmt.Errorf("saving credential for %s: %w", site, err)
	}
	v.record(audit.Entry{Action: audit.ActionCredentialWrite, Key: site})
	return nil
}

// Delete removes the entry for site and persists. Deleting a missing site is a no-op.
func (v *Vault) Delete(site string) error {
	v.mu.Lock()
	if _, ok := v.creds[site]; !ok {
		v.mu.Unlock()
		return nil
	}
	next := copyEntries(v.creds)
	delete(next, site)
	err := v.saveLocked(next)
	if err == nil {
		v.creds = next
	}
	v.mu.Unlock()

	if err != nil {
		return fmt.Errorf("deleting credential for %s: %w", site, err)
	}
	v.record(audit.Entry{Action: audit.ActionCredentialDelete, Key: site})
	return nil
}

// Sites returns the stored site keys in sorted order.
func (v *Vault) Sites() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	sites := make([]string, 0, len(v.creds))
	for s := range v.creds {
		sites = append(sites, s)
	}
	sort.Strings(sites)
	return sites
}

func (v *Vault) record(e audit.Entry) {
	if v.audit == nil {
		return
	}
	if err := v.audit.Log(e); err != nil {
		v.logger.Warn("audit log write failed", "error", err)
	}
}

func copyEntries(in map[string]Entry) map[string]Entry {
	out := make(map[string]Entry, len(in))
	for k, e := range in {
		out[k] = e
	}
	return out
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fileMode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
