package vault

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benaskins/hotmacro/internal/audit"
)

func TestDeriveKeyCreatesSalt(t *testing.T) {
	dir := t.TempDir()
	v := New(dir)

	key, err := v.DeriveKey()
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if len(key) != KeyLength {
		t.Errorf("expected %d-byte key, got %d", KeyLength, len(key))
	}

	salt, err := os.ReadFile(filepath.Join(dir, SaltFileName))
	if err != nil {
		t.Fatalf("reading salt: %v", err)
	}
	if len(salt) != SaltLength {
		t.Errorf("expected %d-byte salt, got %d", SaltLength, len(salt))
	}

	info, _ := os.Stat(filepath.Join(dir, SaltFileName))
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected salt mode 0600, got %o", perm)
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	dir := t.TempDir()

	k1, err := New(dir).DeriveKey()
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	k2, err := New(dir).DeriveKey()
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("expected same key for same salt and passphrase")
	}

	k3, err := New(dir, WithPassphrase([]byte("operator secret"))).DeriveKey()
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if bytes.Equal(k1, k3) {
		t.Error("expected different key for different passphrase")
	}
}

func TestDeriveKeyRejectsMalformedSalt(t *testing.T) {
	dir := t.TempDir()
	saltPath := filepath.Join(dir, SaltFileName)
	os.WriteFile(saltPath, []byte("short"), 0600)

	if _, err := New(dir).DeriveKey(); err == nil {
		t.Fatal("expected error for malformed salt")
	}

	// The malformed salt must not be replaced.
	data, _ := os.ReadFile(saltPath)
	if string(data) != "short" {
		t.Errorf("salt file was rewritten: %q", data)
	}
}

func TestLoadAbsentStore(t *testing.T) {
	v := New(t.TempDir())

	res, err := v.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Status != LoadAbsent {
		t.Errorf("expected absent, got %v", res.Status)
	}
	if res.Credentials == nil || len(res.Credentials) != 0 {
		t.Errorf("expected empty mapping, got %v", res.Credentials)
	}
}

func TestPutThenGet(t *testing.T) {
	v := New(t.TempDir())

	if err := v.Put("https://mail.example.com", "u", "p"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	e, ok := v.Get("https://mail.example.com")
	if !ok {
		t.Fatal("expected entry")
	}
	if e.Username != "u" || e.Password != "p" {
		t.Errorf("expected {u p}, got %+v", e)
	}

	if _, ok := v.Get("https://mail.example.com/"); ok {
		t.Error("expected exact-match lookup")
	}
}

func TestPutOverwrites(t *testing.T) {
	v := New(t.TempDir())

	v.Put("https://a.example.com", "first", "1")
	v.Put("https://a.example.com", "second", "2")

	e, _ := v.Get("https://a.example.com")
	if e.Username != "second" || e.Password != "2" {
		t.Errorf("expected last write to win, got %+v", e)
	}
	if len(v.Sites()) != 1 {
		t.Errorf("expected 1 site, got %v", v.Sites())
	}
}

func TestPutPersistsImmediately(t *testing.T) {
	dir := t.TempDir()
	v := New(dir)
	v.Put("https://a.example.com", "u", "p")

	res, err := New(dir).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Status != LoadOK {
		t.Fatalf("expected ok, got %v", res.Status)
	}
	if res.Credentials["https://a.example.com"].Username != "u" {
		t.Errorf("expected persisted entry, got %v", res.Credentials)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := map[string]Entry{
		"https://a.example.com": {Username: "alice", Password: "pa$$"},
		"https://b.example.com": {Username: "bob", Password: ""},
	}

	if err := New(dir).Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	v := New(dir)
	first, _ := v.Load()
	second, _ := v.Load()

	for _, res := range []LoadResult{first, second} {
		if len(res.Credentials) != len(want) {
			t.Fatalf("expected %d entries, got %d", len(want), len(res.Credentials))
		}
		for site, e := range want {
			if res.Credentials[site] != e {
				t.Errorf("%s: expected %+v, got %+v", site, e, res.Credentials[site])
			}
		}
	}
}

func TestStoreIsNotPlaintext(t *testing.T) {
	dir := t.TempDir()
	v := New(dir)
	v.Put("https://mail.example.com", "someone", "hunter2")

	blob, _ := os.ReadFile(filepath.Join(dir, StoreFileName))
	if strings.Contains(string(blob), "hunter2") || strings.Contains(string(blob), "someone") {
		t.Error("credential store contains plaintext")
	}
	if !bytes.HasPrefix(blob, magic) {
		t.Error("expected store magic prefix")
	}
}

func TestLoadTruncatedFallsBack(t *testing.T) {
	dir := t.TempDir()
	New(dir).Put("https://a.example.com", "u", "p")

	path := filepath.Join(dir, StoreFileName)
	blob, _ := os.ReadFile(path)
	os.WriteFile(path, blob[:len(blob)/2], 0600)

	v := New(dir)
	res, err := v.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Status != LoadFellBack {
		t.Errorf("expected fell_back, got %v", res.Status)
	}
	if len(res.Credentials) != 0 {
		t.Errorf("expected empty mapping, got %v", res.Credentials)
	}
	if _, ok := v.Get("https://a.example.com"); ok {
		t.Error("expected no credentials after fallback")
	}
}

func TestLoadBitFlipFallsBack(t *testing.T) {
	dir := t.TempDir()
	New(dir).Put("https://a.example.com", "u", "p")

	path := filepath.Join(dir, StoreFileName)
	blob, _ := os.ReadFile(path)
	for _, i := range []int{0, len(magic) + 1, len(blob) - 1} {
		flipped := append([]byte(nil), blob...)
		flipped[i] ^= 0x01
		os.WriteFile(path, flipped, 0600)

		res, err := New(dir).Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if res.Status != LoadFellBack || len(res.Credentials) != 0 {
			t.Errorf("flip at %d: expected empty fallback, got %v %v", i, res.Status, res.Credentials)
		}
	}
}

func TestLoadWrongPassphraseFallsBack(t *testing.T) {
	dir := t.TempDir()
	New(dir).Put("https://a.example.com", "u", "p")

	res, err := New(dir, WithPassphrase([]byte("not the one"))).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Status != LoadFellBack {
		t.Errorf("expected fell_back, got %v", res.Status)
	}
}

func TestLoadMismatchedSaltFallsBack(t *testing.T) {
	dir := t.TempDir()
	New(dir).Put("https://a.example.com", "u", "p")

	os.WriteFile(filepath.Join(dir, SaltFileName), bytes.Repeat([]byte{7}, SaltLength), 0600)

	res, _ := New(dir).Load()
	if res.Status != LoadFellBack || len(res.Credentials) != 0 {
		t.Errorf("expected empty fallback, got %v %v", res.Status, res.Credentials)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	New(dir).Put("https://a.example.com", "u", "p")

	if _, err := os.Stat(filepath.Join(dir, StoreFileName+".tmp")); !os.IsNotExist(err) {
		t.Errorf("expected temp file to be renamed away, stat err = %v", err)
	}
	info, _ := os.Stat(filepath.Join(dir, StoreFileName))
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected store mode 0600, got %o", perm)
	}
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	v := New(dir)
	v.Put("https://a.example.com", "u", "p")
	v.Put("https://b.example.com", "u", "p")

	if err := v.Delete("https://a.example.com"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := v.Delete("https://never.example.com"); err != nil {
		t.Errorf("Delete missing: %v", err)
	}

	res, _ := New(dir).Load()
	if _, ok := res.Credentials["https://a.example.com"]; ok {
		t.Error("expected deleted site to be gone after reload")
	}
	if _, ok := res.Credentials["https://b.example.com"]; !ok {
		t.Error("expected other site to survive")
	}
}

func TestAuditRecordsAccessWithoutValues(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit.log")
	l, err := audit.NewLogger(auditPath)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	v := New(dir, WithAudit(l))
	v.Put("https://a.example.com", "alice", "s3cret")
	v.Get("https://a.example.com")
	v.Get("https://missing.example.com")

	data, _ := os.ReadFile(auditPath)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected write + read entries, got %d: %s", len(lines), data)
	}
	if strings.Contains(string(data), "s3cret") || strings.Contains(string(data), "alice") {
		t.Error("audit log leaked credential values")
	}
}
