// Package macro persists the mapping from trigger key to ordered action list.
//
// The store is a human-readable JSON document rewritten wholesale on every
// save. It does no validation beyond a successful parse; key validation is
// offered separately (ValidateKey) for callers that mutate the mapping.
package macro

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FileName is the macro store inside the data dir.
const FileName = "macros.json"

// Macros maps a trigger key to its ordered actions.
type Macros map[string][]string

// Clone returns a deep copy.
func (m Macros) Clone() Macros {
	out := make(Macros, len(m))
	for k, actions := range m {
		out[k] = append([]string(nil), actions...)
	}
	return out
}

// Keys returns the trigger keys in sorted order.
func (m Macros) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PersistenceError reports a macro file that could not be read, parsed or written.
// It is never fatal: Load still returns a usable (empty) mapping.
type PersistenceError struct {
	Op   string // "read", "parse", "write"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("macro store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store reads and writes the macro file.
type Store struct {
	path string
}

// NewStore creates a store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the macro file. A missing or blank file yields an empty
// mapping and no error. A malformed or unreadable file yields an empty mapping and a
// *PersistenceError. The returned mapping is never nil.
func (s *Store) Load() (Macros, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Macros{}, nil
		}
		return Macros{}, &PersistenceError{Op: "read", Path: s.path, Err: err}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return Macros{}, nil
	}

	var m Macros
	if err := json.Unmarshal(data, &m); err != nil {
		return Macros{}, &PersistenceError{Op: "parse", Path: s.path, Err: err}
	}
	if m == nil {
		m = Macros{}
	}
	for k, actions := range m {
		if actions == nil {
			m[k] = []string{}
		}
	}
	return m, nil
}

// Save overwrites the macro file with m.
func (s *Store) Save(m Macros) error {
	if m == nil {
		m = Macros{}
	}
	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}
	return nil
}
