package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/benaskins/hotmacro/internal/hotkey"
)

// Passphrase sources for the credential vault.
const (
	PassphraseBuiltin  = "builtin"
	PassphraseKeychain = "keychain"
)

const (
	DefaultLoginHold   = 30 * time.Minute
	DefaultTriggerRate = 300 * time.Millisecond
	// SocketName is the API socket created in the data dir.
	SocketName = "hotmacro.sock"
)

// Config holds daemon configuration loaded from ~/.hotmacro/config.yaml.
type Config struct {
	// DataDir holds macros, credentials, salt, audit log and socket.
	// Defaults to the directory containing the config file.
	DataDir        string        `yaml:"data_dir"`
	ToggleChord    string        `yaml:"toggle_chord"`
	APIAddr        string        `yaml:"api_addr"`
	KeyboardDevice string        `yaml:"keyboard_device"`
	Vault          VaultConfig   `yaml:"vault"`
	Login          LoginConfig   `yaml:"login"`
	TriggerRate    time.Duration `yaml:"trigger_rate"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

type LoginConfig struct {
	Hold     time.Duration `yaml:"hold"`
	Headless bool          `yaml:"headless"`
}

// DefaultDir returns ~/.hotmacro.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".hotmacro")
}

// DefaultPath returns the default config file path: ~/.hotmacro/config.yaml.
func DefaultPath() string {
	dir := DefaultDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Load reads a YAML config file from path and fills defaults. If the file
// does not exist, or is empty or all comments, it returns the defaults and
// no error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults(dir string) {
	if c.DataDir == "" {
		c.DataDir = dir
	}
	c.DataDir = expandHome(c.DataDir)
	if c.ToggleChord == "" {
		c.ToggleChord = hotkey.DefaultChord
	}
	if c.Vault.Passphrase == "" {
		c.Vault.Passphrase = PassphraseBuiltin
	}
	if c.Login.Hold == 0 {
		c.Login.Hold = DefaultLoginHold
	}
	if c.TriggerRate == 0 {
		c.TriggerRate = DefaultTriggerRate
	}
}

// Validate checks fields that would otherwise fail later at startup.
func (c *Config) Validate() error {
	if _, err := hotkey.ParseChord(c.ToggleChord); err != nil {
		return fmt.Errorf("toggle_chord: %w", err)
	}
	switch c.Vault.Passphrase {
	case PassphraseBuiltin, PassphraseKeychain:
	default:
		return fmt.Errorf("vault.passphrase: must be %q or %q, got %q",
			PassphraseBuiltin, PassphraseKeychain, c.Vault.Passphrase)
	}
	if c.Login.Hold < 0 {
		return fmt.Errorf("login.hold: must not be negative")
	}
	return nil
}

// Chord returns the parsed toggle chord.
func (c *Config) Chord() hotkey.Chord {
	ch, _ := hotkey.ParseChord(c.ToggleChord)
	return ch
}

// SocketPath returns the API socket path inside the data dir.
func (c *Config) SocketPath() string {
	return filepath.Join(c.DataDir, SocketName)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
