package daemon

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/benaskins/hotmacro/internal/audit"
	"github.com/benaskins/hotmacro/internal/config"
	"github.com/benaskins/hotmacro/internal/keychain"
	"github.com/benaskins/hotmacro/internal/vault"
)

// NewVault creates the credential vault for dataDir using the configured
// passphrase source. With the keychain source, a missing item falls back to
// the built-in passphrase.
func NewVault(dataDir, source string, kc keychain.Store, a *audit.Logger) (*vault.Vault, error) {
	opts := []vault.Option{vault.WithAudit(a)}

	switch source {
	case config.PassphraseBuiltin, "":
	case config.PassphraseKeychain:
		if kc == nil {
			kc = keychain.NewSystemStore()
		}
		p, err := keychain.Passphrase(kc)
		switch {
		case err == nil:
			opts = append(opts, vault.WithPassphrase(p))
		case errors.Is(err, keychain.ErrNotFound):
			slog.Warn("no vault passphrase in keychain, using built-in passphrase")
		default:
			return nil, fmt.Errorf("reading vault passphrase: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown passphrase source %q", source)
	}

	return vault.New(dataDir, opts...), nil
}

// ErrPassphraseSource is returned by RekeyVault when the config does not read
// the passphrase from the keychain, so a new passphrase would never be used.
var ErrPassphraseSource = errors.New("vault.passphrase must be set to keychain")

// RekeyVault re-encrypts the credentials held by current under passphrase and
// then stores passphrase in kc. The store is rewritten first; if the keychain
// update fails the store is rewritten again under the old key, so the two
// never disagree. It returns how many credentials were re-encrypted.
func RekeyVault(dataDir, source string, kc keychain.Store, current *vault.Vault, passphrase string, a *audit.Logger) (int, error) {
	if source != config.PassphraseKeychain {
		return 0, ErrPassphraseSource
	}
	if passphrase == "" {
		return 0, errors.New("passphrase must not be empty")
	}

	res, err := current.Load()
	if err != nil {
		return 0, err
	}
	if res.Status == vault.LoadFellBack {
		return 0, errors.New("credential store could not be read with the current passphrase")
	}

	next := vault.New(dataDir, vault.WithPassphrase([]byte(passphrase)), vault.WithAudit(a))
	if err := next.Save(res.Credentials); err != nil {
		return 0, fmt.Errorf("re-encrypting credentials: %w", err)
	}
	if err := keychain.SetPassphrase(kc, passphrase); err != nil {
		if rerr := current.Save(res.Credentials); rerr != nil {
			return 0, errors.Join(fmt.Errorf("storing passphrase: %w", err), fmt.Errorf("restoring credential store: %w", rerr))
		}
		return 0, fmt.Errorf("storing passphrase: %w", err)
	}
	return len(res.Credentials), nil
}
