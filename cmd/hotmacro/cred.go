package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/benaskins/hotmacro/internal/action"
	"github.com/benaskins/hotmacro/internal/audit"
	"github.com/benaskins/hotmacro/internal/config"
	"github.com/benaskins/hotmacro/internal/daemon"
	"github.com/benaskins/hotmacro/internal/keychain"
	"github.com/benaskins/hotmacro/internal/vault"
)

var credCmd = &cobra.Command{
	Use:   "cred",
	Short: "Manage stored site credentials",
	Long: `Manage the encrypted credential store. A URL action whose site has stored
credentials is run as an automated login instead of a plain page open.
Sites are matched exactly after the same normalization macros use,
so "www.example.com" is stored as "https://www.example.com".`,
}

// openVault opens the credential store the way the daemon does and reports
// whether it could be read.
func openVault(cmd *cobra.Command) (*vault.Vault, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating data dir: %w", err)
	}
	a, err := audit.NewLogger(filepath.Join(cfg.DataDir, "audit.log"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening audit log: %w", err)
	}
	v, err := daemon.NewVault(cfg.DataDir, cfg.Vault.Passphrase, nil, a)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	res, err := v.Load()
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	if res.Status == vault.LoadFellBack {
		a.Close()
		return nil, nil, fmt.Errorf("credential store %s could not be read", filepath.Join(cfg.DataDir, vault.StoreFileName))
	}
	return v, func() { a.Close() }, nil
}

var credSetCmd = &cobra.Command{
	Use:   "set <site> <username>",
	Short: "Store the login for a site",
	Long:  "Store a username and password for a site. The password is prompted for, or read from stdin when piped.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readSecret("Password: ")
		if err != nil {
			return err
		}
		if password == "" {
			return fmt.Errorf("password must not be empty")
		}

		v, done, err := openVault(cmd)
		if err != nil {
			return err
		}
		defer done()

		site := action.SiteKey(args[0])
		if err := v.Put(site, args[1], password); err != nil {
			return err
		}
		fmt.Printf("Credentials for %s stored\n", site)
		return nil
	},
}

var credGetCmd = &cobra.Command{
	Use:   "get <site>",
	Short: "Show the username stored for a site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		show, _ := cmd.Flags().GetBool("show-password")
		v, done, err := openVault(cmd)
		if err != nil {
			return err
		}
		defer done()

		site := action.SiteKey(args[0])
		e, ok := v.Get(site)
		if !ok {
			return fmt.Errorf("no credentials for %s", site)
		}
		fmt.Println(e.Username)
		if show {
			fmt.Println(e.Password)
		}
		return nil
	},
}

var credListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sites with stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, done, err := openVault(cmd)
		if err != nil {
			return err
		}
		defer done()

		sites := v.Sites()
		if jsonOutput(cmd) {
			return printJSON(sites)
		}
		if len(sites) == 0 {
			fmt.Println("No credentials stored")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SITE")
		for _, s := range sites {
			fmt.Fprintln(w, s)
		}
		return w.Flush()
	},
}

var credRmCmd = &cobra.Command{
	Use:     "rm <site>",
	Aliases: []string{"delete"},
	Short:   "Remove the credentials for a site",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, done, err := openVault(cmd)
		if err != nil {
			return err
		}
		defer done()

		site := action.SiteKey(args[0])
		if err := v.Delete(site); err != nil {
			return err
		}
		fmt.Printf("Credentials for %s removed\n", site)
		return nil
	},
}

var credPassphraseCmd = &cobra.Command{
	Use:   "passphrase",
	Short: "Set the vault passphrase in the macOS Keychain and re-encrypt the store",
	Long: `Re-encrypt existing credentials with a new passphrase and store it in the
login Keychain. Requires vault.passphrase: keychain in config.yaml.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runtime.GOOS != "darwin" {
			return fmt.Errorf("keychain passphrases are only available on macOS")
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Vault.Passphrase != config.PassphraseKeychain {
			return fmt.Errorf("%w in the config file first; otherwise the new passphrase is never read", daemon.ErrPassphraseSource)
		}

		current, done, err := openVault(cmd)
		if err != nil {
			return err
		}
		defer done()

		pass, err := readSecret("New passphrase: ")
		if err != nil {
			return err
		}
		n, err := daemon.RekeyVault(cfg.DataDir, cfg.Vault.Passphrase, keychain.NewSystemStore(), current, pass, nil)
		if err != nil {
			return err
		}
		fmt.Printf("Passphrase stored; %d credential(s) re-encrypted\n", n)
		fmt.Println("Restart the daemon so it reads the new passphrase")
		return nil
	},
}

// readSecret prompts on a terminal without echo, or reads one line from stdin.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func init() {
	credGetCmd.Flags().Bool("show-password", false, "also print the password")

	credCmd.AddCommand(credSetCmd)
	credCmd.AddCommand(credGetCmd)
	credCmd.AddCommand(credListCmd)
	credCmd.AddCommand(credRmCmd)
	credCmd.AddCommand(credPassphraseCmd)
	rootCmd.AddCommand(credCmd)
}
