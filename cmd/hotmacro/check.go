package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/benaskins/hotmacro/internal/action"
	"github.com/benaskins/hotmacro/internal/daemon"
	"github.com/benaskins/hotmacro/internal/hotkey"
	"github.com/benaskins/hotmacro/internal/macro"
	"github.com/benaskins/hotmacro/internal/vault"
)

type checkResult struct {
	Item  string `json:"item"`
	Valid bool   `json:"valid"`
	Info  string `json:"info,omitempty"`
	Error string `json:"error,omitempty"`
}

var checkCmd = &cobra.Command{
	Use:   "check [macros.json]",
	Short: "Validate configuration, macros and the credential store",
	Long:  "Checks config.yaml, every macro key and action in the macro file, the credential store and the keyboard device without starting the daemon.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	var results []checkResult
	add := func(item string, err error, info string) {
		r := checkResult{Item: item, Valid: err == nil, Info: info}
		if err != nil {
			r.Error = err.Error()
		}
		results = append(results, r)
	}

	cfg, err := loadConfig(cmd)
	add("config", err, "")
	if err != nil {
		return report(cmd, results)
	}

	macroPath := filepath.Join(cfg.DataDir, macro.FileName)
	if len(args) > 0 {
		macroPath = args[0]
	}
	m, err := macro.NewStore(macroPath).Load()
	add(macroPath, err, fmt.Sprintf("%d macros", len(m)))
	for _, k := range m.Keys() {
		item := fmt.Sprintf("macro %q", k)
		canon, err := macro.ValidateKey(k)
		if err == nil && canon != k {
			err = fmt.Errorf("key is stored as %q but matches as %q", k, canon)
		}
		if err == nil && len(m[k]) == 0 {
			err = fmt.Errorf("no actions")
		}
		if err == nil {
			for i, a := range m[k] {
				if action.Classify(a).Target == "" {
					err = fmt.Errorf("action %d is empty", i+1)
					break
				}
			}
		}
		add(item, err, fmt.Sprintf("%d actions", len(m[k])))
	}

	v, err := daemon.NewVault(cfg.DataDir, cfg.Vault.Passphrase, nil, nil)
	if err == nil {
		var res vault.LoadResult
		res, err = v.Load()
		if err == nil && res.Status == vault.LoadFellBack {
			err = fmt.Errorf("store exists but could not be read with the configured passphrase")
		}
		add("credentials", err, fmt.Sprintf("%s, %d sites", res.Status, len(res.Credentials)))
	} else {
		add("credentials", err, "")
	}

	device := cfg.KeyboardDevice
	if device == "" {
		device, err = hotkey.FindKeyboardDevice()
	}
	if err == nil {
		var f *os.File
		if f, err = os.Open(device); err == nil {
			f.Close()
		}
	}
	add("keyboard", err, device)

	return report(cmd, results)
}

func report(cmd *cobra.Command, results []checkResult) error {
	failed := 0
	for _, r := range results {
		if !r.Valid {
			failed++
		}
	}

	if jsonOutput(cmd) {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Valid {
				fmt.Printf("OK    %s", r.Item)
				if r.Info != "" {
					fmt.Printf(" (%s)", r.Info)
				}
				fmt.Println()
			} else {
				fmt.Fprintf(os.Stderr, "FAIL  %s\n      %v\n", r.Item, r.Error)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}
