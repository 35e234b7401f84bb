//go:build darwin

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/benaskins/hotmacro/internal/config"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the hotmacro daemon as a LaunchAgent (starts on login)",
	Long: `Write a LaunchAgent that runs "hotmacro daemon" at login with the current
config file. --no-keyboard and --api-addr are passed through to the daemon.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		binary, err := os.Executable()
		if err != nil {
			return fmt.Errorf("finding binary path: %w", err)
		}
		binary, err = filepath.EvalSymlinks(binary)
		if err != nil {
			return fmt.Errorf("resolving binary path: %w", err)
		}

		cfgPath, err := configPath(cmd)
		if err != nil {
			return err
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		agent := launchAgent{
			Binary:     binary,
			ConfigPath: cfgPath,
			LogPath:    filepath.Join(cfg.DataDir, "daemon.log"),
		}
		agent.NoKeyboard, _ = cmd.Flags().GetBool("no-keyboard")
		agent.APIAddr, _ = cmd.Flags().GetString("api-addr")

		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("finding home dir: %w", err)
		}
		plistDir := filepath.Join(home, "Library", "LaunchAgents")
		plistPath := filepath.Join(plistDir, launchAgentLabel+".plist")

		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
		if err := os.MkdirAll(plistDir, 0755); err != nil {
			return fmt.Errorf("creating LaunchAgents dir: %w", err)
		}

		plist, err := agent.plist()
		if err != nil {
			return fmt.Errorf("rendering plist: %w", err)
		}
		// Reinstalling replaces a loaded agent.
		_ = exec.Command("launchctl", "unload", plistPath).Run()
		if err := os.WriteFile(plistPath, plist, 0644); err != nil {
			return fmt.Errorf("writing plist: %w", err)
		}
		if err := exec.Command("launchctl", "load", plistPath).Run(); err != nil {
			return fmt.Errorf("launchctl load: %w", err)
		}

		fmt.Printf("Installed LaunchAgent: %s\n", plistPath)
		fmt.Printf("Command: %s\n", strings.Join(agent.Args(), " "))
		fmt.Printf("Logs: %s\n", agent.LogPath)
		if !agent.NoKeyboard {
			fmt.Println("Grant Input Monitoring access to the binary if hotkeys are not seen.")
		}
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the hotmacro LaunchAgent",
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("finding home dir: %w", err)
		}

		plistPath := filepath.Join(home, "Library", "LaunchAgents", launchAgentLabel+".plist")

		_ = exec.Command("launchctl", "unload", plistPath).Run()

		if err := os.Remove(plistPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing plist: %w", err)
		}

		fmt.Println("Removed the hotmacro LaunchAgent; the daemon no longer starts on login.")
		return nil
	},
}

func init() {
	installCmd.Flags().Bool("no-keyboard", false, "run the daemon without reading the keyboard device")
	installCmd.Flags().String("api-addr", "", "also serve the API on this TCP address")

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
}
