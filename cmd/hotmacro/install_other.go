//go:build !darwin

package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var errNoLaunchAgent = errors.New("LaunchAgent installation is only available on macOS; run 'hotmacro daemon' from your session startup instead")

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the daemon as a LaunchAgent (macOS only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return errNoLaunchAgent
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the daemon LaunchAgent (macOS only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return errNoLaunchAgent
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
}
