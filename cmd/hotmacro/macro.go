package main

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/benaskins/hotmacro/internal/action"
	"github.com/benaskins/hotmacro/internal/api"
)

var macroCmd = &cobra.Command{
	Use:   "macro",
	Short: "Manage macros",
}

var macroAddCmd = &cobra.Command{
	Use:   "add <key> [action...]",
	Short: "Bind actions to a key",
	Long: `Bind an ordered list of actions to a key, replacing any existing binding.
Each action is a URL (http://, https:// or www.) or a command line.
With no actions the binding is removed.

  hotmacro macro add w https://mail.example.com "code ~/notes"
  hotmacro macro add f5 www.example.com`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		var res api.MacroResponse
		if err := c.do("PUT", "/v1/macros"+keyQuery(args[0]), api.MacroRequest{Actions: args[1:]}, &res); err != nil {
			return err
		}
		if len(args) == 1 {
			fmt.Printf("Macro %q removed\n", args[0])
			return nil
		}
		fmt.Printf("Macro %q saved (%d actions)\n", res.Key, len(res.Actions))
		return nil
	},
}

var macroRmCmd = &cobra.Command{
	Use:     "rm <key>",
	Aliases: []string{"delete"},
	Short:   "Remove a macro",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		if err := c.do("DELETE", "/v1/macros"+keyQuery(args[0]), nil, nil); err != nil {
			return err
		}
		fmt.Printf("Macro %q removed\n", args[0])
		return nil
	},
}

var macroListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List macros",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		var macros []api.MacroResponse
		if err := c.get("/v1/macros", &macros); err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(macros)
		}
		if len(macros) == 0 {
			fmt.Println("No macros")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\t#\tKIND\tACTION")
		for _, m := range macros {
			for i, a := range m.Actions {
				key := m.Key
				if i > 0 {
					key = ""
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", key, i+1, action.Classify(a).Kind, a)
			}
		}
		return w.Flush()
	},
}

var macroFireCmd = &cobra.Command{
	Use:   "fire <key>",
	Short: "Run a macro now, whether or not hotkeys are armed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		path := "/v1/macros/fire" + keyQuery(args[0])
		if !wait {
			if err := c.post(path, nil); err != nil {
				return err
			}
			fmt.Printf("Macro %q queued\n", args[0])
			return nil
		}

		// A held login can keep the run open for a long time.
		c.http.Timeout = 0
		var report action.Report
		if err := c.post(path+"&wait=true", &report); err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(report)
		}
		printReport(report)
		return nil
	},
}

// keyQuery carries a macro key as a query parameter, since keys like "/"
// and "." do not survive as path segments.
func keyQuery(key string) string {
	return "?" + url.Values{"key": {key}}.Encode()
}

func init() {
	macroFireCmd.Flags().Bool("wait", false, "wait for the run to finish and print its report")

	macroCmd.AddCommand(macroAddCmd)
	macroCmd.AddCommand(macroRmCmd)
	macroCmd.AddCommand(macroListCmd)
	macroCmd.AddCommand(macroFireCmd)
	rootCmd.AddCommand(macroCmd)
}
