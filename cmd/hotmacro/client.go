package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/benaskins/hotmacro/internal/action"
	"github.com/benaskins/hotmacro/internal/api"
	"github.com/benaskins/hotmacro/internal/daemon"
	"github.com/benaskins/hotmacro/internal/notify"
	"github.com/benaskins/hotmacro/internal/spawn"
)

type client struct {
	http *http.Client
}

func apiClient(cmd *cobra.Command) (*client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	socketPath := cfg.SocketPath()
	return &client{http: &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}}, nil
}

// do sends body as JSON (if non-nil) and decodes the response into v (if non-nil).
func (c *client) do(method, path string, body, v any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, "http://hotmacro"+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w (is hotmacro daemon running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s", e.Error)
		}
		return fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *client) get(path string, v any) error { return c.do(http.MethodGet, path, nil, v) }

func (c *client) post(path string, v any) error { return c.do(http.MethodPost, path, nil, v) }

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		var s daemon.Status
		if err := c.get("/v1/status", &s); err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(s)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Mode:\t%s\n", s.Mode)
		fmt.Fprintf(w, "Toggle:\t%s\n", s.Chord)
		fmt.Fprintf(w, "Macros:\t%d\n", s.Macros)
		fmt.Fprintf(w, "Credentials:\t%d\n", s.Credentials)
		fmt.Fprintf(w, "Running:\t%v\n", s.Running)
		fmt.Fprintf(w, "Queued:\t%d\n", s.Queued)
		if s.LoginHeld {
			fmt.Fprintf(w, "Login:\tsession held (hotmacro release to close)\n")
		}
		return w.Flush()
	},
}

var toggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Arm or disarm hotkeys",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		var m api.ModeResponse
		if err := c.post("/v1/mode/toggle", &m); err != nil {
			return err
		}
		fmt.Printf("hotkeys %s\n", m.Mode)
		return nil
	},
}

var pressCmd = &cobra.Command{
	Use:   "press <key>",
	Short: "Send a key press to the daemon as if typed",
	Long:  "Injects a key press. It only fires a macro while hotkeys are armed, like a real key.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		return c.post("/v1/keys"+keyQuery(args[0]), nil)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the running macro and any queued ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		var res map[string]int
		if err := c.post("/v1/runs/cancel", &res); err != nil {
			return err
		}
		fmt.Printf("cancelled %d run(s)\n", res["cancelled"])
		return nil
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Close the browser held open after an automated login",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		var res map[string]bool
		if err := c.post("/v1/login/release", &res); err != nil {
			return err
		}
		if res["released"] {
			fmt.Println("login session released")
		} else {
			fmt.Println("no login session open")
		}
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent macro runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		var runs []action.Report
		if err := c.get("/v1/runs", &runs); err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(runs)
		}
		if len(runs) == 0 {
			fmt.Println("No runs")
			return nil
		}
		for _, r := range runs {
			printReport(r)
		}
		return nil
	},
}

var launchesCmd = &cobra.Command{
	Use:   "launches",
	Short: "Show recently launched programs and their output",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("lines")
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		var launches []daemon.Launch
		if err := c.get(fmt.Sprintf("/v1/launches?lines=%d", n), &launches); err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(launches)
		}
		if len(launches) == 0 {
			fmt.Println("No launches")
			return nil
		}
		for _, l := range launches {
			state := fmt.Sprintf("exit %d", l.ExitCode)
			if l.Running {
				state = "running"
			}
			fmt.Printf("%s  pid %d  %s  %s\n", l.StartedAt.Format(time.TimeOnly), l.PID, state, l.Command)
			for _, line := range l.Output {
				fmt.Printf("    %s\n", line)
			}
		}
		return nil
	},
}

var launchesKillCmd = &cobra.Command{
	Use:   "kill <pid>",
	Short: "Terminate a launched program and its process group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := strconv.Atoi(args[0])
		if err != nil || pid <= 0 {
			return fmt.Errorf("invalid pid %q", args[0])
		}
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		var info spawn.Info
		if err := c.post(fmt.Sprintf("/v1/launches/%d/terminate", pid), &info); err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(info)
		}
		if info.Running {
			fmt.Printf("Sent terminate to pid %d; it is still running\n", pid)
			return nil
		}
		fmt.Printf("pid %d exited (%d)\n", pid, info.ExitCode)
		return nil
	},
}

var noticesCmd = &cobra.Command{
	Use:   "notices",
	Short: "Show recent operator notices",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		var notices []notify.Notice
		if err := c.get("/v1/notices", &notices); err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(notices)
		}
		for _, n := range notices {
			fmt.Println(notify.Format(n))
		}
		return nil
	},
}

func printReport(r action.Report) {
	header := fmt.Sprintf("%s  key %q  run %s", r.StartedAt.Format(time.TimeOnly), r.Key, r.RunID)
	if r.Cancelled {
		header += "  (cancelled)"
	}
	fmt.Println(header)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, o := range r.Outcomes {
		detail := o.Target
		if o.Error != "" {
			detail = o.Error
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", o.Status, o.Kind, detail)
	}
	w.Flush()
}

func init() {
	launchesCmd.Flags().IntP("lines", "n", 10, "output lines per launch")
	launchesCmd.AddCommand(launchesKillCmd)

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(pressCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(launchesCmd)
	rootCmd.AddCommand(noticesCmd)
}
