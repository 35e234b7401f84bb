package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/benaskins/hotmacro/internal/api"
	"github.com/benaskins/hotmacro/internal/audit"
	"github.com/benaskins/hotmacro/internal/browser"
	"github.com/benaskins/hotmacro/internal/daemon"
	"github.com/benaskins/hotmacro/internal/hotkey"
	"github.com/benaskins/hotmacro/internal/notify"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the hotmacro daemon",
	Long:  "Start the hotkey listener and macro runner. Serves the control API on a Unix socket in the data directory.",
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().String("api-addr", "", "Optional TCP address for API (e.g. 127.0.0.1:9090); overrides config")
	daemonCmd.Flags().Bool("no-keyboard", false, "Do not read the keyboard device; accept keys through the API only")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("api-addr"); addr != "" {
		cfg.APIAddr = addr
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	slog.Info("hotmacro daemon starting", "data_dir", cfg.DataDir)

	auditLog, err := audit.NewLogger(filepath.Join(cfg.DataDir, "audit.log"))
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer auditLog.Close()

	v, err := daemon.NewVault(cfg.DataDir, cfg.Vault.Passphrase, nil, auditLog)
	if err != nil {
		return err
	}

	terminal := notify.NewTerminalNotifier(os.Stderr, 32)
	defer terminal.Close()

	opts := []daemon.Option{
		daemon.WithChord(cfg.Chord()),
		daemon.WithTriggerRate(cfg.TriggerRate),
		daemon.WithVault(v),
		daemon.WithAudit(auditLog),
		daemon.WithLogin(browser.NewChromeAutomator(browser.LoginOptions{
			Headless: cfg.Login.Headless,
			Hold:     cfg.Login.Hold,
		})),
		daemon.WithNotifier(notify.Multi{terminal, notify.NewLogNotifier(nil)}),
	}
	if noKbd, _ := cmd.Flags().GetBool("no-keyboard"); !noKbd {
		opts = append(opts, daemon.WithKeySource(hotkey.NewEvdevSource(cfg.KeyboardDevice)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	d := daemon.NewDaemon(cfg.DataDir, opts...)
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	socketPath := cfg.SocketPath()
	srv := api.NewServer(d)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenUnix(socketPath)
	}()

	if cfg.APIAddr != "" {
		go func() {
			if err := srv.ListenTCP(cfg.APIAddr); err != nil {
				slog.Error("TCP API error", "error", err)
			}
		}()
	}

	slog.Info("hotmacro daemon ready", "chord", cfg.Chord().String(), "socket", socketPath)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			slog.Error("API server error", "error", err)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	srv.Shutdown(shutdownCtx)
	d.Stop()
	cancel()
	os.Remove(socketPath)

	slog.Info("hotmacro daemon stopped")
	return nil
}
