//go:build !windows

package spawn

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestSpawnCapturesOutput(t *testing.T) {
	s := NewShellSpawner(Config{})

	h, err := s.Spawn("echo hello world")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitDone(t, h)

	out := h.Output(10)
	if len(out) != 1 || out[0] != "hello world" {
		t.Errorf("expected 'hello world', got %v", out)
	}
	info := h.Info()
	if info.PID <= 0 {
		t.Errorf("expected positive PID, got %d", info.PID)
	}
	if info.Running {
		t.Error("expected exited process")
	}
}

func TestSpawnDoesNotBlock(t *testing.T) {
	s := NewShellSpawner(Config{})

	start := time.Now()
	h, err := s.Spawn("sleep 30")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer h.Terminate()

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Spawn blocked for %v", elapsed)
	}
	if !h.Info().Running {
		t.Error("expected process to still be running")
	}
}

func TestSpawnShellSyntax(t *testing.T) {
	s := NewShellSpawner(Config{Env: append(os.Environ(), "GREETING=hi")})

	h, err := s.Spawn(`echo "$GREETING there" | tr a-z A-Z`)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitDone(t, h)

	out := h.Output(1)
	if len(out) != 1 || out[0] != "HI THERE" {
		t.Errorf("expected 'HI THERE', got %v", out)
	}
}

func TestSpawnExitCode(t *testing.T) {
	s := NewShellSpawner(Config{})

	h, err := s.Spawn("exit 3")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if code := h.Wait(); code != 3 {
		t.Errorf("expected exit code 3, got %d", code)
	}
	if h.Info().Error == "" {
		t.Error("expected exit error to be recorded")
	}
}

func TestSpawnEmptyCommand(t *testing.T) {
	s := NewShellSpawner(Config{})

	if _, err := s.Spawn("   "); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("expected ErrEmptyCommand, got %v", err)
	}
}

func TestSpawnMissingWorkingDir(t *testing.T) {
	s := NewShellSpawner(Config{WorkingDir: "/nonexistent/hotmacro/dir"})

	if _, err := s.Spawn("true"); err == nil {
		t.Error("expected error for missing working dir")
	}
	if len(s.Recent()) != 0 {
		t.Error("failed launch should not be tracked")
	}
}

func TestTerminate(t *testing.T) {
	s := NewShellSpawner(Config{})

	h, err := s.Spawn("sleep 60")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := h.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	waitDone(t, h)

	if err := h.Terminate(); err != nil {
		t.Errorf("Terminate after exit: %v", err)
	}
}

func TestRecentIsBounded(t *testing.T) {
	s := NewShellSpawner(Config{Keep: 2})

	for _, c := range []string{"echo a", "echo b", "echo c"} {
		h, err := s.Spawn(c)
		if err != nil {
			t.Fatalf("Spawn: %v", err)
		}
		waitDone(t, h)
	}

	recent := s.Recent()
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent launches, got %d", len(recent))
	}
	if !strings.HasSuffix(recent[1].Info().Command, "c") {
		t.Errorf("expected newest launch last, got %q", recent[1].Info().Command)
	}
}
