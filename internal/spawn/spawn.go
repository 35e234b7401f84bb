// Package spawn launches local commands for macro actions.
//
// Launches are fire-and-forget: Spawn returns as soon as the process has
// started, and a background goroutine reaps it and records its exit.
package spawn

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/benaskins/hotmacro/internal/logbuf"
)

// ErrEmptyCommand is returned for a blank command string.
var ErrEmptyCommand = errors.New("spawn: empty command")

// Spawner starts a command without waiting for it to finish.
type Spawner interface {
	Spawn(command string) (*Handle, error)
}

// Info is a snapshot of a launched process.
type Info struct {
	Command   string    `json:"command"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Running   bool      `json:"running"`
	ExitCode  int       `json:"exit_code"`
	Error     string    `json:"error,omitempty"`
}

// Handle tracks one launched process.
type Handle struct {
	command   string
	cmd       *exec.Cmd
	startedAt time.Time
	buf       *logbuf.Ring
	done      chan struct{}

	mu       sync.Mutex
	exitCode int
	exitErr  string
}

// Done is closed once the process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the process exits and returns its exit code.
func (h *Handle) Wait() int {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Info returns the current state of the process.
func (h *Handle) Info() Info {
	h.mu.Lock()
	defer h.mu.Unlock()

	info := Info{
		Command:   h.command,
		StartedAt: h.startedAt,
		ExitCode:  h.exitCode,
		Error:     h.exitErr,
	}
	if h.cmd.Process != nil {
		info.PID = h.cmd.Process.Pid
	}
	select {
	case <-h.done:
	default:
		info.Running = true
	}
	return info
}

// Output returns up to n recent lines of combined stdout/stderr.
func (h *Handle) Output(n int) []string {
	return h.buf.Text(n)
}

// Terminate asks the process (and its group, where supported) to exit.
func (h *Handle) Terminate() error {
	select {
	case <-h.done:
		return nil
	default:
	}
	return terminate(h.cmd)
}

// ShellSpawner runs commands through the platform shell so that paths,
// arguments and shell syntax in an action behave as typed.
type ShellSpawner struct {
	env     []string
	dir     string
	bufSize int
	keep    int
	logger  *slog.Logger

	mu     sync.Mutex
	recent []*Handle
}

// Config configures a ShellSpawner.
type Config struct {
	Env        []string // nil inherits the daemon's environment
	WorkingDir string
	BufSize    int // output lines kept per launch, 0 for default
	Keep       int // launches remembered for Recent, 0 for default
}

// NewShellSpawner creates a spawner.
func NewShellSpawner(cfg Config) *ShellSpawner {
	bufSize := cfg.BufSize
	if bufSize <= 0 {
		bufSize = 200
	}
	keep := cfg.Keep
	if keep <= 0 {
		keep = 50
	}
	return &ShellSpawner{
		env:     cfg.Env,
		dir:     cfg.WorkingDir,
		bufSize: bufSize,
		keep:    keep,
		logger:  slog.With("component", "spawn"),
	}
}

// Spawn starts command and returns once it is running. If the shell itself
// cannot be started, the command is retried as a direct exec of its fields.
func (s *ShellSpawner) Spawn(command string) (*Handle, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, ErrEmptyCommand
	}

	h, err := s.start(command, shellCommand(command))
	if err != nil {
		fields := strings.Fields(command)
		s.logger.Debug("shell launch failed, trying direct exec", "command", command, "error", err)
		direct, derr := s.start(command, exec.Command(fields[0], fields[1:]...))
		if derr != nil {
			return nil, fmt.Errorf("starting %q: %w", command, err)
		}
		h = direct
	}

	s.track(h)
	s.logger.Info("launched", "command", command, "pid", h.cmd.Process.Pid)
	return h, nil
}

func (s *ShellSpawner) start(command string, cmd *exec.Cmd) (*Handle, error) {
	h := &Handle{
		command: command,
		cmd:     cmd,
		buf:     logbuf.New(s.bufSize),
		done:    make(chan struct{}),
	}

	if s.env != nil {
		cmd.Env = s.env
	} else {
		cmd.Env = os.Environ()
	}
	if s.dir != "" {
		cmd.Dir = s.dir
	}
	cmd.Stdout = h.buf
	cmd.Stderr = h.buf
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	h.startedAt = time.Now()

	go func() {
		err := cmd.Wait()
		h.buf.Flush()

		h.mu.Lock()
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				h.exitCode = exitErr.ExitCode()
			} else {
				h.exitCode = -1
			}
			h.exitErr = err.Error()
		}
		h.mu.Unlock()
		close(h.done)

		s.logger.Debug("exited", "command", command, "exit_code", h.exitCode)
	}()

	return h, nil
}

func (s *ShellSpawner) track(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, h)
	if len(s.recent) > s.keep {
		s.recent = s.recent[len(s.recent)-s.keep:]
	}
}

// Recent returns the most recent launches, oldest first.
func (s *ShellSpawner) Recent() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Handle(nil), s.recent...)
}
