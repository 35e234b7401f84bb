package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benaskins/hotmacro/internal/action"
	"github.com/benaskins/hotmacro/internal/audit"
	"github.com/benaskins/hotmacro/internal/browser"
	"github.com/benaskins/hotmacro/internal/hotkey"
	"github.com/benaskins/hotmacro/internal/macro"
	"github.com/benaskins/hotmacro/internal/notify"
	"github.com/benaskins/hotmacro/internal/spawn"
	"github.com/benaskins/hotmacro/internal/vault"
)

const (
	// DefaultQueueSize is how many macro runs can wait behind the current one.
	DefaultQueueSize = 16

	recentRuns    = 50
	recentNotices = 100
)

var (
	ErrUnknownMacro  = errors.New("no macro bound to key")
	ErrQueueFull     = errors.New("run queue is full")
	ErrNotRunning    = errors.New("daemon is not running")
	ErrUnknownLaunch = errors.New("no recent launch with that pid")
)

// terminateWait bounds how long TerminateLaunch waits for the process to exit.
const terminateWait = 5 * time.Second

// Releaser ends a held login session.
type Releaser interface {
	Release() bool
}

// Daemon wires the hotkey controller, macro store, credential vault and
// dispatcher together. Macro runs execute one at a time in FIFO order.
type Daemon struct {
	dataDir string
	store   *macro.Store
	logger  *slog.Logger

	chord       hotkey.Chord
	triggerRate time.Duration
	device      hotkey.Source
	inject      *hotkey.ChanSource
	controller  *hotkey.Controller

	vault      *vault.Vault
	audit      *audit.Logger
	opener     action.Opener
	login      action.LoginAutomator
	spawner    *spawn.ShellSpawner
	notifier   notify.Notifier
	history    *notify.History
	dispatcher *action.Dispatcher

	mu      sync.RWMutex
	macros  macro.Macros
	reports []action.Report
	started bool

	queue     chan job
	queueSize int
	runMu     sync.Mutex
	runCancel context.CancelFunc
	cancelGen uint64

	debounce time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type job struct {
	key     string
	actions []string
	trigger string
	gen     uint64 // cancelGen when queued
	done    chan action.Report
}

// Option configures the daemon.
type Option func(*Daemon)

// WithChord sets the mode toggle chord.
func WithChord(c hotkey.Chord) Option {
	return func(d *Daemon) { d.chord = c }
}

// WithTriggerRate sets the minimum interval between firings of one key.
func WithTriggerRate(r time.Duration) Option {
	return func(d *Daemon) { d.triggerRate = r }
}

// WithKeySource adds a hardware key source. If it fails to start the daemon
// runs with API-injected keys only.
func WithKeySource(s hotkey.Source) Option {
	return func(d *Daemon) { d.device = s }
}

// WithVault sets the credential vault. It is loaded on Start.
func WithVault(v *vault.Vault) Option {
	return func(d *Daemon) { d.vault = v }
}

// WithAudit records macro runs and logins.
func WithAudit(a *audit.Logger) Option {
	return func(d *Daemon) { d.audit = a }
}

// WithOpener sets how plain URLs are opened.
func WithOpener(o action.Opener) Option {
	return func(d *Daemon) { d.opener = o }
}

// WithLogin sets the login automator. If it also implements Releaser,
// ReleaseLogin ends its held session.
func WithLogin(l action.LoginAutomator) Option {
	return func(d *Daemon) { d.login = l }
}

// WithSpawner sets the process launcher.
func WithSpawner(s *spawn.ShellSpawner) Option {
	return func(d *Daemon) { d.spawner = s }
}

// WithNotifier sets where operator notices go in addition to the history.
func WithNotifier(n notify.Notifier) Option {
	return func(d *Daemon) { d.notifier = n }
}

// WithQueueSize sets how many runs may be queued.
func WithQueueSize(n int) Option {
	return func(d *Daemon) { d.queueSize = n }
}

// WithWatchDebounce sets the delay between a file change and the reload.
func WithWatchDebounce(t time.Duration) Option {
	return func(d *Daemon) { d.debounce = t }
}

// NewDaemon creates a daemon that keeps its files in dataDir.
func NewDaemon(dataDir string, opts ...Option) *Daemon {
	d := &Daemon{
		dataDir:   dataDir,
		store:     macro.NewStore(filepath.Join(dataDir, macro.FileName)),
		logger:    slog.With("component", "daemon"),
		macros:    macro.Macros{},
		history:   notify.NewHistory(recentNotices),
		inject:    hotkey.NewChanSource(64),
		queueSize: DefaultQueueSize,
		debounce:  watcherDebounce,
	}
	d.chord, _ = hotkey.ParseChord(hotkey.DefaultChord)
	for _, opt := range opts {
		opt(d)
	}

	if d.vault == nil {
		d.vault = vault.New(dataDir, vault.WithAudit(d.audit))
	}
	if d.opener == nil {
		d.opener = browser.NewSystemOpener()
	}
	if d.login == nil {
		d.login = browser.NewChromeAutomator(browser.LoginOptions{})
	}
	if d.spawner == nil {
		d.spawner = spawn.NewShellSpawner(spawn.Config{})
	}
	notifiers := notify.Multi{d.history}
	if d.notifier != nil {
		notifiers = append(notifiers, d.notifier)
	} else {
		notifiers = append(notifiers, notify.NewLogNotifier(nil))
	}
	d.notifier = notifiers
	d.queue = make(chan job, d.queueSize)

	d.dispatcher = action.NewDispatcher(action.Deps{
		Credentials: d.vault,
		Opener:      d.opener,
		Login:       d.login,
		Spawner:     d.spawner,
		Notifier:    d.notifier,
		Audit:       d.audit,
	})
	d.controller = hotkey.NewController(hotkey.Config{
		Chord:        d.chord,
		Lookup:       d.lookup,
		Trigger:      d.onTrigger,
		MinInterval:  d.triggerRate,
		OnModeChange: d.onModeChange,
	})
	return d
}

// Start loads macros and credentials, then starts the key listener, the run
// worker and the file watcher. A missing or corrupt macro file is reported,
// never fatal. If Start fails the daemon is left stopped and may be started
// again.
func (d *Daemon) Start(ctx context.Context) (err error) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errors.New("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	defer func() {
		if err != nil {
			d.mu.Lock()
			d.started = false
			d.mu.Unlock()
		}
	}()

	if err := os.MkdirAll(d.dataDir, 0700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	m, loadErr := d.store.Load()
	if loadErr != nil {
		d.logger.Warn("macro file unreadable, starting with no macros", "path", d.store.Path(), "error", loadErr)
		d.notifier.Notify(notify.Notice{Level: notify.LevelError, Title: "macros not loaded", Message: loadErr.Error()})
	}
	d.mu.Lock()
	d.macros = m
	d.mu.Unlock()
	d.logger.Info("loaded macros", "count", len(m), "path", d.store.Path())

	if err := d.loadCredentials(); err != nil {
		return err
	}

	watcher, err := d.newWatcher()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := d.startKeys(ctx); err != nil {
		cancel()
		watcher.Close()
		return err
	}
	d.cancel = cancel

	d.wg.Add(2)
	go d.runWorker(ctx)
	go func() {
		defer d.wg.Done()
		d.watch(ctx, watcher)
	}()

	d.logger.Info("daemon started", "chord", d.chord.String(), "data_dir", d.dataDir)
	return nil
}

func (d *Daemon) startKeys(ctx context.Context) error {
	if d.device != nil {
		err := d.controller.Start(ctx, hotkey.NewMultiSource(d.device, d.inject))
		if err == nil {
			return nil
		}
		d.logger.Warn("hardware key source unavailable, accepting injected keys only", "error", err)
	}
	return d.controller.Start(ctx, d.inject)
}

func (d *Daemon) loadCredentials() error {
	res, err := d.vault.Load()
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}
	switch res.Status {
	case vault.LoadFellBack:
		d.logger.Warn("credential store could not be read, starting empty")
		d.notifier.Notify(notify.Notice{
			Level:   notify.LevelError,
			Title:   "credentials not loaded",
			Message: "the credential store could not be read; logins will open as plain pages",
		})
	default:
		d.logger.Info("loaded credentials", "count", len(res.Credentials), "status", res.Status.String())
	}
	return nil
}

// Stop cancels any running macro, releases a held login and waits for the
// background goroutines. Launched programs keep running.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	d.mu.Unlock()

	d.CancelRuns()
	d.ReleaseLogin()
	if err := d.controller.Stop(); err != nil {
		d.logger.Warn("stopping key source", "error", err)
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.logger.Info("daemon stopped")
}

// Macros returns a copy of the current macro snapshot.
func (d *Daemon) Macros() macro.Macros {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.macros.Clone()
}

// AddMacro binds actions to key and persists. An empty list removes the key.
// It returns the canonical key. Invalid keys are rejected before any change.
func (d *Daemon) AddMacro(key string, actions []string) (string, error) {
	k, err := macro.ValidateKey(key)
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	next := d.macros.Clone()
	if len(actions) == 0 {
		delete(next, k)
	} else {
		next[k] = append([]string(nil), actions...)
	}
	if err := d.store.Save(next); err != nil {
		return "", err
	}
	d.macros = next
	d.logger.Info("macro saved", "key", k, "actions", len(actions))
	return k, nil
}

// DeleteMacro removes key and persists. It reports whether the key existed.
func (d *Daemon) DeleteMacro(key string) (bool, error) {
	k, err := macro.ValidateKey(key)
	if err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.macros[k]; !ok {
		return false, nil
	}
	next := d.macros.Clone()
	delete(next, k)
	if err := d.store.Save(next); err != nil {
		return false, err
	}
	d.macros = next
	d.logger.Info("macro removed", "key", k)
	return true, nil
}

// ReloadMacros re-reads the macro file. A file that fails to parse leaves
// the current snapshot in place.
func (d *Daemon) ReloadMacros() error {
	m, err := d.store.Load()
	if err != nil {
		d.notifier.Notify(notify.Notice{Level: notify.LevelError, Title: "macro reload failed", Message: err.Error()})
		return err
	}
	d.mu.Lock()
	d.macros = m
	d.mu.Unlock()
	d.logger.Info("reloaded macros", "count", len(m))
	return nil
}

func (d *Daemon) lookup(key string) ([]string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.macros[key]
	return a, ok && len(a) > 0
}

// Mode returns the hotkey mode.
func (d *Daemon) Mode() hotkey.Mode {
	return d.controller.Mode()
}

// ToggleMode flips the hotkey mode.
func (d *Daemon) ToggleMode() hotkey.Mode {
	return d.controller.Toggle()
}

// Chord returns the configured toggle chord.
func (d *Daemon) Chord() hotkey.Chord {
	return d.chord
}

// Press injects a key press as if it came from the keyboard. It goes through
// the same mode and throttle checks as hardware keys.
func (d *Daemon) Press(key string) error {
	if !d.running() {
		return ErrNotRunning
	}
	k, err := macro.ValidateKey(key)
	if err != nil {
		return err
	}
	return d.inject.Press(hotkey.Key(k))
}

func (d *Daemon) onModeChange(m hotkey.Mode) {
	d.notifier.Notify(notify.Notice{Level: notify.LevelInfo, Title: "hotkeys " + m.String()})
}

func (d *Daemon) onTrigger(key string, actions []string) {
	if err := d.enqueue(job{key: key, actions: actions, trigger: "hotkey"}); err != nil {
		d.notifier.Notify(notify.Notice{Level: notify.LevelError, Title: "macro dropped", Message: err.Error(), Key: key})
	}
}

// Fire queues the macro bound to key regardless of mode. The returned
// channel receives the report when the run finishes.
func (d *Daemon) Fire(key, trigger string) (<-chan action.Report, error) {
	if !d.running() {
		return nil, ErrNotRunning
	}
	k, err := macro.ValidateKey(key)
	if err != nil {
		return nil, err
	}
	actions, ok := d.lookup(k)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMacro, k)
	}
	done := make(chan action.Report, 1)
	if err := d.enqueue(job{key: k, actions: actions, trigger: trigger, done: done}); err != nil {
		return nil, err
	}
	return done, nil
}

func (d *Daemon) enqueue(j job) error {
	d.runMu.Lock()
	j.gen = d.cancelGen
	d.runMu.Unlock()

	select {
	case d.queue <- j:
		d.logger.Debug("macro queued", "key", j.key, "trigger", j.trigger)
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Daemon) running() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.started
}

// ReleaseLogin ends a held login session. It reports whether one was held.
func (d *Daemon) ReleaseLogin() bool {
	if r, ok := d.login.(Releaser); ok {
		return r.Release()
	}
	return false
}

// Runs returns recent run reports, oldest first.
func (d *Daemon) Runs() []action.Report {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]action.Report(nil), d.reports...)
}

// Notices returns recent operator notices, oldest first.
func (d *Daemon) Notices() []notify.Notice {
	return d.history.Recent()
}

// Launch is a launched program with its recent output.
type Launch struct {
	spawn.Info
	Output []string `json:"output,omitempty"`
}

// Launches returns recently launched programs with up to lines of output each.
func (d *Daemon) Launches(lines int) []Launch {
	handles := d.spawner.Recent()
	out := make([]Launch, 0, len(handles))
	for _, h := range handles {
		out = append(out, Launch{Info: h.Info(), Output: h.Output(lines)})
	}
	return out
}

// TerminateLaunch signals a recently launched program (and its process group)
// to exit and waits briefly for it. The returned info reflects the state
// after the wait; Running is still true if the program ignored the signal.
func (d *Daemon) TerminateLaunch(ctx context.Context, pid int) (spawn.Info, error) {
	var h *spawn.Handle
	for _, r := range d.spawner.Recent() {
		if r.Info().PID == pid {
			h = r
		}
	}
	if h == nil {
		return spawn.Info{}, fmt.Errorf("%w: %d", ErrUnknownLaunch, pid)
	}
	if err := h.Terminate(); err != nil {
		return h.Info(), fmt.Errorf("terminating %d: %w", pid, err)
	}

	timer := time.NewTimer(terminateWait)
	defer timer.Stop()
	select {
	case <-h.Done():
		d.logger.Info("launch terminated", "pid", pid, "command", h.Info().Command)
	case <-timer.C:
		d.logger.Warn("launch still running after terminate", "pid", pid)
	case <-ctx.Done():
	}
	return h.Info(), nil
}

// Status is a summary of daemon state.
type Status struct {
	Mode        string `json:"mode"`
	Chord       string `json:"chord"`
	Macros      int    `json:"macros"`
	Credentials int    `json:"credentials"`
	Queued      int    `json:"queued"`
	Running     bool   `json:"running"`
	LoginHeld   bool   `json:"login_held"`
}

type activeChecker interface {
	Active() bool
}

// Status returns a summary of daemon state.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	n := len(d.macros)
	d.mu.RUnlock()

	d.runMu.Lock()
	running := d.runCancel != nil
	d.runMu.Unlock()

	s := Status{
		Mode:        d.Mode().String(),
		Chord:       d.chord.String(),
		Macros:      n,
		Credentials: len(d.vault.Sites()),
		Queued:      len(d.queue),
		Running:     running,
	}
	if a, ok := d.login.(activeChecker); ok {
		s.LoginHeld = a.Active()
	}
	return s
}
