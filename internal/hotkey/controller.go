package hotkey

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Mode is the controller's armed state.
type Mode int

const (
	Disarmed Mode = iota
	Armed
)

func (m Mode) String() string {
	if m == Armed {
		return "armed"
	}
	return "disarmed"
}

// Source delivers key events from some input device.
type Source interface {
	// Start begins capturing and returns the event channel. The channel is
	// closed when the source stops.
	Start() (<-chan Event, error)
	Stop() error
}

// Lookup returns the actions bound to a macro key in the current snapshot.
type Lookup func(key string) ([]string, bool)

// Trigger is called when an armed key press matches a macro. It runs on the
// event loop and must not block.
type Trigger func(key string, actions []string)

// Config configures a Controller.
type Config struct {
	Chord   Chord
	Lookup  Lookup
	Trigger Trigger
	// MinInterval is the shortest time between two firings of the same key.
	// Zero uses the default; negative disables throttling.
	MinInterval time.Duration
	// OnModeChange, if set, is called after every toggle (outside the lock).
	OnModeChange func(Mode)
}

const defaultMinInterval = 300 * time.Millisecond

// Controller owns the mode state machine. It is the single writer of the
// mode and the held-modifier set.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	mode     Mode
	held     map[Key]int
	limiters map[string]*rate.Limiter
	cancel   context.CancelFunc
	done     chan struct{}
	source   Source
}

// ErrRunning is returned by Start when the controller is already running.
var ErrRunning = errors.New("hotkey: controller already running")

// NewController creates a controller in the Disarmed state.
func NewController(cfg Config) *Controller {
	if cfg.MinInterval == 0 {
		cfg.MinInterval = defaultMinInterval
	}
	return &Controller{
		cfg:      cfg,
		logger:   slog.With("component", "hotkey"),
		held:     make(map[Key]int),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Start consumes events from src until ctx is done, Stop is called, or the
// source closes its channel. Modifier state left over from a previous source
// is discarded.
func (c *Controller) Start(ctx context.Context, src Source) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return ErrRunning
	}
	events, err := src.Start()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.source = src
	clear(c.held)
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	c.logger.Info("listening for hotkeys", "chord", c.cfg.Chord.String())

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				c.Handle(ev)
			}
		}
	}()
	return nil
}

// Stop ends event consumption and stops the source. The mode is kept.
func (c *Controller) Stop() error {
	c.mu.Lock()
	cancel, src, done := c.cancel, c.source, c.done
	c.cancel, c.source, c.done = nil, nil, nil
	clear(c.held)
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := src.Stop()
	<-done
	return err
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Toggle flips the mode, as if the chord had been pressed.
func (c *Controller) Toggle() Mode {
	c.mu.Lock()
	m := c.toggleLocked()
	c.mu.Unlock()
	c.modeChanged(m)
	return m
}

func (c *Controller) toggleLocked() Mode {
	if c.mode == Armed {
		c.mode = Disarmed
	} else {
		c.mode = Armed
	}
	return c.mode
}

func (c *Controller) modeChanged(m Mode) {
	c.logger.Info("mode changed", "mode", m.String())
	if c.cfg.OnModeChange != nil {
		c.cfg.OnModeChange(m)
	}
}

// Handle processes one key event.
func (c *Controller) Handle(ev Event) {
	switch ev.Type {
	case Up:
		if IsModifier(ev.Key) {
			c.mu.Lock()
			if c.held[ev.Key] > 0 {
				c.held[ev.Key]--
			}
			c.mu.Unlock()
		}
		return
	case Repeat:
		// Holding a key never re-toggles or re-fires.
		return
	}

	c.mu.Lock()
	if IsModifier(ev.Key) {
		c.held[ev.Key]++
		c.mu.Unlock()
		return
	}

	if ev.Key == c.cfg.Chord.Key && c.chordHeldLocked() {
		m := c.toggleLocked()
		c.mu.Unlock()
		c.modeChanged(m)
		return
	}

	if c.mode != Armed || c.anyHeldLocked() || c.cfg.Lookup == nil {
		c.mu.Unlock()
		return
	}
	key := string(ev.Key)
	actions, ok := c.cfg.Lookup(key)
	if !ok {
		c.mu.Unlock()
		return
	}
	if !c.allowLocked(key) {
		c.mu.Unlock()
		c.logger.Debug("macro throttled", "key", key)
		return
	}
	c.mu.Unlock()

	c.logger.Info("macro key pressed", "key", key, "actions", len(actions))
	if c.cfg.Trigger != nil {
		c.cfg.Trigger(key, actions)
	}
}

// Held returns the modifiers currently held down.
func (c *Controller) Held() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []Key
	for _, m := range []Key{KeyAlt, KeyCtrl, KeyShift, KeySuper} {
		if c.held[m] > 0 {
			keys = append(keys, m)
		}
	}
	return keys
}

func (c *Controller) chordHeldLocked() bool {
	if len(c.cfg.Chord.Modifiers) == 0 {
		return false
	}
	for _, m := range c.cfg.Chord.Modifiers {
		if c.held[m] == 0 {
			return false
		}
	}
	return true
}

func (c *Controller) anyHeldLocked() bool {
	for _, n := range c.held {
		if n > 0 {
			return true
		}
	}
	return false
}

func (c *Controller) allowLocked(key string) bool {
	if c.cfg.MinInterval < 0 {
		return true
	}
	l, ok := c.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(c.cfg.MinInterval), 1)
		c.limiters[key] = l
	}
	return l.Allow()
}
