package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benaskins/hotmacro/internal/audit"
	"github.com/benaskins/hotmacro/internal/notify"
	"github.com/benaskins/hotmacro/internal/spawn"
	"github.com/benaskins/hotmacro/internal/vault"
	"github.com/google/uuid"
)

// Credentials looks up a stored login by exact site key.
type Credentials interface {
	Get(site string) (vault.Entry, bool)
}

// Opener hands a URL to the system's default handler.
type Opener interface {
	Open(url string) error
}

// LoginAutomator drives a browser through a login. Login blocks until the
// session is released by the operator or fails.
type LoginAutomator interface {
	Login(ctx context.Context, url, username, password string) error
}

// Status is the result of one action in a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// DispatchError reports an action that could not be launched or automated.
type DispatchError struct {
	Action string
	Kind   Kind
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Kind, e.Action, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Outcome is the result of executing one action.
type Outcome struct {
	Action   string        `json:"action"`
	Kind     Kind          `json:"kind"`
	Target   string        `json:"target"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	PID      int           `json:"pid,omitempty"`
	Duration time.Duration `json:"duration"`

	err error
}

// Err returns the *DispatchError for a failed outcome, or nil.
func (o Outcome) Err() error { return o.err }

// Report summarizes one macro run.
type Report struct {
	RunID     string    `json:"run_id"`
	Key       string    `json:"key"`
	StartedAt time.Time `json:"started_at"`
	Outcomes  []Outcome `json:"outcomes"`
	Cancelled bool      `json:"cancelled,omitempty"`
}

// Count returns how many outcomes have the given status.
func (r Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Deps are the collaborators a Dispatcher calls out to. Credentials, Login,
// Notifier and Audit are optional.
type Deps struct {
	Credentials Credentials
	Opener      Opener
	Login       LoginAutomator
	Spawner     spawn.Spawner
	Notifier    notify.Notifier
	Audit       *audit.Logger
}

// Dispatcher executes actions. It is the only component that reads both the
// macro list and the credential vault.
type Dispatcher struct {
	deps   Deps
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(deps Deps) *Dispatcher {
	return &Dispatcher{
		deps:   deps,
		logger: slog.With("component", "dispatch"),
	}
}

// ExecuteMacro runs actions strictly in order. A failing action is reported
// and the list continues. ctx is checked between actions; once it is done the
// remaining actions are marked skipped.
func (d *Dispatcher) ExecuteMacro(ctx context.Context, key string, actions []string) Report {
	r := Report{
		RunID:     uuid.NewString(),
		Key:       key,
		StartedAt: time.Now(),
		Outcomes:  make([]Outcome, 0, len(actions)),
	}
	logger := d.logger.With("key", key, "run_id", r.RunID)
	logger.Info("macro started", "actions", len(actions))

	for i, a := range actions {
		if ctx.Err() != nil {
			r.Cancelled = true
			for _, rest := range actions[i:] {
				c := Classify(rest)
				r.Outcomes = append(r.Outcomes, Outcome{Action: rest, Kind: c.Kind, Target: c.Target, Status: StatusSkipped})
			}
			logger.Warn("macro cancelled", "skipped", len(actions)-i)
			break
		}

		o := d.execute(ctx, a, r.RunID)
		r.Outcomes = append(r.Outcomes, o)
		if o.Status == StatusFailed {
			logger.Warn("action failed", "index", i, "kind", o.Kind, "error", o.Error)
			d.notify(notify.Notice{
				Level:   notify.LevelError,
				Title:   fmt.Sprintf("%s failed", o.Kind),
				Message: o.Error,
				Key:     key,
				RunID:   r.RunID,
			})
		}
	}

	failed := r.Count(StatusFailed)
	entry := audit.Entry{Action: audit.ActionMacroRun, Key: key, RunID: r.RunID, Trigger: TriggerFrom(ctx)}
	if failed > 0 {
		entry.Error = fmt.Sprintf("%d of %d actions failed", failed, len(actions))
	}
	if err := d.deps.Audit.Log(entry); err != nil {
		logger.Warn("audit log write failed", "error", err)
	}

	logger.Info("macro finished",
		"succeeded", r.Count(StatusSucceeded),
		"failed", failed,
		"skipped", r.Count(StatusSkipped))
	return r
}

type triggerKey struct{}

// WithTrigger records what started a run ("hotkey", "api", "cli") for the
// audit log.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

// TriggerFrom returns the trigger stored by WithTrigger, or "hotkey".
func TriggerFrom(ctx context.Context) string {
	if t, ok := ctx.Value(triggerKey{}).(string); ok && t != "" {
		return t
	}
	return "hotkey"
}

// Execute runs a single action.
func (d *Dispatcher) Execute(ctx context.Context, action string) Outcome {
	return d.execute(ctx, action, "")
}

func (d *Dispatcher) execute(ctx context.Context, action, runID string) (o Outcome) {
	c := Classify(action)
	o = Outcome{Action: action, Kind: c.Kind, Target: c.Target}
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			o.Status = StatusFailed
			o.err = &DispatchError{Action: action, Kind: o.Kind, Err: fmt.Errorf("panic: %v", p)}
			o.Error = o.err.Error()
			d.logger.Error("action panicked", "action", action, "panic", p)
		}
		o.Duration = time.Since(start)
	}()

	var err error
	switch c.Kind {
	case KindWebURL:
		err = d.openWeb(ctx, &o, runID)
	default:
		err = d.launch(&o)
	}

	if err != nil {
		o.Status = StatusFailed
		o.err = &DispatchError{Action: action, Kind: o.Kind, Err: err}
		o.Error = o.err.Error()
		return o
	}
	o.Status = StatusSucceeded
	return o
}

func (d *Dispatcher) openWeb(ctx context.Context, o *Outcome, runID string) error {
	if d.deps.Credentials != nil && d.deps.Login != nil {
		if cred, ok := d.deps.Credentials.Get(o.Target); ok {
			o.Kind = KindAutomatedLogin
			d.logger.Info("automating login", "url", o.Target, "run_id", runID)

			err := d.deps.Login.Login(ctx, o.Target, cred.Username, cred.Password)

			entry := audit.Entry{Action: audit.ActionLogin, Key: o.Target, RunID: runID}
			if err != nil {
				entry.Error = err.Error()
			}
			if aerr := d.deps.Audit.Log(entry); aerr != nil {
				d.logger.Warn("audit log write failed", "error", aerr)
			}
			return err
		}
	}

	if d.deps.Opener == nil {
		return errors.New("no URL opener configured")
	}
	return d.deps.Opener.Open(o.Target)
}

func (d *Dispatcher) launch(o *Outcome) error {
	if d.deps.Spawner == nil {
		return errors.New("no process spawner configured")
	}
	h, err := d.deps.Spawner.Spawn(o.Target)
	if err != nil {
		return err
	}
	if h != nil {
		o.PID = h.Info().PID
	}
	return nil
}

func (d *Dispatcher) notify(n notify.Notice) {
	if d.deps.Notifier == nil {
		return
	}
	d.deps.Notifier.Notify(n)
}
