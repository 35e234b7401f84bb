// Package notify delivers operator-facing notices about macro runs.
//
// Notifiers never block the dispatch path: the terminal notifier queues
// and drops when its queue is full.
package notify

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Level is the severity of a notice.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notice is one message for the operator.
type Notice struct {
	At      time.Time `json:"at"`
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Key     string    `json:"key,omitempty"`
	RunID   string    `json:"run_id,omitempty"`
}

// Notifier receives notices.
type Notifier interface {
	Notify(n Notice)
}

// Multi fans a notice out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(n Notice) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	for _, x := range m {
		x.Notify(n)
	}
}

// LogNotifier writes notices to a slog logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs with the given logger (nil for default).
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.With("component", "notify")
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(n Notice) {
	attrs := []any{"title", n.Title, "message", n.Message}
	if n.Key != "" {
		attrs = append(attrs, "key", n.Key)
	}
	if n.RunID != "" {
		attrs = append(attrs, "run_id", n.RunID)
	}
	if n.Level == LevelError {
		l.logger.Error("operator notice", attrs...)
		return
	}
	l.logger.Info("operator notice", attrs...)
}

var (
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#DC3545"))
	infoStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#28A745"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#007ACC"))
	timeStyle  = lipgloss.NewStyle().Faint(true)
)

// TerminalNotifier prints styled notices to a writer from a background goroutine.
type TerminalNotifier struct {
	w     io.Writer
	queue chan Notice
	done  chan struct{}
	once  sync.Once

	mu      sync.Mutex
	dropped int
}

// NewTerminalNotifier starts a notifier writing to w with a queue of size depth.
func NewTerminalNotifier(w io.Writer, depth int) *TerminalNotifier {
	if depth <= 0 {
		depth = 32
	}
	t := &TerminalNotifier{
		w:     w,
		queue: make(chan Notice, depth),
		done:  make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *TerminalNotifier) Notify(n Notice) {
	select {
	case t.queue <- n:
	default:
		t.mu.Lock()
		t.dropped++
		t.mu.Unlock()
	}
}

// Dropped returns how many notices were discarded because the queue was full.
func (t *TerminalNotifier) Dropped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Close drains the queue and stops the writer goroutine.
func (t *TerminalNotifier) Close() {
	t.once.Do(func() {
		close(t.queue)
		<-t.done
	})
}

func (t *TerminalNotifier) run() {
	defer close(t.done)
	for n := range t.queue {
		fmt.Fprintln(t.w, Format(n))
	}
}

// Format renders a notice as one styled terminal line.
func Format(n Notice) string {
	at := n.At
	if at.IsZero() {
		at = time.Now()
	}
	style := infoStyle
	if n.Level == LevelError {
		style = errorStyle
	}
	line := timeStyle.Render(at.Format("15:04:05")) + " " + style.Render(n.Title)
	if n.Key != "" {
		line += " " + keyStyle.Render("["+n.Key+"]")
	}
	if n.Message != "" {
		line += " " + n.Message
	}
	return line
}

// History keeps the most recent notices for the presentation layer to poll.
type History struct {
	mu      sync.Mutex
	size    int
	notices []Notice
}

// NewHistory keeps the last size notices.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 100
	}
	return &History{size: size}
}

func (h *History) Notify(n Notice) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notices = append(h.notices, n)
	if len(h.notices) > h.size {
		h.notices = h.notices[len(h.notices)-h.size:]
	}
}

// Recent returns held notices, oldest first.
func (h *History) Recent() []Notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Notice(nil), h.notices...)
}
