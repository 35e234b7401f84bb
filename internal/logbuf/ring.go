// Package logbuf captures the recent output of launched programs.
package logbuf

import (
	"bytes"
	"strings"
	"sync"
	"time"
)

// Line is one captured line of output.
type Line struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// Ring keeps the last N lines written to it. It implements io.Writer so it can
// be wired to a process's stdout and stderr; writes from both are serialized.
type Ring struct {
	mu      sync.Mutex
	lines   []Line
	next    int
	count   int
	partial bytes.Buffer
	now     func() time.Time
}

// New creates a ring that keeps the last n lines. n < 1 is treated as 1.
func New(n int) *Ring {
	if n < 1 {
		n = 1
	}
	return &Ring{lines: make([]Line, n), now: time.Now}
}

// Write splits p on newlines. A trailing fragment is held until its newline
// arrives or Flush is called.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.partial.Write(p)
	for {
		i := bytes.IndexByte(r.partial.Bytes(), '\n')
		if i < 0 {
			break
		}
		text := string(r.partial.Next(i + 1))
		r.push(strings.TrimRight(text, "\r\n"))
	}
	if r.partial.Len() == 0 {
		r.partial.Reset()
	}
	return len(p), nil
}

// Flush stores any held fragment as a line.
func (r *Ring) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.partial.Len() > 0 {
		r.push(r.partial.String())
		r.partial.Reset()
	}
}

func (r *Ring) push(text string) {
	r.lines[r.next] = Line{At: r.now(), Text: text}
	r.next = (r.next + 1) % len(r.lines)
	if r.count < len(r.lines) {
		r.count++
	}
}

// Tail returns up to n of the most recent lines, oldest first.
// n <= 0 returns everything held.
func (r *Ring) Tail(n int) []Line {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]Line, n)
	start := (r.next - n + len(r.lines)) % len(r.lines)
	for i := 0; i < n; i++ {
		out[i] = r.lines[(start+i)%len(r.lines)]
	}
	return out
}

// Text returns up to n of the most recent lines as plain strings.
func (r *Ring) Text(n int) []string {
	lines := r.Tail(n)
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}

// Len returns the number of lines held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
