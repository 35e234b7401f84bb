// Package hotkey turns raw key events into mode toggles and macro triggers.
//
// A chord (modifiers plus one key) flips the controller between Disarmed and
// Armed. While Armed, a single unmodified key press that names a macro fires
// it. Press and release arrive as separate events, so the controller tracks
// which modifiers are currently held rather than relying on combined events.
package hotkey

import (
	"fmt"
	"sort"
	"strings"
)

// Key is a canonical key name: a single lowercase symbol ("w", "1", ";"),
// a named key ("f5", "space") or a modifier ("ctrl", "alt", "shift", "super").
type Key string

const (
	KeyCtrl  Key = "ctrl"
	KeyAlt   Key = "alt"
	KeyShift Key = "shift"
	KeySuper Key = "super"
)

var modifierAliases = map[string]Key{
	"ctrl": KeyCtrl, "control": KeyCtrl,
	"alt": KeyAlt, "option": KeyAlt, "opt": KeyAlt,
	"shift": KeyShift,
	"super": KeySuper, "cmd": KeySuper, "command": KeySuper, "win": KeySuper, "meta": KeySuper,
}

// IsModifier reports whether k is one of the chord modifiers.
func IsModifier(k Key) bool {
	switch k {
	case KeyCtrl, KeyAlt, KeyShift, KeySuper:
		return true
	}
	return false
}

// EventType is the kind of key event.
type EventType int

const (
	Down EventType = iota
	Up
	Repeat
)

func (t EventType) String() string {
	switch t {
	case Down:
		return "down"
	case Up:
		return "up"
	case Repeat:
		return "repeat"
	default:
		return "unknown"
	}
}

// Event is one key transition from a Source.
type Event struct {
	Key  Key
	Type EventType
}

// Chord is a set of modifiers plus a final key.
type Chord struct {
	Modifiers []Key
	Key       Key
}

// DefaultChord is the toggle used when none is configured.
const DefaultChord = "ctrl+alt+m"

// ParseChord parses "ctrl+alt+m". At least one modifier is required, so
// ordinary typing can never toggle the mode.
func ParseChord(s string) (Chord, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	if len(parts) < 2 {
		return Chord{}, fmt.Errorf("chord %q: need at least one modifier and a key", s)
	}

	seen := make(map[Key]bool)
	var c Chord
	for _, p := range parts[:len(parts)-1] {
		m, ok := modifierAliases[strings.TrimSpace(p)]
		if !ok {
			return Chord{}, fmt.Errorf("chord %q: %q is not a modifier", s, p)
		}
		if !seen[m] {
			seen[m] = true
			c.Modifiers = append(c.Modifiers, m)
		}
	}
	sort.Slice(c.Modifiers, func(i, j int) bool { return c.Modifiers[i] < c.Modifiers[j] })

	last := Key(strings.TrimSpace(parts[len(parts)-1]))
	if last == "" {
		return Chord{}, fmt.Errorf("chord %q: missing key", s)
	}
	if _, isMod := modifierAliases[string(last)]; isMod {
		return Chord{}, fmt.Errorf("chord %q: final key must not be a modifier", s)
	}
	c.Key = last
	return c, nil
}

func (c Chord) String() string {
	parts := make([]string, 0, len(c.Modifiers)+1)
	for _, m := range c.Modifiers {
		parts = append(parts, string(m))
	}
	return strings.Join(append(parts, string(c.Key)), "+")
}
