// Package action classifies and executes macro actions.
package action

import (
	"fmt"
	"strings"
)

// Kind is how an action string will be executed.
type Kind int

const (
	// KindLocalCommand runs the action as a program invocation.
	KindLocalCommand Kind = iota
	// KindWebURL opens the action in the default handler.
	KindWebURL
	// KindAutomatedLogin is a WebURL with stored credentials.
	KindAutomatedLogin
)

func (k Kind) String() string {
	switch k {
	case KindLocalCommand:
		return "command"
	case KindWebURL:
		return "url"
	case KindAutomatedLogin:
		return "login"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "command":
		*k = KindLocalCommand
	case "url":
		*k = KindWebURL
	case "login":
		*k = KindAutomatedLogin
	default:
		return fmt.Errorf("unknown action kind %q", b)
	}
	return nil
}

// Classified is an action with its kind and normalized target.
type Classified struct {
	Kind   Kind
	Target string
}

// Classify decides how an action is executed. It never returns
// KindAutomatedLogin; promotion happens at dispatch time against the vault.
//
//	http://x, https://x → WebURL, unchanged
//	www.x               → WebURL, "https://www.x"
//	anything else       → LocalCommand
func Classify(action string) Classified {
	a := strings.TrimSpace(action)
	switch {
	case strings.HasPrefix(a, "http://"), strings.HasPrefix(a, "https://"):
		return Classified{Kind: KindWebURL, Target: a}
	case strings.HasPrefix(a, "www."):
		return Classified{Kind: KindWebURL, Target: "https://" + a}
	default:
		return Classified{Kind: KindLocalCommand, Target: a}
	}
}

// SiteKey returns the vault key for a site as a macro would look it up.
// Non-URL input is returned trimmed.
func SiteKey(site string) string {
	return Classify(site).Target
}
