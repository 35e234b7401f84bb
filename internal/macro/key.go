package macro

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// NamedKeys are the non-printable keys that can trigger a macro.
var NamedKeys = map[string]bool{
	"space": true, "tab": true, "enter": true, "esc": true, "backspace": true,
	"insert": true, "delete": true, "home": true, "end": true,
	"pageup": true, "pagedown": true,
	"up": true, "down": true, "left": true, "right": true,
	"f1": true, "f2": true, "f3": true, "f4": true, "f5": true, "f6": true,
	"f7": true, "f8": true, "f9": true, "f10": true, "f11": true, "f12": true,
}

// ValidationError reports a malformed macro key.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid macro key %q: %s", e.Key, e.Reason)
}

// ValidateKey checks that key is exactly one printable symbol or a named key
// and returns its canonical form. Named keys are matched case-insensitively
// and returned lowercased; printable symbols are returned unchanged.
func ValidateKey(key string) (string, error) {
	if key == "" {
		return "", &ValidationError{Key: key, Reason: "must not be empty"}
	}

	if utf8.RuneCountInString(key) == 1 {
		r, _ := utf8.DecodeRuneInString(key)
		if r == utf8.RuneError {
			return "", &ValidationError{Key: key, Reason: "not valid UTF-8"}
		}
		if unicode.IsSpace(r) {
			return "", &ValidationError{Key: key, Reason: `whitespace must be named (e.g. "space")`}
		}
		if !unicode.IsGraphic(r) {
			return "", &ValidationError{Key: key, Reason: "not a printable symbol"}
		}
		return key, nil
	}

	name := strings.ToLower(key)
	if NamedKeys[name] {
		return name, nil
	}
	return "", &ValidationError{Key: key, Reason: "must be a single symbol or a named key"}
}
