package macro

import (
	"errors"
	"testing"
)

func TestValidateKeyAccepts(t *testing.T) {
	cases := map[string]string{
		"w":     "w",
		"W":     "W",
		"1":     "1",
		";":     ";",
		"é":     "é",
		"F5":    "f5",
		"space": "space",
		"Esc":   "esc",
	}
	for in, want := range cases {
		got, err := ValidateKey(in)
		if err != nil {
			t.Errorf("ValidateKey(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ValidateKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateKeyRejects(t *testing.T) {
	for _, in := range []string{"", "ab", "ctrl+w", " ", "\t", "\x00", "f13", "\xff"} {
		_, err := ValidateKey(in)
		if err == nil {
			t.Errorf("ValidateKey(%q): expected error", in)
			continue
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("ValidateKey(%q): expected *ValidationError, got %T", in, err)
		}
	}
}
