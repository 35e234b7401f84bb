// Package browser opens URLs and drives automated web logins.
package browser

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/pkg/browser"
)

// SystemOpener opens URLs in the operator's default browser.
type SystemOpener struct {
	logger *slog.Logger
	open   func(string) error
}

// NewSystemOpener returns an opener backed by the platform URL handler.
func NewSystemOpener() *SystemOpener {
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
	return &SystemOpener{
		logger: slog.With("component", "browser"),
		open:   browser.OpenURL,
	}
}

// Open hands url to the default browser without waiting for it.
func (o *SystemOpener) Open(url string) error {
	if err := o.open(url); err != nil {
		return fmt.Errorf("opening %s: %w", url, err)
	}
	o.logger.Info("opened url", "url", url)
	return nil
}
