//go:build !linux

package hotkey

import (
	"errors"
	"runtime"
)

// EvdevSource is only available on Linux. Elsewhere, keys are injected
// through the daemon API.
type EvdevSource struct{}

func NewEvdevSource(path string) *EvdevSource { return &EvdevSource{} }

func (s *EvdevSource) Start() (<-chan Event, error) {
	return nil, errors.New("hotkey: global key capture is not supported on " + runtime.GOOS)
}

func (s *EvdevSource) Stop() error { return nil }

// FindKeyboardDevice is only meaningful on Linux.
func FindKeyboardDevice() (string, error) {
	return "", errors.New("hotkey: no input devices on " + runtime.GOOS)
}
