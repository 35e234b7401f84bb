//go:build linux

package hotkey

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	evKey = 0x01

	keyReleased = 0
	keyPressed  = 1
	keyRepeat   = 2
)

// struct input_event is a timeval followed by type, code and value.
var eventSize = int(unsafe.Sizeof(unix.Timeval{})) + 8

// EvdevSource reads key events from a Linux input device. It only observes
// the device; events still reach other applications.
type EvdevSource struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	device  *os.File
	events  chan Event
	stopped chan struct{}
}

// NewEvdevSource creates a source for path. An empty path auto-detects the
// first keyboard.
func NewEvdevSource(path string) *EvdevSource {
	return &EvdevSource{
		path:   path,
		logger: slog.With("component", "hotkey.evdev"),
	}
}

func (s *EvdevSource) Start() (<-chan Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device != nil {
		return nil, ErrRunning
	}

	path := s.path
	if path == "" {
		var err error
		path, err = FindKeyboardDevice()
		if err != nil {
			return nil, fmt.Errorf("finding keyboard device: %w", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("opening %s: %w (add the user to the 'input' group)", path, err)
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	s.device = f
	s.events = make(chan Event, 100)
	s.stopped = make(chan struct{})
	s.logger.Info("reading key events", "device", path)

	go s.read(f, s.events, s.stopped)
	return s.events, nil
}

func (s *EvdevSource) read(f *os.File, out chan<- Event, stopped <-chan struct{}) {
	defer close(out)
	buf := make([]byte, eventSize)
	off := eventSize - 8
	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			select {
			case <-stopped:
			default:
				s.logger.Warn("key device read failed", "error", err)
			}
			return
		}

		if binary.LittleEndian.Uint16(buf[off:off+2]) != evKey {
			continue
		}
		code := binary.LittleEndian.Uint16(buf[off+2 : off+4])
		value := int32(binary.LittleEndian.Uint32(buf[off+4 : off+8]))

		key, ok := evdevKeys[code]
		if !ok {
			continue
		}
		var typ EventType
		switch value {
		case keyPressed:
			typ = Down
		case keyReleased:
			typ = Up
		case keyRepeat:
			typ = Repeat
		default:
			continue
		}

		select {
		case out <- Event{Key: key, Type: typ}:
		case <-stopped:
			return
		}
	}
}

func (s *EvdevSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return nil
	}
	close(s.stopped)
	err := s.device.Close()
	s.device = nil
	return err
}

// FindKeyboardDevice returns the first keyboard event device, checking
// /dev/input/by-id before /proc/bus/input/devices.
func FindKeyboardDevice() (string, error) {
	const byID = "/dev/input/by-id"
	if entries, err := os.ReadDir(byID); err == nil {
		for _, e := range entries {
			name := e.Name()
			if strings.HasSuffix(name, "-event-kbd") {
				return filepath.Join(byID, name), nil
			}
		}
	}

	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return "", err
	}
	defer f.Close()
	return parseInputDevices(f)
}

// parseInputDevices scans the /proc/bus/input/devices format for a device
// whose handlers include "kbd" and returns its event node.
func parseInputDevices(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "H: Handlers=") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "H: Handlers="))
		kbd, event := false, ""
		for _, f := range fields {
			if f == "kbd" {
				kbd = true
			}
			if strings.HasPrefix(f, "event") {
				event = f
			}
		}
		if kbd && event != "" {
			return "/dev/input/" + event, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", errors.New("no keyboard device found")
}

// evdevKeys maps input-event-codes.h key codes to key names.
var evdevKeys = map[uint16]Key{
	1: "esc", 14: "backspace", 15: "tab", 28: "enter", 57: "space",
	2: "1", 3: "2", 4: "3", 5: "4", 6: "5", 7: "6", 8: "7", 9: "8", 10: "9", 11: "0",
	12: "-", 13: "=", 26: "[", 27: "]", 39: ";", 40: "'", 41: "`", 43: "\\",
	51: ",", 52: ".", 53: "/",
	16: "q", 17: "w", 18: "e", 19: "r", 20: "t", 21: "y", 22: "u", 23: "i", 24: "o", 25: "p",
	30: "a", 31: "s", 32: "d", 33: "f", 34: "g", 35: "h", 36: "j", 37: "k", 38: "l",
	44: "z", 45: "x", 46: "c", 47: "v", 48: "b", 49: "n", 50: "m",
	59: "f1", 60: "f2", 61: "f3", 62: "f4", 63: "f5", 64: "f6",
	65: "f7", 66: "f8", 67: "f9", 68: "f10", 87: "f11", 88: "f12",
	102: "home", 103: "up", 104: "pageup", 105: "left", 106: "right",
	107: "end", 108: "down", 109: "pagedown", 110: "insert", 111: "delete",
	29: KeyCtrl, 97: KeyCtrl,
	42: KeyShift, 54: KeyShift,
	56: KeyAlt, 100: KeyAlt,
	125: KeySuper, 126: KeySuper,
}
