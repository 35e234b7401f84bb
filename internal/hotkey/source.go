package hotkey

import (
	"errors"
	"sync"
)

var (
	// ErrSourceStopped is returned by Send after the source has stopped.
	ErrSourceStopped = errors.New("hotkey: source stopped")
	// ErrSourceFull is returned by Send when the buffer is full.
	ErrSourceFull = errors.New("hotkey: source buffer full")
)

// ChanSource is a Source fed programmatically. The daemon uses it for key
// presses injected through its API; tests use it to script events.
type ChanSource struct {
	mu      sync.Mutex
	ch      chan Event
	stopped bool
}

// NewChanSource creates a source with the given buffer size.
func NewChanSource(buf int) *ChanSource {
	return &ChanSource{ch: make(chan Event, buf)}
}

func (s *ChanSource) Start() (<-chan Event, error) {
	return s.ch, nil
}

// Send delivers an event without blocking.
func (s *ChanSource) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSourceStopped
	}
	select {
	case s.ch <- ev:
		return nil
	default:
		return ErrSourceFull
	}
}

// Press sends a Down then Up for key.
func (s *ChanSource) Press(key Key) error {
	if err := s.Send(Event{Key: key, Type: Down}); err != nil {
		return err
	}
	return s.Send(Event{Key: key, Type: Up})
}

func (s *ChanSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.ch)
	}
	return nil
}

// MultiSource merges several sources into one channel.
type MultiSource struct {
	sources []Source
	wg      sync.WaitGroup
}

// NewMultiSource combines sources. Start fails if any source fails to start.
func NewMultiSource(sources ...Source) *MultiSource {
	return &MultiSource{sources: sources}
}

func (m *MultiSource) Start() (<-chan Event, error) {
	out := make(chan Event, 64)
	var started []Source
	for _, s := range m.sources {
		ch, err := s.Start()
		if err != nil {
			for _, st := range started {
				st.Stop()
			}
			return nil, err
		}
		started = append(started, s)
		m.wg.Add(1)
		go func(ch <-chan Event) {
			defer m.wg.Done()
			for ev := range ch {
				out <- ev
			}
		}(ch)
	}
	go func() {
		m.wg.Wait()
		close(out)
	}()
	return out, nil
}

func (m *MultiSource) Stop() error {
	var errs []error
	for _, s := range m.sources {
		if err := s.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
