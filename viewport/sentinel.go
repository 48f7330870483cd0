package viewport

import (
	"sync"

	"github.com/c360/catalogstream/errors"
)

// Sentinel is a visibility probe for the end-of-list marker. Observe starts
// watching and invokes visible every time the marker enters the viewport;
// the returned stop function tears the watch down. Implementations bridge
// to whatever surface hosts the list (a UI intersection observer, a
// scroll-position poller, a test driver).
type Sentinel interface {
	Observe(visible func()) (stop func(), err error)
}

// SentinelFunc adapts a function to the Sentinel interface
type SentinelFunc func(visible func()) (stop func(), err error)

// Observe implements Sentinel
func (f SentinelFunc) Observe(visible func()) (func(), error) {
	return f(visible)
}

// ManualSentinel is a sentinel driven by explicit Notify calls. The
// embedding surface (or a test) calls Notify whenever the marker scrolls
// into view.
type ManualSentinel struct {
	mu      sync.Mutex
	visible func()
}

// NewManualSentinel creates an unobserved manual sentinel
func NewManualSentinel() *ManualSentinel {
	return &ManualSentinel{}
}

// Observe implements Sentinel. Only one observer at a time is supported.
func (s *ManualSentinel) Observe(visible func()) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visible != nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "ManualSentinel", "Observe",
			"sentinel already observed")
	}
	s.visible = visible
	return func() {
		s.mu.Lock()
		s.visible = nil
		s.mu.Unlock()
	}, nil
}

// Notify reports that the marker entered the viewport. A notify with no
// active observer is dropped.
func (s *ManualSentinel) Notify() {
	s.mu.Lock()
	visible := s.visible
	s.mu.Unlock()
	if visible != nil {
		visible()
	}
}
