package testutil

import (
	"sync"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
)

// SinkEvents collects published progress events for assertions.
type SinkEvents struct {
	mu     sync.Mutex
	events []sentinel.ProgressEvent
}

func (s *SinkEvents) Publish(ev sentinel.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a copy of everything published so far.
func (s *SinkEvents) Events() []sentinel.ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentinel.ProgressEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Last returns the most recent event and whether one exists.
func (s *SinkEvents) Last() (sentinel.ProgressEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return sentinel.ProgressEvent{}, false
	}
	return s.events[len(s.events)-1], true
}

// SinkHistory collects history append requests for assertions.
type SinkHistory struct {
	mu      sync.Mutex
	appends []sentinel.HistoryAppend
}

func (s *SinkHistory) Record(a sentinel.HistoryAppend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends = append(s.appends, a)
}

// Appends returns a copy of everything recorded so far.
func (s *SinkHistory) Appends() []sentinel.HistoryAppend {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentinel.HistoryAppend, len(s.appends))
	copy(out, s.appends)
	return out
}
