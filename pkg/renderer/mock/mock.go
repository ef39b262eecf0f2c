// Package mock provides an in-memory [renderer.Session] for unit tests.
//
// The mock records every call so tests can assert that the delegated
// playback backend speaks exactly once per turn and interrupts
// synchronously on barge-in.
package mock

import (
	"context"
	"sync"

	"github.com/parleo-ai/parleo/pkg/renderer"
)

// Compile-time interface check.
var _ renderer.Session = (*Session)(nil)

// Session is a mock [renderer.Session]. Set the *Error fields to force
// failures; inspect the recorded fields after the test.
type Session struct {
	mu sync.Mutex

	// StartError, RepeatError, InterruptError are returned by their methods
	// when non-nil.
	StartError     error
	RepeatError    error
	InterruptError error

	// Repeated holds every text passed to Repeat, in order.
	Repeated []string

	// CallCountStart, CallCountInterrupt, CallCountStop record call counts.
	CallCountStart     int
	CallCountInterrupt int
	CallCountStop      int

	// Attached holds every sink id passed to Attach.
	Attached []string

	utteranceEnd func()
}

// FinishUtterance simulates the avatar completing its current utterance,
// firing the callback registered via OnUtteranceEnd.
func (s *Session) FinishUtterance() {
	s.mu.Lock()
	cb := s.utteranceEnd
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// OnUtteranceEnd implements [renderer.Session].
func (s *Session) OnUtteranceEnd(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utteranceEnd = cb
}

// Start implements [renderer.Session].
func (s *Session) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	return s.StartError
}

// Attach implements [renderer.Session].
func (s *Session) Attach(sink renderer.VideoSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sink != nil {
		s.Attached = append(s.Attached, sink.ID())
	}
	return nil
}

// Repeat implements [renderer.Session].
func (s *Session) Repeat(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RepeatError != nil {
		return s.RepeatError
	}
	s.Repeated = append(s.Repeated, text)
	return nil
}

// Interrupt implements [renderer.Session].
func (s *Session) Interrupt(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountInterrupt++
	return s.InterruptError
}

// Stop implements [renderer.Session].
func (s *Session) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	return nil
}
