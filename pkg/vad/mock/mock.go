// Package mock provides a scripted [vad.Detector] for unit tests.
//
// Tests enqueue the exact event sequence the detector should emit, one event
// per ProcessFrame call, which makes turn-controller transition tests fully
// deterministic regardless of frame content.
package mock

import (
	"sync"

	"github.com/parleo-ai/parleo/pkg/vad"
)

// Compile-time interface checks.
var (
	_ vad.Detector = (*Detector)(nil)
	_ vad.Session  = (*Session)(nil)
)

// Detector hands out a fixed [Session].
type Detector struct {
	// SessionResult is returned by NewSession. If nil, a fresh empty
	// Session is created per call.
	SessionResult *Session

	// NewSessionError is returned by NewSession when non-nil.
	NewSessionError error
}

// NewSession implements [vad.Detector].
func (d *Detector) NewSession(vad.Config) (vad.Session, error) {
	if d.NewSessionError != nil {
		return nil, d.NewSessionError
	}
	if d.SessionResult != nil {
		return d.SessionResult, nil
	}
	return &Session{}, nil
}

// Session replays a scripted event sequence.
type Session struct {
	mu     sync.Mutex
	script []vad.Event

	// CallCountReset records how many times Reset was called.
	CallCountReset int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Frames records every frame passed to ProcessFrame.
	Frames [][]byte
}

// Enqueue appends events to the script. Each ProcessFrame call consumes one;
// when the script is exhausted, Silence is returned.
func (s *Session) Enqueue(events ...vad.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, events...)
}

// ProcessFrame implements [vad.Session].
func (s *Session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.Frames = append(s.Frames, cp)

	if len(s.script) == 0 {
		return vad.Event{Type: vad.Silence}, nil
	}
	evt := s.script[0]
	s.script = s.script[1:]
	return evt, nil
}

// FrameCount returns how many frames were processed.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames)
}

// Reset implements [vad.Session].
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountReset++
}

// Close implements [vad.Session].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}
