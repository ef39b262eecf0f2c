// Package mock provides in-memory mock implementations of the
// [audio.Source], [audio.SourceOpener], and [audio.Sink] interfaces for use
// in unit tests.
//
// All mocks are safe for concurrent use. They record method calls so tests
// can assert on call counts, and expose exported fields the test can set to
// control behaviour.
//
// Typical usage:
//
//	src := mock.NewSource()
//	opener := &mock.Opener{OpenResult: src}
//	src.Push(mock.SilenceFrame(640))
//	src.Push(mock.ToneFrame(640, 12000))
package mock

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/parleo-ai/parleo/pkg/audio"
)

// Compile-time interface checks.
var (
	_ audio.Source       = (*Source)(nil)
	_ audio.SourceOpener = (*Opener)(nil)
	_ audio.Sink         = (*Sink)(nil)
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source] fed by the test via [Source.Push].
type Source struct {
	mu     sync.Mutex
	frames chan audio.Frame
	closed bool

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewSource creates a mock source with a generous buffer so tests can push
// scripted frames without a consumer running yet.
func NewSource() *Source {
	return &Source{frames: make(chan audio.Frame, 256)}
}

// Push delivers a frame to the consumer. Push after Close is a no-op.
func (s *Source) Push(frame audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frames <- frame
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Close implements [audio.Source]. Idempotent: only the first call closes
// the frame channel.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// ─── Opener ───────────────────────────────────────────────────────────────────

// Opener is a mock [audio.SourceOpener].
type Opener struct {
	mu sync.Mutex

	// OpenResult is returned by OpenSource. If nil and OpenError is nil, a
	// fresh [Source] is created per call.
	OpenResult audio.Source

	// OpenError is returned by OpenSource when non-nil, modelling a device
	// acquisition failure.
	OpenError error

	// CallCountOpen records how many times OpenSource was called.
	CallCountOpen int

	// LastConfig records the config of the most recent OpenSource call.
	LastConfig audio.CaptureConfig
}

// OpenSource implements [audio.SourceOpener].
func (o *Opener) OpenSource(_ context.Context, cfg audio.CaptureConfig) (audio.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountOpen++
	o.LastConfig = cfg
	if o.OpenError != nil {
		return nil, o.OpenError
	}
	if o.OpenResult != nil {
		return o.OpenResult, nil
	}
	return NewSource(), nil
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock [audio.Sink]. By default chunks "play" instantly: done fires
// synchronously inside Play. Set Manual to true to hold completion until the
// test calls [Sink.FinishCurrent], which is how queue-drain ordering and
// interrupt-while-playing are exercised.
type Sink struct {
	mu sync.Mutex

	// Manual suppresses automatic completion.
	Manual bool

	// Played records every chunk passed to Play, in order.
	Played [][]byte

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	pendingDone func()
}

// Play implements [audio.Sink].
func (s *Sink) Play(chunk []byte, done func()) {
	s.mu.Lock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.Played = append(s.Played, cp)
	manual := s.Manual
	if manual {
		s.pendingDone = done
	}
	s.mu.Unlock()

	if !manual && done != nil {
		done()
	}
}

// PlayedCount returns how many chunks reached the sink.
func (s *Sink) PlayedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Played)
}

// StopCount returns how many times Stop was called.
func (s *Sink) StopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStop
}

// FinishCurrent completes the chunk held by a Manual sink.
func (s *Sink) FinishCurrent() {
	s.mu.Lock()
	done := s.pendingDone
	s.pendingDone = nil
	s.mu.Unlock()
	if done != nil {
		done()
	}
}

// Stop implements [audio.Sink]: the pending done callback fires before Stop
// returns.
func (s *Sink) Stop() {
	s.mu.Lock()
	s.CallCountStop++
	done := s.pendingDone
	s.pendingDone = nil
	s.mu.Unlock()
	if done != nil {
		done()
	}
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.Stop()
	return nil
}

// ─── Frame helpers ────────────────────────────────────────────────────────────

// SilenceFrame returns a 16 kHz frame of n bytes of PCM16 silence.
func SilenceFrame(n int) audio.Frame {
	return audio.Frame{Data: make([]byte, n), SampleRate: 16000}
}

// ToneFrame returns a 16 kHz frame of n bytes where every sample has the
// given amplitude. An amplitude of a few thousand is loud enough to trip an
// energy VAD.
func ToneFrame(n int, amplitude int16) audio.Frame {
	data := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		binary.LittleEndian.PutUint16(data[i:], uint16(amplitude))
	}
	return audio.Frame{Data: data, SampleRate: 16000}
}

// Stamped returns frame with its Timestamp set.
func Stamped(frame audio.Frame, ts time.Duration) audio.Frame {
	frame.Timestamp = ts
	return frame
}
