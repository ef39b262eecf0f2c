// Package turn implements the real-time conversational turn engine: the
// state machine that coordinates microphone capture, voice activity
// detection, the transport channel, and response playback into discrete
// user/assistant turns, including barge-in interruption.
//
// All session state is owned by a single goroutine running [Engine.Run].
// Audio frames, transport events, playback completions, and commands are
// serialized onto one event loop, so no state transition ever interleaves
// with another.
package turn

import (
	"sync"
	"time"
)

// TurnState describes the lifecycle of one exchange.
type TurnState int

const (
	// TurnPending — the utterance was sent; no response content yet.
	TurnPending TurnState = iota

	// TurnResponding — response content is arriving or playing.
	TurnResponding

	// TurnComplete — the response played to the end.
	TurnComplete

	// TurnInterrupted — the response was cancelled by barge-in or manual
	// stop before completing.
	TurnInterrupted
)

// String returns the human-readable name of the turn state.
func (s TurnState) String() string {
	switch s {
	case TurnPending:
		return "pending"
	case TurnResponding:
		return "responding"
	case TurnComplete:
		return "complete"
	case TurnInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// InterruptionMarker finalizes the visible content of an interrupted turn
// that produced no response text before being cancelled.
const InterruptionMarker = "[interrupted]"

// Turn is one user-utterance/system-response exchange. At most one turn is
// in flight per session at any instant; it is owned exclusively by the
// engine's event loop.
type Turn struct {
	// Fence is the session fence value at creation. Inbound response
	// chunks are applied only while the session fence still equals it.
	Fence uint64

	// State is the turn lifecycle state.
	State TurnState

	// UserText is the final transcript of the user's utterance.
	UserText string

	// ResponseText is the assistant's response text, final on completion
	// or partial (or [InterruptionMarker]) on interruption.
	ResponseText string

	// Audio holds the response audio chunks in arrival order. Retained
	// even under avatar playback, where chunks are never played directly.
	Audio [][]byte

	// StartedAt is when the utterance was finalized and sent.
	StartedAt time.Time
}

// AudioBytes returns the total size of the accumulated response audio.
func (t *Turn) AudioBytes() int {
	n := 0
	for _, c := range t.Audio {
		n += len(c)
	}
	return n
}

// utterance accumulates one contiguous span of detected speech. Created on
// speech start, finalized and discarded on speech end; only its transcript
// survives, inside the resulting Turn.
type utterance struct {
	startedAt time.Time
	bytes     int
	frames    int
}

// duration returns the captured audio length assuming 16 kHz PCM16 mono.
func (u *utterance) duration(sampleRate int) time.Duration {
	if sampleRate <= 0 || u.bytes == 0 {
		return 0
	}
	samples := u.bytes / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// HistoryEntry is one line of the session's rolling conversation history.
type HistoryEntry struct {
	Role string // "user" or "assistant"
	Text string
	At   time.Time
}

// historyLimit caps the rolling in-memory history.
const historyLimit = 10

// Session is the long-lived container for one voice conversation: the
// request fence, the rolling history, and the correlation id used for cache
// pre-warming. Mutations happen only on the engine's event loop; the mutex
// exists so external readers can snapshot the fence and history.
type Session struct {
	correlationID string

	mu      sync.Mutex
	fence   uint64
	history []HistoryEntry
}

// NewSession creates a session. correlationID links the conversation to the
// external retrieval cache; it may be empty.
func NewSession(correlationID string) *Session {
	return &Session{correlationID: correlationID}
}

// CorrelationID returns the external correlation id.
func (s *Session) CorrelationID() string { return s.correlationID }

// Fence returns the current fence value.
func (s *Session) Fence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fence
}

// NextFence advances the fence and returns the new value. Called once per
// finalized utterance and once per interrupt.
func (s *Session) NextFence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fence++
	return s.fence
}

// Append adds one history entry, evicting the oldest past the cap.
func (s *Session) Append(role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, HistoryEntry{Role: role, Text: text, At: time.Now()})
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
}

// History returns a copy of the rolling history, oldest first.
func (s *Session) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// Clear empties the rolling history. The fence is not reset; it stays
// monotonic for the life of the session.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}
