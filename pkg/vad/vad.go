// Package vad defines the Detector interface for voice activity detection
// strategies.
//
// A detector session consumes fixed-size PCM frames and emits speech-start /
// speech-end events plus a per-frame energy or confidence value. Two
// interchangeable strategies ship with Parleo: a local energy-threshold
// detector (vad/energy) and a delegated frame-exact detector that forwards
// frames to a remote classifier over its own channel (vad/remote). Both
// satisfy the identical output contract so the turn controller is
// strategy-agnostic.
//
// ProcessFrame is synchronous and must not block: it is called on the turn
// engine's event loop for every captured frame, so a slow strategy stalls
// barge-in detection.
//
// Implementations must be safe for concurrent use across different sessions.
// A single Session must not be shared across goroutines unless the
// implementation documents otherwise.
package vad

// Config holds the tunable parameter set for a detector session. The energy
// and hangover constants historically drifted between call flows; they are a
// single documented set here and every entry point reads the same values.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the PCM frames
	// passed to ProcessFrame. Default: 16000.
	SampleRate int

	// FrameMs is the duration of each frame in milliseconds. Frame-exact
	// strategies require 10, 20, or 30. Default: 20.
	FrameMs int

	// SpeechThreshold is the normalised RMS energy (0.0–1.0) above which a
	// frame counts toward speech start. Default: 0.015.
	SpeechThreshold float64

	// SilenceThreshold is the normalised RMS energy below which a frame
	// counts toward speech end. Must be ≤ SpeechThreshold. Default: 0.008.
	SilenceThreshold float64

	// StartFrames is the number of consecutive speech frames required before
	// SpeechStart fires. Default: 3 (~60 ms at 20 ms frames).
	StartFrames int

	// HangoverMs is the minimum silence duration after speech before
	// SpeechEnd fires, so mid-sentence pauses do not split an utterance.
	// Default: 240.
	HangoverMs int
}

// WithDefaults returns c with zero fields replaced by the documented
// defaults.
func (c Config) WithDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.FrameMs == 0 {
		c.FrameMs = 20
	}
	if c.SpeechThreshold == 0 {
		c.SpeechThreshold = 0.015
	}
	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = 0.008
	}
	if c.StartFrames == 0 {
		c.StartFrames = 3
	}
	if c.HangoverMs == 0 {
		c.HangoverMs = 240
	}
	return c
}

// HangoverFrames returns the hangover expressed in whole frames, minimum 1.
func (c Config) HangoverFrames() int {
	n := c.HangoverMs / c.FrameMs
	if n < 1 {
		n = 1
	}
	return n
}

// EventType enumerates detection states.
type EventType int

const (
	// Silence indicates no speech in the frame.
	Silence EventType = iota

	// SpeechStart indicates speech has just begun.
	SpeechStart

	// SpeechContinue indicates ongoing speech.
	SpeechContinue

	// SpeechEnd indicates speech has just ended after the hangover elapsed.
	SpeechEnd
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case Silence:
		return "SILENCE"
	case SpeechStart:
		return "SPEECH_START"
	case SpeechContinue:
		return "SPEECH_CONTINUE"
	case SpeechEnd:
		return "SPEECH_END"
	default:
		return "UNKNOWN"
	}
}

// Event is the detection result for a single frame.
type Event struct {
	// Type is the detection result.
	Type EventType

	// Energy is the strategy's per-frame score: normalised RMS for the
	// energy strategy, classifier confidence for the remote strategy.
	Energy float64
}

// Session is an active detection stream for a single audio source. Each
// session maintains its own hysteresis state; Reset clears that state
// without closing the session, used after an interrupt so stale counters
// from the cancelled turn do not bleed into the next utterance.
type Session interface {
	// ProcessFrame scores one frame and returns the resulting event. The
	// frame must be raw little-endian PCM16 at the configured sample rate
	// and frame size. Must not block.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears accumulated hysteresis state.
	Reset()

	// Close releases session resources. Idempotent.
	Close() error
}

// Detector is the factory for detection sessions, implemented by each
// strategy package.
type Detector interface {
	// NewSession creates a detection session with the given configuration.
	// Returns an error if the configuration is invalid or resources cannot
	// be acquired.
	NewSession(cfg Config) (Session, error)
}
