// Package audio defines the frame type and device interfaces for audio
// capture and playback within Parleo.
//
// The two primary abstractions are:
//
//   - [Source] — owns the microphone resource and emits fixed-size PCM frames.
//   - [Sink] — plays back one audio chunk at a time with an on-ended callback,
//     the primitive the playback queue chains on.
//
// Implementations are provided by device-specific adapter packages (e.g.,
// audio/malgo for real devices, audio/mock for tests). The interfaces are
// intentionally narrow so the turn engine stays decoupled from the audio
// backend.
//
// This package lives under pkg/ because external code (alternative device
// adapters) is expected to implement [Source] and [Sink].
package audio

import "context"

// Source is an active microphone capture stream emitting fixed-size frames.
//
// A Source is obtained from a device adapter's Open function and remains
// valid until [Source.Close] is called. The Frames channel is closed when the
// source terminates, whether by Close or by a device error.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Frames returns the read-only channel delivering captured frames in
	// capture order. Each frame has the fixed size the source was opened
	// with. The channel is closed when the source stops.
	Frames() <-chan Frame

	// Close releases the capture device exactly once: the stream is stopped
	// and the device handle freed. Close is idempotent; subsequent calls are
	// no-ops and return nil.
	Close() error
}

// Sink plays audio chunks one at a time.
//
// Play is asynchronous: it starts playback and returns. The done callback
// fires exactly once per Play call — on natural completion or when Stop cuts
// playback short. Callers chain done callbacks to drain a queue.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Play begins playback of a PCM16 chunk. done must be invoked exactly
	// once when playback ends for any reason. Calling Play while a previous
	// chunk is still playing is a caller bug; the queue layer serialises.
	Play(chunk []byte, done func())

	// Stop halts the active playback immediately and synchronously. The
	// pending done callback fires before Stop returns. Stop on an idle sink
	// is a no-op.
	Stop()

	// Close releases the playback device. Idempotent.
	Close() error
}

// SourceOpener opens a capture stream. Device adapter packages provide
// implementations; the session manager holds one so tests can substitute a
// mock device.
type SourceOpener interface {
	// OpenSource acquires the capture device and starts streaming. cfg
	// controls the frame geometry. Returns an error if the device is
	// unavailable or permission is denied; that error is fatal for the
	// session attempt.
	OpenSource(ctx context.Context, cfg CaptureConfig) (Source, error)
}

// CaptureConfig controls the geometry of captured frames.
type CaptureConfig struct {
	// SampleRate in Hz. Default 16000.
	SampleRate int

	// FrameMs is the frame duration in milliseconds. Must be 10, 20, or 30
	// so frames line up with frame-exact VAD strategies. Default 20.
	FrameMs int
}

// FrameBytes returns the byte length of one PCM16 mono frame under cfg.
func (c CaptureConfig) FrameBytes() int {
	return c.SampleRate * c.FrameMs / 1000 * 2
}
