// Package playback implements the response playback manager.
//
// Two mutually exclusive backends sit behind one interface, selected per
// session: [Queued] plays synthesized audio chunks through an [audio.Sink]
// in strict FIFO order with chained on-ended continuation, and
// [AvatarDelegate] hands the full response text to an external rendering
// session once per turn.
//
// Both backends share the interrupt contract: Stop is synchronous — when it
// returns, nothing is audible and the queue is empty — so utterance capture
// can resume with zero leftover audio from the cancelled turn.
package playback

import "context"

// Backend is the playback surface the turn engine drives.
//
// Implementations must be safe for concurrent use: Enqueue arrives from the
// engine loop while completion callbacks arrive from the audio device or
// renderer threads.
type Backend interface {
	// Enqueue appends one synthesized audio chunk. The queued backend plays
	// it as soon as its turn comes; the avatar backend retains nothing and
	// discards it (chunk audio is kept for history by the engine, not here).
	Enqueue(chunk []byte)

	// Speak delivers the complete response text. The avatar backend
	// forwards it to the rendering session's repeat operation exactly once;
	// the queued backend ignores it (its audio already arrived as chunks).
	Speak(ctx context.Context, text string) error

	// Active reports whether a playback operation is in flight or queued.
	Active() bool

	// Stop halts playback synchronously and empties the queue. Safe to call
	// when idle. After Stop, completion callbacks from the cancelled
	// playback never surface as idle notifications.
	Stop()

	// Close releases the backend's resources. Idempotent.
	Close() error
}
