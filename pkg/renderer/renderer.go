// Package renderer defines the avatar rendering collaborator consumed by the
// delegated playback backend.
//
// A rendering [Session] is an external object (typically a vendor SDK
// session negotiated via [TokenClient]) that lip-syncs and voices full
// response texts on a video surface. Parleo never drives it chunk by chunk:
// the playback manager calls Repeat exactly once per turn, after the
// response text is complete, and Interrupt when the user barges in.
//
// This package lives under pkg/ because rendering adapters for other vendors
// are expected to implement [Session].
package renderer

import "context"

// VideoSink receives the rendered video stream. The concrete type is
// adapter-specific (a browser element id, a WebRTC track sink); the engine
// only passes it through.
type VideoSink interface {
	// ID identifies the sink to the rendering adapter.
	ID() string
}

// Session is an active avatar rendering session.
//
// Implementations must be safe for concurrent use: Repeat and Interrupt race
// by nature during barge-in.
type Session interface {
	// Start begins the rendering session. Must be called before Repeat.
	Start(ctx context.Context) error

	// Attach connects the session's video output to sink.
	Attach(sink VideoSink) error

	// Repeat speaks the given text verbatim through the avatar. The call
	// returns once the utterance is accepted; rendering continues in the
	// background.
	Repeat(ctx context.Context, text string) error

	// Interrupt stops the current avatar utterance immediately. Must be
	// synchronous: when Interrupt returns, the avatar is silent.
	Interrupt(ctx context.Context) error

	// OnUtteranceEnd registers cb to be invoked whenever the avatar
	// finishes (or is interrupted out of) an utterance started by Repeat.
	// Only one callback may be registered; later calls replace it. The
	// callback runs on the adapter's event goroutine and must not block.
	OnUtteranceEnd(cb func())

	// Stop ends the rendering session and releases its resources.
	// Idempotent.
	Stop(ctx context.Context) error
}
