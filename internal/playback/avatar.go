package playback

import (
	"context"
	"fmt"
	"sync"

	"github.com/parleo-ai/parleo/pkg/renderer"
)

// Compile-time check that *AvatarDelegate satisfies [Backend].
var _ Backend = (*AvatarDelegate)(nil)

// AvatarDelegate renders responses through an external avatar session.
//
// Chunk-level audio from the transport is not played when this backend is
// active — the avatar synthesizes its own voice from the full text, which is
// delivered exactly once per turn via Speak after the response completes.
type AvatarDelegate struct {
	session renderer.Session

	mu       sync.Mutex
	speaking bool
	closed   bool
}

// NewAvatarDelegate creates the delegated backend. onIdle is invoked when
// the avatar finishes an utterance; pass nil when no notification is needed.
func NewAvatarDelegate(session renderer.Session, onIdle func()) *AvatarDelegate {
	a := &AvatarDelegate{session: session}
	session.OnUtteranceEnd(func() {
		a.mu.Lock()
		wasSpeaking := a.speaking
		a.speaking = false
		a.mu.Unlock()
		if wasSpeaking && onIdle != nil {
			onIdle()
		}
	})
	return a
}

// Enqueue implements [Backend]. Chunk audio is discarded: the avatar speaks
// from text, and the engine retains chunk audio for history on its own.
func (a *AvatarDelegate) Enqueue([]byte) {}

// Speak implements [Backend]: one repeat call per turn.
func (a *AvatarDelegate) Speak(ctx context.Context, text string) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("playback: avatar backend closed")
	}
	a.speaking = true
	a.mu.Unlock()

	if err := a.session.Repeat(ctx, text); err != nil {
		a.mu.Lock()
		a.speaking = false
		a.mu.Unlock()
		return fmt.Errorf("playback: avatar repeat: %w", err)
	}
	return nil
}

// Active implements [Backend].
func (a *AvatarDelegate) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speaking
}

// Stop implements [Backend]: the renderer's own interrupt operation, which
// is synchronous by contract.
func (a *AvatarDelegate) Stop() {
	a.mu.Lock()
	wasSpeaking := a.speaking
	a.speaking = false
	a.mu.Unlock()

	if wasSpeaking {
		// The utterance-end event for the interrupted utterance must not
		// surface as idle; the speaking flag is already lowered above.
		_ = a.session.Interrupt(context.Background())
	}
}

// Close implements [Backend].
func (a *AvatarDelegate) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.speaking = false
	a.mu.Unlock()

	return a.session.Stop(context.Background())
}
