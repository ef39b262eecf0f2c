package playback

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/parleo-ai/parleo/pkg/renderer/mock"
)

func TestAvatarSpeaksExactlyOncePerTurn(t *testing.T) {
	t.Parallel()

	session := &mock.Session{}
	a := NewAvatarDelegate(session, nil)

	if err := a.Speak(context.Background(), "hello there"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if len(session.Repeated) != 1 || session.Repeated[0] != "hello there" {
		t.Fatalf("Repeated = %v, want exactly [hello there]", session.Repeated)
	}
	if !a.Active() {
		t.Error("Active() false while the avatar is speaking")
	}
}

func TestAvatarDiscardsChunkAudio(t *testing.T) {
	t.Parallel()

	session := &mock.Session{}
	a := NewAvatarDelegate(session, nil)

	a.Enqueue([]byte{1, 2, 3})
	if a.Active() {
		t.Error("Active() true after Enqueue; chunks must be discarded")
	}
	if len(session.Repeated) != 0 {
		t.Errorf("Enqueue reached the avatar: %v", session.Repeated)
	}
}

func TestAvatarUtteranceEndFiresIdle(t *testing.T) {
	t.Parallel()

	session := &mock.Session{}
	var idle atomic.Int64
	a := NewAvatarDelegate(session, func() { idle.Add(1) })

	// No utterance started yet: completion events are ignored.
	session.FinishUtterance()
	if idle.Load() != 0 {
		t.Fatal("idle fired without an active utterance")
	}

	if err := a.Speak(context.Background(), "once upon a time"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	session.FinishUtterance()
	if idle.Load() != 1 {
		t.Fatalf("idle fired %d times after utterance end, want 1", idle.Load())
	}
	if a.Active() {
		t.Error("Active() true after the utterance ended")
	}
}

func TestAvatarStopInterruptsSynchronously(t *testing.T) {
	t.Parallel()

	session := &mock.Session{}
	var idle atomic.Int64
	a := NewAvatarDelegate(session, func() { idle.Add(1) })

	if err := a.Speak(context.Background(), "a long monologue"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	a.Stop()

	if session.CallCountInterrupt != 1 {
		t.Fatalf("Interrupt called %d times, want 1", session.CallCountInterrupt)
	}
	if a.Active() {
		t.Error("Active() true after Stop")
	}

	// The interrupted utterance's completion event must not surface as idle.
	session.FinishUtterance()
	if idle.Load() != 0 {
		t.Fatalf("idle fired %d times after an interrupt, want 0", idle.Load())
	}
}

func TestAvatarStopWhileIdleIsNoop(t *testing.T) {
	t.Parallel()

	session := &mock.Session{}
	a := NewAvatarDelegate(session, nil)

	a.Stop()
	if session.CallCountInterrupt != 0 {
		t.Fatalf("Interrupt called %d times while idle, want 0", session.CallCountInterrupt)
	}
}

func TestAvatarSpeakRepeatError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("stream gone")
	session := &mock.Session{RepeatError: wantErr}
	a := NewAvatarDelegate(session, nil)

	err := a.Speak(context.Background(), "unreachable")
	if !errors.Is(err, wantErr) {
		t.Fatalf("Speak error = %v, want wrapped %v", err, wantErr)
	}
	if a.Active() {
		t.Error("Active() true after a failed Speak")
	}
}

func TestAvatarCloseStopsSession(t *testing.T) {
	t.Parallel()

	session := &mock.Session{}
	a := NewAvatarDelegate(session, nil)

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if session.CallCountStop != 1 {
		t.Fatalf("session.Stop called %d times, want 1", session.CallCountStop)
	}

	if err := a.Speak(context.Background(), "too late"); err == nil {
		t.Fatal("Speak after Close succeeded, want error")
	}
}
