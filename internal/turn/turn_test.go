package turn

import (
	"fmt"
	"testing"
)

func TestSessionFenceMonotonic(t *testing.T) {
	t.Parallel()

	s := NewSession("corr-9")
	if s.Fence() != 0 {
		t.Fatalf("initial fence = %d, want 0", s.Fence())
	}
	for want := uint64(1); want <= 5; want++ {
		if got := s.NextFence(); got != want {
			t.Fatalf("NextFence = %d, want %d", got, want)
		}
	}
}

func TestSessionHistoryCapped(t *testing.T) {
	t.Parallel()

	s := NewSession("")
	for i := 0; i < 15; i++ {
		s.Append("user", fmt.Sprintf("entry %d", i))
	}

	history := s.History()
	if len(history) != historyLimit {
		t.Fatalf("history length = %d, want %d", len(history), historyLimit)
	}
	if history[0].Text != "entry 5" || history[len(history)-1].Text != "entry 14" {
		t.Fatalf("wrong entries survived eviction: first %q last %q",
			history[0].Text, history[len(history)-1].Text)
	}
}

func TestSessionClearKeepsFence(t *testing.T) {
	t.Parallel()

	s := NewSession("corr-2")
	s.NextFence()
	s.NextFence()
	s.Append("user", "hello")

	s.Clear()
	if got := s.History(); len(got) != 0 {
		t.Fatalf("history after clear = %+v, want empty", got)
	}
	if got := s.Fence(); got != 2 {
		t.Fatalf("fence after clear = %d, want 2", got)
	}
}

func TestTurnAudioBytes(t *testing.T) {
	t.Parallel()

	tr := &Turn{Audio: [][]byte{{1, 2}, {3, 4, 5}}}
	if got := tr.AudioBytes(); got != 5 {
		t.Fatalf("AudioBytes = %d, want 5", got)
	}
}
