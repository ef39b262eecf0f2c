package energy

import (
	"encoding/binary"
	"testing"

	"github.com/parleo-ai/parleo/pkg/vad"
)

// testConfig uses 20 ms frames at 16 kHz: 640 bytes per frame, 3 start
// frames, 240 ms hangover = 12 frames.
func testConfig() vad.Config {
	return vad.Config{}.WithDefaults()
}

func loudFrame(t *testing.T, cfg vad.Config) []byte {
	t.Helper()
	n := cfg.SampleRate * cfg.FrameMs / 1000 * 2
	frame := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		binary.LittleEndian.PutUint16(frame[i:], uint16(int16(4000)))
	}
	return frame
}

func quietFrame(t *testing.T, cfg vad.Config) []byte {
	t.Helper()
	return make([]byte, cfg.SampleRate*cfg.FrameMs/1000*2)
}

func newSession(t *testing.T, cfg vad.Config) vad.Session {
	t.Helper()
	s, err := New().NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func feed(t *testing.T, s vad.Session, frame []byte, count int) []vad.Event {
	t.Helper()
	events := make([]vad.Event, 0, count)
	for i := 0; i < count; i++ {
		evt, err := s.ProcessFrame(frame)
		if err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
		events = append(events, evt)
	}
	return events
}

func TestSpeechStartAfterConsecutiveFrames(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	s := newSession(t, cfg)

	events := feed(t, s, loudFrame(t, cfg), cfg.StartFrames)
	for i := 0; i < cfg.StartFrames-1; i++ {
		if events[i].Type != vad.Silence {
			t.Fatalf("frame %d: got %v, want SILENCE before start threshold", i, events[i].Type)
		}
	}
	if last := events[cfg.StartFrames-1]; last.Type != vad.SpeechStart {
		t.Fatalf("got %v, want SPEECH_START on frame %d", last.Type, cfg.StartFrames)
	}
}

func TestSingleLoudFrameDoesNotStartSpeech(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	s := newSession(t, cfg)

	feed(t, s, loudFrame(t, cfg), 1)
	events := feed(t, s, quietFrame(t, cfg), 1)
	if events[0].Type != vad.Silence {
		t.Fatalf("got %v, want SILENCE after isolated loud frame", events[0].Type)
	}
}

func TestHangoverBridgesShortDip(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	s := newSession(t, cfg)

	feed(t, s, loudFrame(t, cfg), cfg.StartFrames)

	// A 100 ms dip: 5 frames of silence, shorter than the 240 ms hangover.
	dip := feed(t, s, quietFrame(t, cfg), 100/cfg.FrameMs)
	for i, evt := range dip {
		if evt.Type != vad.SpeechContinue {
			t.Fatalf("dip frame %d: got %v, want SPEECH_CONTINUE", i, evt.Type)
		}
	}

	// Speech resumes: still one utterance, no SpeechEnd ever fired.
	resumed := feed(t, s, loudFrame(t, cfg), 3)
	for i, evt := range resumed {
		if evt.Type != vad.SpeechContinue {
			t.Fatalf("resume frame %d: got %v, want SPEECH_CONTINUE", i, evt.Type)
		}
	}
}

func TestSpeechEndAfterFullHangover(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	s := newSession(t, cfg)

	feed(t, s, loudFrame(t, cfg), cfg.StartFrames)

	hangover := cfg.HangoverFrames()
	events := feed(t, s, quietFrame(t, cfg), hangover)
	for i := 0; i < hangover-1; i++ {
		if events[i].Type != vad.SpeechContinue {
			t.Fatalf("frame %d: got %v, want SPEECH_CONTINUE during hangover", i, events[i].Type)
		}
	}
	if last := events[hangover-1]; last.Type != vad.SpeechEnd {
		t.Fatalf("got %v, want SPEECH_END after full hangover", last.Type)
	}

	// Follow-on silence stays silent.
	after := feed(t, s, quietFrame(t, cfg), 2)
	for i, evt := range after {
		if evt.Type != vad.Silence {
			t.Fatalf("post-end frame %d: got %v, want SILENCE", i, evt.Type)
		}
	}
}

func TestDipResetsHangoverCounter(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	s := newSession(t, cfg)

	feed(t, s, loudFrame(t, cfg), cfg.StartFrames)

	// Almost a full hangover of silence, then one loud frame, then almost a
	// full hangover again: no SpeechEnd because the counter restarted.
	feed(t, s, quietFrame(t, cfg), cfg.HangoverFrames()-1)
	feed(t, s, loudFrame(t, cfg), 1)
	events := feed(t, s, quietFrame(t, cfg), cfg.HangoverFrames()-1)
	for i, evt := range events {
		if evt.Type == vad.SpeechEnd {
			t.Fatalf("frame %d: premature SPEECH_END; hangover counter was not reset", i)
		}
	}
}

func TestResetClearsState(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	s := newSession(t, cfg)

	feed(t, s, loudFrame(t, cfg), cfg.StartFrames)
	s.Reset()

	events := feed(t, s, quietFrame(t, cfg), 1)
	if events[0].Type != vad.Silence {
		t.Fatalf("got %v, want SILENCE after Reset", events[0].Type)
	}
}

func TestFrameSizeValidation(t *testing.T) {
	t.Parallel()
	s := newSession(t, testConfig())
	if _, err := s.ProcessFrame(make([]byte, 100)); err == nil {
		t.Fatal("expected error for wrong frame size")
	}
}

func TestThresholdOrderingValidation(t *testing.T) {
	t.Parallel()
	_, err := New().NewSession(vad.Config{SpeechThreshold: 0.01, SilenceThreshold: 0.02})
	if err == nil {
		t.Fatal("expected error when silence threshold exceeds speech threshold")
	}
}

func TestEnergyValueReported(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	s := newSession(t, cfg)

	evt, err := s.ProcessFrame(loudFrame(t, cfg))
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if evt.Energy <= cfg.SpeechThreshold {
		t.Fatalf("energy %.5f not above speech threshold %.5f", evt.Energy, cfg.SpeechThreshold)
	}

	evt, err = s.ProcessFrame(quietFrame(t, cfg))
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if evt.Energy != 0 {
		t.Fatalf("silence energy = %.5f, want 0", evt.Energy)
	}
}
