// Package energy implements the local energy-threshold VAD strategy.
//
// Each frame is scored by its root-mean-square energy, normalised to
// [0.0, 1.0] against full-scale PCM16. Hysteresis avoids flicker: speech
// starts only after StartFrames consecutive frames above SpeechThreshold,
// and ends only after a full hangover of consecutive frames below
// SilenceThreshold, so a brief mid-sentence dip does not split an utterance
// in two.
package energy

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/parleo-ai/parleo/pkg/vad"
)

// Compile-time interface checks.
var (
	_ vad.Detector = (*Detector)(nil)
	_ vad.Session  = (*session)(nil)
)

// Detector creates energy-threshold sessions. The zero value is ready to use.
type Detector struct{}

// New returns an energy-threshold detector.
func New() *Detector { return &Detector{} }

// NewSession implements [vad.Detector].
func (d *Detector) NewSession(cfg vad.Config) (vad.Session, error) {
	cfg = cfg.WithDefaults()
	if cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %.4f exceeds speech threshold %.4f",
			cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	return &session{
		cfg:        cfg,
		frameBytes: cfg.SampleRate * cfg.FrameMs / 1000 * 2,
	}, nil
}

type session struct {
	cfg        vad.Config
	frameBytes int

	mu            sync.Mutex
	inSpeech      bool
	speechCount   int
	silenceCount  int
	closed        bool
}

// ProcessFrame implements [vad.Session].
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return vad.Event{}, fmt.Errorf("energy: session closed")
	}
	if len(frame) != s.frameBytes {
		return vad.Event{}, fmt.Errorf("energy: frame size %d, want %d", len(frame), s.frameBytes)
	}

	level := rms(frame)
	evt := vad.Event{Type: vad.Silence, Energy: level}

	if s.inSpeech {
		evt.Type = vad.SpeechContinue
		if level < s.cfg.SilenceThreshold {
			s.silenceCount++
			if s.silenceCount >= s.cfg.HangoverFrames() {
				s.inSpeech = false
				s.silenceCount = 0
				s.speechCount = 0
				evt.Type = vad.SpeechEnd
			}
		} else {
			// Any frame back above the silence floor resets the hangover,
			// including frames in the dead band between the two thresholds.
			s.silenceCount = 0
		}
		return evt, nil
	}

	if level >= s.cfg.SpeechThreshold {
		s.speechCount++
		if s.speechCount >= s.cfg.StartFrames {
			s.inSpeech = true
			s.speechCount = 0
			evt.Type = vad.SpeechStart
		}
	} else {
		s.speechCount = 0
	}
	return evt, nil
}

// Reset implements [vad.Session].
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSpeech = false
	s.speechCount = 0
	s.silenceCount = 0
}

// Close implements [vad.Session]. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// rms computes the root-mean-square energy of a little-endian PCM16 frame,
// normalised to [0.0, 1.0].
func rms(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(frame[i*2:]))
		v := float64(sample) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
