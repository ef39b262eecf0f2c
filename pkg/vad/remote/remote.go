// Package remote implements the delegated frame-exact VAD strategy.
//
// Frames are forwarded as fixed 10/20/30 ms chunks to a remote detector over
// a dedicated low-latency WebSocket, and the detector's speech_started /
// speech_ended decisions are surfaced through the same [vad.Session]
// contract as the local energy strategy. Used where higher-precision
// barge-in detection is required.
//
// ProcessFrame never blocks on the network: outbound frames go through a
// buffered writer goroutine (full buffer = frame dropped), and inbound
// decisions are drained opportunistically, so a session's events may lag the
// triggering frame by one or two frames. The turn controller tolerates that
// lag by design.
package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"github.com/parleo-ai/parleo/pkg/vad"
)

// Compile-time interface checks.
var (
	_ vad.Detector = (*Detector)(nil)
	_ vad.Session  = (*session)(nil)
)

const (
	// sendBuffer is the outbound frame queue depth. ~640 ms at 20 ms frames.
	sendBuffer = 32

	// recvBuffer is the inbound decision queue depth.
	recvBuffer = 32
)

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithAggressiveness sets the remote classifier's aggressiveness (0–3,
// higher = fewer false positives). Default 2.
func WithAggressiveness(level int) Option {
	return func(d *Detector) { d.aggressiveness = level }
}

// Detector creates sessions backed by the remote frame-exact classifier.
type Detector struct {
	url            string
	aggressiveness int
}

// New creates a Detector that dials the detector endpoint at url
// (e.g. "wss://infer.example.com/ws/vad/client-1").
func New(url string, opts ...Option) *Detector {
	d := &Detector{url: url, aggressiveness: 2}
	for _, o := range opts {
		o(d)
	}
	return d
}

// NewSession dials the detector channel and starts the send/receive loops.
func (d *Detector) NewSession(cfg vad.Config) (vad.Session, error) {
	cfg = cfg.WithDefaults()
	switch cfg.FrameMs {
	case 10, 20, 30:
	default:
		return nil, fmt.Errorf("remote: frame_ms must be 10, 20, or 30, got %d", cfg.FrameMs)
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn, _, err := websocket.Dial(ctx, d.url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("remote: dial %q: %w", d.url, err)
	}

	s := &session{
		cfg:            cfg,
		aggressiveness: d.aggressiveness,
		conn:           conn,
		ctx:            ctx,
		cancel:         cancel,
		outbound:       make(chan []byte, sendBuffer),
		decisions:      make(chan decision, recvBuffer),
	}
	go s.sendLoop()
	go s.receiveLoop()
	return s, nil
}

// ─── Wire format ──────────────────────────────────────────────────────────────

// audioFrameMessage is the outbound frame envelope.
type audioFrameMessage struct {
	Type           string `json:"type"`
	Data           string `json:"data"` // base64 PCM16
	SampleRate     int    `json:"sample_rate"`
	Aggressiveness int    `json:"aggressiveness"`
}

// vadEventMessage is the inbound per-frame decision.
type vadEventMessage struct {
	Type          string  `json:"type"`
	IsSpeech      bool    `json:"is_speech"`
	Confidence    float64 `json:"confidence"`
	SpeechStarted bool    `json:"speech_started"`
	SpeechEnded   bool    `json:"speech_ended"`
	DurationMs    int     `json:"duration_ms"`
}

// decision is the parsed form queued for ProcessFrame to drain.
type decision struct {
	evt vad.Event
}

// ─── session ──────────────────────────────────────────────────────────────────

type session struct {
	cfg            vad.Config
	aggressiveness int
	conn           *websocket.Conn
	ctx            context.Context
	cancel         context.CancelFunc

	outbound  chan []byte
	decisions chan decision

	mu       sync.Mutex
	last     vad.Event
	inSpeech bool
	closed   bool
}

// ProcessFrame forwards the frame to the remote detector and returns the
// most recent decision received so far. Never blocks.
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return vad.Event{}, fmt.Errorf("remote: session closed")
	}
	s.mu.Unlock()

	want := s.cfg.SampleRate * s.cfg.FrameMs / 1000 * 2
	if len(frame) != want {
		return vad.Event{}, fmt.Errorf("remote: frame size %d, want %d", len(frame), want)
	}

	// Queue for the writer; drop when the channel is saturated rather than
	// stalling the capture loop.
	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case s.outbound <- cp:
	default:
	}

	// Drain any decisions that arrived since the previous frame. Edge events
	// (start/end) win over level events within one drain.
	s.mu.Lock()
	defer s.mu.Unlock()
	evt := s.carryOver()
	for {
		select {
		case d := <-s.decisions:
			switch d.evt.Type {
			case vad.SpeechStart:
				s.inSpeech = true
				evt = d.evt
			case vad.SpeechEnd:
				s.inSpeech = false
				evt = d.evt
			default:
				if evt.Type != vad.SpeechStart && evt.Type != vad.SpeechEnd {
					evt = d.evt
				}
			}
		default:
			s.last = evt
			return evt, nil
		}
	}
}

// carryOver is the event reported when no new decision has arrived for this
// frame: the level implied by the current speech state. Edges are never
// repeated.
func (s *session) carryOver() vad.Event {
	if s.inSpeech {
		return vad.Event{Type: vad.SpeechContinue, Energy: s.last.Energy}
	}
	return vad.Event{Type: vad.Silence, Energy: s.last.Energy}
}

// Reset clears the session's detection state. The remote detector keeps its
// own per-stream state; the next frames re-seed it.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSpeech = false
	s.last = vad.Event{}
	for {
		select {
		case <-s.decisions:
		default:
			return
		}
	}
}

// Close tears down the channel. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}

// sendLoop serialises outbound frames onto the WebSocket.
func (s *session) sendLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.outbound:
			msg := audioFrameMessage{
				Type:           "audio_frame",
				Data:           base64.StdEncoding.EncodeToString(frame),
				SampleRate:     s.cfg.SampleRate,
				Aggressiveness: s.aggressiveness,
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := s.conn.Write(s.ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}

// receiveLoop parses inbound decisions into the queue ProcessFrame drains.
func (s *session) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			return
		}

		var msg vadEventMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "vad_event" {
			continue
		}

		evt := vad.Event{Energy: msg.Confidence}
		switch {
		case msg.SpeechStarted:
			evt.Type = vad.SpeechStart
		case msg.SpeechEnded:
			evt.Type = vad.SpeechEnd
		case msg.IsSpeech:
			evt.Type = vad.SpeechContinue
		default:
			evt.Type = vad.Silence
		}

		select {
		case s.decisions <- decision{evt: evt}:
		case <-s.ctx.Done():
			return
		default:
			// decision queue full: drop the oldest by draining one slot
			select {
			case <-s.decisions:
			default:
			}
			select {
			case s.decisions <- decision{evt: evt}:
			default:
			}
		}
	}
}
