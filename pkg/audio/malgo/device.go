// Package malgo adapts the miniaudio bindings (github.com/gen2brain/malgo)
// to the [audio.Source] and [audio.Sink] interfaces.
//
// One [Context] wraps the miniaudio context; open capture sources and
// playback sinks from it. The capture path re-frames the device's native
// callback chunks into fixed-size PCM16 frames so downstream VAD strategies
// always see exact frame boundaries.
package malgo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/parleo-ai/parleo/pkg/audio"
)

// Compile-time interface checks.
var (
	_ audio.SourceOpener = (*Context)(nil)
	_ audio.Source       = (*captureSource)(nil)
	_ audio.Sink         = (*playbackSink)(nil)
)

// sourceBuffer is the capacity of the frame channel. Frames beyond this are
// dropped rather than queued: the engine must never fall behind real time.
const sourceBuffer = 64

// Context owns the miniaudio context shared by all devices.
type Context struct {
	ctx *malgo.AllocatedContext
}

// NewContext initialises the miniaudio backend.
func NewContext() (*Context, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	return &Context{ctx: mctx}, nil
}

// Close frees the miniaudio context. Open devices must be closed first.
func (c *Context) Close() error {
	if err := c.ctx.Uninit(); err != nil {
		return fmt.Errorf("malgo: uninit context: %w", err)
	}
	c.ctx.Free()
	return nil
}

// OpenSource acquires the default capture device and starts streaming
// fixed-size PCM16 mono frames.
//
// A device-acquisition failure (no microphone, permission denied) is
// returned immediately and is fatal for the session attempt; the caller
// surfaces it and stays idle.
func (c *Context) OpenSource(_ context.Context, cfg audio.CaptureConfig) (audio.Source, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FrameMs == 0 {
		cfg.FrameMs = 20
	}
	switch cfg.FrameMs {
	case 10, 20, 30:
	default:
		return nil, fmt.Errorf("malgo: frame_ms must be 10, 20, or 30, got %d", cfg.FrameMs)
	}

	s := &captureSource{
		frameBytes: cfg.FrameBytes(),
		sampleRate: cfg.SampleRate,
		frames:     make(chan audio.Frame, sourceBuffer),
		started:    time.Now(),
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = 1
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(c.ctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: s.onCaptured,
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init capture device: %w", err)
	}
	s.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("malgo: start capture device: %w", err)
	}
	return s, nil
}

// captureSource re-frames miniaudio callback data into fixed-size frames.
type captureSource struct {
	frameBytes int
	sampleRate int
	started    time.Time

	dev    *malgo.Device
	frames chan audio.Frame

	mu      sync.Mutex
	pending []byte
	closed  bool

	closeOnce sync.Once
}

// onCaptured runs on miniaudio's capture thread. It must not block: full
// frames are delivered with a non-blocking send and dropped when the engine
// is behind.
func (s *captureSource) onCaptured(_, samples []byte, frameCount uint32) {
	if frameCount == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.pending = append(s.pending, samples...)
	for len(s.pending) >= s.frameBytes {
		data := make([]byte, s.frameBytes)
		copy(data, s.pending[:s.frameBytes])
		s.pending = append(s.pending[:0], s.pending[s.frameBytes:]...)

		frame := audio.Frame{
			Data:       data,
			SampleRate: s.sampleRate,
			Timestamp:  time.Since(s.started),
		}
		select {
		case s.frames <- frame:
		default:
			// engine behind real time: drop, never buffer
		}
	}
}

func (s *captureSource) Frames() <-chan audio.Frame { return s.frames }

// Close stops the capture stream and releases the device. Safe to call from
// any teardown path; only the first call does work.
func (s *captureSource) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		_ = s.dev.Stop()
		s.dev.Uninit()
		close(s.frames)
	})
	return nil
}
