package malgo

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/parleo-ai/parleo/pkg/audio"
)

// OpenSink acquires the default playback device as an [audio.Sink].
// The returned sink plays one PCM16 mono chunk at a time; the playback
// queue layer is responsible for serialising Play calls.
func (c *Context) OpenSink(sampleRate int) (audio.Sink, error) {
	if sampleRate == 0 {
		sampleRate = 16000
	}

	s := &playbackSink{}

	devCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	devCfg.Playback.Format = malgo.FormatS16
	devCfg.Playback.Channels = 1
	devCfg.SampleRate = uint32(sampleRate)
	devCfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(c.ctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: s.onPlayback,
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init playback device: %w", err)
	}
	s.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("malgo: start playback device: %w", err)
	}
	return s, nil
}

// playbackSink feeds the active chunk into miniaudio's pull callback and
// fires the done callback once the chunk is fully consumed or Stop cuts it
// short. The device itself keeps running between chunks, emitting silence
// while idle, so Play never pays a device start cost.
type playbackSink struct {
	dev *malgo.Device

	mu     sync.Mutex
	chunk  []byte
	offset int
	done   func()
	closed bool
}

// onPlayback runs on miniaudio's playback thread.
func (s *playbackSink) onPlayback(out, _ []byte, frameCount uint32) {
	s.mu.Lock()
	var finished func()
	if s.chunk != nil {
		n := copy(out, s.chunk[s.offset:])
		s.offset += n
		if s.offset >= len(s.chunk) {
			finished = s.done
			s.chunk = nil
			s.offset = 0
			s.done = nil
		}
	}
	s.mu.Unlock()

	if finished != nil {
		finished()
	}
}

// Play starts playback of chunk. done fires exactly once, from the playback
// thread on completion or from Stop.
func (s *playbackSink) Play(chunk []byte, done func()) {
	s.mu.Lock()
	if s.closed || len(chunk) == 0 {
		s.mu.Unlock()
		if done != nil {
			done()
		}
		return
	}
	s.chunk = chunk
	s.offset = 0
	s.done = done
	s.mu.Unlock()
}

// Stop discards the active chunk immediately. The pending done callback
// fires before Stop returns.
func (s *playbackSink) Stop() {
	s.mu.Lock()
	finished := s.done
	s.chunk = nil
	s.offset = 0
	s.done = nil
	s.mu.Unlock()

	if finished != nil {
		finished()
	}
}

// Close stops playback and releases the device. Idempotent.
func (s *playbackSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	finished := s.done
	s.chunk = nil
	s.done = nil
	s.mu.Unlock()

	if finished != nil {
		finished()
	}
	_ = s.dev.Stop()
	s.dev.Uninit()
	return nil
}
