package audio

import "time"

// Frame is a single fixed-size block of PCM16 little-endian mono samples.
// Frames are the atomic unit of audio transport — captured from the
// microphone, scored by VAD, forwarded to the inference transport while
// recording, and accumulated into utterances. A Frame is owned by the
// capture source until it is delivered; consumers must not retain the Data
// slice beyond the callback or loop iteration that received it unless they
// copy it.
type Frame struct {
	// Data holds raw little-endian PCM16 samples.
	Data []byte

	// SampleRate in Hz. The engine operates at 16000.
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play time of the frame at its sample rate.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 // 2 bytes per PCM16 sample
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Clone returns a copy of the frame with its own backing array. Use when a
// frame must outlive the capture callback that delivered it.
func (f Frame) Clone() Frame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	f.Data = data
	return f
}
