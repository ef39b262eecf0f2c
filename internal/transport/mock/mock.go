// Package mock provides an in-memory [transport.Channel] for unit tests.
//
// The test scripts inbound traffic with [Channel.Emit] and inspects the
// recorded outbound calls afterwards.
package mock

import (
	"sync"

	"github.com/parleo-ai/parleo/internal/transport"
)

// Compile-time interface check.
var _ transport.Channel = (*Channel)(nil)

// Channel is a mock [transport.Channel]. Set the *Error fields to force
// send failures.
type Channel struct {
	mu sync.Mutex

	// InitError, when non-nil, is returned by SendInit.
	InitError error

	// InitModes records every mode passed to SendInit.
	InitModes []string

	// Frames records every PCM frame passed to SendFrame.
	Frames [][]byte

	// CallCountStartRecording, CallCountStopRecording, CallCountInterrupt,
	// CallCountClear and CallCountClose record call counts.
	CallCountStartRecording int
	CallCountStopRecording  int
	CallCountInterrupt      int
	CallCountClear          int
	CallCountClose          int

	events chan transport.Event
	closed bool
}

// NewChannel creates a mock channel with a generous inbound buffer.
func NewChannel() *Channel {
	return &Channel{events: make(chan transport.Event, 64)}
}

// Emit delivers one inbound event to the consumer. Emit after Close is a
// no-op.
func (c *Channel) Emit(ev transport.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

// Events implements [transport.Channel].
func (c *Channel) Events() <-chan transport.Event { return c.events }

// SendInit implements [transport.Channel].
func (c *Channel) SendInit(mode string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.InitError != nil {
		return c.InitError
	}
	c.InitModes = append(c.InitModes, mode)
	return nil
}

// SendFrame implements [transport.Channel].
func (c *Channel) SendFrame(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	c.Frames = append(c.Frames, cp)
	return nil
}

// SendStartRecording implements [transport.Channel].
func (c *Channel) SendStartRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStartRecording++
	return nil
}

// SendStopRecording implements [transport.Channel].
func (c *Channel) SendStopRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStopRecording++
	return nil
}

// SendInterrupt implements [transport.Channel].
func (c *Channel) SendInterrupt() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountInterrupt++
	return nil
}

// SendClear implements [transport.Channel].
func (c *Channel) SendClear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClear++
	return nil
}

// Close implements [transport.Channel]. Idempotent: only the first call
// closes the event channel.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// FrameCount returns how many frames were forwarded.
func (c *Channel) FrameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Frames)
}

// Inits returns a copy of the modes passed to SendInit so far.
func (c *Channel) Inits() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.InitModes))
	copy(out, c.InitModes)
	return out
}

// Interrupts returns how many interrupt signals were sent.
func (c *Channel) Interrupts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountInterrupt
}

// StartRecordings returns how many start_recording signals were sent.
func (c *Channel) StartRecordings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountStartRecording
}

// StopRecordings returns how many stop_recording signals were sent.
func (c *Channel) StopRecordings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountStopRecording
}

// Clears returns how many clear signals were sent.
func (c *Channel) Clears() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountClear
}
