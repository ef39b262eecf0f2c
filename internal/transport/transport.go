// Package transport implements the session-scoped bidirectional channel to
// the remote inference pipeline.
//
// One WebSocket connection per voice session carries a textual JSON envelope
// in both directions: outbound control signals and base64 PCM16 audio frames
// while recording, inbound transcripts, synthesized audio chunks, and
// completion events. The channel makes no delivery promises beyond arrival
// order — in particular, an outbound interrupt is advisory only, and the
// backend may keep streaming stale data afterwards. All cancellation
// correctness lives with the caller's request fence, never here.
//
// Backpressure is "drop": while the channel is not open, audio frames are
// discarded rather than queued, so a dead connection can never build an
// unbounded local buffer.
package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// Channel is the session transport consumed by the turn engine. It is an
// interface so controller tests can run against an in-memory stub.
type Channel interface {
	// Events returns the read-only channel delivering inbound events in
	// arrival order. Closed when the connection terminates.
	Events() <-chan Event

	// SendInit selects the conversation mode. Sent once after dialing.
	SendInit(mode string) error

	// SendFrame forwards one PCM16 frame while recording. Frames are
	// silently dropped while the channel is not open; SendFrame never
	// queues and never blocks on a dead connection.
	SendFrame(pcm []byte) error

	// SendStartRecording marks the beginning of an utterance.
	SendStartRecording() error

	// SendStopRecording finalizes the utterance; the backend begins
	// processing everything received since SendStartRecording.
	SendStopRecording() error

	// SendInterrupt asks the backend to stop the in-flight response.
	// Best-effort and fire-and-forget: the caller must not rely on the
	// backend honouring it.
	SendInterrupt() error

	// SendClear resets the backend's conversation history.
	SendClear() error

	// Close tears down the connection. Idempotent.
	Close() error
}

// Compile-time check that *WSChannel satisfies [Channel].
var _ Channel = (*WSChannel)(nil)

// eventBuffer is the inbound event queue depth. Sized to absorb a burst of
// audio chunks without stalling the read loop.
const eventBuffer = 64

// Dial opens the session channel to the inference pipeline at url
// (e.g. "wss://infer.example.com/ws/live/42"). The returned channel is not
// "ready" until the backend's ready event arrives on [WSChannel.Events];
// the caller owns that handshake.
func Dial(ctx context.Context, url string) (*WSChannel, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %q: %w", url, err)
	}

	chCtx, cancel := context.WithCancel(context.Background())
	c := &WSChannel{
		conn:   conn,
		ctx:    chCtx,
		cancel: cancel,
		events: make(chan Event, eventBuffer),
	}
	c.open.Store(true)
	go c.receiveLoop()
	go c.keepaliveLoop()
	return c, nil
}

// keepaliveInterval is how often an application-level ping is written so
// idle connections are not reaped by intermediaries.
const keepaliveInterval = 30 * time.Second

// WSChannel is the production [Channel] over a coder/websocket connection.
type WSChannel struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event

	writeMu sync.Mutex
	open    atomic.Bool

	closeOnce sync.Once
}

// Events implements [Channel].
func (c *WSChannel) Events() <-chan Event { return c.events }

// SendInit implements [Channel].
func (c *WSChannel) SendInit(mode string) error {
	return c.writeJSON(outboundMessage{Type: "init", Mode: mode})
}

// SendFrame implements [Channel]. Frames sent while the channel is closed
// are dropped without error.
func (c *WSChannel) SendFrame(pcm []byte) error {
	if !c.open.Load() {
		return nil
	}
	return c.writeJSON(outboundMessage{
		Type: "audio",
		Data: base64.StdEncoding.EncodeToString(pcm),
	})
}

// SendStartRecording implements [Channel].
func (c *WSChannel) SendStartRecording() error {
	return c.writeJSON(outboundMessage{Type: "start_recording"})
}

// SendStopRecording implements [Channel].
func (c *WSChannel) SendStopRecording() error {
	return c.writeJSON(outboundMessage{Type: "stop_recording"})
}

// SendInterrupt implements [Channel].
func (c *WSChannel) SendInterrupt() error {
	return c.writeJSON(outboundMessage{Type: "interrupt"})
}

// SendClear implements [Channel].
func (c *WSChannel) SendClear() error {
	return c.writeJSON(outboundMessage{Type: "clear"})
}

// Close implements [Channel]. Idempotent.
func (c *WSChannel) Close() error {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		c.cancel()
		c.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// keepaliveLoop writes a ping message on a fixed interval until the channel
// closes. The backend answers with pong; the reply is informational and
// surfaces as a regular event.
func (c *WSChannel) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeJSON(outboundMessage{Type: "ping"}); err != nil {
				return
			}
		}
	}
}

// writeJSON marshals v and writes it as a single text message. Writes are
// serialised; a write failure marks the channel not-open so subsequent
// frames are dropped instead of erroring one by one.
func (c *WSChannel) writeJSON(v any) error {
	if !c.open.Load() {
		return fmt.Errorf("transport: channel closed")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
		c.open.Store(false)
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// receiveLoop reads inbound messages, decodes them into [Event] values, and
// delivers them in arrival order. It owns the events channel: on exit it
// emits a terminal EventClosed (unless the shutdown was local) and closes
// the channel.
func (c *WSChannel) receiveLoop() {
	defer close(c.events)

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.open.Store(false)
			if c.ctx.Err() != nil {
				return
			}
			c.events <- Event{Type: EventClosed, Message: err.Error()}
			return
		}

		evt, ok := decodeEvent(data)
		if !ok {
			continue
		}
		select {
		case c.events <- evt:
		case <-c.ctx.Done():
			return
		}
	}
}
