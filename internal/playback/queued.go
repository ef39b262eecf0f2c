package playback

import (
	"context"
	"sync"

	"github.com/parleo-ai/parleo/pkg/audio"
)

// Compile-time check that *Queued satisfies [Backend].
var _ Backend = (*Queued)(nil)

// Queued plays audio chunks through an [audio.Sink] in arrival order.
//
// Exactly one playback operation is active at a time; when a chunk finishes,
// the on-ended continuation starts the next queued chunk. The queue is
// non-empty only while a playback operation is active, and Stop empties it
// atomically.
type Queued struct {
	sink   audio.Sink
	onIdle func()

	mu      sync.Mutex
	queue   [][]byte
	playing bool

	// gen invalidates in-flight done callbacks: Stop bumps it, and a
	// continuation from an older generation is ignored so a stopped chunk
	// can never restart the chain or fire a spurious idle notification.
	gen uint64

	closed bool
}

// NewQueued creates the queued-audio backend. onIdle is invoked (without
// internal locks held) each time the queue drains after having played; pass
// nil when no notification is needed.
func NewQueued(sink audio.Sink, onIdle func()) *Queued {
	return &Queued{sink: sink, onIdle: onIdle}
}

// Enqueue implements [Backend].
func (q *Queued) Enqueue(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	q.queue = append(q.queue, cp)
	start := !q.playing
	q.mu.Unlock()

	if start {
		q.startNext()
	}
}

// Speak implements [Backend]. Response text is not played directly; the
// audio already arrived chunk by chunk.
func (q *Queued) Speak(context.Context, string) error { return nil }

// Active implements [Backend].
func (q *Queued) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing || len(q.queue) > 0
}

// Stop implements [Backend]. Synchronous: the sink's current chunk is cut
// before Stop returns, and its pending continuation is disarmed.
func (q *Queued) Stop() {
	q.mu.Lock()
	q.queue = nil
	wasPlaying := q.playing
	q.playing = false
	q.gen++
	q.mu.Unlock()

	if wasPlaying {
		q.sink.Stop()
	}
}

// Close implements [Backend].
func (q *Queued) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.queue = nil
	q.playing = false
	q.gen++
	q.mu.Unlock()

	q.sink.Stop()
	return q.sink.Close()
}

// startNext pops the head of the queue and plays it, chaining itself as the
// on-ended continuation.
func (q *Queued) startNext() {
	q.mu.Lock()
	if q.closed || len(q.queue) == 0 {
		idle := q.playing // draining just finished
		q.playing = false
		q.mu.Unlock()
		if idle && q.onIdle != nil {
			q.onIdle()
		}
		return
	}

	chunk := q.queue[0]
	q.queue = q.queue[1:]
	q.playing = true
	gen := q.gen
	q.mu.Unlock()

	q.sink.Play(chunk, func() {
		q.mu.Lock()
		stale := gen != q.gen
		q.mu.Unlock()
		if stale {
			return
		}
		q.startNext()
	})
}
