package transport_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/parleo-ai/parleo/internal/transport"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server. The handler receives the
// accepted conn; the server closes when the test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func waitEvent(t *testing.T, ch *transport.WSChannel, want transport.EventType) transport.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt, ok := <-ch.Events():
			if !ok {
				t.Fatalf("events channel closed while waiting for %v", want)
			}
			if evt.Type == want {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", want)
		}
	}
}

// ── Outbound messages ────────────────────────────────────────────────────────

func TestOutboundVocabulary(t *testing.T) {
	t.Parallel()

	received := make(chan map[string]any, 16)
	srv := startServer(t, func(conn *websocket.Conn) {
		for {
			var raw map[string]any
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				return
			}
			if json.Unmarshal(data, &raw) == nil {
				received <- raw
			}
		}
	})

	ch, err := transport.Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	pcm := []byte{1, 2, 3, 4}
	steps := []struct {
		send     func() error
		wantType string
	}{
		{func() error { return ch.SendInit("training") }, "init"},
		{func() error { return ch.SendStartRecording() }, "start_recording"},
		{func() error { return ch.SendFrame(pcm) }, "audio"},
		{func() error { return ch.SendStopRecording() }, "stop_recording"},
		{func() error { return ch.SendInterrupt() }, "interrupt"},
		{func() error { return ch.SendClear() }, "clear"},
	}

	for _, step := range steps {
		if err := step.send(); err != nil {
			t.Fatalf("send %s: %v", step.wantType, err)
		}
		select {
		case msg := <-received:
			if msg["type"] != step.wantType {
				t.Fatalf("got type %v, want %s", msg["type"], step.wantType)
			}
			if step.wantType == "audio" {
				decoded, err := base64.StdEncoding.DecodeString(msg["data"].(string))
				if err != nil || string(decoded) != string(pcm) {
					t.Fatalf("audio payload mismatch: %v %v", decoded, err)
				}
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("server never received %s", step.wantType)
		}
	}
}

func TestFramesDroppedAfterClose(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn) {
		<-conn.CloseRead(context.Background()).Done()
	})

	ch, err := transport.Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Dropped, not queued, not an error.
	if err := ch.SendFrame([]byte{1, 2}); err != nil {
		t.Fatalf("SendFrame after close should drop silently, got %v", err)
	}
}

// ── Inbound decoding ─────────────────────────────────────────────────────────

func TestInboundVocabulary(t *testing.T) {
	t.Parallel()

	chunk := base64.StdEncoding.EncodeToString([]byte("pcmpcm"))
	srv := startServer(t, func(conn *websocket.Conn) {
		writeJSON(t, conn, map[string]any{"type": "ready", "message": "Listening..."})
		writeJSON(t, conn, map[string]any{"type": "speaking_started"})
		writeJSON(t, conn, map[string]any{"type": "transcript", "text": "hel", "is_final": false})
		writeJSON(t, conn, map[string]any{"type": "transcript", "text": "hel", "is_final": true, "full_transcript": "hello there"})
		writeJSON(t, conn, map[string]any{"type": "processing"})
		writeJSON(t, conn, map[string]any{"type": "audio_chunk", "data": chunk})
		writeJSON(t, conn, map[string]any{"type": "response_complete", "text": "hi!", "user_text": "hello there"})
		writeJSON(t, conn, map[string]any{"type": "bogus_future_event"})
		writeJSON(t, conn, map[string]any{"type": "error", "message": "boom"})
		<-conn.CloseRead(context.Background()).Done()
	})

	ch, err := transport.Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	waitEvent(t, ch, transport.EventReady)
	waitEvent(t, ch, transport.EventSpeakingStarted)

	partial := waitEvent(t, ch, transport.EventTranscript)
	if partial.Final || partial.Text != "hel" {
		t.Fatalf("partial transcript = %+v", partial)
	}
	final := waitEvent(t, ch, transport.EventTranscript)
	if !final.Final || final.Text != "hello there" {
		t.Fatalf("final transcript = %+v; full_transcript should win when final", final)
	}

	waitEvent(t, ch, transport.EventProcessing)

	audio := waitEvent(t, ch, transport.EventAudioChunk)
	if string(audio.Audio) != "pcmpcm" {
		t.Fatalf("audio chunk = %q", audio.Audio)
	}

	complete := waitEvent(t, ch, transport.EventResponseComplete)
	if complete.Text != "hi!" || complete.UserText != "hello there" {
		t.Fatalf("response_complete = %+v", complete)
	}

	// The unknown type was skipped; next event is the error.
	errEvt := waitEvent(t, ch, transport.EventError)
	if errEvt.Message != "boom" {
		t.Fatalf("error message = %q", errEvt.Message)
	}
}

func TestUnexpectedCloseEmitsClosedEvent(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn) {
		writeJSON(t, conn, map[string]any{"type": "ready"})
		// handler returns: the deferred close tears the connection down
	})

	ch, err := transport.Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	waitEvent(t, ch, transport.EventReady)
	waitEvent(t, ch, transport.EventClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn) {
		<-conn.CloseRead(context.Background()).Done()
	})

	ch, err := transport.Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
