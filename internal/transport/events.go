package transport

import (
	"encoding/base64"
	"encoding/json"
)

// EventType enumerates inbound message kinds from the inference pipeline.
type EventType int

const (
	// EventReady — channel handshake complete; the backend is listening.
	EventReady EventType = iota

	// EventSpeakingStarted — the backend acknowledged start_recording.
	EventSpeakingStarted

	// EventSpeakingStopped — the backend acknowledged stop_recording.
	EventSpeakingStopped

	// EventTranscript — a partial or final user transcript.
	EventTranscript

	// EventProcessing — the backend began generating a response.
	EventProcessing

	// EventAudioChunk — one synthesized audio fragment.
	EventAudioChunk

	// EventResponseComplete — the full response text is final.
	EventResponseComplete

	// EventError — a remote processing error; the pending turn is lost.
	EventError

	// EventInterrupted — the backend acknowledged an interrupt. Informational
	// only; the engine never waits for it.
	EventInterrupted

	// EventCleared — the backend acknowledged a history clear.
	EventCleared

	// EventModeChanged — the backend acknowledged a mode switch.
	EventModeChanged

	// EventPong — keepalive reply.
	EventPong

	// EventClosed — the connection terminated unexpectedly. Terminal.
	EventClosed
)

// String returns the wire name of the event type.
func (t EventType) String() string {
	switch t {
	case EventReady:
		return "ready"
	case EventSpeakingStarted:
		return "speaking_started"
	case EventSpeakingStopped:
		return "speaking_stopped"
	case EventTranscript:
		return "transcript"
	case EventProcessing:
		return "processing"
	case EventAudioChunk:
		return "audio_chunk"
	case EventResponseComplete:
		return "response_complete"
	case EventError:
		return "error"
	case EventInterrupted:
		return "interrupted"
	case EventCleared:
		return "cleared"
	case EventModeChanged:
		return "mode_changed"
	case EventPong:
		return "pong"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one decoded inbound message.
type Event struct {
	Type EventType

	// Text carries transcript text (EventTranscript) or the final response
	// text (EventResponseComplete).
	Text string

	// UserText carries the backend's view of the user utterance on
	// EventResponseComplete.
	UserText string

	// Final reports whether an EventTranscript is final rather than partial.
	Final bool

	// Audio carries decoded PCM16 bytes on EventAudioChunk.
	Audio []byte

	// Message carries the error description on EventError and EventClosed,
	// and the new mode on EventModeChanged.
	Message string
}

// outboundMessage is the JSON envelope for every client→backend message.
type outboundMessage struct {
	Type string `json:"type"`
	Mode string `json:"mode,omitempty"`
	Data string `json:"data,omitempty"` // base64 PCM16
}

// inboundMessage is the JSON envelope for every backend→client message.
type inboundMessage struct {
	Type           string `json:"type"`
	Text           string `json:"text,omitempty"`
	UserText       string `json:"user_text,omitempty"`
	FullTranscript string `json:"full_transcript,omitempty"`
	IsFinal        bool   `json:"is_final,omitempty"`
	Data           string `json:"data,omitempty"`
	Message        string `json:"message,omitempty"`
	Mode           string `json:"mode,omitempty"`
}

// decodeEvent parses one wire message. Unknown types and undecodable audio
// payloads are skipped (ok=false); the protocol treats them as forward
// compatibility, not errors.
func decodeEvent(data []byte) (Event, bool) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, false
	}

	switch msg.Type {
	case "ready":
		return Event{Type: EventReady, Message: msg.Message}, true
	case "speaking_started":
		return Event{Type: EventSpeakingStarted}, true
	case "speaking_stopped":
		return Event{Type: EventSpeakingStopped}, true
	case "transcript":
		text := msg.Text
		if msg.IsFinal && msg.FullTranscript != "" {
			text = msg.FullTranscript
		}
		return Event{Type: EventTranscript, Text: text, Final: msg.IsFinal}, true
	case "processing":
		return Event{Type: EventProcessing}, true
	case "audio_chunk", "audio":
		pcm, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil || len(pcm) == 0 {
			return Event{}, false
		}
		return Event{Type: EventAudioChunk, Audio: pcm}, true
	case "response_complete":
		return Event{Type: EventResponseComplete, Text: msg.Text, UserText: msg.UserText}, true
	case "error":
		return Event{Type: EventError, Message: msg.Message}, true
	case "interrupted":
		return Event{Type: EventInterrupted}, true
	case "cleared":
		return Event{Type: EventCleared}, true
	case "mode_changed":
		return Event{Type: EventModeChanged, Message: msg.Mode}, true
	case "pong":
		return Event{Type: EventPong}, true
	default:
		return Event{}, false
	}
}
