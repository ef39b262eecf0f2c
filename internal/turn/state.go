package turn

// State is the engine's controller state.
type State int

const (
	// StateIdle — voice mode off; no resources held.
	StateIdle State = iota

	// StateConnecting — transport opened, waiting for the ready event.
	StateConnecting

	// StateListening — mic live, waiting for speech to start.
	StateListening

	// StateRecording — an utterance is being captured and streamed.
	StateRecording

	// StateProcessing — utterance sent; waiting for response content.
	StateProcessing

	// StateSpeaking — response content is playing.
	StateSpeaking
)

// String returns the human-readable name of the controller state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// legalTransitions is the complete edge set of the controller state machine.
// Stop (any state to idle) is handled separately; everything else must be
// an edge listed here.
var legalTransitions = map[State][]State{
	StateIdle:       {StateConnecting},
	StateConnecting: {StateListening},
	StateListening:  {StateRecording},
	StateRecording:  {StateProcessing},
	StateProcessing: {StateSpeaking, StateListening},
	StateSpeaking:   {StateListening},
}

// canTransition reports whether from→to is a legal edge. Any state may
// transition to idle (explicit stop or transport failure).
func canTransition(from, to State) bool {
	if to == StateIdle {
		return true
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
