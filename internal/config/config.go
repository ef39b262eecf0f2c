// Package config provides the configuration schema and loader for the
// Parleo voice engine.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// VADStrategy selects the voice activity detection implementation.
type VADStrategy string

const (
	// VADEnergy is the local RMS energy-threshold detector.
	VADEnergy VADStrategy = "energy"

	// VADRemote delegates frame-exact detection to a remote service.
	VADRemote VADStrategy = "remote"
)

// IsValid reports whether s is a recognised VAD strategy.
func (s VADStrategy) IsValid() bool {
	return s == VADEnergy || s == VADRemote
}

// PlaybackBackend selects how responses are rendered.
type PlaybackBackend string

const (
	// PlaybackAudio plays streamed response audio through the local
	// output device.
	PlaybackAudio PlaybackBackend = "audio"

	// PlaybackAvatar delegates the full response text to an external
	// avatar rendering session.
	PlaybackAvatar PlaybackBackend = "avatar"
)

// IsValid reports whether b is a recognised playback backend.
func (b PlaybackBackend) IsValid() bool {
	return b == PlaybackAudio || b == PlaybackAvatar
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Interrupt InterruptConfig `yaml:"interrupt"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Avatar    AvatarConfig    `yaml:"avatar"`
	History   HistoryConfig   `yaml:"history"`
	Prewarm   PrewarmConfig   `yaml:"prewarm"`
}

// ServerConfig holds the local HTTP endpoint for health and metrics.
type ServerConfig struct {
	// ListenAddr is the TCP address to serve health and metrics on
	// (e.g., ":9090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// TransportConfig describes the session channel to the inference pipeline.
type TransportConfig struct {
	// URL is the websocket endpoint of the inference pipeline
	// (e.g., "wss://infer.example.com/ws/live").
	URL string `yaml:"url"`

	// Mode is the conversation mode announced in the init message.
	Mode string `yaml:"mode"`
}

// AudioConfig describes microphone capture.
type AudioConfig struct {
	// SampleRate in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameMs is the capture frame length in milliseconds. Must be 10,
	// 20, or 30. Default 20.
	FrameMs int `yaml:"frame_ms"`
}

// VADConfig is the single tunable parameter set for speech detection.
// Historically these constants drifted between call flows; they live here
// once, with documented defaults.
type VADConfig struct {
	// Strategy selects the detector. Default "energy".
	Strategy VADStrategy `yaml:"strategy"`

	// RemoteURL is the websocket endpoint of the remote detector.
	// Required when strategy is "remote".
	RemoteURL string `yaml:"remote_url"`

	// Aggressiveness tunes the remote detector, 0 (permissive) to 3
	// (strict).
	Aggressiveness int `yaml:"aggressiveness"`

	// SpeechThreshold is the normalised RMS level above which a frame
	// counts as speech. Default 0.015.
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// SilenceThreshold is the normalised RMS level below which a frame
	// counts as silence. Default 0.008.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// StartFrames is how many consecutive speech frames declare speech
	// start. Default 3.
	StartFrames int `yaml:"start_frames"`

	// HangoverMs is the silence needed after speech before the utterance
	// is finalized. Default 240.
	HangoverMs int `yaml:"hangover_ms"`
}

// InterruptConfig tunes barge-in handling.
type InterruptConfig struct {
	// CooldownMs is the minimum gap between interrupts. Default 1000.
	CooldownMs int `yaml:"cooldown_ms"`

	// SustainFrames is how many consecutive speech frames during system
	// output count as barge-in. Default 5.
	SustainFrames int `yaml:"sustain_frames"`

	// ProcessingTimeoutMs bounds the wait for first response content.
	// Default 30000.
	ProcessingTimeoutMs int `yaml:"processing_timeout_ms"`

	// StopPhrases are voice commands that cancel the current response.
	StopPhrases []string `yaml:"stop_phrases"`

	// StopSimilarity is the fuzzy-match threshold for stop phrases,
	// 0 < s <= 1. Default 0.85.
	StopSimilarity float64 `yaml:"stop_similarity"`
}

// PlaybackConfig selects the response rendering backend.
type PlaybackConfig struct {
	// Backend is "audio" or "avatar". Default "audio".
	Backend PlaybackBackend `yaml:"backend"`
}

// AvatarConfig holds credentials for the external avatar vendor. Required
// when the avatar playback backend is selected.
type AvatarConfig struct {
	// APIURL is the vendor API base URL.
	APIURL string `yaml:"api_url"`

	// APIKey authenticates session token requests.
	APIKey string `yaml:"api_key"`

	// AvatarID selects the rendered character.
	AvatarID string `yaml:"avatar_id"`

	// VoiceID selects the avatar's voice.
	VoiceID string `yaml:"voice_id"`

	// Sandbox requests a sandbox session.
	Sandbox bool `yaml:"sandbox"`
}

// HistoryConfig configures transcript persistence. Leave the DSN empty to
// keep turns in memory only.
type HistoryConfig struct {
	// PostgresDSN is the connection string for the transcript store.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// PrewarmConfig configures the best-effort retrieval-cache pre-warm call
// issued once at session start.
type PrewarmConfig struct {
	// URL is the pre-warm endpoint. Empty disables pre-warming.
	URL string `yaml:"url"`

	// TimeoutMs bounds the pre-warm request. Default 3000.
	TimeoutMs int `yaml:"timeout_ms"`
}
