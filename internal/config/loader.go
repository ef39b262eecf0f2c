package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Transport.Mode == "" {
		cfg.Transport.Mode = "voice"
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.FrameMs == 0 {
		cfg.Audio.FrameMs = 20
	}
	if cfg.VAD.Strategy == "" {
		cfg.VAD.Strategy = VADEnergy
	}
	if cfg.VAD.SpeechThreshold == 0 {
		cfg.VAD.SpeechThreshold = 0.015
	}
	if cfg.VAD.SilenceThreshold == 0 {
		cfg.VAD.SilenceThreshold = 0.008
	}
	if cfg.VAD.StartFrames == 0 {
		cfg.VAD.StartFrames = 3
	}
	if cfg.VAD.HangoverMs == 0 {
		cfg.VAD.HangoverMs = 240
	}
	if cfg.Interrupt.CooldownMs == 0 {
		cfg.Interrupt.CooldownMs = 1000
	}
	if cfg.Interrupt.SustainFrames == 0 {
		cfg.Interrupt.SustainFrames = 5
	}
	if cfg.Interrupt.ProcessingTimeoutMs == 0 {
		cfg.Interrupt.ProcessingTimeoutMs = 30000
	}
	if cfg.Interrupt.StopSimilarity == 0 {
		cfg.Interrupt.StopSimilarity = 0.85
	}
	if cfg.Playback.Backend == "" {
		cfg.Playback.Backend = PlaybackAudio
	}
	if cfg.Prewarm.TimeoutMs == 0 {
		cfg.Prewarm.TimeoutMs = 3000
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Transport.URL == "" {
		errs = append(errs, errors.New("transport.url is required"))
	}

	switch cfg.Audio.FrameMs {
	case 10, 20, 30:
	default:
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is invalid; valid values: 10, 20, 30", cfg.Audio.FrameMs))
	}
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}

	if !cfg.VAD.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("vad.strategy %q is invalid; valid values: energy, remote", cfg.VAD.Strategy))
	}
	if cfg.VAD.Strategy == VADRemote && cfg.VAD.RemoteURL == "" {
		errs = append(errs, errors.New("vad.remote_url is required when vad.strategy is remote"))
	}
	if cfg.VAD.Aggressiveness < 0 || cfg.VAD.Aggressiveness > 3 {
		errs = append(errs, fmt.Errorf("vad.aggressiveness %d must be between 0 and 3", cfg.VAD.Aggressiveness))
	}
	if cfg.VAD.SilenceThreshold > cfg.VAD.SpeechThreshold {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %v must not exceed vad.speech_threshold %v",
			cfg.VAD.SilenceThreshold, cfg.VAD.SpeechThreshold))
	}

	if cfg.Interrupt.StopSimilarity <= 0 || cfg.Interrupt.StopSimilarity > 1 {
		errs = append(errs, fmt.Errorf("interrupt.stop_similarity %v must be in (0, 1]", cfg.Interrupt.StopSimilarity))
	}

	if !cfg.Playback.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("playback.backend %q is invalid; valid values: audio, avatar", cfg.Playback.Backend))
	}
	if cfg.Playback.Backend == PlaybackAvatar {
		if cfg.Avatar.APIURL == "" {
			errs = append(errs, errors.New("avatar.api_url is required when playback.backend is avatar"))
		}
		if cfg.Avatar.APIKey == "" {
			errs = append(errs, errors.New("avatar.api_key is required when playback.backend is avatar"))
		}
		if cfg.Avatar.AvatarID == "" {
			errs = append(errs, errors.New("avatar.avatar_id is required when playback.backend is avatar"))
		}
	}

	return errors.Join(errs...)
}
