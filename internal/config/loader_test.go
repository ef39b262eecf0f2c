package config

import (
	"strings"
	"testing"
)

const minimalYAML = `
transport:
  url: wss://infer.example.com/ws/live
`

func TestLoadFromReaderDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("log level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.FrameMs != 20 {
		t.Errorf("audio defaults = %d Hz / %d ms, want 16000 / 20", cfg.Audio.SampleRate, cfg.Audio.FrameMs)
	}
	if cfg.VAD.Strategy != VADEnergy {
		t.Errorf("vad strategy = %q, want energy", cfg.VAD.Strategy)
	}
	if cfg.VAD.SpeechThreshold != 0.015 || cfg.VAD.SilenceThreshold != 0.008 {
		t.Errorf("vad thresholds = %v / %v, want 0.015 / 0.008", cfg.VAD.SpeechThreshold, cfg.VAD.SilenceThreshold)
	}
	if cfg.VAD.StartFrames != 3 || cfg.VAD.HangoverMs != 240 {
		t.Errorf("vad hysteresis = %d frames / %d ms, want 3 / 240", cfg.VAD.StartFrames, cfg.VAD.HangoverMs)
	}
	if cfg.Interrupt.CooldownMs != 1000 || cfg.Interrupt.ProcessingTimeoutMs != 30000 {
		t.Errorf("interrupt defaults = %d / %d, want 1000 / 30000", cfg.Interrupt.CooldownMs, cfg.Interrupt.ProcessingTimeoutMs)
	}
	if cfg.Playback.Backend != PlaybackAudio {
		t.Errorf("playback backend = %q, want audio", cfg.Playback.Backend)
	}
}

func TestLoadFromReaderFullConfig(t *testing.T) {
	t.Parallel()

	yml := `
server:
  listen_addr: ":9090"
  log_level: debug
transport:
  url: wss://infer.example.com/ws/live
  mode: training
audio:
  sample_rate: 16000
  frame_ms: 30
vad:
  strategy: remote
  remote_url: wss://vad.example.com/ws
  aggressiveness: 2
interrupt:
  cooldown_ms: 1500
  stop_phrases: ["stop", "wait stop"]
playback:
  backend: avatar
avatar:
  api_url: https://avatar.example.com
  api_key: secret
  avatar_id: trainer-1
  voice_id: warm-f
history:
  postgres_dsn: postgres://localhost/parleo
prewarm:
  url: https://api.example.com/cache/prewarm
`
	cfg, err := LoadFromReader(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.VAD.Strategy != VADRemote || cfg.VAD.Aggressiveness != 2 {
		t.Errorf("vad = %+v, want remote/2", cfg.VAD)
	}
	if cfg.Playback.Backend != PlaybackAvatar {
		t.Errorf("backend = %q, want avatar", cfg.Playback.Backend)
	}
	if len(cfg.Interrupt.StopPhrases) != 2 {
		t.Errorf("stop phrases = %v, want 2 entries", cfg.Interrupt.StopPhrases)
	}
}

func TestLoadFromReaderUnknownField(t *testing.T) {
	t.Parallel()

	yml := minimalYAML + `
bogus_section:
  key: value
`
	if _, err := LoadFromReader(strings.NewReader(yml)); err == nil {
		t.Fatal("unknown top-level field accepted, want error")
	}
}

func TestValidateCollectsAllFailures(t *testing.T) {
	t.Parallel()

	yml := `
server:
  log_level: loud
transport:
  url: ""
audio:
  frame_ms: 25
vad:
  strategy: psychic
playback:
  backend: hologram
`
	_, err := LoadFromReader(strings.NewReader(yml))
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	for _, want := range []string{"server.log_level", "transport.url", "audio.frame_ms", "vad.strategy", "playback.backend"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %s: %v", want, err)
		}
	}
}

func TestValidateRemoteVADNeedsURL(t *testing.T) {
	t.Parallel()

	yml := minimalYAML + `
vad:
  strategy: remote
`
	_, err := LoadFromReader(strings.NewReader(yml))
	if err == nil || !strings.Contains(err.Error(), "vad.remote_url") {
		t.Fatalf("missing remote_url not reported: %v", err)
	}
}

func TestValidateAvatarBackendNeedsCredentials(t *testing.T) {
	t.Parallel()

	yml := minimalYAML + `
playback:
  backend: avatar
`
	_, err := LoadFromReader(strings.NewReader(yml))
	if err == nil {
		t.Fatal("avatar backend without credentials accepted")
	}
	for _, want := range []string{"avatar.api_url", "avatar.api_key", "avatar.avatar_id"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %s: %v", want, err)
		}
	}
}

func TestValidateThresholdOrdering(t *testing.T) {
	t.Parallel()

	yml := minimalYAML + `
vad:
  speech_threshold: 0.005
  silence_threshold: 0.02
`
	_, err := LoadFromReader(strings.NewReader(yml))
	if err == nil || !strings.Contains(err.Error(), "silence_threshold") {
		t.Fatalf("threshold inversion not reported: %v", err)
	}
}
