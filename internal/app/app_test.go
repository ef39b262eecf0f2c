package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/parleo-ai/parleo/internal/app"
	"github.com/parleo-ai/parleo/internal/config"
	"github.com/parleo-ai/parleo/internal/transport"
	transportmock "github.com/parleo-ai/parleo/internal/transport/mock"
	"github.com/parleo-ai/parleo/pkg/audio"
	audiomock "github.com/parleo-ai/parleo/pkg/audio/mock"
	"github.com/parleo-ai/parleo/pkg/vad"
	vadmock "github.com/parleo-ai/parleo/pkg/vad/mock"
)

// testConfig returns a minimal voice-mode config. The HTTP sidecar stays off
// so tests don't bind ports.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Transport: config.TransportConfig{
			URL:  "ws://inference.test/ws",
			Mode: "voice",
		},
		Audio: config.AudioConfig{SampleRate: 16000, FrameMs: 20},
		VAD:   config.VADConfig{Strategy: config.VADEnergy},
		Interrupt: config.InterruptConfig{
			CooldownMs:          1000,
			SustainFrames:       5,
			ProcessingTimeoutMs: 30000,
			StopSimilarity:      0.85,
		},
		Playback: config.PlaybackConfig{Backend: config.PlaybackAudio},
	}
}

// testDoubles bundles the injected fakes for one App under test.
type testDoubles struct {
	channel *transportmock.Channel
	source  *audiomock.Source
	vadSess *vadmock.Session
	sink    *audiomock.Sink
}

func newTestApp(t *testing.T, cfg *config.Config) (*app.App, *testDoubles) {
	t.Helper()

	d := &testDoubles{
		channel: transportmock.NewChannel(),
		source:  audiomock.NewSource(),
		vadSess: &vadmock.Session{},
		sink:    &audiomock.Sink{},
	}

	a, err := app.New(context.Background(), cfg,
		app.WithSourceOpener(&audiomock.Opener{OpenResult: d.source}),
		app.WithDetector(&vadmock.Detector{SessionResult: d.vadSess}),
		app.WithSink(func() (audio.Sink, error) { return d.sink, nil }),
		app.WithDialer(func(context.Context, string) (transport.Channel, error) {
			return d.channel, nil
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, d
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	a, _ := newTestApp(t, testConfig())

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	// Idempotent.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestRun_SessionLifecycle(t *testing.T) {
	t.Parallel()

	a, d := newTestApp(t, testConfig())

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	// The engine must open the channel with the configured mode before the
	// backend signals readiness.
	waitFor(t, func() bool { return len(d.channel.Inits()) == 1 }, "init message")
	if got := d.channel.Inits()[0]; got != "voice" {
		t.Fatalf("init mode = %q, want voice", got)
	}
	d.channel.Emit(transport.Event{Type: transport.EventReady})

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}

	if d.source.CallCountClose == 0 {
		t.Fatal("capture source was not released")
	}
	if d.channel.CallCountClose == 0 {
		t.Fatal("transport channel was not closed")
	}
}

func TestRun_DriveOneTurn(t *testing.T) {
	t.Parallel()

	a, d := newTestApp(t, testConfig())

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	waitFor(t, func() bool { return len(d.channel.Inits()) == 1 }, "init message")
	d.channel.Emit(transport.Event{Type: transport.EventReady})

	d.vadSess.Enqueue(vad.Event{Type: vad.SpeechStart}, vad.Event{Type: vad.SpeechEnd})
	d.source.Push(audiomock.SilenceFrame(640))
	d.source.Push(audiomock.SilenceFrame(640))
	waitFor(t, func() bool { return d.channel.StopRecordings() == 1 }, "utterance capture")

	d.channel.Emit(transport.Event{Type: transport.EventAudioChunk, Audio: []byte{1, 2, 3, 4}})
	waitFor(t, func() bool { return d.sink.PlayedCount() == 1 }, "playback of response audio")

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	<-done
}

func TestRun_SecondSessionRejected(t *testing.T) {
	t.Parallel()

	a, d := newTestApp(t, testConfig())

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	waitFor(t, func() bool { return len(d.channel.Inits()) == 1 }, "init message")
	d.channel.Emit(transport.Event{Type: transport.EventReady})

	if err := a.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "already active") {
		t.Fatalf("second Run error = %v, want already-active", err)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	<-done
}

func TestRun_DialFailure(t *testing.T) {
	t.Parallel()

	dialErr := errors.New("connection refused")
	a, err := app.New(context.Background(), testConfig(),
		app.WithSourceOpener(&audiomock.Opener{}),
		app.WithDetector(&vadmock.Detector{}),
		app.WithSink(func() (audio.Sink, error) { return &audiomock.Sink{}, nil }),
		app.WithDialer(func(context.Context, string) (transport.Channel, error) {
			return nil, dialErr
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if err := a.Run(context.Background()); !errors.Is(err, dialErr) {
		t.Fatalf("Run error = %v, want wrapped dial error", err)
	}
}

func TestNew_AvatarBackendNeedsFactory(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Playback.Backend = config.PlaybackAvatar
	cfg.Avatar = config.AvatarConfig{APIURL: "https://render.test", APIKey: "k", AvatarID: "av"}

	_, err := app.New(context.Background(), cfg,
		app.WithSourceOpener(&audiomock.Opener{}),
		app.WithDetector(&vadmock.Detector{}),
		app.WithDialer(func(context.Context, string) (transport.Channel, error) {
			return transportmock.NewChannel(), nil
		}),
	)
	if err == nil || !strings.Contains(err.Error(), "renderer session factory") {
		t.Fatalf("New error = %v, want missing-factory error", err)
	}
}
