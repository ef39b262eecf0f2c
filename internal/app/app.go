// Package app wires all Parleo subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the voice session plus the HTTP sidecar, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithSourceOpener, WithDialer, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/parleo-ai/parleo/internal/config"
	"github.com/parleo-ai/parleo/internal/health"
	"github.com/parleo-ai/parleo/internal/history"
	"github.com/parleo-ai/parleo/internal/observe"
	"github.com/parleo-ai/parleo/internal/playback"
	"github.com/parleo-ai/parleo/internal/prewarm"
	"github.com/parleo-ai/parleo/internal/transport"
	"github.com/parleo-ai/parleo/internal/turn"
	"github.com/parleo-ai/parleo/pkg/audio"
	malgodev "github.com/parleo-ai/parleo/pkg/audio/malgo"
	"github.com/parleo-ai/parleo/pkg/renderer"
	"github.com/parleo-ai/parleo/pkg/vad"
	"github.com/parleo-ai/parleo/pkg/vad/energy"
	"github.com/parleo-ai/parleo/pkg/vad/remote"
)

// DialFunc opens the bidirectional event channel to the inference backend.
type DialFunc func(ctx context.Context, url string) (transport.Channel, error)

// RendererSessionFactory builds a live avatar rendering session from a
// negotiated vendor token. The vendor SDK binding lives outside this module;
// embedding applications supply one when the avatar playback backend is
// configured.
type RendererSessionFactory func(ctx context.Context, token renderer.SessionToken) (renderer.Session, error)

// App owns all subsystem lifetimes and orchestrates the Parleo voice loop.
type App struct {
	cfg *config.Config

	// Subsystems — initialised in New, torn down in Shutdown.
	metrics    *observe.Metrics
	store      *history.Store
	turnStore  turn.Store
	prewarmer  *prewarm.Client
	device     *malgodev.Context
	opener     audio.SourceOpener
	detector   vad.Detector
	openSink   func() (audio.Sink, error)
	tokens     *renderer.TokenClient
	newSession RendererSessionFactory
	dial       DialFunc
	httpSrv    *http.Server

	// mu guards the single active engine.
	mu     sync.Mutex
	engine *turn.Engine

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSourceOpener injects a capture device instead of opening the default
// microphone through miniaudio.
func WithSourceOpener(o audio.SourceOpener) Option {
	return func(a *App) { a.opener = o }
}

// WithSink injects a playback sink opener instead of the miniaudio device.
func WithSink(open func() (audio.Sink, error)) Option {
	return func(a *App) { a.openSink = open }
}

// WithDetector injects a VAD detector instead of creating one from config.
func WithDetector(d vad.Detector) Option {
	return func(a *App) { a.detector = d }
}

// WithDialer injects the transport dialer instead of the websocket client.
func WithDialer(d DialFunc) Option {
	return func(a *App) { a.dial = d }
}

// WithTurnStore injects a turn store instead of connecting to PostgreSQL.
func WithTurnStore(s turn.Store) Option {
	return func(a *App) { a.turnStore = s }
}

// WithRendererSessionFactory supplies the avatar SDK binding used when the
// playback backend is "avatar".
func WithRendererSessionFactory(f RendererSessionFactory) Option {
	return func(a *App) { a.newSession = f }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Metrics ───────────────────────────────────────────────────────
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}
	a.metrics = metrics

	// ── 2. Turn history ──────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 3. Prewarm client ────────────────────────────────────────────────
	if cfg.Prewarm.URL != "" {
		a.prewarmer = prewarm.New(cfg.Prewarm.URL,
			prewarm.WithTimeout(time.Duration(cfg.Prewarm.TimeoutMs)*time.Millisecond))
	}

	// ── 4. Audio devices ─────────────────────────────────────────────────
	if err := a.initAudio(); err != nil {
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 5. VAD ───────────────────────────────────────────────────────────
	a.initDetector()

	// ── 6. Avatar renderer ───────────────────────────────────────────────
	if err := a.initRenderer(); err != nil {
		return nil, fmt.Errorf("app: init renderer: %w", err)
	}

	// ── 7. Transport ─────────────────────────────────────────────────────
	if a.dial == nil {
		a.dial = func(ctx context.Context, url string) (transport.Channel, error) {
			return transport.Dial(ctx, url)
		}
	}

	// ── 8. HTTP sidecar ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initHistory connects the PostgreSQL turn store when a DSN is configured.
func (a *App) initHistory(ctx context.Context) error {
	if a.turnStore != nil || a.cfg.History.PostgresDSN == "" {
		return nil
	}

	store, err := history.NewStore(ctx, a.cfg.History.PostgresDSN)
	if err != nil {
		return err
	}
	a.store = store
	a.turnStore = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initAudio sets up the miniaudio context unless both the capture opener and
// the playback sink were injected (or the sink is not needed).
func (a *App) initAudio() error {
	needSink := a.cfg.Playback.Backend == config.PlaybackAudio && a.openSink == nil
	if a.opener != nil && !needSink {
		return nil
	}

	dev, err := malgodev.NewContext()
	if err != nil {
		return err
	}
	a.device = dev
	a.closers = append(a.closers, dev.Close)

	if a.opener == nil {
		a.opener = dev
	}
	if needSink {
		a.openSink = func() (audio.Sink, error) {
			return dev.OpenSink(a.cfg.Audio.SampleRate)
		}
	}
	return nil
}

// initDetector creates the configured VAD strategy if one wasn't injected.
func (a *App) initDetector() {
	if a.detector != nil {
		return
	}
	switch a.cfg.VAD.Strategy {
	case config.VADRemote:
		a.detector = remote.New(a.cfg.VAD.RemoteURL,
			remote.WithAggressiveness(a.cfg.VAD.Aggressiveness))
	default:
		a.detector = energy.New()
	}
}

// initRenderer sets up the avatar token client when the avatar backend is
// configured. The live session binding must be injected; only the token
// negotiation is handled here.
func (a *App) initRenderer() error {
	if a.cfg.Playback.Backend != config.PlaybackAvatar {
		return nil
	}
	if a.newSession == nil {
		return fmt.Errorf("playback.backend is %q but no renderer session factory was provided", config.PlaybackAvatar)
	}

	var topts []renderer.Option
	if a.cfg.Avatar.Sandbox {
		topts = append(topts, renderer.WithSandbox(true))
	}
	a.tokens = renderer.NewTokenClient(a.cfg.Avatar.APIURL, a.cfg.Avatar.APIKey, a.cfg.Avatar.AvatarID, topts...)
	return nil
}

// initHTTP builds the health + metrics sidecar when a listen address is set.
func (a *App) initHTTP() {
	if a.cfg.Server.ListenAddr == "" {
		return
	}

	checkers := []health.Checker{inferenceChecker(a.cfg.Transport.URL)}
	if a.store != nil {
		checkers = append(checkers, health.Checker{Name: "history", Check: a.store.Ping})
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// inferenceChecker reports whether the inference backend's host accepts TCP
// connections. It does not open a websocket; readiness should be cheap.
func inferenceChecker(wsURL string) health.Checker {
	return health.Checker{
		Name: "inference",
		Check: func(ctx context.Context) error {
			u, err := url.Parse(wsURL)
			if err != nil {
				return fmt.Errorf("parse transport url: %w", err)
			}
			host := u.Host
			if u.Port() == "" {
				switch u.Scheme {
				case "wss", "https":
					host = net.JoinHostPort(u.Hostname(), "443")
				default:
					host = net.JoinHostPort(u.Hostname(), "80")
				}
			}
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", host)
			if err != nil {
				return err
			}
			return conn.Close()
		},
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the voice session and, when configured, the HTTP sidecar. It
// blocks until ctx is cancelled, the session ends, or a component fails.
func (a *App) Run(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "voice.session",
		trace.WithSpanKind(trace.SpanKindClient))
	g, ctx := errgroup.WithContext(ctx)

	engine, err := a.startSession(ctx)
	if err != nil {
		span.End()
		return err
	}

	a.metrics.SessionStarted(ctx)
	g.Go(func() error {
		defer span.End()
		defer a.metrics.SessionEnded(context.Background())
		err := engine.Run(ctx)
		// The sidecar has nothing to report once the session is gone.
		if a.httpSrv != nil {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = a.httpSrv.Shutdown(shutCtx)
		}
		return err
	})

	if a.httpSrv != nil {
		g.Go(func() error {
			slog.Info("http sidecar listening", "addr", a.httpSrv.Addr)
			if err := a.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http sidecar: %w", err)
			}
			return nil
		})
	}

	slog.Info("app running", "mode", a.cfg.Transport.Mode, "playback", a.cfg.Playback.Backend)
	return g.Wait()
}

// startSession dials the backend and assembles the turn engine for one voice
// session.
func (a *App) startSession(ctx context.Context) (*turn.Engine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.engine != nil {
		return nil, fmt.Errorf("app: voice session already active")
	}

	// The trace ID doubles as the correlation id when a real tracer is
	// installed; tests and trace-less runs fall back to a random one.
	correlationID := observe.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = newCorrelationID()
	}
	log := observe.Logger(ctx).With("correlation_id", correlationID)

	// Best effort: a cold inference backend costs first-turn latency, not
	// correctness.
	if a.prewarmer != nil {
		if err := a.prewarmer.Warm(ctx, correlationID); err != nil {
			log.Warn("backend prewarm failed", "err", err)
		}
	}

	channel, err := a.dial(ctx, a.cfg.Transport.URL)
	if err != nil {
		return nil, fmt.Errorf("app: dial inference backend: %w", err)
	}

	factory, err := a.backendFactory(ctx)
	if err != nil {
		_ = channel.Close()
		return nil, err
	}

	opts := []turn.Option{
		turn.WithLogger(log),
		turn.WithObserver(a.metrics),
	}
	if a.turnStore != nil {
		opts = append(opts, turn.WithStore(a.turnStore))
	}

	engine := turn.NewEngine(turn.NewSession(correlationID), channel, a.opener, a.detector, factory, a.engineConfig(), opts...)
	a.engine = engine
	return engine, nil
}

// backendFactory builds the playback backend constructor for one session.
// Sinks and renderer sessions are per session: the engine closes its backend
// on teardown, and a later session gets a fresh one.
func (a *App) backendFactory(ctx context.Context) (turn.BackendFactory, error) {
	switch a.cfg.Playback.Backend {
	case config.PlaybackAvatar:
		token, err := a.tokens.CreateSessionToken(ctx, a.cfg.Avatar.VoiceID)
		if err != nil {
			return nil, fmt.Errorf("app: negotiate renderer token: %w", err)
		}
		sess, err := a.newSession(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("app: open renderer session: %w", err)
		}
		if err := sess.Start(ctx); err != nil {
			return nil, fmt.Errorf("app: start renderer session: %w", err)
		}
		return func(onIdle func()) playback.Backend {
			return playback.NewAvatarDelegate(sess, onIdle)
		}, nil
	default:
		sink, err := a.openSink()
		if err != nil {
			return nil, fmt.Errorf("app: open playback device: %w", err)
		}
		return func(onIdle func()) playback.Backend {
			return playback.NewQueued(sink, onIdle)
		}, nil
	}
}

// engineConfig maps the file configuration onto the turn engine's knobs.
func (a *App) engineConfig() turn.Config {
	cfg := a.cfg
	return turn.Config{
		Mode: cfg.Transport.Mode,
		Capture: audio.CaptureConfig{
			SampleRate: cfg.Audio.SampleRate,
			FrameMs:    cfg.Audio.FrameMs,
		},
		VAD: vad.Config{
			SampleRate:       cfg.Audio.SampleRate,
			FrameMs:          cfg.Audio.FrameMs,
			SpeechThreshold:  cfg.VAD.SpeechThreshold,
			SilenceThreshold: cfg.VAD.SilenceThreshold,
			StartFrames:      cfg.VAD.StartFrames,
			HangoverMs:       cfg.VAD.HangoverMs,
		},
		InterruptCooldown:    time.Duration(cfg.Interrupt.CooldownMs) * time.Millisecond,
		BargeInSustainFrames: cfg.Interrupt.SustainFrames,
		ProcessingTimeout:    time.Duration(cfg.Interrupt.ProcessingTimeoutMs) * time.Millisecond,
		StopPhrases:          cfg.Interrupt.StopPhrases,
		StopSimilarity:       cfg.Interrupt.StopSimilarity,
	}
}

// ─── Commands ────────────────────────────────────────────────────────────────

// Interrupt requests a manual stop of the current response, as if the user
// had spoken a stop phrase.
func (a *App) Interrupt() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.engine != nil {
		a.engine.Interrupt()
	}
}

// ClearConversation wipes the rolling dialogue history on both ends.
func (a *App) ClearConversation() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.engine != nil {
		a.engine.ClearConversation()
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the voice session and closes all subsystems. Idempotent;
// later calls return nil immediately.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.mu.Lock()
		engine := a.engine
		a.engine = nil
		a.mu.Unlock()
		if engine != nil {
			engine.Stop()
		}

		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				slog.Warn("http sidecar shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// newCorrelationID returns a fresh random identifier for one voice session.
func newCorrelationID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("sess-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
