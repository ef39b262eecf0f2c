package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parleo-ai/parleo/internal/playback"
	"github.com/parleo-ai/parleo/internal/transport"
	"github.com/parleo-ai/parleo/pkg/audio"
	"github.com/parleo-ai/parleo/pkg/vad"
)

// Store persists completed and interrupted turns. Persistence is
// best-effort: the engine logs failures and keeps going.
type Store interface {
	SaveTurn(ctx context.Context, correlationID string, t *Turn) error
}

// Observer receives engine measurements. Implementations must be cheap and
// must not block; every method is called from the event loop.
type Observer interface {
	TurnCompleted()
	TurnInterrupted()
	StaleChunkDropped()
	ResponseChunk(bytes int)
	UtteranceCaptured(d time.Duration)
	ProcessingLatency(d time.Duration)
}

type nopObserver struct{}

func (nopObserver) TurnCompleted()                  {}
func (nopObserver) TurnInterrupted()                {}
func (nopObserver) StaleChunkDropped()              {}
func (nopObserver) ResponseChunk(int)               {}
func (nopObserver) UtteranceCaptured(time.Duration) {}
func (nopObserver) ProcessingLatency(time.Duration) {}

// BackendFactory builds the playback backend for a session. onIdle must be
// invoked whenever the backend drains after having played; the engine uses
// it to detect the end of a spoken response.
type BackendFactory func(onIdle func()) playback.Backend

// Config holds the engine's tunable parameters. Zero fields take the
// documented defaults.
type Config struct {
	// Mode is the conversation mode sent in the init message.
	Mode string

	// Capture configures the microphone framer.
	Capture audio.CaptureConfig

	// VAD configures the detection strategy session.
	VAD vad.Config

	// InterruptCooldown is the minimum gap between two barge-in
	// interrupts, so one acoustic event cannot fire twice. Default 1s.
	InterruptCooldown time.Duration

	// BargeInSustainFrames is how many consecutive speech frames must
	// follow a speech start during system output before the engine treats
	// it as barge-in rather than a blip. Default 5.
	BargeInSustainFrames int

	// ProcessingTimeout bounds the wait for first response content. On
	// expiry the pending turn is discarded and the engine returns to
	// listening. Default 30s; negative disables the watchdog.
	ProcessingTimeout time.Duration

	// StopPhrases are voice commands that cancel the current response.
	// Default [DefaultStopPhrases].
	StopPhrases []string

	// StopSimilarity is the fuzzy-match threshold for stop phrases.
	// Default [DefaultStopSimilarity].
	StopSimilarity float64
}

func (c Config) withDefaults() Config {
	if c.InterruptCooldown == 0 {
		c.InterruptCooldown = time.Second
	}
	if c.BargeInSustainFrames == 0 {
		c.BargeInSustainFrames = 5
	}
	if c.ProcessingTimeout == 0 {
		c.ProcessingTimeout = 30 * time.Second
	}
	if c.StopPhrases == nil {
		c.StopPhrases = DefaultStopPhrases
	}
	c.VAD = c.VAD.WithDefaults()
	return c
}

// Option configures an [Engine].
type Option func(*Engine)

// WithLogger sets the engine logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithStore sets the turn persistence store.
func WithStore(store Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithObserver sets the metrics observer.
func WithObserver(obs Observer) Option {
	return func(e *Engine) { e.obs = obs }
}

// WithErrorHandler sets the callback for user-visible errors (transport
// loss, remote processing failure, response timeout). The callback runs on
// the event loop and must not block.
func WithErrorHandler(fn func(msg string)) Option {
	return func(e *Engine) { e.onError = fn }
}

// WithTransitionHook sets a callback invoked on every controller state
// change, on the event loop. Used by tests to assert the transition set.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(e *Engine) { e.onTransition = fn }
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// postKind enumerates internally posted event-loop work.
type postKind int

const (
	postPlaybackIdle postKind = iota
	postWatchdog
	postInterrupt
	postClear
)

type post struct {
	kind  postKind
	fence uint64
}

// Engine is the per-session turn controller. Construct with [NewEngine],
// drive with [Engine.Run], and stop with [Engine.Stop]. All internal state
// is owned by the Run goroutine.
type Engine struct {
	cfg        Config
	log        *slog.Logger
	session    *Session
	channel    transport.Channel
	opener     audio.SourceOpener
	detector   vad.Detector
	newBackend BackendFactory
	store      Store
	obs        Observer
	stopwords  *PhraseMatcher

	onError      func(string)
	onTransition func(from, to State)
	now          func() time.Time

	posts chan post

	mu       sync.Mutex
	snapshot State
	running  bool
	stopped  bool
	cancel   context.CancelFunc

	// Everything below is touched only by the Run goroutine.
	cur           State
	backend       playback.Backend
	source        audio.Source
	vadSession    vad.Session
	turn          *Turn
	utt           *utterance
	currentOutput string
	responseDone  bool
	bargeActive   bool
	bargeFrames   int
	lastInterrupt time.Time
	interrupting  bool
	watchdog      *time.Timer
}

// NewEngine wires a turn engine. The channel must already be dialed; the
// engine owns it from here and closes it on teardown. newBackend is called
// once per Run to build the playback backend.
func NewEngine(session *Session, channel transport.Channel, opener audio.SourceOpener, detector vad.Detector, newBackend BackendFactory, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg.withDefaults(),
		log:        slog.Default(),
		session:    session,
		channel:    channel,
		opener:     opener,
		detector:   detector,
		newBackend: newBackend,
		obs:        nopObserver{},
		now:        time.Now,
		posts:      make(chan post, 32),
		cur:        StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.stopwords = NewPhraseMatcher(e.cfg.StopPhrases, e.cfg.StopSimilarity)
	return e
}

// State returns the controller state as last published by the event loop.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

// Session returns the engine's session for fence and history reads.
func (e *Engine) Session() *Session { return e.session }

// Stop requests engine shutdown: any state to idle, all resources released.
// Idempotent; safe to call from any goroutine, before or after Run exits.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Interrupt requests a manual interrupt of the current response (the
// explicit user-stop trigger). No-op unless a response is in flight.
func (e *Engine) Interrupt() {
	e.post(post{kind: postInterrupt})
}

// ClearConversation resets the backend conversation and the rolling
// history.
func (e *Engine) ClearConversation() {
	e.post(post{kind: postClear})
}

// Run executes the event loop until Stop is called, the context is
// cancelled, or the transport fails. It returns nil on a clean stop.
// Run may be called at most once per engine.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("turn: engine already running")
	}
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.cancel = cancel
	e.mu.Unlock()

	e.transition(StateConnecting)
	if err := e.channel.SendInit(e.cfg.Mode); err != nil {
		e.teardown()
		return fmt.Errorf("turn: init: %w", err)
	}

	source, err := e.opener.OpenSource(ctx, e.cfg.Capture)
	if err != nil {
		e.surfaceError("microphone unavailable")
		e.teardown()
		return fmt.Errorf("turn: open capture: %w", err)
	}
	e.source = source

	vs, err := e.detector.NewSession(e.cfg.VAD)
	if err != nil {
		e.teardown()
		return fmt.Errorf("turn: vad session: %w", err)
	}
	e.vadSession = vs
	e.backend = e.newBackend(e.notifyPlaybackIdle)

	defer e.teardown()

	for {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			stopped := e.stopped
			e.mu.Unlock()
			if stopped {
				return nil
			}
			return ctx.Err()

		case frame, ok := <-e.source.Frames():
			if !ok {
				e.surfaceError("microphone stream ended")
				return errors.New("turn: capture stream closed")
			}
			e.handleFrame(frame)

		case ev, ok := <-e.channel.Events():
			if !ok {
				e.surfaceError("connection lost")
				return errors.New("turn: transport closed")
			}
			if err := e.handleTransportEvent(ctx, ev); err != nil {
				return err
			}

		case p := <-e.posts:
			e.handlePost(p)
		}
	}
}

// ─── Frame path ───────────────────────────────────────────────────────────────

func (e *Engine) handleFrame(frame audio.Frame) {
	switch e.cur {
	case StateListening, StateRecording, StateProcessing, StateSpeaking:
	default:
		return
	}

	ev, err := e.vadSession.ProcessFrame(frame.Data)
	if err != nil {
		e.log.Warn("vad frame rejected", "error", err)
		return
	}

	switch e.cur {
	case StateListening:
		if ev.Type == vad.SpeechStart {
			e.beginUtterance(frame)
		}
	case StateRecording:
		e.utt.bytes += len(frame.Data)
		e.utt.frames++
		_ = e.channel.SendFrame(frame.Data)
		if ev.Type == vad.SpeechEnd {
			e.finalizeUtterance()
		}
	case StateProcessing, StateSpeaking:
		e.trackBargeIn(ev)
	}
}

func (e *Engine) beginUtterance(frame audio.Frame) {
	if err := e.channel.SendStartRecording(); err != nil {
		e.log.Warn("start_recording failed", "error", err)
	}
	e.utt = &utterance{startedAt: e.now()}
	e.utt.bytes = len(frame.Data)
	e.utt.frames = 1
	_ = e.channel.SendFrame(frame.Data)
	e.transition(StateRecording)
}

func (e *Engine) finalizeUtterance() {
	if err := e.channel.SendStopRecording(); err != nil {
		e.log.Warn("stop_recording failed", "error", err)
	}
	e.obs.UtteranceCaptured(e.utt.duration(e.cfg.VAD.SampleRate))

	fence := e.session.NextFence()
	e.turn = &Turn{Fence: fence, State: TurnPending, StartedAt: e.now()}
	e.responseDone = false
	e.currentOutput = ""
	e.utt = nil
	e.transition(StateProcessing)
	e.armWatchdog(fence)
	e.log.Debug("utterance sent", "fence", fence)
}

// trackBargeIn watches speech detected while the system is producing or
// playing a response. A speech start alone is not enough; it must sustain
// for BargeInSustainFrames before triggering the interrupt.
func (e *Engine) trackBargeIn(ev vad.Event) {
	switch ev.Type {
	case vad.SpeechStart:
		e.bargeActive = true
		e.bargeFrames = 1
	case vad.SpeechContinue:
		if e.bargeActive {
			e.bargeFrames++
		}
	default:
		e.bargeActive = false
		e.bargeFrames = 0
		return
	}
	if e.bargeActive && e.bargeFrames >= e.cfg.BargeInSustainFrames {
		e.bargeActive = false
		e.bargeFrames = 0
		e.interrupt("barge-in", false)
	}
}

// ─── Transport path ───────────────────────────────────────────────────────────

func (e *Engine) handleTransportEvent(ctx context.Context, ev transport.Event) error {
	switch ev.Type {
	case transport.EventReady:
		if e.cur == StateConnecting {
			e.transition(StateListening)
			e.log.Info("session ready", "correlation_id", e.session.CorrelationID())
		}

	case transport.EventTranscript:
		e.handleTranscript(ev)

	case transport.EventAudioChunk:
		e.handleAudioChunk(ev.Audio)

	case transport.EventResponseComplete:
		e.handleResponseComplete(ctx, ev)

	case transport.EventError:
		e.handleRemoteError(ev.Message)

	case transport.EventClosed:
		e.surfaceError("connection lost")
		return fmt.Errorf("turn: transport closed: %s", ev.Message)

	case transport.EventProcessing, transport.EventSpeakingStarted,
		transport.EventSpeakingStopped, transport.EventInterrupted,
		transport.EventCleared, transport.EventModeChanged, transport.EventPong:
		e.log.Debug("transport event", "type", ev.Type.String())
	}
	return nil
}

func (e *Engine) handleTranscript(ev transport.Event) {
	switch e.cur {
	case StateRecording, StateProcessing:
		if ev.Final && ev.Text != "" && e.turn != nil {
			e.turn.UserText = ev.Text
		}

	case StateSpeaking:
		if !ev.Final || ev.Text == "" {
			return
		}
		if IsEcho(ev.Text, e.currentOutput) {
			e.log.Debug("echo suppressed", "text", ev.Text)
			return
		}
		if e.stopwords.Match(ev.Text) {
			e.interrupt("stop phrase", true)
			return
		}
		e.interrupt("transcript barge-in", false)
	}
}

func (e *Engine) handleAudioChunk(pcm []byte) {
	t := e.turn
	if t == nil || t.Fence != e.session.Fence() {
		e.obs.StaleChunkDropped()
		e.log.Debug("stale audio chunk dropped", "fence", e.session.Fence())
		return
	}
	if e.cur == StateProcessing {
		e.beginResponse(t)
	}
	if e.cur != StateSpeaking {
		return
	}
	t.Audio = append(t.Audio, pcm)
	e.obs.ResponseChunk(len(pcm))
	e.backend.Enqueue(pcm)
}

func (e *Engine) handleResponseComplete(ctx context.Context, ev transport.Event) {
	t := e.turn
	if t == nil || t.Fence != e.session.Fence() {
		e.obs.StaleChunkDropped()
		e.log.Debug("stale response_complete dropped", "fence", e.session.Fence())
		return
	}
	if ev.Text != "" {
		t.ResponseText = ev.Text
		e.currentOutput = ev.Text
	}
	if ev.UserText != "" {
		t.UserText = ev.UserText
	}
	if e.cur == StateProcessing {
		e.beginResponse(t)
	}
	e.responseDone = true

	if err := e.backend.Speak(ctx, t.ResponseText); err != nil {
		e.log.Warn("speak failed", "error", err)
	}
	if !e.backend.Active() {
		e.finishTurn()
	}
}

// beginResponse marks the arrival of first response content: the turn
// starts responding, the watchdog is disarmed, and the controller moves to
// speaking.
func (e *Engine) beginResponse(t *Turn) {
	e.disarmWatchdog()
	e.obs.ProcessingLatency(e.now().Sub(t.StartedAt))
	t.State = TurnResponding
	e.transition(StateSpeaking)
}

func (e *Engine) handleRemoteError(msg string) {
	if msg == "" {
		msg = "remote processing failed"
	}
	e.surfaceError(msg)
	switch e.cur {
	case StateProcessing, StateSpeaking:
		e.disarmWatchdog()
		e.backend.Stop()
		e.turn = nil
		e.responseDone = false
		e.transition(StateListening)
	default:
		e.log.Warn("remote error outside active turn", "message", msg)
	}
}

// ─── Posted work ──────────────────────────────────────────────────────────────

func (e *Engine) handlePost(p post) {
	switch p.kind {
	case postPlaybackIdle:
		if e.cur == StateSpeaking && e.responseDone && e.turn != nil && !e.backend.Active() {
			e.finishTurn()
		}

	case postWatchdog:
		if e.cur == StateProcessing && e.turn != nil && e.turn.Fence == p.fence {
			e.surfaceError("response timed out")
			e.turn = nil
			e.transition(StateListening)
		}

	case postInterrupt:
		e.interrupt("manual stop", true)

	case postClear:
		if err := e.channel.SendClear(); err != nil {
			e.log.Warn("clear failed", "error", err)
		}
		e.session.Clear()
		e.currentOutput = ""
	}
}

// ─── Interrupt coordinator ────────────────────────────────────────────────────

// interrupt cancels the in-flight response: fence advance, best-effort
// interrupt signal, synchronous playback stop, turn finalization, back to
// listening. manual triggers skip the cooldown; both respect the
// re-entrancy guard.
func (e *Engine) interrupt(reason string, manual bool) {
	if e.cur != StateProcessing && e.cur != StateSpeaking {
		return
	}
	if e.interrupting {
		return
	}
	if !manual && e.now().Sub(e.lastInterrupt) < e.cfg.InterruptCooldown {
		return
	}
	e.interrupting = true
	defer func() { e.interrupting = false }()
	e.lastInterrupt = e.now()

	fence := e.session.NextFence()
	if err := e.channel.SendInterrupt(); err != nil {
		e.log.Debug("interrupt signal failed", "error", err)
	}
	e.backend.Stop()
	e.disarmWatchdog()

	if t := e.turn; t != nil {
		t.State = TurnInterrupted
		if t.ResponseText == "" {
			t.ResponseText = InterruptionMarker
		}
		e.recordTurn(t)
		e.turn = nil
	}
	e.responseDone = false
	e.currentOutput = ""
	e.obs.TurnInterrupted()

	// Fresh capture state so no audio from the cancelled turn bleeds into
	// the next utterance.
	e.vadSession.Reset()
	e.utt = nil
	e.bargeActive = false
	e.bargeFrames = 0

	e.transition(StateListening)
	e.log.Info("response interrupted", "reason", reason, "fence", fence)
}

// ─── Turn completion and bookkeeping ──────────────────────────────────────────

func (e *Engine) finishTurn() {
	t := e.turn
	if t == nil {
		return
	}
	t.State = TurnComplete
	e.recordTurn(t)
	e.turn = nil
	e.responseDone = false
	e.obs.TurnCompleted()
	e.vadSession.Reset()
	e.transition(StateListening)
	e.log.Debug("turn complete", "fence", t.Fence)
}

func (e *Engine) recordTurn(t *Turn) {
	if t.UserText != "" {
		e.session.Append("user", t.UserText)
	}
	if t.ResponseText != "" {
		e.session.Append("assistant", t.ResponseText)
	}
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.SaveTurn(ctx, e.session.CorrelationID(), t); err != nil {
		e.log.Warn("turn not persisted", "error", err, "fence", t.Fence)
	}
}

func (e *Engine) armWatchdog(fence uint64) {
	e.disarmWatchdog()
	if e.cfg.ProcessingTimeout < 0 {
		return
	}
	e.watchdog = time.AfterFunc(e.cfg.ProcessingTimeout, func() {
		e.post(post{kind: postWatchdog, fence: fence})
	})
}

func (e *Engine) disarmWatchdog() {
	if e.watchdog != nil {
		e.watchdog.Stop()
		e.watchdog = nil
	}
}

func (e *Engine) notifyPlaybackIdle() {
	e.post(post{kind: postPlaybackIdle})
}

// post enqueues event-loop work without blocking. The buffer is generous;
// if it is ever full the loop is already draining it.
func (e *Engine) post(p post) {
	select {
	case e.posts <- p:
	default:
	}
}

func (e *Engine) surfaceError(msg string) {
	e.log.Error("voice session error", "message", msg)
	if e.onError != nil {
		e.onError(msg)
	}
}

// transition moves the controller to the given state, publishing a
// snapshot for external readers. Illegal edges are refused and logged;
// they indicate a bug, never expected flow.
func (e *Engine) transition(to State) {
	from := e.cur
	if from == to {
		return
	}
	if !canTransition(from, to) {
		e.log.Error("illegal state transition refused", "from", from.String(), "to", to.String())
		return
	}
	e.cur = to
	e.mu.Lock()
	e.snapshot = to
	e.mu.Unlock()
	if e.onTransition != nil {
		e.onTransition(from, to)
	}
	e.log.Debug("state", "from", from.String(), "to", to.String())
}

// teardown releases every session resource exactly once and parks the
// controller in idle. Safe to call on partial initialization.
func (e *Engine) teardown() {
	e.disarmWatchdog()
	if e.backend != nil {
		e.backend.Stop()
		if err := e.backend.Close(); err != nil {
			e.log.Warn("backend close failed", "error", err)
		}
		e.backend = nil
	}
	if e.vadSession != nil {
		_ = e.vadSession.Close()
		e.vadSession = nil
	}
	if e.source != nil {
		if err := e.source.Close(); err != nil {
			e.log.Warn("capture close failed", "error", err)
		}
		e.source = nil
	}
	if err := e.channel.Close(); err != nil {
		e.log.Warn("channel close failed", "error", err)
	}
	e.transition(StateIdle)
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}
