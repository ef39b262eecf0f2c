// Package observe provides observability primitives for the Parleo voice
// engine: OpenTelemetry metrics with a Prometheus exporter bridge and the
// SDK provider setup.
//
// Metrics are recorded through the OpenTelemetry Metrics API. Tests should
// use [NewMetrics] with their own [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/parleo-ai/parleo/internal/turn"
)

// meterName is the instrumentation scope name used for all Parleo metrics.
const meterName = "github.com/parleo-ai/parleo"

// latencyBuckets defines histogram bucket boundaries (in seconds) suited to
// voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// Metrics holds all OpenTelemetry metric instruments for the engine. The
// underlying OTel types handle their own synchronisation, so a single
// instance is shared freely.
type Metrics struct {
	// TurnsCompleted counts turns whose response played to the end.
	TurnsCompleted metric.Int64Counter

	// TurnsInterrupted counts turns cancelled by barge-in or manual stop.
	TurnsInterrupted metric.Int64Counter

	// StaleChunks counts inbound response fragments dropped by the fence
	// check after an interrupt.
	StaleChunks metric.Int64Counter

	// ChunkBytes counts response audio volume accepted for playback.
	ChunkBytes metric.Int64Counter

	// UtteranceDuration tracks captured utterance length.
	UtteranceDuration metric.Float64Histogram

	// ProcessingWait tracks the wait from utterance sent to first
	// response content.
	ProcessingWait metric.Float64Histogram

	// ActiveSessions tracks live voice sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// Compile-time check that *Metrics can observe the turn engine.
var _ turn.Observer = (*Metrics)(nil)

// NewMetrics creates a fully initialised [Metrics] using the given
// [metric.MeterProvider]. Returns an error if any instrument creation
// fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnsCompleted, err = m.Int64Counter("parleo.turns.completed",
		metric.WithDescription("Total turns whose response played to the end."),
	); err != nil {
		return nil, err
	}
	if met.TurnsInterrupted, err = m.Int64Counter("parleo.turns.interrupted",
		metric.WithDescription("Total turns cancelled by barge-in or manual stop."),
	); err != nil {
		return nil, err
	}
	if met.StaleChunks, err = m.Int64Counter("parleo.chunks.stale_dropped",
		metric.WithDescription("Total response fragments dropped by the fence check."),
	); err != nil {
		return nil, err
	}
	if met.ChunkBytes, err = m.Int64Counter("parleo.chunks.bytes",
		metric.WithDescription("Response audio bytes accepted for playback."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("parleo.utterance.duration",
		metric.WithDescription("Captured utterance length."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProcessingWait, err = m.Float64Histogram("parleo.processing.latency",
		metric.WithDescription("Wait from utterance sent to first response content."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("parleo.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// ─── turn.Observer ────────────────────────────────────────────────────────────

// TurnCompleted implements [turn.Observer].
func (m *Metrics) TurnCompleted() {
	m.TurnsCompleted.Add(context.Background(), 1)
}

// TurnInterrupted implements [turn.Observer].
func (m *Metrics) TurnInterrupted() {
	m.TurnsInterrupted.Add(context.Background(), 1)
}

// StaleChunkDropped implements [turn.Observer].
func (m *Metrics) StaleChunkDropped() {
	m.StaleChunks.Add(context.Background(), 1)
}

// ResponseChunk implements [turn.Observer].
func (m *Metrics) ResponseChunk(bytes int) {
	m.ChunkBytes.Add(context.Background(), int64(bytes))
}

// UtteranceCaptured implements [turn.Observer].
func (m *Metrics) UtteranceCaptured(d time.Duration) {
	m.UtteranceDuration.Record(context.Background(), d.Seconds())
}

// ProcessingLatency implements [turn.Observer].
func (m *Metrics) ProcessingLatency(d time.Duration) {
	m.ProcessingWait.Record(context.Background(), d.Seconds())
}

// ─── Session lifecycle ───────────────────────────────────────────────────────

// SessionStarted bumps the live session gauge.
func (m *Metrics) SessionStarted(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
}

// SessionEnded decrements the live session gauge.
func (m *Metrics) SessionEnded(ctx context.Context) {
	m.ActiveSessions.Add(ctx, -1)
}
