// Package observe carries the bot's observability plumbing: the
// OpenTelemetry instrument set, the provider bootstrap with its Prometheus
// bridge, span helpers, and the middleware instrumenting the diagnostics
// listener.
//
// Production code records through the package-level [DefaultMetrics]
// instance, which binds to the global meter provider on first use. Tests
// construct their own [Metrics] over a manual-reader provider so nothing
// leaks between them.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all bot metrics.
const meterName = "github.com/Rokurolize/discord-voice-bot-sub000"

// Metrics bundles every instrument the bot records. The OTel instrument
// types synchronise themselves, so a single instance is shared freely
// across goroutines.
type Metrics struct {
	meter metric.Meter

	// --- Latency histograms ---

	// SynthesisDuration tracks one TTS synthesis round trip (audio query
	// plus synthesis call).
	SynthesisDuration metric.Float64Histogram

	// PlaybackDuration tracks how long one artifact took to play out.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// MessagesAdmitted counts messages that passed admission.
	MessagesAdmitted metric.Int64Counter

	// MessagesRejected counts messages turned away. Use with attribute:
	//   attribute.String("reason", ...)
	MessagesRejected metric.Int64Counter

	// ChunksSynthesized counts synthesis attempts. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("status", ...)
	ChunksSynthesized metric.Int64Counter

	// ArtifactsPlayed counts artifacts played to completion.
	ArtifactsPlayed metric.Int64Counter

	// PlaybackErrors counts artifacts whose playback failed.
	PlaybackErrors metric.Int64Counter

	// EngineProbes counts TTS liveness probes. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("status", ...)
	EngineProbes metric.Int64Counter

	// VoiceDisconnects counts involuntary voice transport drops.
	VoiceDisconnects metric.Int64Counter

	// ItemsSkipped counts queued items removed by skip and clear commands.
	ItemsSkipped metric.Int64Counter

	// CommandInvocations counts user commands. Use with attribute:
	//   attribute.String("command", ...)
	CommandInvocations metric.Int64Counter

	// --- Observable gauges (registered via ObserveQueues) ---

	// SynthesisQueueDepth is the number of jobs waiting for synthesis.
	SynthesisQueueDepth metric.Int64ObservableGauge

	// AudioQueueDepth is the number of artifacts waiting for playback.
	AudioQueueDepth metric.Int64ObservableGauge

	// BufferedBytes is the total size of live audio artifacts.
	BufferedBytes metric.Int64ObservableGauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks diagnostics endpoint latency. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// TTS round trips and artifact playback.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates every instrument on a meter from mp. An error from any
// single instrument fails the whole construction.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	// Histograms.
	if met.SynthesisDuration, err = m.Float64Histogram("voicebot.synthesis.duration",
		metric.WithDescription("Latency of one text-to-speech synthesis round trip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("voicebot.playback.duration",
		metric.WithDescription("Time spent playing one audio artifact."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.MessagesAdmitted, err = m.Int64Counter("voicebot.messages.admitted",
		metric.WithDescription("Messages that passed admission."),
	); err != nil {
		return nil, err
	}
	if met.MessagesRejected, err = m.Int64Counter("voicebot.messages.rejected",
		metric.WithDescription("Messages rejected at admission, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ChunksSynthesized, err = m.Int64Counter("voicebot.chunks.synthesized",
		metric.WithDescription("Synthesis attempts by engine and status."),
	); err != nil {
		return nil, err
	}
	if met.ArtifactsPlayed, err = m.Int64Counter("voicebot.artifacts.played",
		metric.WithDescription("Artifacts played to completion."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackErrors, err = m.Int64Counter("voicebot.playback.errors",
		metric.WithDescription("Artifacts whose playback failed."),
	); err != nil {
		return nil, err
	}
	if met.EngineProbes, err = m.Int64Counter("voicebot.engine.probes",
		metric.WithDescription("TTS engine liveness probes by engine and status."),
	); err != nil {
		return nil, err
	}
	if met.VoiceDisconnects, err = m.Int64Counter("voicebot.voice.disconnects",
		metric.WithDescription("Involuntary voice transport disconnections."),
	); err != nil {
		return nil, err
	}
	if met.ItemsSkipped, err = m.Int64Counter("voicebot.pipeline.items_skipped",
		metric.WithDescription("Queued items removed by skip and clear commands."),
	); err != nil {
		return nil, err
	}
	if met.CommandInvocations, err = m.Int64Counter("voicebot.commands.invocations",
		metric.WithDescription("User command invocations by command name."),
	); err != nil {
		return nil, err
	}

	// Observable gauges.
	if met.SynthesisQueueDepth, err = m.Int64ObservableGauge("voicebot.queue.synthesis.depth",
		metric.WithDescription("Jobs waiting for synthesis."),
	); err != nil {
		return nil, err
	}
	if met.AudioQueueDepth, err = m.Int64ObservableGauge("voicebot.queue.audio.depth",
		metric.WithDescription("Artifacts waiting for playback."),
	); err != nil {
		return nil, err
	}
	if met.BufferedBytes, err = m.Int64ObservableGauge("voicebot.audio.buffered_bytes",
		metric.WithDescription("Total bytes of live audio artifacts."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicebot.http.request.duration",
		metric.WithDescription("Diagnostics endpoint latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the shared [Metrics] instance, built against
// [otel.GetMeterProvider] on the first call. [InitProvider] must already
// have run for the instruments to land anywhere useful. Instrument creation
// cannot fail on a live provider, so a failure here panics.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// ObserveQueues registers a callback that feeds the queue gauges. The
// supplied function is polled at collection time and must be cheap and
// non-blocking.
func (m *Metrics) ObserveQueues(depths func() (synthesis, audio, bufferedBytes int64)) error {
	_, err := m.meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			s, a, b := depths()
			o.ObserveInt64(m.SynthesisQueueDepth, s)
			o.ObserveInt64(m.AudioQueueDepth, a)
			o.ObserveInt64(m.BufferedBytes, b)
			return nil
		},
		m.SynthesisQueueDepth, m.AudioQueueDepth, m.BufferedBytes,
	)
	return err
}

// RecordSynthesis records one synthesis attempt with its latency and
// outcome. Only successful attempts contribute a latency sample.
func (m *Metrics) RecordSynthesis(ctx context.Context, engine string, d time.Duration, status string) {
	attrs := metric.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("status", status),
	)
	m.ChunksSynthesized.Add(ctx, 1, attrs)
	if status == "ok" {
		m.SynthesisDuration.Record(ctx, d.Seconds(), attrs)
	}
}

// RecordPlayback records one playback completion or failure.
func (m *Metrics) RecordPlayback(ctx context.Context, d time.Duration, err error) {
	if err != nil {
		m.PlaybackErrors.Add(ctx, 1)
		return
	}
	m.ArtifactsPlayed.Add(ctx, 1)
	m.PlaybackDuration.Record(ctx, d.Seconds())
}

// RecordAdmission records one admission decision. An empty reason means the
// message was admitted.
func (m *Metrics) RecordAdmission(ctx context.Context, rejectReason string) {
	if rejectReason == "" {
		m.MessagesAdmitted.Add(ctx, 1)
		return
	}
	m.MessagesRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", rejectReason)))
}

// RecordProbe records one engine liveness probe outcome.
func (m *Metrics) RecordProbe(ctx context.Context, engine, status string) {
	m.EngineProbes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("status", status),
	))
}

// RecordCommand records one user command invocation.
func (m *Metrics) RecordCommand(ctx context.Context, command string) {
	m.CommandInvocations.Add(ctx, 1, metric.WithAttributes(attribute.String("command", command)))
}

// RecordItemsSkipped records queued items removed by a skip or clear.
func (m *Metrics) RecordItemsSkipped(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	m.ItemsSkipped.Add(ctx, int64(n))
}
