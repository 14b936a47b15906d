package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// metricsFixture pairs a Metrics instance with the manual reader used to
// inspect what it recorded.
type metricsFixture struct {
	*Metrics
	reader *sdkmetric.ManualReader
}

func newFixture(t *testing.T) *metricsFixture {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return &metricsFixture{Metrics: m, reader: reader}
}

// find collects the current data and returns the named instrument, failing
// the test when it was never recorded.
func (f *metricsFixture) find(t *testing.T, name string) metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name == name {
				return met
			}
		}
	}
	t.Fatalf("instrument %q not collected", name)
	return metricdata.Metrics{}
}

func counter(t *testing.T, met metricdata.Metrics) metricdata.Sum[int64] {
	t.Helper()
	s, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: data is %T, want Sum[int64]", met.Name, met.Data)
	}
	return s
}

func latencies(t *testing.T, met metricdata.Metrics) metricdata.Histogram[float64] {
	t.Helper()
	h, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("%s: data is %T, want Histogram[float64]", met.Name, met.Data)
	}
	return h
}

// pointWith returns the counter value on the data point carrying key=value,
// or -1 when no point does.
func pointWith(s metricdata.Sum[int64], key, value string) int64 {
	for _, dp := range s.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	return -1
}

// TestInstrumentInventory drives every instrument once and checks each one
// surfaces under its registered name.
func TestInstrumentInventory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.SynthesisDuration.Record(ctx, 0.2)
	f.PlaybackDuration.Record(ctx, 1.5)
	f.MessagesAdmitted.Add(ctx, 1)
	f.MessagesRejected.Add(ctx, 1)
	f.ChunksSynthesized.Add(ctx, 1)
	f.ArtifactsPlayed.Add(ctx, 1)
	f.PlaybackErrors.Add(ctx, 1)
	f.EngineProbes.Add(ctx, 1)
	f.VoiceDisconnects.Add(ctx, 1)
	f.ItemsSkipped.Add(ctx, 1)
	f.CommandInvocations.Add(ctx, 1)
	f.HTTPRequestDuration.Record(ctx, 0.01)

	for _, name := range []string{
		"voicebot.synthesis.duration",
		"voicebot.playback.duration",
		"voicebot.messages.admitted",
		"voicebot.messages.rejected",
		"voicebot.chunks.synthesized",
		"voicebot.artifacts.played",
		"voicebot.playback.errors",
		"voicebot.engine.probes",
		"voicebot.voice.disconnects",
		"voicebot.pipeline.items_skipped",
		"voicebot.commands.invocations",
		"voicebot.http.request.duration",
	} {
		f.find(t, name)
	}
}

func TestRecordSynthesisOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.RecordSynthesis(ctx, "voicevox", 200*time.Millisecond, "ok")
	f.RecordSynthesis(ctx, "voicevox", 150*time.Millisecond, "ok")
	f.RecordSynthesis(ctx, "aivis", time.Second, "error")

	counts := counter(t, f.find(t, "voicebot.chunks.synthesized"))
	if got := pointWith(counts, "status", "ok"); got != 2 {
		t.Errorf("ok count = %d, want 2", got)
	}
	if got := pointWith(counts, "status", "error"); got != 1 {
		t.Errorf("error count = %d, want 1", got)
	}

	// Failed attempts contribute no latency sample.
	var samples uint64
	for _, dp := range latencies(t, f.find(t, "voicebot.synthesis.duration")).DataPoints {
		samples += dp.Count
	}
	if samples != 2 {
		t.Errorf("latency samples = %d, want 2", samples)
	}
}

func TestRecordPlaybackSplitsOnError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.RecordPlayback(ctx, 3*time.Second, nil)
	f.RecordPlayback(ctx, 0, errors.New("opus send failed"))

	if got := counter(t, f.find(t, "voicebot.artifacts.played")).DataPoints[0].Value; got != 1 {
		t.Errorf("played = %d, want 1", got)
	}
	if got := counter(t, f.find(t, "voicebot.playback.errors")).DataPoints[0].Value; got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestRecordAdmissionReasons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.RecordAdmission(ctx, "")
	f.RecordAdmission(ctx, "")
	f.RecordAdmission(ctx, "duplicate")
	f.RecordAdmission(ctx, "command_prefix")

	if got := counter(t, f.find(t, "voicebot.messages.admitted")).DataPoints[0].Value; got != 2 {
		t.Errorf("admitted = %d, want 2", got)
	}
	rejected := counter(t, f.find(t, "voicebot.messages.rejected"))
	if got := pointWith(rejected, "reason", "duplicate"); got != 1 {
		t.Errorf("duplicate rejections = %d, want 1", got)
	}
	if got := pointWith(rejected, "reason", "command_prefix"); got != 1 {
		t.Errorf("command rejections = %d, want 1", got)
	}
}

func TestRecordProbeTagsEngineAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.RecordProbe(ctx, "voicevox", "ok")
	f.RecordProbe(ctx, "voicevox", "ok")
	f.RecordProbe(ctx, "aivis", "connection_refused")

	probes := counter(t, f.find(t, "voicebot.engine.probes"))
	if got := pointWith(probes, "status", "ok"); got != 2 {
		t.Errorf("ok probes = %d, want 2", got)
	}
	if got := pointWith(probes, "engine", "aivis"); got != 1 {
		t.Errorf("aivis probes = %d, want 1", got)
	}
}

func TestRecordCommandTagsName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.RecordCommand(ctx, "skip")
	f.RecordCommand(ctx, "skip")
	f.RecordCommand(ctx, "voice_set")

	invocations := counter(t, f.find(t, "voicebot.commands.invocations"))
	if got := pointWith(invocations, "command", "skip"); got != 2 {
		t.Errorf("skip invocations = %d, want 2", got)
	}
	if got := pointWith(invocations, "command", "voice_set"); got != 1 {
		t.Errorf("voice_set invocations = %d, want 1", got)
	}
}

func TestRecordItemsSkippedIgnoresNonPositive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.RecordItemsSkipped(ctx, 3)
	f.RecordItemsSkipped(ctx, 0)
	f.RecordItemsSkipped(ctx, -1)
	f.RecordItemsSkipped(ctx, 2)

	skipped := counter(t, f.find(t, "voicebot.pipeline.items_skipped"))
	if got := skipped.DataPoints[0].Value; got != 5 {
		t.Errorf("items skipped = %d, want 5", got)
	}
}

func TestObserveQueuesFeedsGauges(t *testing.T) {
	f := newFixture(t)

	if err := f.ObserveQueues(func() (int64, int64, int64) {
		return 7, 3, 1024
	}); err != nil {
		t.Fatalf("ObserveQueues: %v", err)
	}

	gauges := map[string]int64{
		"voicebot.queue.synthesis.depth": 7,
		"voicebot.queue.audio.depth":     3,
		"voicebot.audio.buffered_bytes":  1024,
	}
	for name, want := range gauges {
		g, ok := f.find(t, name).Data.(metricdata.Gauge[int64])
		if !ok {
			t.Fatalf("%s: not a gauge", name)
		}
		if len(g.DataPoints) == 0 {
			t.Fatalf("%s: no data points", name)
		}
		if got := g.DataPoints[0].Value; got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestDefaultMetricsIsSingleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
