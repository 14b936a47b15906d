package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Rokurolize/discord-voice-bot-sub000/internal/observe"
	"github.com/Rokurolize/discord-voice-bot-sub000/pkg/tts"
)

// TextSynthesizer turns a text chunk into WAV bytes. [tts.Client]
// satisfies it.
type TextSynthesizer interface {
	SynthesizeText(ctx context.Context, text string, speakerID int, engineTag string) ([]byte, error)
}

// VoiceResolver picks the speaker and engine for an author.
// [speaker.Router] satisfies it.
type VoiceResolver interface {
	Resolve(authorID string) (int, tts.Engine)
}

// SynthWorker is the single consumer of the synthesis queue. For each job it
// resolves the author's voice, synthesizes the chunk, validates the WAV, and
// hands the artifact to the audio queue. Synthesis failures drop the job and
// move on; only cancellation stops the worker.
type SynthWorker struct {
	pipeline *Pipeline
	synth    TextSynthesizer
	voices   VoiceResolver
	metrics  *observe.Metrics
}

// NewSynthWorker wires a synthesis worker to p. metrics may be nil.
func NewSynthWorker(p *Pipeline, synth TextSynthesizer, voices VoiceResolver, metrics *observe.Metrics) *SynthWorker {
	return &SynthWorker{
		pipeline: p,
		synth:    synth,
		voices:   voices,
		metrics:  metrics,
	}
}

// Run consumes jobs until ctx is cancelled.
func (w *SynthWorker) Run(ctx context.Context) error {
	slog.Info("synthesis worker started")
	defer slog.Info("synthesis worker stopped")

	for {
		job, ok := w.pipeline.NextJob(ctx)
		if !ok {
			return ctx.Err()
		}
		w.process(ctx, job)
	}
}

func (w *SynthWorker) process(ctx context.Context, job SynthesisJob) {
	// Synthesizing while the buffer is at cap would only produce bytes the
	// audio queue must refuse, so skip the TTS call entirely.
	if w.pipeline.BufferFull() {
		w.pipeline.stats.RecordDropBufferFull()
		slog.Warn("audio buffer at cap, dropping job before synthesis",
			"group", job.GroupID, "chunk", job.ChunkIndex)
		return
	}

	speakerID, engine := w.voices.Resolve(job.AuthorID)

	ctx, span := observe.StartSpan(ctx, "pipeline.synthesize",
		trace.WithAttributes(
			attribute.String("group_id", job.GroupID),
			attribute.Int("chunk_index", job.ChunkIndex),
			attribute.String("engine", engine.Tag),
			attribute.Int("speaker_id", speakerID),
		))
	defer span.End()

	start := time.Now()
	wav, err := w.synth.SynthesizeText(ctx, job.Text, speakerID, engine.Tag)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.pipeline.stats.RecordSynthesisError()
		if w.metrics != nil {
			w.metrics.RecordSynthesis(ctx, engine.Tag, elapsed, "error")
		}
		observe.Logger(ctx).Warn("synthesis failed, dropping chunk",
			"group", job.GroupID, "chunk", job.ChunkIndex,
			"engine", engine.Tag, "speaker", speakerID, "error", err)
		return
	}

	if err := tts.ValidateWAV(wav); err != nil {
		w.pipeline.stats.RecordDropMalformed()
		if w.metrics != nil {
			w.metrics.RecordSynthesis(ctx, engine.Tag, elapsed, "malformed")
		}
		observe.Logger(ctx).Warn("engine returned malformed audio, dropping chunk",
			"group", job.GroupID, "chunk", job.ChunkIndex,
			"engine", engine.Tag, "size", len(wav), "error", err)
		return
	}

	artifact := &AudioArtifact{
		WAV:        wav,
		GroupID:    job.GroupID,
		ChunkIndex: job.ChunkIndex,
		Priority:   job.Priority,
		SizeBytes:  len(wav),
	}
	if !w.pipeline.EnqueueArtifact(artifact) {
		return
	}

	w.pipeline.stats.RecordSynthesized(elapsed)
	if w.metrics != nil {
		w.metrics.RecordSynthesis(ctx, engine.Tag, elapsed, "ok")
	}
}
