package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Rokurolize/discord-voice-bot-sub000/internal/observe"
)

// Playback worker tuning.
const (
	// playbackCeiling bounds one artifact's playback. Anything longer is
	// treated as a wedged transport.
	playbackCeiling = 5 * time.Minute

	// busyPollBudget is how long the worker waits for an already-playing
	// transmission to finish before stopping it.
	busyPollBudget = 3 * time.Second

	// busyPollInterval is the poll spacing while waiting for the transport
	// to go idle.
	busyPollInterval = 100 * time.Millisecond

	// maxConsecutiveErrors halts the worker when playback keeps failing.
	maxConsecutiveErrors = 5
)

// ErrPlaybackHalted is returned by [PlaybackWorker.Run] when playback failed
// maxConsecutiveErrors times in a row.
var ErrPlaybackHalted = errors.New("pipeline: playback halted after repeated errors")

// VoiceTransport is the playback side of the voice session.
// [voice.Controller] satisfies it.
type VoiceTransport interface {
	// Connected reports whether audio can currently be transmitted.
	Connected() bool

	// Playing reports whether a transmission is in progress.
	Playing() bool

	// Play transmits a whole WAV payload, returning when it finishes or
	// ctx is cancelled.
	Play(ctx context.Context, wav []byte) error

	// Stop aborts the in-flight transmission, if any.
	Stop()
}

// PlaybackWorker is the single consumer of the audio queue. It plays
// artifacts in priority order, disposing each exactly once, and halts after
// maxConsecutiveErrors failures in a row.
type PlaybackWorker struct {
	pipeline  *Pipeline
	transport VoiceTransport
	metrics   *observe.Metrics
	onHalt    func(error)

	ceiling      time.Duration
	busyBudget   time.Duration
	pollInterval time.Duration
}

// NewPlaybackWorker wires a playback worker to p. metrics and onHalt may be
// nil; onHalt is invoked once when the worker gives up.
func NewPlaybackWorker(p *Pipeline, transport VoiceTransport, metrics *observe.Metrics, onHalt func(error)) *PlaybackWorker {
	return &PlaybackWorker{
		pipeline:     p,
		transport:    transport,
		metrics:      metrics,
		onHalt:       onHalt,
		ceiling:      playbackCeiling,
		busyBudget:   busyPollBudget,
		pollInterval: busyPollInterval,
	}
}

// Run consumes artifacts until ctx is cancelled or the worker halts.
func (w *PlaybackWorker) Run(ctx context.Context) error {
	slog.Info("playback worker started")
	defer slog.Info("playback worker stopped")

	consecutive := 0
	for {
		artifact, ok := w.pipeline.NextArtifact(ctx)
		if !ok {
			return ctx.Err()
		}

		// Without a live voice connection the artifact cannot be played;
		// holding it would pin buffer bytes indefinitely.
		if !w.transport.Connected() {
			slog.Debug("voice not connected, dropping artifact",
				"group", artifact.GroupID, "chunk", artifact.ChunkIndex)
			w.pipeline.Dispose(artifact)
			continue
		}

		err := w.play(ctx, artifact)
		if err == nil {
			consecutive = 0
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		consecutive++
		w.pipeline.stats.RecordPlaybackError()
		if w.metrics != nil {
			w.metrics.RecordPlayback(ctx, 0, err)
		}
		slog.Error("playback failed",
			"group", artifact.GroupID, "chunk", artifact.ChunkIndex,
			"consecutive", consecutive, "error", err)

		if consecutive >= maxConsecutiveErrors {
			if w.onHalt != nil {
				w.onHalt(ErrPlaybackHalted)
			}
			return ErrPlaybackHalted
		}
	}
}

// play transmits one artifact and disposes it regardless of outcome.
func (w *PlaybackWorker) play(ctx context.Context, a *AudioArtifact) error {
	defer w.pipeline.Dispose(a)

	if err := w.waitIdle(ctx); err != nil {
		return err
	}

	w.pipeline.SetPlayingGroup(a.GroupID)
	defer w.pipeline.SetPlayingGroup("")

	playCtx, cancel := context.WithTimeout(ctx, w.ceiling)
	defer cancel()

	start := time.Now()
	if err := w.transport.Play(playCtx, a.WAV); err != nil {
		return err
	}
	elapsed := time.Since(start)

	w.pipeline.stats.RecordPlayed()
	if w.metrics != nil {
		w.metrics.RecordPlayback(ctx, elapsed, nil)
	}
	slog.Debug("artifact played",
		"group", a.GroupID, "chunk", a.ChunkIndex, "duration", elapsed)
	return nil
}

// waitIdle waits up to busyBudget for the transport to finish its current
// transmission, stopping it when the budget runs out.
func (w *PlaybackWorker) waitIdle(ctx context.Context) error {
	if !w.transport.Playing() {
		return nil
	}

	deadline := time.Now().Add(w.busyBudget)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for w.transport.Playing() {
		if time.Now().After(deadline) {
			slog.Warn("transport still busy after wait budget, stopping current playback")
			w.transport.Stop()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
