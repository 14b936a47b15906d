// Package pipeline moves admitted messages through synthesis to playback.
//
// It owns two queues. The synthesis queue is a bounded FIFO of
// [SynthesisJob]s fed by admission fan-out; an admission's chunks are
// enqueued all-or-nothing so a full queue never half-accepts a message. The
// audio queue is a priority queue of [AudioArtifact]s ordered by
// (priority ascending, enqueue sequence ascending), so urgent messages play
// first and equal-priority artifacts play in arrival order.
//
// The pipeline also tracks the total bytes of synthesized audio alive in
// the process (queued plus currently playing) against a hard cap, and
// supports removing a whole group from both queues at once for skip and
// clear commands.
//
// One [SynthWorker] and one [PlaybackWorker] drive the queues; see their
// types for the worker loops.
package pipeline

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"

	"github.com/Rokurolize/discord-voice-bot-sub000/internal/admission"
)

// Queue and buffer defaults.
const (
	DefaultSynthesisQueueCapacity = 100
	DefaultAudioBufferCap         = 50 << 20 // 50 MB across all live artifacts
	DefaultArtifactCap            = 10 << 20 // 10 MB for a single artifact
)

// Config bounds the pipeline's queues and buffers. Zero values fall back to
// the defaults above.
type Config struct {
	SynthesisQueueCapacity int
	AudioBufferCap         int64
	ArtifactCap            int64
}

func (c Config) withDefaults() Config {
	if c.SynthesisQueueCapacity <= 0 {
		c.SynthesisQueueCapacity = DefaultSynthesisQueueCapacity
	}
	if c.AudioBufferCap <= 0 {
		c.AudioBufferCap = DefaultAudioBufferCap
	}
	if c.ArtifactCap <= 0 {
		c.ArtifactCap = DefaultArtifactCap
	}
	return c
}

// Pipeline holds both queues and the audio buffer accounting. All exported
// methods are safe for concurrent use. A single mutex covers both queues so
// group removal is atomic across them.
type Pipeline struct {
	cfg   Config
	stats *Stats

	mu            sync.Mutex
	synthJobs     []SynthesisJob
	audio         artifactHeap
	seq           uint64 // monotonic counter for FIFO ordering
	bufferedBytes int64  // artifacts queued or held by the playback worker
	playingGroup  string

	synthNotify chan struct{} // signalled when a job batch is enqueued
	audioNotify chan struct{} // signalled when an artifact is enqueued
}

// New creates a pipeline with cfg, filling in defaults for zero values.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		cfg:         cfg.withDefaults(),
		stats:       NewStats(),
		audio:       make(artifactHeap, 0, 16),
		synthNotify: make(chan struct{}, 1),
		audioNotify: make(chan struct{}, 1),
	}
}

// Stats exposes the pipeline's counters.
func (p *Pipeline) Stats() *Stats { return p.stats }

// ─── admission side ─────────────────────────────────────────────────────────

// Submit fans msg out into one [SynthesisJob] per chunk and enqueues them
// contiguously. The whole batch is dropped when it would not fit, so a
// message is never half-enqueued. Reports whether the batch was accepted.
func (p *Pipeline) Submit(msg *admission.AdmittedMessage) bool {
	if msg == nil || len(msg.Chunks) == 0 {
		return false
	}

	priority := Priority(msg.SanitizedText)
	jobs := make([]SynthesisJob, len(msg.Chunks))
	for i, chunk := range msg.Chunks {
		jobs[i] = SynthesisJob{
			Text:        chunk,
			AuthorID:    msg.AuthorID,
			AuthorName:  msg.AuthorName,
			GroupID:     msg.GroupID,
			ChunkIndex:  i,
			ChunkCount:  len(msg.Chunks),
			ContentHash: msg.ContentHash,
			Priority:    priority,
		}
	}

	p.mu.Lock()
	if len(p.synthJobs)+len(jobs) > p.cfg.SynthesisQueueCapacity {
		p.mu.Unlock()
		p.stats.RecordDropQueueFull(len(jobs))
		slog.Warn("synthesis queue full, dropping message",
			"group", msg.GroupID, "chunks", len(jobs), "capacity", p.cfg.SynthesisQueueCapacity)
		return false
	}
	p.synthJobs = append(p.synthJobs, jobs...)
	p.mu.Unlock()

	p.stats.RecordSubmitted(len(jobs))
	wake(p.synthNotify)
	return true
}

// NextJob blocks until a job is available or ctx is done.
func (p *Pipeline) NextJob(ctx context.Context) (SynthesisJob, bool) {
	for {
		p.mu.Lock()
		if len(p.synthJobs) > 0 {
			job := p.synthJobs[0]
			p.synthJobs = p.synthJobs[1:]
			p.mu.Unlock()
			return job, true
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return SynthesisJob{}, false
		case <-p.synthNotify:
		}
	}
}

// ─── audio side ─────────────────────────────────────────────────────────────

// BufferFull reports whether the audio buffer has reached its cap. The
// synthesis worker checks this before spending a TTS call.
func (p *Pipeline) BufferFull() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bufferedBytes >= p.cfg.AudioBufferCap
}

// EnqueueArtifact admits a into the audio queue, charging its size against
// the buffer cap. Oversized artifacts and artifacts that would overflow the
// cap are rejected; the caller must treat a false return as disposal.
func (p *Pipeline) EnqueueArtifact(a *AudioArtifact) bool {
	if a == nil || a.SizeBytes <= 0 {
		return false
	}
	if int64(a.SizeBytes) > p.cfg.ArtifactCap {
		p.stats.RecordDropOversize()
		slog.Warn("artifact exceeds size cap, dropping",
			"group", a.GroupID, "chunk", a.ChunkIndex, "size", a.SizeBytes, "cap", p.cfg.ArtifactCap)
		return false
	}

	p.mu.Lock()
	if buffered := p.bufferedBytes; buffered+int64(a.SizeBytes) > p.cfg.AudioBufferCap {
		p.mu.Unlock()
		p.stats.RecordDropBufferFull()
		slog.Warn("audio buffer cap reached, dropping artifact",
			"group", a.GroupID, "chunk", a.ChunkIndex, "buffered", buffered, "cap", p.cfg.AudioBufferCap)
		return false
	}
	p.bufferedBytes += int64(a.SizeBytes)
	p.seq++
	heap.Push(&p.audio, artifactEntry{artifact: a, seq: p.seq})
	p.mu.Unlock()

	wake(p.audioNotify)
	return true
}

// NextArtifact blocks until the highest-priority artifact is available or
// ctx is done. Ownership transfers to the caller, who must dispose it via
// [Pipeline.Dispose] exactly once.
func (p *Pipeline) NextArtifact(ctx context.Context) (*AudioArtifact, bool) {
	for {
		p.mu.Lock()
		if p.audio.Len() > 0 {
			e := heap.Pop(&p.audio).(artifactEntry)
			p.mu.Unlock()
			return e.artifact, true
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-p.audioNotify:
		}
	}
}

// Dispose releases a's bytes from the buffer accounting and drops its
// payload. Exactly one Dispose per artifact.
func (p *Pipeline) Dispose(a *AudioArtifact) {
	if a == nil {
		return
	}
	p.mu.Lock()
	p.bufferedBytes -= int64(a.SizeBytes)
	if p.bufferedBytes < 0 {
		p.bufferedBytes = 0
	}
	p.mu.Unlock()
	a.WAV = nil
}

// BufferedBytes returns the total size of live artifacts.
func (p *Pipeline) BufferedBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bufferedBytes
}

// QueueSizes returns the current synthesis and audio queue lengths.
func (p *Pipeline) QueueSizes() (synthesis, audio int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.synthJobs), p.audio.Len()
}

// ─── playing group ──────────────────────────────────────────────────────────

// SetPlayingGroup records the group whose artifact the playback worker is
// currently emitting. An empty string clears it.
func (p *Pipeline) SetPlayingGroup(groupID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playingGroup = groupID
}

// PlayingGroup returns the group currently being played, or "".
func (p *Pipeline) PlayingGroup() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playingGroup
}

// ─── skip and clear ─────────────────────────────────────────────────────────

// SkipGroup removes every job and artifact belonging to groupID from both
// queues in one atomic sweep and returns the number of items removed. An
// empty groupID targets the currently playing group. Stopping the in-flight
// chunk is the caller's business; the pipeline only owns queued work.
func (p *Pipeline) SkipGroup(groupID string) int {
	p.mu.Lock()
	if groupID == "" {
		groupID = p.playingGroup
	}
	if groupID == "" {
		p.mu.Unlock()
		return 0
	}

	removed := 0
	kept := p.synthJobs[:0]
	for _, job := range p.synthJobs {
		if job.GroupID == groupID {
			removed++
			continue
		}
		kept = append(kept, job)
	}
	p.synthJobs = kept

	removed += p.removeArtifactsLocked(func(a *AudioArtifact) bool {
		return a.GroupID == groupID
	})
	p.mu.Unlock()

	if removed > 0 {
		p.stats.RecordSkipped(removed)
		slog.Info("skipped group", "group", groupID, "removed", removed)
	}
	return removed
}

// ClearAll drains both queues, disposing every artifact, and returns the
// number of items removed.
func (p *Pipeline) ClearAll() int {
	p.mu.Lock()
	removed := len(p.synthJobs)
	p.synthJobs = nil
	removed += p.removeArtifactsLocked(func(*AudioArtifact) bool { return true })
	p.mu.Unlock()

	if removed > 0 {
		p.stats.RecordSkipped(removed)
		slog.Info("cleared queues", "removed", removed)
	}
	return removed
}

// removeArtifactsLocked rebuilds the audio heap without the artifacts
// matching drop, releasing their bytes. Returns how many were removed.
// Must be called with p.mu held.
func (p *Pipeline) removeArtifactsLocked(drop func(*AudioArtifact) bool) int {
	removed := 0
	kept := make(artifactHeap, 0, p.audio.Len())
	for _, e := range p.audio {
		if drop(e.artifact) {
			p.bufferedBytes -= int64(e.artifact.SizeBytes)
			e.artifact.WAV = nil
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if p.bufferedBytes < 0 {
		p.bufferedBytes = 0
	}
	p.audio = kept
	heap.Init(&p.audio)
	return removed
}

// wake signals a notify channel without blocking.
func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
