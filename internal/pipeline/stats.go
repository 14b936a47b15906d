package pipeline

import (
	"sync"
	"time"
)

// latencyRingSize is how many recent synthesis latencies feed the average
// shown by the status command.
const latencyRingSize = 32

// Stats aggregates pipeline counters. Workers write their own counters;
// readers get an eventually consistent snapshot.
type Stats struct {
	mu sync.Mutex

	messagesSubmitted uint64
	chunksSubmitted   uint64
	chunksSynthesized uint64
	artifactsPlayed   uint64
	skipped           uint64

	synthesisErrors uint64
	playbackErrors  uint64

	droppedQueueFull  uint64
	droppedBufferFull uint64
	droppedOversize   uint64
	droppedMalformed  uint64

	latencies [latencyRingSize]time.Duration
	latencyN  int
	latencyI  int

	started time.Time
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	MessagesSubmitted uint64
	ChunksSubmitted   uint64
	ChunksSynthesized uint64
	ArtifactsPlayed   uint64
	Skipped           uint64

	SynthesisErrors uint64
	PlaybackErrors  uint64

	DroppedQueueFull  uint64
	DroppedBufferFull uint64
	DroppedOversize   uint64
	DroppedMalformed  uint64

	AvgSynthesisLatency time.Duration
	Uptime              time.Duration
}

// NewStats returns zeroed counters with the uptime clock started.
func NewStats() *Stats {
	return &Stats{started: time.Now()}
}

func (s *Stats) RecordSubmitted(chunks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messagesSubmitted++
	s.chunksSubmitted += uint64(chunks)
}

func (s *Stats) RecordSynthesized(latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunksSynthesized++
	s.latencies[s.latencyI] = latency
	s.latencyI = (s.latencyI + 1) % latencyRingSize
	if s.latencyN < latencyRingSize {
		s.latencyN++
	}
}

func (s *Stats) RecordPlayed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifactsPlayed++
}

func (s *Stats) RecordSkipped(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped += uint64(n)
}

func (s *Stats) RecordSynthesisError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synthesisErrors++
}

func (s *Stats) RecordPlaybackError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playbackErrors++
}

func (s *Stats) RecordDropQueueFull(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.droppedQueueFull += uint64(n)
}

func (s *Stats) RecordDropBufferFull() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.droppedBufferFull++
}

func (s *Stats) RecordDropOversize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.droppedOversize++
}

func (s *Stats) RecordDropMalformed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.droppedMalformed++
}

// Snapshot returns a copy of all counters plus derived values.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var avg time.Duration
	if s.latencyN > 0 {
		var sum time.Duration
		for i := 0; i < s.latencyN; i++ {
			sum += s.latencies[i]
		}
		avg = sum / time.Duration(s.latencyN)
	}

	return Snapshot{
		MessagesSubmitted: s.messagesSubmitted,
		ChunksSubmitted:   s.chunksSubmitted,
		ChunksSynthesized: s.chunksSynthesized,
		ArtifactsPlayed:   s.artifactsPlayed,
		Skipped:           s.skipped,

		SynthesisErrors: s.synthesisErrors,
		PlaybackErrors:  s.playbackErrors,

		DroppedQueueFull:  s.droppedQueueFull,
		DroppedBufferFull: s.droppedBufferFull,
		DroppedOversize:   s.droppedOversize,
		DroppedMalformed:  s.droppedMalformed,

		AvgSynthesisLatency: avg,
		Uptime:              time.Since(s.started),
	}
}
