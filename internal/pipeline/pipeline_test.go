package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Rokurolize/discord-voice-bot-sub000/internal/admission"
)

// admitted builds a minimal AdmittedMessage for pipeline tests.
func admitted(groupID string, chunks ...string) *admission.AdmittedMessage {
	return &admission.AdmittedMessage{
		GroupID:       groupID,
		AuthorID:      "42",
		AuthorName:    "tester",
		SanitizedText: strings.Join(chunks, " "),
		Chunks:        chunks,
		ContentHash:   "hash-" + groupID,
	}
}

// artifact builds an AudioArtifact with a payload of n bytes.
func artifact(groupID string, chunk, priority, n int) *AudioArtifact {
	return &AudioArtifact{
		WAV:        make([]byte, n),
		GroupID:    groupID,
		ChunkIndex: chunk,
		Priority:   priority,
		SizeBytes:  n,
	}
}

func TestSubmit_FansOutChunks(t *testing.T) {
	p := New(Config{})

	msg := admitted("g1", "first chunk", "second chunk", "third chunk")
	if !p.Submit(msg) {
		t.Fatal("Submit returned false")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i, want := range msg.Chunks {
		job, ok := p.NextJob(ctx)
		if !ok {
			t.Fatalf("NextJob returned no job at index %d", i)
		}
		if job.Text != want {
			t.Errorf("job %d text = %q, want %q", i, job.Text, want)
		}
		if job.GroupID != "g1" {
			t.Errorf("job %d group = %q, want g1", i, job.GroupID)
		}
		if job.ChunkIndex != i {
			t.Errorf("job %d index = %d, want %d", i, job.ChunkIndex, i)
		}
		if job.ChunkCount != 3 {
			t.Errorf("job %d count = %d, want 3", i, job.ChunkCount)
		}
	}

	if synth, _ := p.QueueSizes(); synth != 0 {
		t.Errorf("synthesis queue size = %d after draining, want 0", synth)
	}
}

func TestSubmit_SharedPriorityAcrossChunks(t *testing.T) {
	p := New(Config{})

	// Over 200 runes of source text: every chunk carries 5+2=7.
	long := strings.Repeat("A. ", 200)
	msg := admitted("g1", long[:500], long[500:])
	msg.SanitizedText = long

	if !p.Submit(msg) {
		t.Fatal("Submit returned false")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		job, ok := p.NextJob(ctx)
		if !ok {
			t.Fatalf("NextJob returned no job at index %d", i)
		}
		if job.Priority != 7 {
			t.Errorf("chunk %d priority = %d, want 7", i, job.Priority)
		}
	}
}

func TestSubmit_AllOrNothing(t *testing.T) {
	p := New(Config{SynthesisQueueCapacity: 3})

	if !p.Submit(admitted("g1", "a", "b")) {
		t.Fatal("first Submit returned false")
	}

	// Two more chunks would exceed capacity 3: the whole batch is refused.
	if p.Submit(admitted("g2", "c", "d")) {
		t.Error("Submit accepted a batch that exceeds capacity")
	}
	if synth, _ := p.QueueSizes(); synth != 2 {
		t.Errorf("synthesis queue size = %d, want 2 (no partial enqueue)", synth)
	}

	// A single chunk still fits.
	if !p.Submit(admitted("g3", "e")) {
		t.Error("Submit refused a batch that fits")
	}

	snap := p.Stats().Snapshot()
	if snap.DroppedQueueFull != 2 {
		t.Errorf("DroppedQueueFull = %d, want 2", snap.DroppedQueueFull)
	}
}

func TestSubmit_NilAndEmpty(t *testing.T) {
	p := New(Config{})
	if p.Submit(nil) {
		t.Error("Submit(nil) returned true")
	}
	if p.Submit(&admission.AdmittedMessage{GroupID: "g"}) {
		t.Error("Submit with no chunks returned true")
	}
}

func TestNextJob_BlocksUntilSubmit(t *testing.T) {
	p := New(Config{})

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Submit(admitted("g1", "hello"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	job, ok := p.NextJob(ctx)
	if !ok {
		t.Fatal("NextJob returned no job")
	}
	if job.Text != "hello" {
		t.Errorf("job text = %q, want hello", job.Text)
	}
}

func TestNextJob_CancelledContext(t *testing.T) {
	p := New(Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := p.NextJob(ctx); ok {
		t.Error("NextJob returned a job from an empty queue with cancelled context")
	}
}

func TestEnqueueArtifact_PriorityOrder(t *testing.T) {
	p := New(Config{})

	// Enqueued high priority value first; lower value must still pop first.
	p.EnqueueArtifact(artifact("slow", 0, 7, 10))
	p.EnqueueArtifact(artifact("fast", 0, 4, 10))
	p.EnqueueArtifact(artifact("mid", 0, 5, 10))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	wantOrder := []string{"fast", "mid", "slow"}
	for i, want := range wantOrder {
		a, ok := p.NextArtifact(ctx)
		if !ok {
			t.Fatalf("NextArtifact returned nothing at index %d", i)
		}
		if a.GroupID != want {
			t.Errorf("pop %d = group %q, want %q", i, a.GroupID, want)
		}
		p.Dispose(a)
	}
}

func TestEnqueueArtifact_FIFOWithinPriority(t *testing.T) {
	p := New(Config{})

	for i := 0; i < 4; i++ {
		p.EnqueueArtifact(artifact("g1", i, 5, 10))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 4; i++ {
		a, ok := p.NextArtifact(ctx)
		if !ok {
			t.Fatalf("NextArtifact returned nothing at index %d", i)
		}
		if a.ChunkIndex != i {
			t.Errorf("pop %d = chunk %d, want %d", i, a.ChunkIndex, i)
		}
		p.Dispose(a)
	}
}

func TestEnqueueArtifact_OversizeDropped(t *testing.T) {
	p := New(Config{ArtifactCap: 100})

	if p.EnqueueArtifact(artifact("g1", 0, 5, 101)) {
		t.Error("EnqueueArtifact accepted an oversized artifact")
	}
	if p.BufferedBytes() != 0 {
		t.Errorf("BufferedBytes = %d after oversize drop, want 0", p.BufferedBytes())
	}
	if snap := p.Stats().Snapshot(); snap.DroppedOversize != 1 {
		t.Errorf("DroppedOversize = %d, want 1", snap.DroppedOversize)
	}
}

func TestEnqueueArtifact_BufferCap(t *testing.T) {
	p := New(Config{AudioBufferCap: 100, ArtifactCap: 100})

	if !p.EnqueueArtifact(artifact("g1", 0, 5, 60)) {
		t.Fatal("first artifact refused")
	}
	if p.EnqueueArtifact(artifact("g1", 1, 5, 60)) {
		t.Error("EnqueueArtifact accepted an artifact past the buffer cap")
	}
	if got := p.BufferedBytes(); got != 60 {
		t.Errorf("BufferedBytes = %d, want 60", got)
	}
	if snap := p.Stats().Snapshot(); snap.DroppedBufferFull != 1 {
		t.Errorf("DroppedBufferFull = %d, want 1", snap.DroppedBufferFull)
	}
}

func TestDispose_ReleasesBytes(t *testing.T) {
	p := New(Config{})
	base := p.BufferedBytes()

	p.EnqueueArtifact(artifact("g1", 0, 5, 1000))
	p.EnqueueArtifact(artifact("g1", 1, 5, 500))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		a, ok := p.NextArtifact(ctx)
		if !ok {
			t.Fatalf("NextArtifact returned nothing at index %d", i)
		}
		p.Dispose(a)
		if a.WAV != nil {
			t.Error("Dispose did not release the payload")
		}
	}

	if got := p.BufferedBytes(); got != base {
		t.Errorf("BufferedBytes = %d after disposing all artifacts, want %d", got, base)
	}
}

func TestSkipGroup_RemovesFromBothQueues(t *testing.T) {
	p := New(Config{})

	// Two jobs still waiting for synthesis plus one synthesized artifact for
	// g1, and one artifact for g2.
	p.Submit(admitted("g1", "chunk two", "chunk three"))
	p.EnqueueArtifact(artifact("g1", 0, 5, 10))
	p.EnqueueArtifact(artifact("g2", 0, 5, 10))

	removed := p.SkipGroup("g1")
	if removed != 3 {
		t.Errorf("SkipGroup removed %d items, want 3", removed)
	}

	synth, audio := p.QueueSizes()
	if synth != 0 {
		t.Errorf("synthesis queue still holds %d jobs", synth)
	}
	if audio != 1 {
		t.Errorf("audio queue size = %d, want 1 (g2 survives)", audio)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	a, ok := p.NextArtifact(ctx)
	if !ok || a.GroupID != "g2" {
		t.Errorf("surviving artifact group = %q, want g2", a.GroupID)
	}
	p.Dispose(a)

	if got := p.BufferedBytes(); got != 0 {
		t.Errorf("BufferedBytes = %d after skip and dispose, want 0", got)
	}
}

func TestSkipGroup_DefaultsToPlayingGroup(t *testing.T) {
	p := New(Config{})

	p.EnqueueArtifact(artifact("g1", 1, 5, 10))
	p.SetPlayingGroup("g1")

	if removed := p.SkipGroup(""); removed != 1 {
		t.Errorf("SkipGroup(\"\") removed %d, want 1", removed)
	}
}

func TestSkipGroup_NothingPlaying(t *testing.T) {
	p := New(Config{})
	if removed := p.SkipGroup(""); removed != 0 {
		t.Errorf("SkipGroup(\"\") with nothing playing removed %d, want 0", removed)
	}
}

func TestClearAll(t *testing.T) {
	p := New(Config{})

	p.Submit(admitted("g1", "a", "b"))
	p.EnqueueArtifact(artifact("g2", 0, 5, 100))
	p.EnqueueArtifact(artifact("g3", 0, 4, 200))

	if removed := p.ClearAll(); removed != 4 {
		t.Errorf("ClearAll removed %d items, want 4", removed)
	}

	synth, audio := p.QueueSizes()
	if synth != 0 || audio != 0 {
		t.Errorf("queues after ClearAll = (%d, %d), want (0, 0)", synth, audio)
	}
	if got := p.BufferedBytes(); got != 0 {
		t.Errorf("BufferedBytes = %d after ClearAll, want 0", got)
	}
}

func TestPlayingGroup(t *testing.T) {
	p := New(Config{})

	if got := p.PlayingGroup(); got != "" {
		t.Errorf("PlayingGroup = %q before playback, want empty", got)
	}
	p.SetPlayingGroup("g9")
	if got := p.PlayingGroup(); got != "g9" {
		t.Errorf("PlayingGroup = %q, want g9", got)
	}
	p.SetPlayingGroup("")
	if got := p.PlayingGroup(); got != "" {
		t.Errorf("PlayingGroup = %q after clear, want empty", got)
	}
}
