package pipeline

// artifactEntry pairs an [AudioArtifact] with its insertion sequence
// number. seq breaks priority ties so equal-priority artifacts leave in
// arrival order.
type artifactEntry struct {
	artifact *AudioArtifact
	seq      uint64
}

// artifactHeap is the container/heap backing store for the playback queue:
// a min-heap on Priority where the lowest value plays first.
type artifactHeap []artifactEntry

func (h artifactHeap) Len() int      { return len(h) }
func (h artifactHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h artifactHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.artifact.Priority == b.artifact.Priority {
		return a.seq < b.seq
	}
	return a.artifact.Priority < b.artifact.Priority
}

// Push and Pop are heap.Interface plumbing; use heap.Push and heap.Pop
// instead of calling them directly.

func (h *artifactHeap) Push(x any) {
	*h = append(*h, x.(artifactEntry))
}

func (h *artifactHeap) Pop() any {
	old := *h
	last := old[len(old)-1]
	*h = old[:len(old)-1]
	return last
}
