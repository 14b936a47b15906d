package pipeline

import "strings"

// Priority bounds. Lower values play earlier.
const (
	minPriority     = 1
	maxPriority     = 10
	basePriority    = 5
	shortTextRunes  = 50
	longTextRunes   = 200
	commandPrefix   = "!"
	shortTextBonus  = -1
	commandBonus    = -2
	longTextPenalty = 2
)

// SynthesisJob is one chunk of an admitted message awaiting synthesis.
// Priority is message-level: every chunk of a group carries the same value,
// computed from the full sanitized text.
type SynthesisJob struct {
	Text        string
	AuthorID    string
	AuthorName  string
	GroupID     string
	ChunkIndex  int
	ChunkCount  int
	ContentHash string
	Priority    int
}

// AudioArtifact is synthesized audio awaiting playback. Exactly one owner
// holds it at a time; whoever removes it from the queue must dispose it.
type AudioArtifact struct {
	WAV        []byte
	GroupID    string
	ChunkIndex int
	Priority   int
	SizeBytes  int
}

// Priority computes a message's playback priority from its sanitized text:
// short messages jump ahead, command-looking ones further still, and long
// messages wait their turn.
func Priority(text string) int {
	p := basePriority
	n := len([]rune(text))
	if n < shortTextRunes {
		p += shortTextBonus
	}
	if strings.HasPrefix(text, commandPrefix) {
		p += commandBonus
	}
	if n > longTextRunes {
		p += longTextPenalty
	}
	if p < minPriority {
		p = minPriority
	}
	if p > maxPriority {
		p = maxPriority
	}
	return p
}
