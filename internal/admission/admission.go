// Package admission decides which incoming text events become speech.
//
// A [TextEvent] passes through an ordered rule chain (channel match, author
// policy, message kind, emptiness, command prefixes, per-author rate
// window, size ceiling), then its content is sanitized into plain speakable
// text, split into TTS-sized chunks, and checked against a window of recent
// content hashes so repeated messages are read only once. The result is an
// [AdmittedMessage] carrying the ordered chunks and a group id that ties
// them together through the rest of the pipeline.
package admission

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageKind classifies an inbound message. Only default messages are
// speakable; system notices, pins, joins and the like are not.
type MessageKind int

const (
	KindDefault MessageKind = iota
	KindSystem
)

// TextEvent is one inbound message as seen by admission. It is consumed by
// [Gate.Admit] and never stored.
type TextEvent struct {
	ID          string
	AuthorID    string
	AuthorName  string
	AuthorIsBot bool
	ChannelID   string
	Content     string
	Kind        MessageKind
	Timestamp   time.Time
}

// AdmittedMessage is the admission output: sanitized text split into
// ordered chunks, tied together by GroupID.
type AdmittedMessage struct {
	GroupID       string
	AuthorID      string
	AuthorName    string
	SanitizedText string
	Chunks        []string
	ContentHash   string
}

// RejectReason tags why an event was not admitted. The zero value means
// admitted.
type RejectReason string

const (
	RejectNone        RejectReason = ""
	RejectChannel     RejectReason = "wrong_channel"
	RejectAutomated   RejectReason = "automated_author"
	RejectKind        RejectReason = "non_default_kind"
	RejectEmpty       RejectReason = "empty"
	RejectCommand     RejectReason = "command_prefix"
	RejectRateLimited RejectReason = "author_rate_limited"
	RejectOversize    RejectReason = "oversize"
	RejectDuplicate   RejectReason = "duplicate"
)

// Config tunes the admission gate. Zero values fall back to the documented
// defaults.
type Config struct {
	// TargetChannelID is the only text channel whose messages are read.
	TargetChannelID string

	// SelfID is the bot's own user id, used by the self-message policy.
	SelfID string

	// ProcessSelfMessages admits the bot's own messages. Default off.
	ProcessSelfMessages bool

	// CommandPrefixes rejects messages starting with any of these.
	// Defaults to "!", "/", ".", ">", "<".
	CommandPrefixes []string

	// RateLimit and RatePeriod bound each author to RateLimit admitted
	// events per RatePeriod. Defaults 5 per 60s.
	RateLimit  int
	RatePeriod time.Duration

	// MaxLength rejects raw content longer than this many characters.
	// Default 10000.
	MaxLength int

	// TruncateLimit caps sanitized text; longer text is cut there and an
	// ellipsis appended. Default 500.
	TruncateLimit int

	// ChunkLimit caps each chunk's character count. Default 500.
	ChunkLimit int

	// DedupeSize is how many recent content hashes are remembered.
	// Default 100.
	DedupeSize int
}

func (c Config) withDefaults() Config {
	if len(c.CommandPrefixes) == 0 {
		c.CommandPrefixes = []string{"!", "/", ".", ">", "<"}
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 5
	}
	if c.RatePeriod <= 0 {
		c.RatePeriod = 60 * time.Second
	}
	if c.MaxLength <= 0 {
		c.MaxLength = 10000
	}
	if c.TruncateLimit <= 0 {
		c.TruncateLimit = 500
	}
	if c.ChunkLimit <= 0 {
		c.ChunkLimit = 500
	}
	if c.DedupeSize <= 0 {
		c.DedupeSize = 100
	}
	return c
}

// Gate applies the admission rules. Safe for concurrent use.
type Gate struct {
	cfg    Config
	window *rateWindow
	dedupe *dedupeRing
}

// NewGate creates a gate with cfg, filling in defaults for zero values.
func NewGate(cfg Config) *Gate {
	cfg = cfg.withDefaults()
	return &Gate{
		cfg:    cfg,
		window: newRateWindow(cfg.RateLimit, cfg.RatePeriod),
		dedupe: newDedupeRing(cfg.DedupeSize),
	}
}

// Admit runs ev through the rule chain. On success it returns the admitted
// message and [RejectNone]; otherwise nil and the reason.
func (g *Gate) Admit(ev TextEvent) (*AdmittedMessage, RejectReason) {
	if ev.ChannelID != g.cfg.TargetChannelID {
		return nil, RejectChannel
	}

	if ev.AuthorIsBot {
		if !g.cfg.ProcessSelfMessages || ev.AuthorID != g.cfg.SelfID {
			return g.reject(ev, RejectAutomated)
		}
	}

	if ev.Kind != KindDefault {
		return g.reject(ev, RejectKind)
	}

	trimmed := strings.TrimSpace(ev.Content)
	if trimmed == "" {
		return g.reject(ev, RejectEmpty)
	}

	for _, prefix := range g.cfg.CommandPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return g.reject(ev, RejectCommand)
		}
	}

	if !g.window.allow(ev.AuthorID, time.Now()) {
		return g.reject(ev, RejectRateLimited)
	}

	if len([]rune(ev.Content)) > g.cfg.MaxLength {
		return g.reject(ev, RejectOversize)
	}

	text := Sanitize(ev.Content, g.cfg.TruncateLimit)
	if text == "" {
		return g.reject(ev, RejectEmpty)
	}

	hash := contentHash(text)
	if !g.dedupe.add(hash) {
		return g.reject(ev, RejectDuplicate)
	}

	return &AdmittedMessage{
		GroupID:       uuid.NewString(),
		AuthorID:      ev.AuthorID,
		AuthorName:    ev.AuthorName,
		SanitizedText: text,
		Chunks:        Chunk(text, g.cfg.ChunkLimit),
		ContentHash:   hash,
	}, RejectNone
}

func (g *Gate) reject(ev TextEvent, reason RejectReason) (*AdmittedMessage, RejectReason) {
	slog.Debug("message rejected", "reason", string(reason), "author", ev.AuthorID, "message", ev.ID)
	return nil, reason
}

// contentHash fingerprints sanitized text for deduplication.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
