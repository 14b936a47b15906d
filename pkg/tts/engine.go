package tts

import (
	"fmt"
	"sort"
	"strings"
)

// Known engine tags. Speaker ids are only meaningful together with a tag:
// the two engines use disjoint id spaces.
const (
	// EngineVoicevox is the VOICEVOX engine (small integer style ids).
	EngineVoicevox = "voicevox"

	// EngineAivis is the AivisSpeech engine. It speaks the VOICEVOX HTTP
	// protocol but derives its style ids from model UUIDs, so they are
	// large integers.
	EngineAivis = "aivis"
)

// aivisIDFloor separates the two engines' speaker-id spaces. Every
// AivisSpeech style id observed in the wild is far above this; every
// VOICEVOX id is far below.
const aivisIDFloor = 1_000_000

// Engine describes one reachable TTS backend.
type Engine struct {
	// Tag identifies the engine ("voicevox" or "aivis").
	Tag string

	// BaseURL is the engine's HTTP root, without a trailing slash.
	BaseURL string

	// DefaultSpeakerID is used when a caller has no preference for this
	// engine and no cross-engine mapping applies.
	DefaultSpeakerID int

	// DefaultSpeakerName is the display name of the default speaker.
	DefaultSpeakerName string
}

// Voicevox returns the VOICEVOX engine rooted at baseURL.
func Voicevox(baseURL string) Engine {
	return Engine{
		Tag:                EngineVoicevox,
		BaseURL:            strings.TrimRight(baseURL, "/"),
		DefaultSpeakerID:   3, // ずんだもん (ノーマル)
		DefaultSpeakerName: "ずんだもん",
	}
}

// Aivis returns the AivisSpeech engine rooted at baseURL.
func Aivis(baseURL string) Engine {
	return Engine{
		Tag:                EngineAivis,
		BaseURL:            strings.TrimRight(baseURL, "/"),
		DefaultSpeakerID:   888753760, // Anneli (ノーマル)
		DefaultSpeakerName: "Anneli",
	}
}

// KnownTag reports whether tag names a supported engine.
func KnownTag(tag string) bool {
	return tag == EngineVoicevox || tag == EngineAivis
}

// InferTag guesses the engine a speaker id belongs to from its magnitude.
func InferTag(speakerID int) string {
	if speakerID >= aivisIDFloor {
		return EngineAivis
	}
	return EngineVoicevox
}

// Registry holds the configured engines and knows which one is the default.
type Registry struct {
	byTag      map[string]Engine
	defaultTag string
}

// NewRegistry creates a [Registry] from the given engines. defaultTag must
// name one of them.
func NewRegistry(defaultTag string, engines ...Engine) (*Registry, error) {
	if len(engines) == 0 {
		return nil, fmt.Errorf("tts: registry needs at least one engine")
	}
	byTag := make(map[string]Engine, len(engines))
	for _, e := range engines {
		if e.Tag == "" || e.BaseURL == "" {
			return nil, fmt.Errorf("tts: engine %q needs a tag and a base URL", e.Tag)
		}
		if _, dup := byTag[e.Tag]; dup {
			return nil, fmt.Errorf("tts: engine %q registered twice", e.Tag)
		}
		byTag[e.Tag] = e
	}
	if _, ok := byTag[defaultTag]; !ok {
		return nil, fmt.Errorf("tts: default engine %q is not registered", defaultTag)
	}
	return &Registry{byTag: byTag, defaultTag: defaultTag}, nil
}

// Get returns the engine registered under tag.
func (r *Registry) Get(tag string) (Engine, bool) {
	e, ok := r.byTag[tag]
	return e, ok
}

// Default returns the engine used when callers do not name one.
func (r *Registry) Default() Engine {
	return r.byTag[r.defaultTag]
}

// Tags returns all registered engine tags in sorted order.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.byTag))
	for tag := range r.byTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
