// Package speaker stores per-user voice preferences and resolves them
// against the engine currently in use.
//
// A preference records a speaker id together with the engine tag that id
// belongs to, because the two engines use disjoint id spaces. When the bot
// runs on a different engine than the one a preference was saved for, a
// cross-engine mapping table translates the speaker where an equivalence is
// known; otherwise the active engine's default voice is used.
//
// Preferences live in a single JSON file under the platform config
// directory so users can edit them while the bot runs.
package speaker

import (
	"fmt"

	"github.com/Rokurolize/discord-voice-bot-sub000/pkg/tts"
)

// Router answers "which voice speaks for this author on the active engine".
type Router struct {
	store   *Store
	mapping *Mapping
	engines *tts.Registry
}

// NewRouter wires a store and mapping table against the engine registry.
// A nil mapping means "no cross-engine translations".
func NewRouter(store *Store, mapping *Mapping, engines *tts.Registry) *Router {
	if mapping == nil {
		mapping = &Mapping{pairs: map[string]map[int]int{}}
	}
	return &Router{store: store, mapping: mapping, engines: engines}
}

// Resolve returns the speaker id to use for authorID on the active engine,
// and the engine itself. Authors without a preference, and preferences from
// another engine with no mapping entry, get the active engine's default
// voice.
func (r *Router) Resolve(authorID string) (int, tts.Engine) {
	current := r.engines.Default()

	pref, ok := r.store.Get(authorID)
	if !ok {
		return current.DefaultSpeakerID, current
	}
	if pref.Engine == current.Tag {
		return pref.SpeakerID, current
	}
	if id, ok := r.mapping.Lookup(pref.Engine, current.Tag, pref.SpeakerID); ok {
		return id, current
	}
	return current.DefaultSpeakerID, current
}

// SetPreference validates and stores a voice choice for authorID. An empty
// engineTag is inferred from the id space speakerID falls in; an unknown
// tag is rejected.
func (r *Router) SetPreference(authorID string, speakerID int, displayName, engineTag string) (Preference, error) {
	if speakerID < 0 {
		return Preference{}, fmt.Errorf("speaker: invalid speaker id %d", speakerID)
	}
	if engineTag == "" {
		engineTag = tts.InferTag(speakerID)
	}
	if !tts.KnownTag(engineTag) {
		return Preference{}, fmt.Errorf("speaker: unknown engine %q", engineTag)
	}

	pref := Preference{
		SpeakerID:   speakerID,
		SpeakerName: displayName,
		Engine:      engineTag,
	}
	if err := r.store.Set(authorID, pref); err != nil {
		return Preference{}, err
	}
	return pref, nil
}

// ClearPreference removes authorID's stored voice. It reports whether one
// existed.
func (r *Router) ClearPreference(authorID string) (bool, error) {
	return r.store.Delete(authorID)
}

// Preference returns authorID's stored voice without any engine mapping.
func (r *Router) Preference(authorID string) (Preference, bool) {
	return r.store.Get(authorID)
}

// Engines exposes the registry the router resolves against.
func (r *Router) Engines() *tts.Registry { return r.engines }
