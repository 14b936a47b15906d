package speaker

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Rokurolize/discord-voice-bot-sub000/pkg/tts"
)

// MappingFile is the YAML shape of a cross-engine speaker mapping.
//
// Example:
//
//	mappings:
//	  - from: voicevox
//	    to: aivis
//	    speakers:
//	      3: 888753760
//	      2: 888753761
type MappingFile struct {
	Mappings []MappingEntry `yaml:"mappings"`
}

// MappingEntry translates speaker ids from one engine's id space into
// another's.
type MappingEntry struct {
	From     string      `yaml:"from"`
	To       string      `yaml:"to"`
	Speakers map[int]int `yaml:"speakers"`
}

// Mapping is the compiled cross-engine speaker table consulted when a
// stored preference belongs to a different engine than the one in use.
type Mapping struct {
	pairs map[string]map[int]int
}

func pairKey(from, to string) string { return from + "->" + to }

// NewMapping compiles entries into a lookup table. Unknown engine tags and
// duplicate (from, to) pairs are rejected.
func NewMapping(entries []MappingEntry) (*Mapping, error) {
	m := &Mapping{pairs: make(map[string]map[int]int)}
	for i, e := range entries {
		if !tts.KnownTag(e.From) {
			return nil, fmt.Errorf("speaker: mappings[%d].from %q is not a known engine", i, e.From)
		}
		if !tts.KnownTag(e.To) {
			return nil, fmt.Errorf("speaker: mappings[%d].to %q is not a known engine", i, e.To)
		}
		if e.From == e.To {
			return nil, fmt.Errorf("speaker: mappings[%d] maps %q onto itself", i, e.From)
		}
		key := pairKey(e.From, e.To)
		if _, dup := m.pairs[key]; dup {
			return nil, fmt.Errorf("speaker: duplicate mapping for %s", key)
		}
		ids := make(map[int]int, len(e.Speakers))
		for from, to := range e.Speakers {
			ids[from] = to
		}
		m.pairs[key] = ids
	}
	return m, nil
}

// Lookup translates speakerID from one engine to another. The second return
// value is false when no entry exists; callers then fall back to the target
// engine's default speaker.
func (m *Mapping) Lookup(from, to string, speakerID int) (int, bool) {
	ids, ok := m.pairs[pairKey(from, to)]
	if !ok {
		return 0, false
	}
	id, ok := ids[speakerID]
	return id, ok
}

// LoadMappingFile reads and compiles a mapping YAML file from disk.
func LoadMappingFile(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("speaker: open mapping file %q: %w", path, err)
	}
	defer f.Close()

	m, err := LoadMappingFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("speaker: parse mapping file %q: %w", path, err)
	}
	return m, nil
}

// LoadMappingFromReader parses mapping YAML from an [io.Reader].
func LoadMappingFromReader(r io.Reader) (*Mapping, error) {
	var mf MappingFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&mf); err != nil {
		return nil, fmt.Errorf("speaker: decode mapping yaml: %w", err)
	}
	return NewMapping(mf.Mappings)
}

//go:embed mapping.yaml
var defaultMappingYAML []byte

// DefaultMapping returns the built-in table shipped in mapping.yaml, pairing
// the stock VOICEVOX voices with the Anneli styles of AivisSpeech.
func DefaultMapping() *Mapping {
	m, err := LoadMappingFromReader(bytes.NewReader(defaultMappingYAML))
	if err != nil {
		panic("speaker: built-in mapping invalid: " + err.Error())
	}
	return m
}
