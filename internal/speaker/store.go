package speaker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/Rokurolize/discord-voice-bot-sub000/pkg/tts"
)

// prefsFileName is the user-preferences file placed under the
// platform config directory.
const prefsFileName = "user_settings.json"

// Preference is one user's stored voice choice. Engine records which id
// space SpeakerID belongs to; legacy files lack it and are migrated on
// startup.
type Preference struct {
	SpeakerID   int    `json:"speaker_id"`
	SpeakerName string `json:"speaker_name"`
	Engine      string `json:"engine,omitempty"`
}

// Store persists per-user voice preferences as a single JSON object keyed
// by author id. Reads re-parse the file so edits made outside the process
// are observed; a file that fails to parse leaves the last good in-memory
// view in place. Writes replace the whole file atomically via a temp file
// and rename.
type Store struct {
	path string

	mu    sync.Mutex
	prefs map[string]Preference
}

// DefaultPath returns the preferences file location under the platform
// config directory (XDG config home on POSIX, AppData on Windows).
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("speaker: resolve config dir: %w", err)
	}
	return filepath.Join(dir, "discord-voice-bot", prefsFileName), nil
}

// NewStore creates a store backed by the JSON file at path. The file does
// not need to exist yet.
func NewStore(path string) *Store {
	return &Store{
		path:  path,
		prefs: make(map[string]Preference),
	}
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Get returns the stored preference for authorID, reloading the file first.
func (s *Store) Get(authorID string) (Preference, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadLocked()
	p, ok := s.prefs[authorID]
	return p, ok
}

// Set stores a preference for authorID and persists the whole map.
func (s *Store) Set(authorID string, pref Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadLocked()
	s.prefs[authorID] = pref
	return s.saveLocked()
}

// Delete removes authorID's preference. It reports whether an entry
// existed.
func (s *Store) Delete(authorID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadLocked()
	if _, ok := s.prefs[authorID]; !ok {
		return false, nil
	}
	delete(s.prefs, authorID)
	return true, s.saveLocked()
}

// All returns a copy of every stored preference.
func (s *Store) All() map[string]Preference {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadLocked()
	return maps.Clone(s.prefs)
}

// Migrate stamps an engine tag, inferred from the speaker id, onto legacy
// entries that lack one, then persists if anything changed. It returns the
// number of entries migrated. Intended to run once at startup.
func (s *Store) Migrate() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadLocked()

	migrated := 0
	for id, p := range s.prefs {
		if p.Engine != "" {
			continue
		}
		p.Engine = tts.InferTag(p.SpeakerID)
		s.prefs[id] = p
		migrated++
	}
	if migrated == 0 {
		return 0, nil
	}
	if err := s.saveLocked(); err != nil {
		return migrated, err
	}
	slog.Info("migrated legacy speaker preferences", "entries", migrated, "path", s.path)
	return migrated, nil
}

// reloadLocked refreshes the in-memory view from disk. A missing file means
// an empty map; an unreadable or unparseable file keeps the current view.
func (s *Store) reloadLocked() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.prefs = make(map[string]Preference)
		} else {
			slog.Warn("speaker preferences unreadable, keeping in-memory view", "path", s.path, "err", err)
		}
		return
	}

	parsed := make(map[string]Preference)
	if err := json.Unmarshal(data, &parsed); err != nil {
		slog.Warn("speaker preferences malformed, keeping in-memory view", "path", s.path, "err", err)
		return
	}
	s.prefs = parsed
}

// saveLocked writes the full map to <path>.tmp and renames it onto path.
func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("speaker: create config dir: %w", err)
	}

	data, err := json.MarshalIndent(s.prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("speaker: encode preferences: %w", err)
	}
	data = append(data, '\n')

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("speaker: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("speaker: replace %s: %w", s.path, err)
	}
	return nil
}
