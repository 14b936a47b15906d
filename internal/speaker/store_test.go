package speaker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Rokurolize/discord-voice-bot-sub000/pkg/tts"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "user_settings.json"))
}

func TestStore_SetGet(t *testing.T) {
	s := tempStore(t)

	want := Preference{SpeakerID: 3, SpeakerName: "ずんだもん", Engine: tts.EngineVoicevox}
	if err := s.Set("111", want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok := s.Get("111")
	if !ok || got != want {
		t.Fatalf("Get() = (%+v, %v), want (%+v, true)", got, ok, want)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read prefs file: %v", err)
	}
	for _, key := range []string{`"speaker_id"`, `"speaker_name"`, `"engine"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("prefs file missing %s: %s", key, data)
		}
	}
}

func TestStore_MissingFileIsEmpty(t *testing.T) {
	s := tempStore(t)

	if _, ok := s.Get("111"); ok {
		t.Fatal("Get() on missing file = ok, want miss")
	}
	if all := s.All(); len(all) != 0 {
		t.Fatalf("All() = %v, want empty", all)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	s := tempStore(t)

	want := Preference{SpeakerID: 888753760, SpeakerName: "Anneli", Engine: tts.EngineAivis}
	if err := s.Set("333", want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	reopened := NewStore(s.Path())
	got, ok := reopened.Get("333")
	if !ok || got != want {
		t.Fatalf("Get() after reopen = (%+v, %v), want (%+v, true)", got, ok, want)
	}
}

func TestStore_ObservesExternalEdits(t *testing.T) {
	s := tempStore(t)

	raw := `{"222": {"speaker_id": 888753760, "speaker_name": "Anneli", "engine": "aivis"}}`
	if err := os.WriteFile(s.Path(), []byte(raw), 0o644); err != nil {
		t.Fatalf("write prefs file: %v", err)
	}

	got, ok := s.Get("222")
	if !ok || got.SpeakerID != 888753760 || got.Engine != tts.EngineAivis {
		t.Fatalf("Get() = (%+v, %v), want externally written entry", got, ok)
	}
}

func TestStore_CorruptFileKeepsMemoryView(t *testing.T) {
	s := tempStore(t)

	want := Preference{SpeakerID: 3, SpeakerName: "ずんだもん", Engine: tts.EngineVoicevox}
	if err := s.Set("111", want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := os.WriteFile(s.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt prefs file: %v", err)
	}

	got, ok := s.Get("111")
	if !ok || got != want {
		t.Fatalf("Get() after corruption = (%+v, %v), want retained (%+v, true)", got, ok, want)
	}
}

func TestStore_UnknownKeysIgnored(t *testing.T) {
	s := tempStore(t)

	raw := `{"111": {"speaker_id": 3, "speaker_name": "ずんだもん", "engine": "voicevox", "legacy_volume": 0.5}}`
	if err := os.WriteFile(s.Path(), []byte(raw), 0o644); err != nil {
		t.Fatalf("write prefs file: %v", err)
	}

	got, ok := s.Get("111")
	if !ok || got.SpeakerID != 3 {
		t.Fatalf("Get() = (%+v, %v), want entry despite unknown keys", got, ok)
	}
}

func TestStore_Delete(t *testing.T) {
	s := tempStore(t)

	if err := s.Set("111", Preference{SpeakerID: 3, Engine: tts.EngineVoicevox}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	existed, err := s.Delete("111")
	if err != nil || !existed {
		t.Fatalf("Delete() = (%v, %v), want (true, nil)", existed, err)
	}
	if _, ok := s.Get("111"); ok {
		t.Fatal("Get() after delete = ok, want miss")
	}

	existed, err = s.Delete("111")
	if err != nil || existed {
		t.Fatalf("second Delete() = (%v, %v), want (false, nil)", existed, err)
	}
}

func TestStore_Migrate(t *testing.T) {
	s := tempStore(t)

	raw := `{
		"111": {"speaker_id": 3, "speaker_name": "ずんだもん"},
		"222": {"speaker_id": 888753760, "speaker_name": "Anneli"},
		"333": {"speaker_id": 2, "speaker_name": "四国めたん", "engine": "voicevox"}
	}`
	if err := os.WriteFile(s.Path(), []byte(raw), 0o644); err != nil {
		t.Fatalf("write prefs file: %v", err)
	}

	n, err := s.Migrate()
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("Migrate() = %d, want 2", n)
	}

	tests := map[string]string{
		"111": tts.EngineVoicevox,
		"222": tts.EngineAivis,
		"333": tts.EngineVoicevox,
	}
	for id, wantEngine := range tests {
		got, ok := s.Get(id)
		if !ok || got.Engine != wantEngine {
			t.Errorf("Get(%s).Engine = (%q, %v), want (%q, true)", id, got.Engine, ok, wantEngine)
		}
	}

	// Migration persists: a fresh store over the same file sees the tags.
	var onDisk map[string]Preference
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read prefs file: %v", err)
	}
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("parse prefs file: %v", err)
	}
	if onDisk["111"].Engine != tts.EngineVoicevox {
		t.Fatalf("on-disk engine = %q, want %q", onDisk["111"].Engine, tts.EngineVoicevox)
	}

	// Second run is a no-op.
	if n, err := s.Migrate(); err != nil || n != 0 {
		t.Fatalf("second Migrate() = (%d, %v), want (0, nil)", n, err)
	}
}

func TestStore_AtomicWriteLeavesNoTemp(t *testing.T) {
	s := tempStore(t)

	if err := s.Set("111", Preference{SpeakerID: 3, Engine: tts.EngineVoicevox}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file %s left behind", e.Name())
		}
	}
}
