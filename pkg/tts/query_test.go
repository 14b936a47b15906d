package tts

import "testing"

func TestTune(t *testing.T) {
	tests := []struct {
		name  string
		query AudioQuery
		want  AudioQuery
	}{
		{
			name:  "nominal values scaled",
			query: AudioQuery{"volumeScale": 1.0, "speedScale": 1.0, "outputSamplingRate": 24000.0},
			want:  AudioQuery{"volumeScale": 0.8, "speedScale": 1.0, "outputSamplingRate": 48000},
		},
		{
			name:  "volume above ceiling clamps before scaling",
			query: AudioQuery{"volumeScale": 3.5, "speedScale": 1.0},
			want:  AudioQuery{"volumeScale": 0.8, "speedScale": 1.0, "outputSamplingRate": 48000},
		},
		{
			name:  "negative volume clamps to zero",
			query: AudioQuery{"volumeScale": -1.0, "speedScale": 1.0},
			want:  AudioQuery{"volumeScale": 0.0, "speedScale": 1.0, "outputSamplingRate": 48000},
		},
		{
			name:  "speed clamped to band",
			query: AudioQuery{"volumeScale": 1.0, "speedScale": 0.2},
			want:  AudioQuery{"volumeScale": 0.8, "speedScale": 0.8, "outputSamplingRate": 48000},
		},
		{
			name:  "fast speed clamped down",
			query: AudioQuery{"volumeScale": 1.0, "speedScale": 4.0},
			want:  AudioQuery{"volumeScale": 0.8, "speedScale": 1.2, "outputSamplingRate": 48000},
		},
		{
			name:  "missing fields left absent",
			query: AudioQuery{},
			want:  AudioQuery{"outputSamplingRate": 48000},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.query.Tune(48000)
			if len(tt.query) != len(tt.want) {
				t.Fatalf("Tune() = %v, want %v", tt.query, tt.want)
			}
			for k, want := range tt.want {
				if got := tt.query[k]; got != want {
					t.Errorf("Tune() %s = %v, want %v", k, got, want)
				}
			}
		})
	}
}

func TestTune_PitchNeverTouched(t *testing.T) {
	q := AudioQuery{"pitchScale": 0.15, "volumeScale": 1.0}
	q.Tune(48000)
	if q["pitchScale"] != 0.15 {
		t.Fatalf("pitchScale = %v, want 0.15 untouched", q["pitchScale"])
	}
}

func TestTune_PreservesUnknownFields(t *testing.T) {
	q := AudioQuery{
		"accent_phrases":  []any{map[string]any{"moras": []any{}}},
		"intonationScale": 1.3,
		"volumeScale":     1.0,
	}
	q.Tune(48000)
	if _, ok := q["accent_phrases"]; !ok {
		t.Fatal("accent_phrases dropped by Tune")
	}
	if q["intonationScale"] != 1.3 {
		t.Fatalf("intonationScale = %v, want 1.3", q["intonationScale"])
	}
}
