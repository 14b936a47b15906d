package audio_test

import (
	"bytes"
	"testing"

	"github.com/Rokurolize/discord-voice-bot-sub000/pkg/audio"
)

func TestTo16Bit(t *testing.T) {
	tests := []struct {
		name string
		pcm  []byte
		bits int
		want []int16
	}{
		{
			name: "16-bit passthrough",
			pcm:  pcmFrom(-1000, 1000),
			bits: 16,
			want: []int16{-1000, 1000},
		},
		{
			name: "8-bit unsigned silence",
			pcm:  []byte{128, 128},
			bits: 8,
			want: []int16{0, 0},
		},
		{
			name: "8-bit unsigned extremes",
			pcm:  []byte{0, 255},
			bits: 8,
			want: []int16{-32768, 32512},
		},
		{
			// 0x123456 little-endian is 56 34 12; the top two bytes survive.
			name: "24-bit keeps high bytes",
			pcm:  []byte{0x56, 0x34, 0x12},
			bits: 24,
			want: []int16{0x1234},
		},
		{
			name: "32-bit keeps high bytes",
			pcm:  []byte{0x00, 0x00, 0x34, 0x12},
			bits: 32,
			want: []int16{0x1234},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := audio.To16Bit(tc.pcm, tc.bits)
			if err != nil {
				t.Fatalf("To16Bit: %v", err)
			}
			got := samplesFrom(out)
			if len(got) != len(tc.want) {
				t.Fatalf("sample count = %d, want %d", len(got), len(tc.want))
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("sample %d = %d, want %d", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestTo16Bit_UnsupportedDepth(t *testing.T) {
	if _, err := audio.To16Bit([]byte{1, 2, 3}, 12); err == nil {
		t.Error("To16Bit accepted 12-bit input")
	}
}

func TestToDiscord_AlreadyTargetFormat(t *testing.T) {
	pcm := pcmFrom(1, 2, 3, 4)
	out, err := audio.ToDiscord(pcm, 48000, 2, 16)
	if err != nil {
		t.Fatalf("ToDiscord: %v", err)
	}
	if !bytes.Equal(out, pcm) {
		t.Error("target-format input was modified")
	}
}

func TestToDiscord_MonoUpsample(t *testing.T) {
	// 24 kHz mono (the VOICEVOX default without query tuning): doubled rate,
	// then duplicated into stereo, so 4x the sample count.
	pcm := pcmFrom(100, 200, 300, 400)
	out, err := audio.ToDiscord(pcm, 24000, 1, 16)
	if err != nil {
		t.Fatalf("ToDiscord: %v", err)
	}
	got := samplesFrom(out)
	if len(got) != 16 {
		t.Fatalf("sample count = %d, want 16", len(got))
	}
	// Stereo interleave: L and R must be identical.
	for i := 0; i+1 < len(got); i += 2 {
		if got[i] != got[i+1] {
			t.Fatalf("frame %d: L=%d R=%d, want identical", i/2, got[i], got[i+1])
		}
	}
}

func TestToDiscord_RejectsBadInput(t *testing.T) {
	pcm := pcmFrom(1, 2)
	if _, err := audio.ToDiscord(pcm, 0, 1, 16); err == nil {
		t.Error("accepted zero sample rate")
	}
	if _, err := audio.ToDiscord(pcm, 48000, 5, 16); err == nil {
		t.Error("accepted 5 channels")
	}
	if _, err := audio.ToDiscord(pcm, 48000, 1, 12); err == nil {
		t.Error("accepted 12-bit depth")
	}
}

func TestFrames(t *testing.T) {
	// 2.5 frames of PCM: expect 3 frames with the last zero-padded.
	pcm := make([]byte, audio.FrameBytes*2+audio.FrameBytes/2)
	for i := range pcm {
		pcm[i] = 0xAB
	}

	frames := audio.Frames(pcm)
	if len(frames) != 3 {
		t.Fatalf("frame count = %d, want 3", len(frames))
	}
	for i, f := range frames {
		if len(f) != audio.FrameBytes {
			t.Errorf("frame %d length = %d, want %d", i, len(f), audio.FrameBytes)
		}
	}

	tail := frames[2]
	if tail[audio.FrameBytes/2-1] != 0xAB {
		t.Error("tail frame lost its data")
	}
	if tail[audio.FrameBytes/2] != 0 {
		t.Error("tail frame was not zero-padded")
	}
}

func TestFrames_Empty(t *testing.T) {
	if frames := audio.Frames(nil); frames != nil {
		t.Errorf("Frames(nil) = %v, want nil", frames)
	}
}

func TestFrames_ExactMultiple(t *testing.T) {
	pcm := make([]byte, audio.FrameBytes*4)
	frames := audio.Frames(pcm)
	if len(frames) != 4 {
		t.Fatalf("frame count = %d, want 4", len(frames))
	}
}
