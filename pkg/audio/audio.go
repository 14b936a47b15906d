// Package audio converts PCM between the formats text-to-speech engines
// emit and the 48 kHz stereo int16 stream Discord voice expects.
//
// Engines answer synthesis requests with RIFF/WAVE payloads whose sample
// rate, channel count, and bit depth vary by engine and query settings.
// [ToDiscord] normalizes any supported combination to Discord's fixed
// format in one shot; [Frames] then slices the result into the 20 ms
// frames the Opus encoder consumes.
package audio

import "fmt"

// Discord voice format: 48 kHz stereo int16 PCM, sent as 20 ms Opus frames.
const (
	DiscordSampleRate = 48000
	DiscordChannels   = 2

	// FrameSamples is the number of samples per channel in one 20 ms frame.
	FrameSamples = DiscordSampleRate * 20 / 1000 // 960

	// FrameBytes is the byte length of one interleaved int16 frame.
	FrameBytes = FrameSamples * DiscordChannels * 2 // 3840
)

// ToDiscord normalizes raw PCM to Discord's output format. The input is
// described by its sample rate, channel count (1 or 2), and bit depth
// (8, 16, 24, or 32). Depth is converted first, then sample rate, then
// channel layout. Returns a new slice unless the input already matches.
func ToDiscord(pcm []byte, sampleRate, channels, bits int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("audio: unsupported channel count %d", channels)
	}

	pcm, err := To16Bit(pcm, bits)
	if err != nil {
		return nil, err
	}

	if sampleRate != DiscordSampleRate {
		if channels == 1 {
			pcm = ResampleMono16(pcm, sampleRate, DiscordSampleRate)
		} else {
			pcm = ResampleStereo16(pcm, sampleRate, DiscordSampleRate)
		}
	}
	if channels == 1 {
		pcm = MonoToStereo(pcm)
	}
	return pcm, nil
}

// To16Bit converts PCM of the given bit depth to little-endian int16.
// 16-bit input is returned unchanged.
func To16Bit(pcm []byte, bits int) ([]byte, error) {
	switch bits {
	case 16:
		return pcm, nil
	case 8:
		// 8-bit WAV PCM is unsigned with 128 as silence.
		out := make([]byte, len(pcm)*2)
		for i, b := range pcm {
			s := (int16(b) - 128) << 8
			out[i*2] = byte(s)
			out[i*2+1] = byte(s >> 8)
		}
		return out, nil
	case 24:
		samples := len(pcm) / 3
		out := make([]byte, samples*2)
		for i := range samples {
			// Keep the top two bytes of the little-endian sample.
			out[i*2] = pcm[i*3+1]
			out[i*2+1] = pcm[i*3+2]
		}
		return out, nil
	case 32:
		samples := len(pcm) / 4
		out := make([]byte, samples*2)
		for i := range samples {
			out[i*2] = pcm[i*4+2]
			out[i*2+1] = pcm[i*4+3]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("audio: unsupported bit depth %d", bits)
	}
}

// Frames slices pcm into FrameBytes-long frames, zero-padding the tail so
// every frame covers a full 20 ms. Full frames alias the input; only the
// padded tail is copied.
func Frames(pcm []byte) [][]byte {
	if len(pcm) == 0 {
		return nil
	}
	frames := make([][]byte, 0, (len(pcm)+FrameBytes-1)/FrameBytes)
	for off := 0; off < len(pcm); off += FrameBytes {
		if end := off + FrameBytes; end <= len(pcm) {
			frames = append(frames, pcm[off:end])
			continue
		}
		padded := make([]byte, FrameBytes)
		copy(padded, pcm[off:])
		frames = append(frames, padded)
	}
	return frames
}
