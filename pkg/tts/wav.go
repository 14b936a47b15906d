package tts

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVInfo describes where the PCM payload of a RIFF/WAVE file lives and
// how it is encoded.
type WAVInfo struct {
	DataOffset int // first PCM byte
	DataSize   int // data chunk length in bytes
	SampleRate int
	Channels   int
	Bits       int
}

// ParseWAV locates the "fmt " and "data" chunks of a RIFF/WAVE container
// without touching any samples. Engines pad their output with optional
// chunks and variable fmt sizes, so the header is walked chunk by chunk
// rather than assumed to be the classic 44 bytes.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 || string(wav[:4]) != "RIFF" {
		return WAVInfo{}, errors.New("tts: audio is not a RIFF file")
	}
	if string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("tts: audio missing WAVE identifier")
	}

	var info WAVInfo
	haveFormat := false

	pos := 12
	for pos+8 <= len(wav) {
		tag := string(wav[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))
		body := pos + 8

		switch tag {
		case "fmt ":
			if size >= 16 && body+16 <= len(wav) {
				info.Channels = int(binary.LittleEndian.Uint16(wav[body+2:]))
				info.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4:]))
				info.Bits = int(binary.LittleEndian.Uint16(wav[body+14:]))
				haveFormat = true
			}
		case "data":
			if !haveFormat {
				return WAVInfo{}, errors.New("tts: audio has data chunk before fmt chunk")
			}
			if body+size > len(wav) {
				return WAVInfo{}, fmt.Errorf("tts: audio data chunk truncated (declared %d bytes)", size)
			}
			info.DataOffset = body
			info.DataSize = size
			return info, nil
		}

		// Chunks are word aligned; odd sizes carry one pad byte.
		pos = body + size + size%2
	}
	return WAVInfo{}, errors.New("tts: audio missing data chunk")
}

// ValidateWAV rejects audio the playback path cannot handle: anything that
// is not RIFF/WAVE framed PCM with 1 or 2 channels, a standard sample
// rate, and a whole-byte bit depth.
func ValidateWAV(wav []byte) error {
	info, err := ParseWAV(wav)
	if err != nil {
		return err
	}
	if info.Channels != 1 && info.Channels != 2 {
		return fmt.Errorf("tts: unsupported channel count %d", info.Channels)
	}
	switch info.SampleRate {
	case 8000, 16000, 22050, 44100, 48000:
	default:
		return fmt.Errorf("tts: unsupported sample rate %d", info.SampleRate)
	}
	switch info.Bits {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("tts: unsupported bit depth %d", info.Bits)
	}
	return nil
}
