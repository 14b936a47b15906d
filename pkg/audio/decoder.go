package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
)

// decoderBinary is the external decoder invoked for file-to-PCM conversion.
const decoderBinary = "ffmpeg"

// Decoder converts audio files to raw PCM by invoking an external decoder
// subprocess. The contract: take a local file path, write s16-LE PCM at the
// configured rate and channel count to stdout.
type Decoder struct {
	path       string
	sampleRate int
	channels   int
}

// NewDecoder locates the decoder binary on PATH and configures it for
// Discord's output format. Callers should fall back to native conversion
// when it returns an error.
func NewDecoder() (*Decoder, error) {
	path, err := exec.LookPath(decoderBinary)
	if err != nil {
		return nil, fmt.Errorf("audio: decoder binary %q not found: %w", decoderBinary, err)
	}
	return &Decoder{
		path:       path,
		sampleRate: DiscordSampleRate,
		channels:   DiscordChannels,
	}, nil
}

// DecodeFile decodes the audio file at path and returns its raw PCM.
func (d *Decoder) DecodeFile(ctx context.Context, path string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, d.path,
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-f", "s16le",
		"-ar", strconv.Itoa(d.sampleRate),
		"-ac", strconv.Itoa(d.channels),
		"pipe:1",
	)

	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("audio: decode %s: %w: %s", path, err, bytes.TrimSpace(errBuf.Bytes()))
	}
	return out.Bytes(), nil
}
