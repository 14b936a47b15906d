package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Rokurolize/discord-voice-bot-sub000/pkg/audio"
	"github.com/Rokurolize/discord-voice-bot-sub000/pkg/tts"
)

// frameInterval is the wall-clock spacing between Opus packets.
const frameInterval = 20 * time.Millisecond

// ErrBusy is returned by Play when a stream is already in flight.
var ErrBusy = errors.New("voice: playback already in progress")

// DecodeFunc turns a WAV payload into PCM in Discord's output format
// (48 kHz stereo little-endian int16).
type DecodeFunc func(ctx context.Context, wav []byte) ([]byte, error)

// player streams decoded WAV audio over a [Link] as paced Opus frames.
// One stream at a time; Stop aborts it.
type player struct {
	decode DecodeFunc

	mu      sync.Mutex
	playing bool
	cancel  context.CancelFunc
}

func newPlayer(decode DecodeFunc) *player {
	return &player{decode: decode}
}

// Playing reports whether a stream is in flight.
func (p *player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Stop aborts the in-flight stream, if any. It returns once the abort is
// signalled, not once the stream unwinds.
func (p *player) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Play decodes wav and streams it over link at one frame per 20 ms,
// toggling the speaking indicator around the stream. It returns nil when
// the stream finishes or Stop aborts it, and ctx's error when ctx ends it.
func (p *player) Play(ctx context.Context, link Link, wav []byte) error {
	p.mu.Lock()
	if p.playing {
		p.mu.Unlock()
		return ErrBusy
	}
	streamCtx, cancel := context.WithCancel(ctx)
	p.playing = true
	p.cancel = cancel
	p.mu.Unlock()

	defer func() {
		cancel()
		p.mu.Lock()
		p.playing = false
		p.cancel = nil
		p.mu.Unlock()
	}()

	pcm, err := p.decode(streamCtx, wav)
	if err != nil {
		return fmt.Errorf("voice: decode: %w", err)
	}

	enc, err := newOpusEncoder()
	if err != nil {
		return err
	}

	if err := link.Speaking(true); err != nil {
		slog.Warn("speaking notification error", "speaking", true, "error", err)
	}
	defer func() {
		if err := link.Speaking(false); err != nil {
			slog.Warn("speaking notification error", "speaking", false, "error", err)
		}
	}()

	frames := audio.Frames(pcm)
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for i, frame := range frames {
		select {
		case <-streamCtx.Done():
			return p.abortErr(ctx, i)
		case <-ticker.C:
		}

		packet, err := enc.encode(frame)
		if err != nil {
			slog.Warn("opus encode error", "frame", i, "error", err)
			continue
		}

		select {
		case <-streamCtx.Done():
			return p.abortErr(ctx, i)
		case link.Send() <- packet:
		}
	}

	slog.Debug("stream complete", "frames_sent", len(frames))
	return nil
}

// abortErr distinguishes a caller cancellation (propagated) from a Stop
// call (a skip, not a failure).
func (p *player) abortErr(parent context.Context, framesSent int) error {
	if err := parent.Err(); err != nil {
		slog.Debug("stream cancelled", "frames_sent", framesSent, "reason", err)
		return err
	}
	slog.Debug("stream stopped", "frames_sent", framesSent)
	return nil
}

// defaultDecode builds the production decode chain: the external decoder
// subprocess when its binary is on PATH, the native converter otherwise or
// on subprocess failure.
func defaultDecode() DecodeFunc {
	dec, err := audio.NewDecoder()
	if err != nil {
		slog.Info("external decoder unavailable, decoding natively", "error", err)
		return func(_ context.Context, wav []byte) ([]byte, error) {
			return nativeDecode(wav)
		}
	}
	return func(ctx context.Context, wav []byte) ([]byte, error) {
		pcm, dErr := decodeViaFile(ctx, dec, wav)
		if dErr != nil {
			slog.Warn("external decoder failed, decoding natively", "error", dErr)
			return nativeDecode(wav)
		}
		return pcm, nil
	}
}

// decodeViaFile stages wav in a scratch file for the decoder subprocess.
func decodeViaFile(ctx context.Context, dec *audio.Decoder, wav []byte) ([]byte, error) {
	f, err := os.CreateTemp("", "voicebot-*.wav")
	if err != nil {
		return nil, err
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(wav); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return dec.DecodeFile(ctx, f.Name())
}

// nativeDecode parses the WAV container and converts its PCM payload
// in-process.
func nativeDecode(wav []byte) ([]byte, error) {
	info, err := tts.ParseWAV(wav)
	if err != nil {
		return nil, err
	}
	data := wav[info.DataOffset : info.DataOffset+info.DataSize]
	return audio.ToDiscord(data, info.SampleRate, info.Channels, info.Bits)
}
