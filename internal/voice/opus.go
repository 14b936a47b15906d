package voice

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"

	"github.com/Rokurolize/discord-voice-bot-sub000/pkg/audio"
)

// opusPacketCap bounds one encoded packet; Discord voice payloads stay far
// smaller in practice.
const opusPacketCap = 4000

// opusEncoder adapts gopus to the fixed format the gateway expects:
// 48 kHz stereo, one packet per 20 ms frame. gopus keeps inter-frame
// state, so an encoder must not be shared across streams.
type opusEncoder struct {
	enc *gopus.Encoder
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(audio.DiscordSampleRate, audio.DiscordChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("voice: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode compresses one FrameBytes-long PCM frame into an Opus packet.
func (e *opusEncoder) encode(frame []byte) ([]byte, error) {
	samples := make([]int16, len(frame)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
	}
	packet, err := e.enc.Encode(samples, audio.FrameSamples, opusPacketCap)
	if err != nil {
		return nil, fmt.Errorf("voice: opus encode: %w", err)
	}
	return packet, nil
}
