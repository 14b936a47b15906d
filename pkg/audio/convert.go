package audio

import "encoding/binary"

// sampleAt reads the little-endian int16 sample at index i.
func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

// putSample writes s at sample index i in little-endian order.
func putSample(pcm []byte, i int, s int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
}

// MonoToStereo widens mono int16 PCM to interleaved stereo by writing
// each sample to both channels.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*4)
	for i := range n {
		s := sampleAt(pcm, i)
		putSample(out, i*2, s)
		putSample(out, i*2+1, s)
	}
	return out
}

// ResampleMono16 converts mono int16 PCM from srcRate to dstRate.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, 1, srcRate, dstRate)
}

// ResampleStereo16 converts interleaved stereo int16 PCM from srcRate
// to dstRate.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, 2, srcRate, dstRate)
}

// resample16 rate-converts interleaved int16 PCM by linear interpolation
// between neighbouring source frames, per channel. Invalid rates, equal
// rates, and inputs shorter than one frame pass through untouched.
func resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	frameBytes := channels * 2
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < frameBytes {
		return pcm
	}
	srcFrames := len(pcm) / frameBytes
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*frameBytes)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * step
		lo := int(pos)
		frac := pos - float64(lo)
		hi := lo + 1
		if hi >= srcFrames {
			hi = lo
		}
		for ch := range channels {
			a := float64(sampleAt(pcm, lo*channels+ch))
			b := float64(sampleAt(pcm, hi*channels+ch))
			putSample(out, i*channels+ch, int16(a+(b-a)*frac))
		}
	}
	return out
}
