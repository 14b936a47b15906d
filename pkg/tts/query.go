package tts

// AudioQuery is the engine's synthesis plan as returned by /audio_query.
// The object is treated opaquely: it is decoded, selectively tuned, and sent
// back to /synthesis unchanged otherwise, so engine-version differences in
// the schema pass straight through.
type AudioQuery map[string]any

// Tune adjusts the few fields the relay owns before synthesis:
//
//   - outputSamplingRate is forced to sampleRate so the playback path never
//     has to resample,
//   - volumeScale is clamped to [0, 1] and scaled by 0.8 to leave headroom
//     against clipping,
//   - speedScale is clamped to [0.8, 1.2].
//
// pitchScale is never touched: the engine's native pitch is authoritative
// and modifying it audibly distorts some voices.
func (q AudioQuery) Tune(sampleRate int) {
	if q == nil {
		return
	}
	q["outputSamplingRate"] = sampleRate

	if v, ok := floatField(q, "volumeScale"); ok {
		q["volumeScale"] = clamp(v, 0, 1) * 0.8
	}
	if v, ok := floatField(q, "speedScale"); ok {
		q["speedScale"] = clamp(v, 0.8, 1.2)
	}
}

// floatField reads a numeric field from the query. JSON numbers decode as
// float64; anything else is left alone.
func floatField(q AudioQuery, key string) (float64, bool) {
	v, ok := q[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
