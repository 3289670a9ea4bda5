package tts

// HashKey reduces an arbitrary voice-selection key to a non-negative integer
// using the 31-multiplier string hash with 32-bit wraparound. The same key
// always produces the same value, which keeps an unregistered character's
// voice stable across a whole rehearsal.
func HashKey(key string) int {
	var h int32
	for _, b := range []byte(key) {
		h = h*31 + int32(b)
	}
	// Negating math.MinInt32 overflows int32 and stays negative, so take the
	// absolute value in 64 bits.
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return int(v)
}

// PickVoice deterministically selects a voice for key from the pool. Keys
// hash into the pool, so distinct characters tend to get distinct voices and
// a given character always gets the same one. A small pitch offset derived
// from the key further differentiates characters that land on the same voice.
//
// Returns the zero VoiceProfile when the pool is empty.
func PickVoice(pool []VoiceProfile, key string) VoiceProfile {
	if len(pool) == 0 {
		return VoiceProfile{}
	}
	h := HashKey(key)
	v := pool[h%len(pool)]
	v.PitchShift = clampPitch(float64(h%5-2) * 0.5)
	return v
}

func clampPitch(p float64) float64 {
	if p < -10 {
		return -10
	}
	if p > 10 {
		return 10
	}
	return p
}
