// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or the
// OpenAI speech API) and presents a uniform streaming interface: Synthesize
// takes one line of dialogue and returns a channel of raw PCM audio bytes as
// they become available, so playback can start before synthesis finishes.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// VoiceProfile describes a synthesis voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS backend this voice belongs to.
	Provider string

	// PitchShift adjusts pitch (-10 to +10, 0 = default). Providers that do
	// not support pitch adjustment ignore it.
	PitchShift float64

	// Metadata holds provider-specific voice attributes (gender, accent,
	// category, preview URL, ...).
	Metadata map[string]string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize speaks one line of dialogue with the given voice. It returns
	// a channel that emits raw PCM audio chunks as they are produced; the
	// channel is closed when synthesis completes or ctx is cancelled. The
	// caller must drain the channel.
	//
	// A non-nil error is returned only if the synthesis stream cannot be
	// started. Mid-stream errors are signalled by closing the channel early;
	// callers should check ctx.Err() to distinguish cancellation.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
