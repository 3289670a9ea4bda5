// Package mock provides a fake tts.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/offbook/offbook/pkg/provider/tts"
)

// Provider is a mock tts.Provider. Synthesize records the requested text and
// voice, emits Audio chunk by chunk, and closes the channel. All fields must
// be set before first use; call records are safe for concurrent access.
type Provider struct {
	// Audio is the canned PCM payload emitted per Synthesize call.
	Audio [][]byte

	// SynthesizeErr, when non-nil, is returned by Synthesize.
	SynthesizeErr error

	// Voices is returned by ListVoices.
	Voices []tts.VoiceProfile

	// ListVoicesErr, when non-nil, is returned by ListVoices.
	ListVoicesErr error

	mu    sync.Mutex
	calls []Call
}

// Call records one Synthesize invocation.
type Call struct {
	Text  string
	Voice tts.VoiceProfile
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and streams the canned audio.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	p.mu.Lock()
	p.calls = append(p.calls, Call{Text: text, Voice: voice})
	audio := p.Audio
	p.mu.Unlock()

	ch := make(chan []byte, len(audio))
	go func() {
		defer close(ch)
		for _, chunk := range audio {
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// ListVoices returns the configured voice list.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	return p.Voices, nil
}

// Calls returns a snapshot of recorded Synthesize calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}
