// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// An STT provider wraps a real-time transcription service and exposes a
// uniform streaming interface. The central abstraction is [SessionHandle]:
// once opened, a session accepts raw PCM audio and emits two streams of
// [Transcript] values — low-latency partials for live display and committed
// finals for the transcript that gets scored.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// Error taxonomy for session establishment. Providers wrap these so callers
// can classify failures without knowing the backend.
var (
	// ErrCredential indicates the short-lived session token could not be
	// obtained or was rejected.
	ErrCredential = errors.New("stt: credential error")

	// ErrPermission indicates audio capture was refused by the client.
	ErrPermission = errors.New("stt: permission denied")

	// ErrTransport indicates a stream-level connection failure.
	ErrTransport = errors.New("stt: transport error")
)

// Transcript is one speech-to-text result, partial or committed.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Final indicates whether the recognizer has committed this segment.
	// A partial transcript replaces the previous partial; a final transcript
	// is appended to the session's accumulated text.
	Final bool
}

// StreamConfig describes the audio format and segmentation policy for a new
// STT session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Rehearsal audio is 16000.
	SampleRate int

	// Language is the BCP-47 language tag for recognition (e.g., "en").
	// Empty lets the provider auto-detect, if supported.
	Language string

	// CommitStrategy selects the segmentation policy. "vad" commits segments
	// on detected pauses in speech rather than fixed time windows.
	CommitStrategy string
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed; failing to do
// so leaks goroutines and the network connection inside the provider.
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio for transcription. The
	// chunk must match the sample rate agreed in StreamConfig. Calling
	// SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Transcripts returns a read-only channel emitting partial and committed
	// transcripts in stream order. Results are never reordered: a committed
	// transcript always follows the partials it supersedes. The channel is
	// closed when the session ends.
	Transcripts() <-chan Transcript

	// Close terminates the session and releases all associated resources.
	// After Close returns, the Transcripts channel will be closed. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately. The caller owns the
	// handle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
