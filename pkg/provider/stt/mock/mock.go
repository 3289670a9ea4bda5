// Package mock provides a fake stt.Provider for tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/offbook/offbook/pkg/provider/stt"
)

// Provider is a mock stt.Provider. Each StartStream call returns a new
// [Session] whose transcript channel the test feeds via [Session.Emit].
type Provider struct {
	// StartErr, when non-nil, is returned by StartStream.
	StartErr error

	mu       sync.Mutex
	sessions []*Session
	configs  []stt.StreamConfig
}

var _ stt.Provider = (*Provider)(nil)

// StartStream returns a fresh mock session.
func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	s := &Session{
		transcripts: make(chan stt.Transcript, 64),
	}
	p.mu.Lock()
	p.sessions = append(p.sessions, s)
	p.configs = append(p.configs, cfg)
	p.mu.Unlock()
	return s, nil
}

// Sessions returns all sessions handed out so far.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}

// LastSession returns the most recently opened session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// Configs returns the StreamConfig of every StartStream call.
func (p *Provider) Configs() []stt.StreamConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]stt.StreamConfig(nil), p.configs...)
}

// Session is a scriptable stt.SessionHandle.
type Session struct {
	transcripts chan stt.Transcript

	mu     sync.Mutex
	audio  [][]byte
	closed bool
}

var _ stt.SessionHandle = (*Session)(nil)

// Emit pushes a transcript to the session's consumers.
func (s *Session) Emit(t stt.Transcript) {
	s.transcripts <- t
}

// SendAudio records the chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session is closed")
	}
	s.audio = append(s.audio, chunk)
	return nil
}

// Audio returns all chunks received so far.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.audio...)
}

// Transcripts implements stt.SessionHandle.
func (s *Session) Transcripts() <-chan stt.Transcript { return s.transcripts }

// Close marks the session closed and closes the transcript channel.
// Safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.transcripts)
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
