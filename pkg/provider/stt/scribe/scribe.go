// Package scribe provides an ElevenLabs Scribe-backed STT provider using the
// Scribe realtime WebSocket API. It implements the stt.Provider interface.
//
// Scribe authenticates each stream with a short-lived token (issued by a
// separate endpoint, never the account API key) and commits transcript
// segments with a voice-activity strategy: a segment is finalized when the
// speaker pauses, not on a fixed timer.
package scribe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"

	"github.com/offbook/offbook/pkg/provider/stt"
)

const (
	scribeEndpoint    = "wss://api.elevenlabs.io/v1/scribe"
	defaultSampleRate = 16000
	defaultCommit     = "vad"
)

// Option is a functional option for configuring the Scribe Provider.
type Option func(*Provider)

// WithEndpoint overrides the Scribe WebSocket endpoint. Used in tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithSampleRate sets the provider-level default sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// Provider implements stt.Provider backed by the Scribe realtime API.
type Provider struct {
	tokens     stt.TokenSource
	endpoint   string
	sampleRate int
}

var _ stt.Provider = (*Provider)(nil)

// New creates a new Scribe Provider. tokens must be non-nil; a fresh token is
// fetched for every stream.
func New(tokens stt.TokenSource, opts ...Option) (*Provider, error) {
	if tokens == nil {
		return nil, errors.New("scribe: token source must not be nil")
	}
	p := &Provider{
		tokens:     tokens,
		endpoint:   scribeEndpoint,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream fetches a session token, dials the Scribe endpoint, and sends
// the configure message. The returned handle is ready to accept audio.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("scribe: obtain token: %w: %w", stt.ErrCredential, err)
	}

	u, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("scribe: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("scribe: dial: %w: %w", stt.ErrTransport, err)
	}

	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}
	commit := cfg.CommitStrategy
	if commit == "" {
		commit = defaultCommit
	}

	confBytes, _ := json.Marshal(configureMessage{
		Type:           "configure",
		AudioFormat:    "pcm_" + strconv.Itoa(sr),
		SampleRate:     sr,
		CommitStrategy: commit,
		Language:       cfg.Language,
	})
	if err := conn.Write(ctx, websocket.MessageText, confBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to configure")
		return nil, fmt.Errorf("scribe: configure: %w: %w", stt.ErrTransport, err)
	}

	sess := &session{
		conn:        conn,
		transcripts: make(chan stt.Transcript, 64),
		audio:       make(chan []byte, 256),
		done:        make(chan struct{}),
	}
	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// configureMessage is the initial JSON sent after connecting.
type configureMessage struct {
	Type           string `json:"type"`
	AudioFormat    string `json:"audio_format"`
	SampleRate     int    `json:"sample_rate"`
	CommitStrategy string `json:"commit_strategy"`
	Language       string `json:"language,omitempty"`
}

// audioMessage carries one base64-encoded PCM chunk.
type audioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// scribeResponse is the JSON structure Scribe sends for transcript events.
type scribeResponse struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// session is a live Scribe streaming session. It implements stt.SessionHandle.
type session struct {
	conn        *websocket.Conn
	transcripts chan stt.Transcript
	audio       chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a PCM audio chunk for delivery to Scribe.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("scribe: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("scribe: session is closed")
	}
}

// Transcripts returns the channel of partial and committed transcripts.
func (s *session) Transcripts() <-chan stt.Transcript { return s.transcripts }

// Close terminates the session cleanly.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		// Closing the connection unblocks the read loop.
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.wg.Wait()
	})
	return nil
}

// writeLoop reads from the audio channel and sends encoded chunks to Scribe.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			msg, _ := json.Marshal(audioMessage{
				Type:  "audio",
				Audio: base64.StdEncoding.EncodeToString(chunk),
			})
			if err := s.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// readLoop receives JSON messages from Scribe and dispatches transcripts in
// stream order.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.transcripts)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		t, ok := parseScribeResponse(msg)
		if !ok {
			continue
		}
		select {
		case s.transcripts <- t:
		case <-s.done:
			return
		}
	}
}

// parseScribeResponse parses a raw Scribe WebSocket message into a Transcript.
// Returns (zero, false) for messages that should be ignored.
func parseScribeResponse(data []byte) (stt.Transcript, bool) {
	var resp scribeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Transcript{}, false
	}
	switch resp.Type {
	case "partial_transcript":
		return stt.Transcript{Text: resp.Text, Final: false}, true
	case "committed_transcript":
		return stt.Transcript{Text: resp.Text, Final: true}, true
	}
	return stt.Transcript{}, false
}
