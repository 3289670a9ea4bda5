// Package speech manages the lifecycle of one streaming speech-recognition
// session and turns its transcript into a scored line attempt.
//
// A [Controller] owns exactly one live STT session at a time. Start resets
// the transcript buffers, obtains the stream (the provider fetches its own
// short-lived credential), and consumes partial and committed transcripts on
// a goroutine; Stop joins the accumulated text, tears everything down, and
// scores the attempt. Teardown is idempotent and runs on every exit path —
// explicit stop, stream error, or Close.
//
// Every callback is guarded by a generation counter on the controller, so a
// late event from a session that has since been torn down is a no-op.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/offbook/offbook/internal/transcript"
	"github.com/offbook/offbook/pkg/provider/stt"
)

// State is the controller's lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateListening  State = "listening"
	StateError      State = "error"
)

// Error taxonomy, re-exported from the provider layer so callers only import
// this package. All are non-fatal: the controller lands in StateError and a
// new Start may be attempted.
var (
	ErrCredential = stt.ErrCredential
	ErrPermission = stt.ErrPermission
	ErrTransport  = stt.ErrTransport
)

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithStreamConfig overrides the stream configuration used for new sessions.
func WithStreamConfig(cfg stt.StreamConfig) Option {
	return func(c *Controller) {
		c.streamCfg = cfg
	}
}

// WithPartialObserver registers fn to receive every partial transcript, in
// stream order. fn is called from the controller's consume goroutine and must
// not block.
func WithPartialObserver(fn func(text string)) Option {
	return func(c *Controller) {
		c.onPartial = fn
	}
}

// Controller owns one external speech-recognition session.
// All exported methods are safe for concurrent use.
type Controller struct {
	provider  stt.Provider
	streamCfg stt.StreamConfig
	onPartial func(string)

	mu       sync.Mutex
	state    State
	gen      uint64
	sess     stt.SessionHandle
	expected string
	started  time.Time
	finals   []string
	partial  string
	lastErr  error
}

// New creates a Controller over the given STT provider. The default stream
// configuration is 16 kHz PCM with voice-activity commits.
func New(provider stt.Provider, opts ...Option) *Controller {
	c := &Controller{
		provider: provider,
		streamCfg: stt.StreamConfig{
			SampleRate:     16000,
			CommitStrategy: "vad",
		},
		state: StateIdle,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start begins a listening session for one expected line of dialogue.
// Any session still active from a previous Start is torn down first.
//
// The controller transitions to StateConnecting immediately and to
// StateListening once the stream is established. On failure it transitions
// to StateError with all partially acquired resources released, and the
// returned error wraps one of [ErrCredential], [ErrPermission], or
// [ErrTransport] when the cause is classifiable.
func (c *Controller) Start(ctx context.Context, expectedText string) error {
	c.mu.Lock()
	c.teardownLocked()
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.expected = expectedText
	c.started = time.Now()
	c.finals = nil
	c.partial = ""
	c.lastErr = nil
	c.mu.Unlock()

	sess, err := c.provider.StartStream(ctx, c.streamCfg)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		// A newer Start or Stop superseded this attempt.
		if sess != nil {
			_ = sess.Close()
		}
		return nil
	}
	if err != nil {
		c.state = StateError
		c.lastErr = err
		return fmt.Errorf("speech: start listening: %w", err)
	}

	c.sess = sess
	c.state = StateListening
	go c.consume(gen, sess)
	return nil
}

// consume drains the session's transcript channel until it closes.
func (c *Controller) consume(gen uint64, sess stt.SessionHandle) {
	for t := range sess.Transcripts() {
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		if t.Final {
			if s := strings.TrimSpace(t.Text); s != "" {
				c.finals = append(c.finals, s)
			}
			c.partial = ""
		} else {
			c.partial = t.Text
		}
		onPartial := c.onPartial
		c.mu.Unlock()

		if !t.Final && onPartial != nil {
			onPartial(t.Text)
		}
	}

	// Channel closed underneath us: the stream ended without a Stop.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	slog.Warn("speech: stream closed unexpectedly")
	c.lastErr = fmt.Errorf("speech: %w: stream closed", ErrTransport)
	c.teardownLocked()
	c.state = StateError
}

// SendAudio forwards a raw PCM chunk to the live session. It is a no-op
// returning an error while not listening.
func (c *Controller) SendAudio(chunk []byte) error {
	c.mu.Lock()
	sess := c.sess
	state := c.state
	c.mu.Unlock()
	if state != StateListening || sess == nil {
		return errors.New("speech: not listening")
	}
	return sess.SendAudio(chunk)
}

// Stop ends the current listening session, tears down all resources, and
// scores the spoken text against the expected line. It returns nil when
// nothing usable was spoken, when no session was active, or on repeated
// calls — Stop is always safe.
func (c *Controller) Stop() *transcript.Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateIdle {
		return nil
	}

	elapsed := time.Since(c.started)
	spoken := strings.TrimSpace(strings.Join(c.finals, " ") + " " + strings.TrimSpace(c.partial))
	expected := c.expected

	c.teardownLocked()

	if spoken == "" {
		return nil
	}
	m := transcript.Score(expected, spoken, elapsed)
	return &m
}

// Close releases the controller's resources. Safe to call multiple times and
// concurrently with any other method.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

// teardownLocked releases the session and resets to idle. It bumps the
// generation so in-flight callbacks from the old session become no-ops.
// Callers must hold c.mu. Idempotent.
func (c *Controller) teardownLocked() {
	c.gen++
	if c.sess != nil {
		_ = c.sess.Close()
		c.sess = nil
	}
	c.finals = nil
	c.partial = ""
	c.expected = ""
	c.state = StateIdle
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that moved the controller to StateError, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Partial returns the current partial transcript buffer.
func (c *Controller) Partial() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partial
}

// FinalText returns the accumulated committed transcript so far.
func (c *Controller) FinalText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.finals, " ")
}
