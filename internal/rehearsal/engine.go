// Package rehearsal drives a scene run-through: an explicit state machine
// that walks the script's line sequence, alternating between AI-spoken turns
// (dispatched to speech synthesis) and user-spoken turns (dispatched to the
// speech-session controller and scored).
//
// The [Engine] is a pure state machine: Apply consumes an [Event] and returns
// side-effect descriptors ([Effect]) for the caller to execute. It owns no
// goroutines, timers, or connections, which makes every transition testable
// without a UI or a live provider. Playback completions carry a generation
// token so a callback from a cancelled synthesis cannot advance the scene.
package rehearsal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/offbook/offbook/internal/script"
	"github.com/offbook/offbook/internal/transcript"
)

// State is the engine's lifecycle state.
type State string

const (
	StateIdle            State = "idle"
	StateListeningForCue State = "listeningForCue"
	StateCountdown       State = "countdown"
	StatePlaying         State = "playing"
	StateWaitingForUser  State = "waitingForUser"
	StatePaused          State = "paused"
	StateCompleted       State = "completed"
)

// countdownStart is the number of one-second ticks before the scene begins.
const countdownStart = 3

// ErrPlayback indicates speech synthesis failed mid-line. Non-fatal: the
// engine treats the line as finished and moves on.
var ErrPlayback = errors.New("rehearsal: playback error")

// EventType identifies an engine input.
type EventType string

const (
	// EventBegin enters the cue-listening phase.
	EventBegin EventType = "begin"

	// EventSkip starts the countdown immediately, bypassing cue detection.
	EventSkip EventType = "skip"

	// EventCueHeard carries a committed transcript heard during cue
	// listening; the countdown starts if it matches the cue word.
	EventCueHeard EventType = "cueHeard"

	// EventTick decrements the countdown by one second.
	EventTick EventType = "tick"

	// EventPlaybackDone signals that synthesis of the current AI line
	// finished (or failed — the engine advances either way). Gen must match
	// the generation of the Speak effect that started the playback.
	EventPlaybackDone EventType = "playbackDone"

	// EventLineConfirmed signals the user finished their line, either by an
	// explicit acknowledgment or by stopping the listening session. Metrics
	// may be nil for an unscored confirmation.
	EventLineConfirmed EventType = "lineConfirmed"

	// EventTogglePause toggles between playing and paused.
	EventTogglePause EventType = "togglePause"

	// EventReset cancels everything and returns to idle.
	EventReset EventType = "reset"
)

// Event is one input to the engine.
type Event struct {
	Type EventType

	// Text is the transcript for EventCueHeard.
	Text string

	// Gen is the playback generation for EventPlaybackDone.
	Gen uint64

	// Metrics optionally carries the scored attempt for EventLineConfirmed.
	Metrics *transcript.Metrics
}

// EffectKind identifies a side effect the caller must execute.
type EffectKind string

const (
	// EffectSpeak synthesizes Text with the voice selected by VoiceKey.
	// Report completion with EventPlaybackDone carrying Gen.
	EffectSpeak EffectKind = "speak"

	// EffectListen starts the speech-session controller for the user's line.
	EffectListen EffectKind = "listen"

	// EffectStopSpeech cancels any in-flight synthesis playback.
	EffectStopSpeech EffectKind = "stopSpeech"

	// EffectStopListening tears down the speech-session controller,
	// discarding its buffers.
	EffectStopListening EffectKind = "stopListening"
)

// Effect is a side-effect descriptor returned by [Engine.Apply].
type Effect struct {
	Kind EffectKind

	// Text is the line to speak (EffectSpeak) or the expected line to listen
	// for (EffectListen).
	Text string

	// VoiceKey selects the synthesis voice for EffectSpeak. It is the
	// character's pinned voice ID when one is assigned, otherwise the
	// character name (hashed to a stable voice by the TTS layer).
	VoiceKey string

	// LineIndex is the 0-based index of the line the effect concerns.
	LineIndex int

	// Gen is the playback generation for EffectSpeak.
	Gen uint64
}

// Summary aggregates the scored attempts of one scene run.
type Summary struct {
	ScoredLines      int           `json:"scoredLines"`
	AvgAccuracy      int           `json:"avgAccuracy"`
	AvgWordMatchRate int           `json:"avgWordMatchRate"`
	TotalElapsed     time.Duration `json:"-"`
	TotalMillis      int64         `json:"totalMillis"`
}

// Engine is the rehearsal turn state machine for one scene.
// All exported methods are safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	lines      []script.Line
	aiName     string
	aiVoiceKey string
	cue        *CueDetector

	state     State
	index     int
	countdown int
	gen       uint64
	attempts  []transcript.Metrics
}

// EngineOption is a functional option for configuring an Engine.
type EngineOption func(*Engine)

// WithCueDetector replaces the default cue detector.
func WithCueDetector(d *CueDetector) EngineOption {
	return func(e *Engine) {
		e.cue = d
	}
}

// NewEngine creates an engine over the script's line sequence. Lines whose
// character matches the script's AI-assigned role are spoken by synthesis;
// every other line is the user's. The script must have at least one line.
func NewEngine(sc *script.Script, opts ...EngineOption) (*Engine, error) {
	if len(sc.Lines) == 0 {
		return nil, errors.New("rehearsal: script has no lines")
	}
	e := &Engine{
		lines:     append([]script.Line(nil), sc.Lines...),
		cue:       NewCueDetector(),
		state:     StateIdle,
		countdown: countdownStart,
	}
	for _, o := range opts {
		o(e)
	}
	if ai := sc.AICharacter(); ai != nil {
		e.aiName = ai.Name
		e.aiVoiceKey = ai.Name
		if ai.VoiceID != "" {
			e.aiVoiceKey = ai.VoiceID
		}
	}
	return e, nil
}

// Apply feeds one event through the transition function and returns the
// side effects to execute. Events that are not meaningful in the current
// state are ignored and produce no effects.
func (e *Engine) Apply(ev Event) []Effect {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Type {
	case EventBegin:
		if e.state == StateIdle {
			e.state = StateListeningForCue
		}

	case EventSkip:
		if e.state == StateIdle || e.state == StateListeningForCue {
			return e.startCountdownLocked()
		}

	case EventCueHeard:
		if e.state == StateListeningForCue && e.cue.Match(ev.Text) {
			return e.startCountdownLocked()
		}

	case EventTick:
		if e.state == StateCountdown {
			e.countdown--
			if e.countdown <= 0 {
				e.index = 0
				e.state = StatePlaying
				return e.enterLineLocked()
			}
		}

	case EventPlaybackDone:
		// A completion from a cancelled or superseded playback is a no-op.
		if e.state == StatePlaying && ev.Gen == e.gen {
			return e.advanceLocked()
		}

	case EventLineConfirmed:
		if e.state == StateWaitingForUser {
			if ev.Metrics != nil {
				e.attempts = append(e.attempts, *ev.Metrics)
			}
			e.state = StatePlaying
			return e.advanceLocked()
		}

	case EventTogglePause:
		switch e.state {
		case StatePlaying:
			e.state = StatePaused
			e.gen++
			return []Effect{{Kind: EffectStopSpeech}}
		case StatePaused:
			e.state = StatePlaying
			return e.enterLineLocked()
		}

	case EventReset:
		return e.resetLocked()
	}

	return nil
}

// startCountdownLocked arms the countdown. Callers must hold e.mu.
func (e *Engine) startCountdownLocked() []Effect {
	e.state = StateCountdown
	e.countdown = countdownStart
	return []Effect{{Kind: EffectStopListening}}
}

// enterLineLocked emits the effects for the line at the current index:
// synthesis for the AI's lines, listening for the user's. Callers must hold
// e.mu and have set state to StatePlaying.
func (e *Engine) enterLineLocked() []Effect {
	line := e.lines[e.index]
	if e.aiName != "" && line.CharacterName == e.aiName {
		e.gen++
		return []Effect{{
			Kind:      EffectSpeak,
			Text:      line.Text,
			VoiceKey:  e.aiVoiceKey,
			LineIndex: e.index,
			Gen:       e.gen,
		}}
	}
	e.state = StateWaitingForUser
	return []Effect{{
		Kind:      EffectListen,
		Text:      line.Text,
		LineIndex: e.index,
	}}
}

// advanceLocked moves past the current line. Callers must hold e.mu.
func (e *Engine) advanceLocked() []Effect {
	if e.index >= len(e.lines)-1 {
		e.state = StateCompleted
		return []Effect{{Kind: EffectStopListening}}
	}
	e.index++
	e.state = StatePlaying
	return e.enterLineLocked()
}

// resetLocked cancels all in-flight work and returns to idle.
func (e *Engine) resetLocked() []Effect {
	e.state = StateIdle
	e.index = 0
	e.countdown = countdownStart
	e.gen++
	e.attempts = nil
	return []Effect{
		{Kind: EffectStopSpeech},
		{Kind: EffectStopListening},
	}
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LineIndex returns the 0-based index of the current line.
func (e *Engine) LineIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index
}

// Countdown returns the remaining countdown seconds.
func (e *Engine) Countdown() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.countdown
}

// CurrentLine returns the line at the current index.
func (e *Engine) CurrentLine() script.Line {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lines[e.index]
}

// Lines returns the total number of lines in the scene.
func (e *Engine) Lines() int {
	return len(e.lines)
}

// Attempts returns a copy of the scored attempts recorded so far this run.
func (e *Engine) Attempts() []transcript.Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]transcript.Metrics(nil), e.attempts...)
}

// Summarize aggregates the run's scored attempts.
func (e *Engine) Summarize() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Summary{ScoredLines: len(e.attempts)}
	if len(e.attempts) == 0 {
		return s
	}
	var accSum, matchSum int
	for _, m := range e.attempts {
		accSum += m.Accuracy
		matchSum += m.WordMatchRate
		s.TotalElapsed += m.Elapsed
	}
	s.AvgAccuracy = accSum / len(e.attempts)
	s.AvgWordMatchRate = matchSum / len(e.attempts)
	s.TotalMillis = s.TotalElapsed.Milliseconds()
	return s
}

// String implements fmt.Stringer for log output.
func (e *Engine) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fmt.Sprintf("rehearsal{state=%s line=%d/%d}", e.state, e.index+1, len(e.lines))
}
