package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/offbook/offbook/internal/observe"
	"github.com/offbook/offbook/internal/rehearsal"
	"github.com/offbook/offbook/internal/script"
	"github.com/offbook/offbook/internal/speech"
	"github.com/offbook/offbook/internal/transcript"
	"github.com/offbook/offbook/pkg/provider/stt"
	"github.com/offbook/offbook/pkg/provider/tts"
)

// clientMessage is a control frame from the browser. Audio arrives as binary
// frames and never goes through JSON.
type clientMessage struct {
	Type string `json:"type"`
}

// Client control frame types.
const (
	msgBegin   = "begin"   // start cue listening
	msgSkip    = "skip"    // skip the cue, start the countdown
	msgConfirm = "confirm" // user finished their line
	msgPause   = "pause"   // toggle pause
	msgReset   = "reset"   // abandon the run
)

// serverMessage is a JSON frame pushed to the browser.
type serverMessage struct {
	Type      string              `json:"type"`
	State     rehearsal.State     `json:"state,omitempty"`
	LineIndex int                 `json:"lineIndex,omitempty"`
	Countdown int                 `json:"countdown,omitempty"`
	Line      *script.Line        `json:"line,omitempty"`
	Text      string              `json:"text,omitempty"`
	LineID    string              `json:"lineId,omitempty"`
	Metrics   *transcript.Metrics `json:"metrics,omitempty"`
	Summary   *rehearsal.Summary  `json:"summary,omitempty"`
	Message   string              `json:"message,omitempty"`
}

// handleRehearse upgrades to a WebSocket and runs one rehearsal session over
// it: JSON control frames and state pushes, binary frames for audio in both
// directions.
func (s *Server) handleRehearse(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scripts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, script.ErrNotFound) {
			writeError(w, http.StatusNotFound, "script not found")
			return
		}
		observe.Logger(r.Context()).Error("server: get script", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load script")
		return
	}
	if len(sc.Lines) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "script has no rehearsable lines")
		return
	}

	var cueOpts []rehearsal.CueOption
	if word := s.CueWord(); word != "" {
		cueOpts = append(cueOpts, rehearsal.WithCueWord(word))
	}
	engine, err := rehearsal.NewEngine(sc,
		rehearsal.WithCueDetector(rehearsal.NewCueDetector(cueOpts...)))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("server: websocket accept", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	sess := &session{
		srv:    s,
		conn:   conn,
		engine: engine,
		sc:     sc,
		ctx:    ctx,
		cancel: cancel,
	}
	sess.speech = speech.New(s.stt,
		speech.WithStreamConfig(stt.StreamConfig{
			SampleRate:     s.sampleRate,
			CommitStrategy: "vad",
		}),
		speech.WithPartialObserver(sess.onPartial),
	)

	// Voice listing is best-effort; an empty pool still lets the session run
	// with the provider's default voice.
	if voices, err := s.tts.ListVoices(ctx); err == nil {
		sess.voices = voices
	} else {
		observe.Logger(ctx).Warn("server: list voices", "error", err)
	}

	s.metrics.ActiveRehearsals.Add(ctx, 1)
	defer s.metrics.ActiveRehearsals.Add(context.WithoutCancel(ctx), -1)

	observe.Logger(ctx).Info("server: rehearsal session started",
		"script_id", sc.ID, "lines", len(sc.Lines))
	sess.run()
	observe.Logger(ctx).Info("server: rehearsal session ended", "script_id", sc.ID)
}

// session is one live rehearsal over a WebSocket connection.
type session struct {
	srv    *Server
	conn   *websocket.Conn
	engine *rehearsal.Engine
	speech *speech.Controller
	sc     *script.Script
	voices []tts.VoiceProfile

	ctx    context.Context
	cancel context.CancelFunc

	// writeMu serializes WebSocket writes; pushes come from the read loop,
	// the ticker, the playback goroutine, and the transcript observer.
	writeMu sync.Mutex

	playMu     sync.Mutex
	cancelPlay context.CancelFunc
}

// run drives the session until the connection drops or the context ends.
func (s *session) run() {
	defer s.teardown()

	go s.tickLoop()
	s.pushState()

	for {
		kind, data, err := s.conn.Read(s.ctx)
		if err != nil {
			return
		}
		switch kind {
		case websocket.MessageBinary:
			// Microphone PCM. Dropped when no listening session is live.
			_ = s.speech.SendAudio(data)
		case websocket.MessageText:
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				s.pushError("malformed control frame")
				continue
			}
			s.handleControl(msg)
		}
	}
}

func (s *session) teardown() {
	s.cancel()
	s.stopPlayback()
	s.speech.Close()
	_ = s.conn.Close(websocket.StatusNormalClosure, "session ended")
}

// tickLoop drives the countdown one second at a time.
func (s *session) tickLoop() {
	t := time.NewTicker(s.srv.tickEvery)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			if s.engine.State() == rehearsal.StateCountdown {
				s.apply(rehearsal.Event{Type: rehearsal.EventTick})
			}
		}
	}
}

func (s *session) handleControl(msg clientMessage) {
	switch msg.Type {
	case msgBegin:
		s.apply(rehearsal.Event{Type: rehearsal.EventBegin})
		if s.engine.State() == rehearsal.StateListeningForCue {
			s.listenForCue()
		}
	case msgSkip:
		s.apply(rehearsal.Event{Type: rehearsal.EventSkip})
	case msgConfirm:
		s.confirmLine()
	case msgPause:
		s.apply(rehearsal.Event{Type: rehearsal.EventTogglePause})
	case msgReset:
		s.apply(rehearsal.Event{Type: rehearsal.EventReset})
	default:
		s.pushError("unknown control frame type")
	}
}

// listenForCue opens a recognition stream with no expected line; partials are
// matched against the cue word by the observer.
func (s *session) listenForCue() {
	if err := s.speech.Start(s.ctx, ""); err != nil {
		observe.Logger(s.ctx).Error("server: cue listening", "error", err)
		s.srv.metrics.RecordProviderError(s.ctx, "stt", "stt")
		s.pushError("speech recognition unavailable")
	}
}

// confirmLine closes the listening session, scores what was heard, records
// the attempt, and advances the scene.
func (s *session) confirmLine() {
	if s.engine.State() != rehearsal.StateWaitingForUser {
		return
	}
	line := s.engine.CurrentLine()
	m := s.speech.Stop()
	if m != nil {
		s.recordAttempt(line, m)
	}
	s.apply(rehearsal.Event{Type: rehearsal.EventLineConfirmed, Metrics: m})
}

func (s *session) recordAttempt(line script.Line, m *transcript.Metrics) {
	s.srv.metrics.RecognitionDuration.Record(s.ctx, m.Elapsed.Seconds())
	s.srv.metrics.RecordLineAccuracy(s.ctx, m.Accuracy)
	s.srv.metrics.RecordLinePlayed(s.ctx, "user")

	att := &rehearsal.Attempt{ScriptID: s.sc.ID, LineID: line.ID, Metrics: *m}
	if err := s.srv.attempts.Record(s.ctx, att); err != nil {
		observe.Logger(s.ctx).Error("server: record attempt", "error", err)
	}
	s.push(serverMessage{Type: "attempt", LineID: line.ID, Metrics: m})
}

// apply feeds one event to the engine, executes the returned effects, and
// pushes the resulting state to the client.
func (s *session) apply(ev rehearsal.Event) {
	effects := s.engine.Apply(ev)
	for _, eff := range effects {
		s.execute(eff)
	}
	s.pushState()

	if s.engine.State() == rehearsal.StateCompleted {
		summary := s.engine.Summarize()
		s.push(serverMessage{Type: "summary", Summary: &summary})
	}
}

func (s *session) execute(eff rehearsal.Effect) {
	switch eff.Kind {
	case rehearsal.EffectSpeak:
		go s.speak(eff)
	case rehearsal.EffectListen:
		if err := s.speech.Start(s.ctx, eff.Text); err != nil {
			observe.Logger(s.ctx).Error("server: start listening", "error", err)
			s.srv.metrics.RecordProviderError(s.ctx, "stt", "stt")
			s.pushError("speech recognition unavailable")
		}
	case rehearsal.EffectStopSpeech:
		s.stopPlayback()
	case rehearsal.EffectStopListening:
		s.speech.Close()
	}
}

// speak synthesizes one line and streams its audio to the client as binary
// frames. Completion is reported with the effect's generation so a playback
// cancelled by pause or reset cannot advance the scene.
func (s *session) speak(eff rehearsal.Effect) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.playMu.Lock()
	s.cancelPlay = cancel
	s.playMu.Unlock()
	defer cancel()

	start := time.Now()
	voice := s.voiceFor(eff.VoiceKey)
	ch, err := s.srv.tts.Synthesize(ctx, eff.Text, voice)
	if err != nil {
		observe.Logger(ctx).Error("server: synthesize line",
			"line_index", eff.LineIndex, "error", err)
		s.srv.metrics.RecordProviderError(ctx, "tts", "tts")
	} else {
		for chunk := range ch {
			s.pushAudio(chunk)
		}
		s.srv.metrics.SynthesisDuration.Record(s.ctx, time.Since(start).Seconds())
		s.srv.metrics.RecordLinePlayed(s.ctx, "partner")
	}

	if ctx.Err() != nil {
		// Cancelled playback must not advance the scene.
		return
	}
	s.apply(rehearsal.Event{Type: rehearsal.EventPlaybackDone, Gen: eff.Gen})
}

func (s *session) stopPlayback() {
	s.playMu.Lock()
	if s.cancelPlay != nil {
		s.cancelPlay()
		s.cancelPlay = nil
	}
	s.playMu.Unlock()
}

// voiceFor resolves a voice key: a pinned voice ID when it matches a pool
// entry, otherwise a stable hash of the key into the pool.
func (s *session) voiceFor(key string) tts.VoiceProfile {
	for _, v := range s.voices {
		if v.ID == key {
			return v
		}
	}
	return tts.PickVoice(s.voices, key)
}

// onPartial receives partial transcripts from the recognition stream. During
// cue listening they are matched against the cue word; otherwise they are
// forwarded to the client for live display.
func (s *session) onPartial(text string) {
	if s.engine.State() == rehearsal.StateListeningForCue {
		s.apply(rehearsal.Event{Type: rehearsal.EventCueHeard, Text: text})
		return
	}
	s.push(serverMessage{Type: "partial", Text: text})
}

func (s *session) pushState() {
	line := s.engine.CurrentLine()
	s.push(serverMessage{
		Type:      "state",
		State:     s.engine.State(),
		LineIndex: s.engine.LineIndex(),
		Countdown: s.engine.Countdown(),
		Line:      &line,
	})
}

func (s *session) pushError(msg string) {
	s.push(serverMessage{Type: "error", Message: msg})
}

func (s *session) push(msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		observe.Logger(s.ctx).Error("server: encode frame", "error", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(s.ctx, websocket.MessageText, data); err != nil {
		s.cancel()
	}
}

func (s *session) pushAudio(chunk []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(s.ctx, websocket.MessageBinary, chunk); err != nil {
		s.cancel()
	}
}
