// Package server exposes the HTTP and WebSocket API: script upload and
// management, short-lived recognition tokens, rehearsal history, and the
// realtime rehearsal session endpoint that bridges browser audio to the
// turn engine.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/offbook/offbook/internal/health"
	"github.com/offbook/offbook/internal/observe"
	"github.com/offbook/offbook/internal/rehearsal"
	"github.com/offbook/offbook/internal/script"
	"github.com/offbook/offbook/pkg/provider/stt"
	"github.com/offbook/offbook/pkg/provider/tts"
)

// defaultSampleRate is the PCM sample rate expected from browser clients.
const defaultSampleRate = 16000

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithAttemptStore sets the store for scored line attempts. Without one,
// attempts are kept in memory only.
func WithAttemptStore(s rehearsal.AttemptStore) Option {
	return func(srv *Server) {
		srv.attempts = s
	}
}

// WithTokenMinter enables the POST /api/token endpoint.
func WithTokenMinter(m *TokenMinter) Option {
	return func(srv *Server) {
		srv.minter = m
	}
}

// WithMetrics overrides the metrics instance (useful for tests).
func WithMetrics(m *observe.Metrics) Option {
	return func(srv *Server) {
		srv.metrics = m
	}
}

// WithCueWord overrides the trigger word for rehearsal sessions.
func WithCueWord(word string) Option {
	return func(srv *Server) {
		srv.cueWord = word
	}
}

// WithSampleRate overrides the PCM sample rate negotiated with STT streams.
func WithSampleRate(rate int) Option {
	return func(srv *Server) {
		srv.sampleRate = rate
	}
}

// WithHealthCheckers adds readiness checks to /readyz.
func WithHealthCheckers(checkers ...health.Checker) Option {
	return func(srv *Server) {
		srv.checkers = append(srv.checkers, checkers...)
	}
}

// Server holds the API's dependencies and implements its handlers.
type Server struct {
	scripts  script.Store
	attempts rehearsal.AttemptStore
	stt      stt.Provider
	tts      tts.Provider
	metrics  *observe.Metrics
	minter   *TokenMinter
	checkers []health.Checker

	cueMu      sync.RWMutex
	cueWord    string
	sampleRate int

	// tickEvery is the countdown tick interval. Shortened in tests.
	tickEvery time.Duration
}

// SetCueWord replaces the trigger word for sessions opened from now on.
// Running sessions keep the word they started with.
func (s *Server) SetCueWord(word string) {
	s.cueMu.Lock()
	s.cueWord = word
	s.cueMu.Unlock()
}

// CueWord returns the configured trigger word, empty for the default.
func (s *Server) CueWord() string {
	s.cueMu.RLock()
	defer s.cueMu.RUnlock()
	return s.cueWord
}

// New creates a Server over the given script store and speech providers.
func New(scripts script.Store, sttProvider stt.Provider, ttsProvider tts.Provider, opts ...Option) *Server {
	srv := &Server{
		scripts:    scripts,
		attempts:   rehearsal.NewMemoryAttemptStore(),
		stt:        sttProvider,
		tts:        ttsProvider,
		sampleRate: defaultSampleRate,
		tickEvery:  time.Second,
	}
	for _, o := range opts {
		o(srv)
	}
	if srv.metrics == nil {
		srv.metrics = observe.DefaultMetrics()
	}
	return srv
}

// Routes builds the full request router. Every API route runs through the
// observability middleware; /metrics serves the Prometheus scrape endpoint.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	health.New(s.checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/token", s.handleToken)

	mux.HandleFunc("POST /api/scripts", s.handleUploadScript)
	mux.HandleFunc("GET /api/scripts", s.handleListScripts)
	mux.HandleFunc("GET /api/scripts/{id}", s.handleGetScript)
	mux.HandleFunc("DELETE /api/scripts/{id}", s.handleDeleteScript)
	mux.HandleFunc("PATCH /api/scripts/{id}/characters/{characterID}", s.handleAssignCharacter)
	mux.HandleFunc("GET /api/scripts/{id}/attempts", s.handleListAttempts)
	mux.HandleFunc("GET /api/scripts/{id}/rehearse", s.handleRehearse)

	mux.HandleFunc("GET /api/voices", s.handleListVoices)

	return observe.Middleware(s.metrics)(mux)
}

// apiError is the JSON error envelope.
type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("server: encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

// handleListVoices returns the synthesis voices the TTS provider offers.
func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.tts.ListVoices(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Error("server: list voices", "error", err)
		writeError(w, http.StatusBadGateway, "voice listing unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": voices})
}
