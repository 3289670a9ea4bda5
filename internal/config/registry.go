package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/offbook/offbook/pkg/provider/stt"
	"github.com/offbook/offbook/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factorySet is a named collection of provider constructors of one kind.
type factorySet[P any] struct {
	kind      string
	mu        sync.RWMutex
	factories map[string]func(ProviderEntry) (P, error)
}

func newFactorySet[P any](kind string) *factorySet[P] {
	return &factorySet[P]{
		kind:      kind,
		factories: make(map[string]func(ProviderEntry) (P, error)),
	}
}

func (s *factorySet[P]) register(name string, factory func(ProviderEntry) (P, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[name] = factory
}

func (s *factorySet[P]) create(entry ProviderEntry) (P, error) {
	s.mu.RLock()
	factory, ok := s.factories[entry.Name]
	s.mu.RUnlock()
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, s.kind, entry.Name)
	}
	return factory(entry)
}

// Registry maps provider names to constructors for the speech-recognition and
// speech-synthesis backends. Registering the same name twice overwrites the
// earlier factory. Safe for concurrent use.
type Registry struct {
	stt *factorySet[stt.Provider]
	tts *factorySet[tts.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt: newFactorySet[stt.Provider]("stt"),
		tts: newFactorySet[tts.Provider]("tts"),
	}
}

// RegisterSTT registers a speech-recognition provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.stt.register(name, factory)
}

// RegisterTTS registers a speech-synthesis provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.tts.register(name, factory)
}

// CreateSTT instantiates the speech-recognition provider named by entry.
// Returns [ErrProviderNotRegistered] when the name is unknown.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return r.stt.create(entry)
}

// CreateTTS instantiates the speech-synthesis provider named by entry.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return r.tts.create(entry)
}
