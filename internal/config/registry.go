package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/contacts"
	"github.com/MrWong99/hark/pkg/provider/llm"
	"github.com/MrWong99/hark/pkg/provider/nlu"
	"github.com/MrWong99/hark/pkg/provider/sensor"
	"github.com/MrWong99/hark/pkg/provider/stt"
	"github.com/MrWong99/hark/pkg/provider/telephony"
	"github.com/MrWong99/hark/pkg/provider/tts"
	"github.com/MrWong99/hark/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// NLUFactory builds an NLU provider. Unlike other factories it receives the
// whole config, since intent detectors draw on several sections (dialogflow,
// providers.llm).
type NLUFactory func(ctx context.Context, cfg *Config) (nlu.Provider, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	audio     map[string]func(ProviderEntry) (*audio.Device, error)
	stt       map[string]func(ProviderEntry) (stt.Provider, error)
	tts       map[string]func(ProviderEntry) (tts.Provider, error)
	vad       map[string]func(ProviderEntry) (vad.Engine, error)
	llm       map[string]func(ProviderEntry) (llm.Provider, error)
	nlu       map[string]NLUFactory
	contacts  map[string]func(ProviderEntry) (contacts.Provider, error)
	telephony map[string]func(ProviderEntry) (telephony.Provider, error)
	sensor    map[string]func(ProviderEntry) (sensor.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		audio:     make(map[string]func(ProviderEntry) (*audio.Device, error)),
		stt:       make(map[string]func(ProviderEntry) (stt.Provider, error)),
		tts:       make(map[string]func(ProviderEntry) (tts.Provider, error)),
		vad:       make(map[string]func(ProviderEntry) (vad.Engine, error)),
		llm:       make(map[string]func(ProviderEntry) (llm.Provider, error)),
		nlu:       make(map[string]NLUFactory),
		contacts:  make(map[string]func(ProviderEntry) (contacts.Provider, error)),
		telephony: make(map[string]func(ProviderEntry) (telephony.Provider, error)),
		sensor:    make(map[string]func(ProviderEntry) (sensor.Provider, error)),
	}
}

// register stores factory under name. Callers hold no lock.
func register[F any](r *Registry, m map[string]F, name string, factory F) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m[name] = factory
}

// lookup fetches the factory registered under name.
func lookup[F any](r *Registry, m map[string]F, kind, name string) (F, error) {
	r.mu.RLock()
	factory, ok := m[name]
	r.mu.RUnlock()
	if !ok {
		var zero F
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, name)
	}
	return factory, nil
}

// RegisterAudio registers an audio backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (*audio.Device, error)) {
	register(r, r.audio, name, factory)
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	register(r, r.stt, name, factory)
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	register(r, r.tts, name, factory)
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	register(r, r.vad, name, factory)
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	register(r, r.llm, name, factory)
}

// RegisterNLU registers an intent detector factory under name.
func (r *Registry) RegisterNLU(name string, factory NLUFactory) {
	register(r, r.nlu, name, factory)
}

// RegisterContacts registers a contact store factory under name.
func (r *Registry) RegisterContacts(name string, factory func(ProviderEntry) (contacts.Provider, error)) {
	register(r, r.contacts, name, factory)
}

// RegisterTelephony registers a telephony provider factory under name.
func (r *Registry) RegisterTelephony(name string, factory func(ProviderEntry) (telephony.Provider, error)) {
	register(r, r.telephony, name, factory)
}

// RegisterSensor registers a motion sensor factory under name.
func (r *Registry) RegisterSensor(name string, factory func(ProviderEntry) (sensor.Provider, error)) {
	register(r, r.sensor, name, factory)
}

// CreateAudio instantiates the audio backend registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateAudio(entry ProviderEntry) (*audio.Device, error) {
	f, err := lookup(r, r.audio, "audio", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	f, err := lookup(r, r.stt, "stt", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	f, err := lookup(r, r.tts, "tts", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	f, err := lookup(r, r.vad, "vad", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	f, err := lookup(r, r.llm, "llm", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateNLU instantiates the intent detector registered under name.
func (r *Registry) CreateNLU(ctx context.Context, name string, cfg *Config) (nlu.Provider, error) {
	f, err := lookup(r, r.nlu, "nlu", name)
	if err != nil {
		return nil, err
	}
	return f(ctx, cfg)
}

// CreateContacts instantiates a contact store using the factory registered under entry.Name.
func (r *Registry) CreateContacts(entry ProviderEntry) (contacts.Provider, error) {
	f, err := lookup(r, r.contacts, "contacts", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateTelephony instantiates a telephony provider using the factory registered under entry.Name.
func (r *Registry) CreateTelephony(entry ProviderEntry) (telephony.Provider, error) {
	f, err := lookup(r, r.telephony, "telephony", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateSensor instantiates a motion sensor using the factory registered under entry.Name.
func (r *Registry) CreateSensor(entry ProviderEntry) (sensor.Provider, error) {
	f, err := lookup(r, r.sensor, "sensor", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}
