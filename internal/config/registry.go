package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/livecall/pkg/audio"
	"github.com/MrWong99/livecall/pkg/audio/capture"
	"github.com/MrWong99/livecall/pkg/provider/live"
	"github.com/MrWong99/livecall/pkg/store"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: factory not registered")

// Factory signatures per component kind.
type (
	LiveFactory   func(ctx context.Context, cfg GeminiConfig) (live.Provider, error)
	StoreFactory  func(ctx context.Context, cfg StoreConfig) (store.Store, error)
	InputFactory  func(cfg AudioConfig) (capture.Device, error)
	OutputFactory func(cfg AudioConfig) (audio.Sink, error)
)

// Registry maps names to constructors for each component kind. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	live    map[string]LiveFactory
	stores  map[string]StoreFactory
	inputs  map[string]InputFactory
	outputs map[string]OutputFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:    make(map[string]LiveFactory),
		stores:  make(map[string]StoreFactory),
		inputs:  make(map[string]InputFactory),
		outputs: make(map[string]OutputFactory),
	}
}

// RegisterLive registers a live transport factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLive(name string, f LiveFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = f
}

// RegisterStore registers a storage backend factory under name.
func (r *Registry) RegisterStore(name string, f StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[name] = f
}

// RegisterInput registers a microphone factory under name.
func (r *Registry) RegisterInput(name string, f InputFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs[name] = f
}

// RegisterOutput registers a playback sink factory under name.
func (r *Registry) RegisterOutput(name string, f OutputFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[name] = f
}

// CreateLive instantiates the transport registered under cfg.Provider.
// Returns [ErrNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLive(ctx context.Context, cfg GeminiConfig) (live.Provider, error) {
	r.mu.RLock()
	f, ok := r.live[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: live/%q", ErrNotRegistered, cfg.Provider)
	}
	return f(ctx, cfg)
}

// CreateStore instantiates the backend registered under cfg.Backend.
func (r *Registry) CreateStore(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	r.mu.RLock()
	f, ok := r.stores[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: store/%q", ErrNotRegistered, cfg.Backend)
	}
	return f(ctx, cfg)
}

// CreateInput instantiates the microphone registered under cfg.Input.
func (r *Registry) CreateInput(cfg AudioConfig) (capture.Device, error) {
	r.mu.RLock()
	f, ok := r.inputs[cfg.Input]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: input/%q", ErrNotRegistered, cfg.Input)
	}
	return f(cfg)
}

// CreateOutput instantiates the sink registered under cfg.Output.
func (r *Registry) CreateOutput(cfg AudioConfig) (audio.Sink, error) {
	r.mu.RLock()
	f, ok := r.outputs[cfg.Output]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: output/%q", ErrNotRegistered, cfg.Output)
	}
	return f(cfg)
}
