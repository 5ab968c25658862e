package handler

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Factory constructs a handler instance. The supplied logger is already
// scoped to the handler name.
type Factory func(logger zerolog.Logger) (Handler, error)

// Registry maps handler names to factories. Names are resolved once at
// router startup; an unknown name fails startup loudly rather than
// being skipped.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    zerolog.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

// Register adds a factory under the given name. Registering a duplicate
// name is a programming error and returns an error.
func (r *Registry) Register(name string, factory Factory) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("handler registry: name is required")
	}
	if factory == nil {
		return fmt.Errorf("handler registry: factory for %q is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("handler registry: %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Instantiate resolves the named handler and constructs an instance.
func (r *Registry) Instantiate(name string) (Handler, error) {
	key := strings.ToLower(strings.TrimSpace(name))

	r.mu.RLock()
	factory, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("handler registry: unknown handler %q", name)
	}

	h, err := factory(r.logger.With().Str("handler", key).Logger())
	if err != nil {
		return nil, fmt.Errorf("handler registry: instantiate %q: %w", name, err)
	}
	if h == nil {
		return nil, fmt.Errorf("handler registry: factory for %q returned nil", name)
	}
	return h, nil
}

// Names returns the registered handler names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
