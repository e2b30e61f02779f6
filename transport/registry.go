package transport

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

type entry struct {
	builder      Builder
	capabilities Capabilities
	topic        TopicMapper
}

// Registry maps transport names to their builders, capabilities and topic
// mapping. Transport packages register themselves from init.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// DefaultRegistry is the global transport registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty transport registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a transport builder with a zero capability set and unchanged
// topics.
func (r *Registry) Register(name string, builder Builder) {
	r.RegisterWithCapabilities(name, builder, Capabilities{Name: name})
}

// RegisterWithCapabilities adds a builder and its capabilities.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.RegisterTransport(name, builder, caps, nil)
}

// RegisterTransport adds a builder, its capabilities and the topic mapping
// applied to every transport it builds.
func (r *Registry) RegisterTransport(name string, builder Builder, caps Capabilities, topic TopicMapper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = entry{builder: builder, capabilities: caps, topic: topic}
}

// GetCapabilities returns the capabilities for a registered transport.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.capabilities
	}
	return Capabilities{Name: name}
}

// Build creates a transport using the builder registered for the config's
// PubSubSystem. Capabilities and topic mapping are filled from the
// registration when the builder leaves them unset.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	name := cfg.GetPubSubSystem()

	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return Transport{}, fmt.Errorf("unknown transport: %q (registered: %v)", name, r.Names())
	}

	t, err := e.builder(ctx, cfg, logger)
	if err != nil {
		return Transport{}, fmt.Errorf("build %s transport: %w", name, err)
	}
	if t.Topic == nil {
		t.Topic = e.topic
	}
	if t.Capabilities.Name == "" {
		t.Capabilities = e.capabilities
	}
	return t, nil
}

// Names returns the registered transport names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Has returns true if a transport is registered with the given name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Register adds a transport builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a builder and capabilities to the default
// registry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// RegisterTransport adds a fully described transport to the default registry.
func RegisterTransport(name string, builder Builder, caps Capabilities, topic TopicMapper) {
	DefaultRegistry.RegisterTransport(name, builder, caps, topic)
}

// Build creates a transport using the default registry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
