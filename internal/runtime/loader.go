package runtime

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	errspkg "github.com/drblury/flowplan/internal/errors"
)

// BuiltinScheme prefixes the URIs of nodes compiled into the binary.
const BuiltinScheme = "builtin://"

// BuiltinURI returns the URI of a node registered under name.
func BuiltinURI(name string) string { return BuiltinScheme + name }

type (
	SourceFactory   func() Source
	OperatorFactory func() Operator
	SinkFactory     func() Sink
)

// Loader resolves node URIs into implementations. Every successful load
// returns an Artifact the caller releases when the node is gone.
type Loader interface {
	LoadSource(ctx context.Context, uri string) (Source, *Artifact, error)
	LoadOperator(ctx context.Context, uri string) (Operator, *Artifact, error)
	LoadSink(ctx context.Context, uri string) (Sink, *Artifact, error)
}

// Artifact counts the nodes using a loaded implementation. The release
// callback fires when the last reference is released.
type Artifact struct {
	uri string

	mu        sync.Mutex
	refs      int
	onRelease func(uri string)
}

// NewArtifact returns a handle with one reference.
func NewArtifact(uri string, onRelease func(uri string)) *Artifact {
	return &Artifact{uri: uri, refs: 1, onRelease: onRelease}
}

// URI returns the URI the artifact was loaded from.
func (a *Artifact) URI() string { return a.uri }

// Acquire takes one more reference.
func (a *Artifact) Acquire() *Artifact {
	a.mu.Lock()
	a.refs++
	a.mu.Unlock()
	return a
}

// Release drops one reference. Extra releases are ignored.
func (a *Artifact) Release() {
	a.mu.Lock()
	if a.refs == 0 {
		a.mu.Unlock()
		return
	}
	a.refs--
	last := a.refs == 0
	a.mu.Unlock()

	if last && a.onRelease != nil {
		a.onRelease(a.uri)
	}
}

// Refs returns the current reference count.
func (a *Artifact) Refs() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refs
}

// Registry is an in-process Loader mapping URIs to factories. Loading the same
// URI again shares the artifact until every node using it released it.
type Registry struct {
	mu        sync.Mutex
	sources   map[string]SourceFactory
	operators map[string]OperatorFactory
	sinks     map[string]SinkFactory
	loaded    map[string]*Artifact
	onUnload  func(uri string)
}

var _ Loader = (*Registry)(nil)

// DefaultRegistry holds the built-in nodes.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources:   make(map[string]SourceFactory),
		operators: make(map[string]OperatorFactory),
		sinks:     make(map[string]SinkFactory),
		loaded:    make(map[string]*Artifact),
	}
}

// OnUnload sets a callback fired when the last node using a URI released it.
func (r *Registry) OnUnload(fn func(uri string)) {
	r.mu.Lock()
	r.onUnload = fn
	r.mu.Unlock()
}

func (r *Registry) RegisterSource(uri string, f SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[uri] = f
}

func (r *Registry) RegisterOperator(uri string, f OperatorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operators[uri] = f
}

func (r *Registry) RegisterSink(uri string, f SinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[uri] = f
}

// URIs returns every registered URI, sorted.
func (r *Registry) URIs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var uris []string
	for uri := range r.sources {
		uris = append(uris, uri)
	}
	for uri := range r.operators {
		uris = append(uris, uri)
	}
	for uri := range r.sinks {
		uris = append(uris, uri)
	}
	slices.Sort(uris)
	return slices.Compact(uris)
}

// Loaded reports whether some node still holds the artifact of uri.
func (r *Registry) Loaded(uri string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.loaded[uri]
	return ok
}

func (r *Registry) LoadSource(_ context.Context, uri string) (Source, *Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.sources[uri]
	if !ok {
		return nil, nil, notFound("source", uri)
	}
	return f(), r.acquire(uri), nil
}

func (r *Registry) LoadOperator(_ context.Context, uri string) (Operator, *Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.operators[uri]
	if !ok {
		return nil, nil, notFound("operator", uri)
	}
	return f(), r.acquire(uri), nil
}

func (r *Registry) LoadSink(_ context.Context, uri string) (Sink, *Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.sinks[uri]
	if !ok {
		return nil, nil, notFound("sink", uri)
	}
	return f(), r.acquire(uri), nil
}

func notFound(kind, uri string) error {
	if strings.TrimSpace(uri) == "" {
		return fmt.Errorf("%w: %s without a uri", errspkg.ErrArtifactNotFound, kind)
	}
	return fmt.Errorf("%w: %s %q", errspkg.ErrArtifactNotFound, kind, uri)
}

// acquire must be called with r.mu held.
func (r *Registry) acquire(uri string) *Artifact {
	if a, ok := r.loaded[uri]; ok && a.Refs() > 0 {
		return a.Acquire()
	}
	a := NewArtifact(uri, nil)
	a.onRelease = func(string) { r.unload(a) }
	r.loaded[uri] = a
	return a
}

func (r *Registry) unload(a *Artifact) {
	r.mu.Lock()
	if r.loaded[a.uri] == a {
		delete(r.loaded, a.uri)
	}
	cb := r.onUnload
	r.mu.Unlock()
	if cb != nil {
		cb(a.uri)
	}
}
