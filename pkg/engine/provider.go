package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by Provider.Describe when the provider-side
// resource does not exist. Callers treat it as "absent", not as a failure.
var ErrNotFound = errors.New("resource not found")

// ApplyRequest carries everything a provider needs to create or mutate one
// resource. Attributes arrive with all interpolation references resolved.
type ApplyRequest struct {
	// Spec is the declared spec for the node.
	Spec ResourceSpec

	// Attributes is the resolved attribute set to apply.
	Attributes Attributes

	// Prior is the stored state for updates, nil for creates.
	Prior *ResourceState
}

// ApplyResult is the provider's answer to a successful apply.
type ApplyResult struct {
	// ProviderID is the provider-assigned identifier for the resource.
	ProviderID string

	// Observed is the provider-reported attribute snapshot including
	// computed outputs (ARNs, hostnames, validation data).
	Observed Attributes
}

// KindSchema describes provider-level facts about a resource kind the diff
// engine and executor need.
type KindSchema struct {
	// Kind is the resource type the schema describes.
	Kind Kind

	// ImmutableFields lists attribute names that cannot be mutated in place;
	// a change to any of them forces a replace.
	ImmutableFields []string

	// WaitDefaults is the default readiness wait for the kind, nil when the
	// provider's apply is synchronous.
	WaitDefaults *WaitSpec
}

// Immutable reports whether the named field is marked immutable.
func (s *KindSchema) Immutable(field string) bool {
	if s == nil {
		return false
	}
	for _, f := range s.ImmutableFields {
		if f == field {
			return true
		}
	}
	return false
}

// Provider is the capability contract each resource kind's backend must
// implement. Providers are consumed in-process through this narrow interface;
// the engine never sees concrete cloud APIs.
type Provider interface {
	// Describe reports the current provider-side attributes for an existing
	// resource. Returns ErrNotFound when the resource is absent.
	Describe(ctx context.Context, providerID string) (Attributes, error)

	// Apply creates the resource or mutates it toward the requested
	// attributes. Prior state, when present, identifies the resource to
	// mutate; a replace arrives as a fresh create (Prior nil).
	Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error)

	// Delete tears the resource down.
	Delete(ctx context.Context, providerID string) error

	// PollReady reports whether the resource's asynchronous provider-side
	// completion (issuance, propagation, deployment) has finished.
	PollReady(ctx context.Context, providerID string) (Readiness, error)

	// Schema returns kind-level metadata: immutable fields and default
	// readiness waits.
	Schema(kind Kind) (*KindSchema, error)
}

// Registry maps resource kinds to the provider serving them.
type Registry struct {
	mu        sync.RWMutex
	providers map[Kind]Provider
}

// NewRegistry returns an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[Kind]Provider)}
}

// Register binds a provider to a kind, replacing any previous binding.
func (r *Registry) Register(kind Kind, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[kind] = p
}

// Get returns the provider for a kind.
func (r *Registry) Get(kind Kind) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("no provider registered for kind %s", kind)
	}
	return p, nil
}

// Kinds returns the registered kinds.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.providers))
	for k := range r.providers {
		kinds = append(kinds, k)
	}
	return kinds
}
