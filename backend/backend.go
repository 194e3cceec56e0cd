// Package backend defines the pluggable secret-store contract that the
// orchestrator reads from and writes to, plus a name-to-factory registry
// for resolving the configured backend list at startup.
package backend

import (
	"context"

	"github.com/mike-north/vaultkeeper-sub000/vaulterrors"
)

// Backend is an opaque secret store. Implementations are not assumed to
// be safe for use before Init returns, but must be safe for concurrent
// use afterward.
type Backend interface {
	Type() string
	DisplayName() string
	IsAvailable(ctx context.Context) bool
	Store(ctx context.Context, id, secret string) error
	Retrieve(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
}

// Listable is implemented by backends that can enumerate their stored ids.
type Listable interface {
	List(ctx context.Context) ([]string, error)
}

// Factory constructs a Backend from its JSON-decoded options map. options
// is backend-specific and passed through unchanged from the config file's
// per-backend "options" object.
type Factory func(options map[string]any) (Backend, error)

// Registry is a name -> factory map resolved at Init time from the
// config's backend list.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for typ.
func (r *Registry) Register(typ string, factory Factory) {
	r.factories[typ] = factory
}

// Build resolves typ to a Backend using its registered factory.
func (r *Registry) Build(typ string, options map[string]any) (Backend, error) {
	factory, ok := r.factories[typ]
	if !ok {
		return nil, &vaulterrors.BackendUnavailable{Reason: "no factory registered for backend type " + typ}
	}
	return factory(options)
}

// SelectFirstAvailable builds and returns the first enabled, available
// backend from specs in order. If none are available, it fails
// BackendUnavailable carrying every attempted type.
func SelectFirstAvailable(ctx context.Context, r *Registry, specs []Spec) (Backend, error) {
	attempted := make([]string, 0, len(specs))
	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		attempted = append(attempted, spec.Type)

		b, err := r.Build(spec.Type, spec.Options)
		if err != nil {
			continue
		}
		if b.IsAvailable(ctx) {
			return b, nil
		}
	}
	return nil, &vaulterrors.BackendUnavailable{Reason: "no enabled backend is available", Attempted: attempted}
}

// Spec is one entry of the config file's backend list.
type Spec struct {
	Type    string
	Enabled bool
	Options map[string]any
}
