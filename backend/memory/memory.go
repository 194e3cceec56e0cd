// Package memory implements an in-memory Backend. Stored secrets are lost
// on process restart; suitable for development and testing.
package memory

import (
	"context"
	"sync"

	"github.com/mike-north/vaultkeeper-sub000/backend"
	"github.com/mike-north/vaultkeeper-sub000/vaulterrors"
)

// Backend is a concurrent-safe, process-local secret store backed by a
// plain map.
type Backend struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// New returns an empty in-memory Backend.
func New() *Backend {
	return &Backend{secrets: make(map[string]string)}
}

// Factory is registered under the "memory" type name.
func Factory(map[string]any) (backend.Backend, error) {
	return New(), nil
}

func (b *Backend) Type() string        { return "memory" }
func (b *Backend) DisplayName() string { return "In-Memory" }

func (b *Backend) IsAvailable(ctx context.Context) bool { return true }

func (b *Backend) Store(ctx context.Context, id, secret string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.secrets[id] = secret
	return nil
}

func (b *Backend) Retrieve(ctx context.Context, id string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.secrets[id]
	if !ok {
		return "", &vaulterrors.SecretNotFound{Backend: b.Type(), ID: id}
	}
	return v, nil
}

func (b *Backend) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.secrets[id]; !ok {
		return &vaulterrors.SecretNotFound{Backend: b.Type(), ID: id}
	}
	delete(b.secrets, id)
	return nil
}

func (b *Backend) Exists(ctx context.Context, id string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.secrets[id]
	return ok, nil
}

func (b *Backend) List(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.secrets))
	for id := range b.secrets {
		ids = append(ids, id)
	}
	return ids, nil
}

var _ backend.Backend = (*Backend)(nil)
var _ backend.Listable = (*Backend)(nil)
