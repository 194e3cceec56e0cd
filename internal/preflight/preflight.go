// Package preflight defines the collaborator interface Vault.Init uses
// to run environment sanity checks before a vault is considered ready,
// plus one concrete check: backend availability.
package preflight

import (
	"context"
	"fmt"

	"github.com/mike-north/vaultkeeper-sub000/backend"
	"github.com/mike-north/vaultkeeper-sub000/vaulterrors"
)

// Check is injected into Vault.Init. It runs once, after backend
// selection, and a non-nil error aborts Init.
type Check interface {
	Run(ctx context.Context) error
}

// NoopCheck performs no verification; it is the default when Options.Preflight is nil.
type NoopCheck struct{}

func (NoopCheck) Run(ctx context.Context) error { return nil }

// BackendAvailability verifies the selected backend still reports itself
// available at the moment Init runs, catching the narrow race where a
// backend answered available during selection but has since gone away.
type BackendAvailability struct {
	Backend backend.Backend
}

func (c BackendAvailability) Run(ctx context.Context) error {
	if c.Backend == nil {
		return fmt.Errorf("preflight: no backend configured")
	}
	if !c.Backend.IsAvailable(ctx) {
		return &vaulterrors.BackendUnavailable{
			Reason:    "backend is no longer available at preflight time",
			Attempted: []string{c.Backend.Type()},
		}
	}
	return nil
}
