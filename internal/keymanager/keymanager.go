// Package keymanager generates, rotates, and revokes the symmetric
// AES-256 keys used to encrypt capability tokens. It tracks a (current,
// optional previous) pair with a grace-period timer, exposing a snapshot
// read path that never observes a half-swapped state.
package keymanager

import (
	"crypto/rand"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/threading"

	"github.com/mike-north/vaultkeeper-sub000/vaulterrors"
)

// KeySize is the length in bytes of an AES-256 key.
const KeySize = 32

// Material is a single symmetric key: its id, its raw bytes, and when it
// was created. It is exclusively owned by Manager — callers only ever see
// a copy returned from Current/Previous/Find, valid for the life of that
// call.
type Material struct {
	ID        string
	Bytes     []byte
	CreatedAt time.Time
}

// state is swapped as a whole via an atomic pointer so concurrent readers
// of Current/Previous/Find always observe one consistent (current,
// previous) pair — never current pointing at the new key while previous
// is still missing.
type state struct {
	current  Material
	previous *Material
	rotating bool
}

// Manager owns the process's symmetric key material and its rotation
// lifecycle. The zero value is not usable; construct with New.
type Manager struct {
	mu    sync.Mutex // serializes Init/Rotate/Revoke/timer-fire mutations
	st    atomic.Pointer[state]
	timer *time.Timer
}

// New returns an uninitialized Manager. Call Init before any other method.
func New() *Manager {
	return &Manager{}
}

func generateMaterial() (Material, error) {
	buf := make([]byte, KeySize)
	if _, err := rand.Read(buf); err != nil {
		return Material{}, fmt.Errorf("generating key material: %w", err)
	}
	return Material{
		ID:        fmt.Sprintf("k-%d-%s", time.Now().UnixMilli(), uuid.New().String()[:8]),
		Bytes:     buf,
		CreatedAt: time.Now(),
	}, nil
}

// Init is idempotent: if no current key exists yet, it generates one.
// Calling Init again after initialization is a no-op.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st.Load() != nil {
		return nil
	}
	mat, err := generateMaterial()
	if err != nil {
		return err
	}
	m.st.Store(&state{current: mat})
	return nil
}

// Current returns the active signing/encryption key. It fails
// NotInitialized if Init has not run.
func (m *Manager) Current() (Material, error) {
	s := m.st.Load()
	if s == nil {
		return Material{}, &vaulterrors.NotInitialized{Component: "keymanager"}
	}
	return s.current, nil
}

// Previous returns the grace-period key, if one is active.
func (m *Manager) Previous() (Material, bool, error) {
	s := m.st.Load()
	if s == nil {
		return Material{}, false, &vaulterrors.NotInitialized{Component: "keymanager"}
	}
	if s.previous == nil {
		return Material{}, false, nil
	}
	return *s.previous, true, nil
}

// Find returns the key with the given id if it is currently resolvable —
// either the current key, or the previous key while its grace period is
// active. It returns (Material{}, false, nil) once the grace period has
// elapsed or the id is unknown.
func (m *Manager) Find(kid string) (Material, bool, error) {
	s := m.st.Load()
	if s == nil {
		return Material{}, false, &vaulterrors.NotInitialized{Component: "keymanager"}
	}
	if s.current.ID == kid {
		return s.current, true, nil
	}
	if s.previous != nil && s.previous.ID == kid {
		return *s.previous, true, nil
	}
	return Material{}, false, nil
}

// InGracePeriod reports whether a rotation is currently in its grace
// period (previous key still resolvable).
func (m *Manager) InGracePeriod() bool {
	s := m.st.Load()
	if s == nil {
		return false
	}
	return s.rotating
}

// Rotate promotes the current key to previous, generates a fresh current
// key, and schedules the previous key's removal after gracePeriod. It
// fails RotationInProgress if a rotation is already active.
func (m *Manager) Rotate(gracePeriod time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.st.Load()
	if s == nil {
		return &vaulterrors.NotInitialized{Component: "keymanager"}
	}
	if s.rotating {
		return &vaulterrors.RotationInProgress{}
	}

	next, err := generateMaterial()
	if err != nil {
		return err
	}
	prev := s.current

	m.st.Store(&state{
		current:  next,
		previous: &prev,
		rotating: true,
	})

	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(gracePeriod, func() {
		threading.GoSafe(m.endGracePeriod)
	})

	return nil
}

// endGracePeriod clears the previous key once the grace-period deadline
// fires. It is a no-op if Revoke already cleared it first.
func (m *Manager) endGracePeriod() {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.st.Load()
	if s == nil || !s.rotating {
		return
	}
	m.st.Store(&state{current: s.current})
}

// Revoke immediately clears any grace-period previous key and generates a
// fresh current key. Tokens encrypted under the destroyed keys become
// permanently unreadable. Revoke always succeeds.
func (m *Manager) Revoke() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	next, err := generateMaterial()
	if err != nil {
		return err
	}
	m.st.Store(&state{current: next})
	return nil
}
