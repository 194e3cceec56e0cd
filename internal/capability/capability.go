// Package capability implements the opaque capability-token handle and
// the module-private claims store it indexes into, plus the single-use,
// auto-zeroing secret accessor produced from a handle's claims.
package capability

import (
	"sync"
	"sync/atomic"

	"github.com/mike-north/vaultkeeper-sub000/internal/tokencodec"
	"github.com/mike-north/vaultkeeper-sub000/vaulterrors"
)

// Token is an opaque handle into a Store's private claims table. Its zero
// value is not a valid handle into any store; a Token produced by one
// Store is never resolvable through another. No field is exported, and
// no conversion of a Token reveals the claims it points to.
type Token struct {
	index int
	gen   uint64
}

type slot struct {
	claims tokencodec.Claims
	gen    uint64
	alive  bool
}

// generations is shared by every Store in the process, so no two handles
// from any stores ever carry the same generation.
var generations atomic.Uint64

// Store is a module-private, generation-indexed arena mapping handles to
// claims. The zero value is not usable; construct with NewStore.
type Store struct {
	mu    sync.Mutex
	slots []slot
	free  []int
	nextG uint64
}

// NewStore returns an empty claims store.
func NewStore() *Store {
	return &Store{}
}

// Issue allocates a fresh handle bound to claims.
func (s *Store) Issue(claims tokencodec.Claims) Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextG = generations.Add(1)
	gen := s.nextG

	if len(s.free) > 0 {
		idx := s.free[len(s.free)-1]
		s.free = s.free[:len(s.free)-1]
		s.slots[idx] = slot{claims: claims, gen: gen, alive: true}
		return Token{index: idx, gen: gen}
	}

	s.slots = append(s.slots, slot{claims: claims, gen: gen, alive: true})
	return Token{index: len(s.slots) - 1, gen: gen}
}

// Lookup resolves tok's claims. A handle foreign to this store — never
// issued here, or already destroyed — fails AuthorizationDenied.
func (s *Store) Lookup(tok Token) (tokencodec.Claims, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok.index < 0 || tok.index >= len(s.slots) {
		return tokencodec.Claims{}, &vaulterrors.AuthorizationDenied{Reason: "capability token not issued by this store"}
	}
	sl := s.slots[tok.index]
	if !sl.alive || sl.gen != tok.gen {
		return tokencodec.Claims{}, &vaulterrors.AuthorizationDenied{Reason: "capability token not issued by this store"}
	}
	return sl.claims, nil
}

// Destroy invalidates tok, freeing its slot for reuse under a new
// generation. Destroying an already-destroyed or foreign handle is a
// no-op.
func (s *Store) Destroy(tok Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok.index < 0 || tok.index >= len(s.slots) {
		return
	}
	sl := &s.slots[tok.index]
	if !sl.alive || sl.gen != tok.gen {
		return
	}
	sl.alive = false
	sl.claims = tokencodec.Claims{}
	s.free = append(s.free, tok.index)
}
