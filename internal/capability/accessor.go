package capability

import (
	"sync"

	"github.com/mike-north/vaultkeeper-sub000/vaulterrors"
)

// accessorState is the tagged-enum state of an Accessor: armed holds the
// not-yet-consumed secret bytes, consumed marks permanent revocation.
type accessorState int

const (
	accessorArmed accessorState = iota
	accessorConsumed
)

// Accessor is a single-use, auto-zeroing reader over a secret value. Read
// may be called exactly once; every exit path — success or panic in fn —
// zeroes the buffer and revokes the accessor before Read returns or the
// panic propagates. Every subsequent call to Read fails, the second call
// with AlreadyConsumed and any call after that with AccessorRevoked.
type Accessor struct {
	mu            sync.Mutex
	state         accessorState
	secret        []byte
	consumedCalls int // number of Read calls observed after consumption
}

// NewAccessor returns an Accessor armed with a private byte copy of
// secret.
func NewAccessor(secret string) *Accessor {
	buf := make([]byte, len(secret))
	copy(buf, secret)
	return &Accessor{state: accessorArmed, secret: buf}
}

// Read invokes fn with a fresh copy of the armed secret bytes. The
// accessor is marked consumed and its stored copy zeroed before fn runs;
// the buffer passed to fn is zeroed on every exit path, including when fn
// panics.
func (a *Accessor) Read(fn func(buf []byte)) error {
	a.mu.Lock()
	if a.state == accessorConsumed {
		a.consumedCalls++
		first := a.consumedCalls == 1
		a.mu.Unlock()
		if first {
			return &vaulterrors.AlreadyConsumed{}
		}
		return &vaulterrors.AccessorRevoked{}
	}

	buf := make([]byte, len(a.secret))
	copy(buf, a.secret)
	a.state = accessorConsumed
	zero(a.secret)
	a.mu.Unlock()

	defer zero(buf)
	fn(buf)
	return nil
}

// Armed reports whether the accessor still holds an unconsumed secret. It
// never errors; it exists so callers can check capability state without
// triggering a failed Read, and returns false for every access pattern
// once the accessor has been consumed.
func (a *Accessor) Armed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == accessorArmed
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
