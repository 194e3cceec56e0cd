// Package blocklist implements a bounded, insertion-ordered set of revoked
// token ids with FIFO eviction once the set reaches capacity.
package blocklist

import (
	"container/list"
	"sync"
)

// DefaultCapacity is the maximum number of distinct ids the blocklist
// retains before evicting the least-recently-inserted entry.
const DefaultCapacity = 10_000

// Blocklist is a capacity-bounded set of jtis. The zero value is not
// usable; construct with New.
type Blocklist struct {
	mu       sync.Mutex
	capacity int
	order    *list.List               // front = most-recently-inserted
	index    map[string]*list.Element // jti -> its node in order
}

// New returns a Blocklist bounded to capacity entries.
func New(capacity int) *Blocklist {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Blocklist{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Add inserts jti, evicting the oldest entry first if the blocklist is at
// capacity. Re-inserting an id already present moves it to the
// most-recently-inserted position instead of growing the set.
func (b *Blocklist) Add(jti string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if elem, ok := b.index[jti]; ok {
		b.order.MoveToFront(elem)
		return
	}

	if b.order.Len() >= b.capacity {
		oldest := b.order.Back()
		if oldest != nil {
			b.order.Remove(oldest)
			delete(b.index, oldest.Value.(string))
		}
	}

	b.index[jti] = b.order.PushFront(jti)
}

// Contains reports whether jti is currently blocked.
func (b *Blocklist) Contains(jti string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.index[jti]
	return ok
}

// Len returns the number of distinct ids currently retained.
func (b *Blocklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.order.Len()
}
