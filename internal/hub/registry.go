package hub

import (
	"fmt"
	"sync"
)

// Handle refers to a registry slot. A handle whose generation no longer
// matches its slot is stale and resolves to nothing.
type Handle struct {
	Index uint32
	Gen   uint32
}

func (h Handle) String() string { return fmt.Sprintf("%04x.%d", h.Index, h.Gen) }

type slot struct {
	peer *Peer
	gen  uint32
}

// Registry is an arena of connected peers. Connection workers add and
// remove entries concurrently with broadcast iteration; the read lock held
// by Range means an entry is either fully present or absent.
type Registry struct {
	mu    sync.RWMutex
	slots []slot
	free  []uint32
	n     int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add stores p and assigns its handle. The handle is written before the
// entry becomes visible.
func (r *Registry) Add(p *Peer) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		idx = uint32(len(r.slots))
		r.slots = append(r.slots, slot{})
	}

	s := &r.slots[idx]
	s.gen++
	h := Handle{Index: idx, Gen: s.gen}
	p.handle = h
	s.peer = p
	r.n++
	return h
}

// Remove frees the slot of h. It reports false for a stale handle, so a
// second removal is a no-op.
func (r *Registry) Remove(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.validLocked(h) {
		return false
	}
	r.slots[h.Index].peer = nil
	r.free = append(r.free, h.Index)
	r.n--
	return true
}

// Get resolves h.
func (r *Registry) Get(h Handle) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.validLocked(h) {
		return nil, false
	}
	return r.slots[h.Index].peer, true
}

func (r *Registry) validLocked(h Handle) bool {
	if int(h.Index) >= len(r.slots) {
		return false
	}
	s := r.slots[h.Index]
	return s.peer != nil && s.gen == h.Gen
}

// Range calls fn for every peer until fn returns false. fn must not add or
// remove entries.
func (r *Registry) Range(fn func(*Peer) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.slots {
		if s.peer == nil {
			continue
		}
		if !fn(s.peer) {
			return
		}
	}
}

// Snapshot returns the current peers.
func (r *Registry) Snapshot() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Peer, 0, r.n)
	for _, s := range r.slots {
		if s.peer != nil {
			out = append(out, s.peer)
		}
	}
	return out
}

// Len returns the number of peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.n
}
