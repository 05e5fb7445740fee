package shaderdump

import (
	"slices"
	"sync"
)

// Slot names a process-wide dump owner.
type Slot string

const (
	SlotMain      Slot = "main"
	SlotSecondary Slot = "secondary"
)

// Registry hands out one Owner per slot.
type Registry struct {
	mu     sync.RWMutex
	opts   Options
	owners map[Slot]*Owner
	closed bool
}

func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts, owners: make(map[Slot]*Owner)}
}

// Owner returns the owner for slot, creating an empty one on first use.
// It returns nil after Close.
func (r *Registry) Owner(slot Slot) *Owner {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if o, ok := r.owners[slot]; ok {
		return o
	}
	opts := r.opts
	if opts.Logger != nil {
		opts.Logger = opts.Logger.With("slot", string(slot))
	}
	o := New(opts)
	r.owners[slot] = o
	return o
}

// Open maps the dump at path into slot, replacing what the slot held.
func (r *Registry) Open(slot Slot, path string) error {
	o := r.Owner(slot)
	if o == nil {
		return ErrSlotClosed
	}
	return o.Open(path)
}

// Lookup returns the owner for slot without creating it.
func (r *Registry) Lookup(slot Slot) (*Owner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.owners[slot]
	return o, ok
}

// Slots returns the known slots in sorted order.
func (r *Registry) Slots() []Slot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Slot, 0, len(r.owners))
	for s := range r.owners {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// Close clears every owner.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.owners {
		o.Clear()
	}
	clear(r.owners)
	r.closed = true
}
