package state

import (
	"sync"

	"peertrade/storage"
)

// Overlay buffers writes on top of a parent database until Commit flushes
// them. Discarding the overlay leaves the parent untouched, giving callers
// all-or-nothing semantics for a sequence of state mutations.
type Overlay struct {
	mu      sync.Mutex
	parent  storage.Database
	writes  map[string][]byte
	deletes map[string]struct{}
}

// NewOverlay creates an empty overlay on top of the parent database.
func NewOverlay(parent storage.Database) *Overlay {
	return &Overlay{
		parent:  parent,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	buf := make([]byte, len(value))
	copy(buf, value)
	o.writes[string(key)] = buf
	delete(o.deletes, string(key))
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	o.mu.Lock()
	if _, gone := o.deletes[string(key)]; gone {
		o.mu.Unlock()
		return nil, storage.ErrNotFound
	}
	if value, ok := o.writes[string(key)]; ok {
		out := make([]byte, len(value))
		copy(out, value)
		o.mu.Unlock()
		return out, nil
	}
	o.mu.Unlock()
	return o.parent.Get(key)
}

func (o *Overlay) Has(key []byte) (bool, error) {
	o.mu.Lock()
	if _, gone := o.deletes[string(key)]; gone {
		o.mu.Unlock()
		return false, nil
	}
	if _, ok := o.writes[string(key)]; ok {
		o.mu.Unlock()
		return true, nil
	}
	o.mu.Unlock()
	return o.parent.Has(key)
}

func (o *Overlay) Delete(key []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.writes, string(key))
	o.deletes[string(key)] = struct{}{}
	return nil
}

// Close satisfies storage.Database; pending writes are dropped.
func (o *Overlay) Close() {}

// Commit flushes buffered writes and deletes to the parent database.
func (o *Overlay) Commit() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key := range o.deletes {
		if err := o.parent.Delete([]byte(key)); err != nil {
			return err
		}
	}
	for key, value := range o.writes {
		if err := o.parent.Put([]byte(key), value); err != nil {
			return err
		}
	}
	o.writes = make(map[string][]byte)
	o.deletes = make(map[string]struct{})
	return nil
}

// Discard drops all buffered mutations without touching the parent.
func (o *Overlay) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes = make(map[string][]byte)
	o.deletes = make(map[string]struct{})
}
