package lsm

import (
	"layerkv/file"
	"layerkv/utils"
)

// Layer is an immutable, sorted, seekable run of entries: either a sealed
// in-memory table or a persisted layer file. Layers never mutate after
// creation; only their membership in the layer set changes.
type Layer interface {
	// Seek returns a lazy iterator starting at the first entry with
	// key >= from; nil means from the beginning. Concurrent iterators over
	// the same layer are independent.
	Seek(from []byte) utils.Iterator
	// Handle returns the backing handle, or nil for in-memory layers.
	Handle() *file.Handle
	IncrRef()
	DecrRef() error
}

// LayerSet is the ordered collection of immutable layers, newest first. A
// LayerSet value is never mutated; the tree installs a fresh value on every
// change, so readers holding an old one keep a consistent view.
type LayerSet struct {
	layers []Layer
}

func newLayerSet(layers []Layer) *LayerSet {
	return &LayerSet{layers: layers}
}

// Layers returns the members newest-first. Callers must not modify the
// returned slice.
func (s *LayerSet) Layers() []Layer { return s.layers }

func (s *LayerSet) Len() int { return len(s.layers) }

// Snapshot is a refcounted view of a LayerSet taken at a point in time. It
// pins every member until released, so an in-flight flush or iterator never
// loses the storage under it.
type Snapshot struct {
	layers   []Layer
	released bool
}

func newSnapshot(s *LayerSet) *Snapshot {
	for _, l := range s.layers {
		l.IncrRef()
	}
	return &Snapshot{layers: s.layers}
}

// Layers returns the pinned members newest-first.
func (s *Snapshot) Layers() []Layer { return s.layers }

// Release unpins the members. Idempotent.
func (s *Snapshot) Release() {
	if s.released {
		return
	}
	s.released = true
	for _, l := range s.layers {
		_ = l.DecrRef()
	}
}
