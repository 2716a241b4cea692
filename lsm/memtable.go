package lsm

import (
	"sort"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"layerkv/file"
	"layerkv/utils"
	"layerkv/utils/cmp"
)

// MemTable is the single mutable in-memory layer of a tree. Writes go into
// a concurrent skip-list map; sealing freezes the table into an immutable
// in-memory layer that then participates in flushes like any other layer.
type MemTable struct {
	set *skipmap.FuncMap[[]byte, *utils.Entry]
	cmp cmp.Comparator

	size   atomic.Int64
	sealed atomic.Bool
	// frozen is the sorted snapshot computed once at seal time.
	frozen atomic.Pointer[[]*utils.Entry]
	ref    int32
}

func NewMemTable(c cmp.Comparator) *MemTable {
	m := &MemTable{cmp: c, ref: 1}
	m.set = skipmap.NewFunc[[]byte, *utils.Entry](func(a, b []byte) bool {
		return c.Compare(a, b) < 0
	})
	return m
}

// Put stores an entry; an existing entry for the same key is replaced.
func (m *MemTable) Put(e *utils.Entry) {
	m.set.Store(e.Key, e)
	m.size.Add(e.EstimateSize())
}

// Get returns the entry for key, including tombstones.
func (m *MemTable) Get(key []byte) (*utils.Entry, bool) {
	return m.set.Load(key)
}

// Size returns the approximate memory charged to the table. Replaced keys
// keep their charge; the estimate only ever errs toward flushing sooner.
func (m *MemTable) Size() int64 {
	return m.size.Load()
}

// Len returns the number of distinct keys.
func (m *MemTable) Len() int {
	return m.set.Len()
}

// Seal freezes the table. After Seal the table rejects no operations
// structurally, but the tree stops routing writes to it.
func (m *MemTable) Seal() {
	if m.sealed.CompareAndSwap(false, true) {
		snap := m.sorted()
		m.frozen.Store(&snap)
	}
}

// sorted collects the current entries in key order.
func (m *MemTable) sorted() []*utils.Entry {
	out := make([]*utils.Entry, 0, m.set.Len())
	m.set.Range(func(_ []byte, e *utils.Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// snapshot returns a stable, ordered view for iteration. Sealed tables
// reuse the frozen snapshot; the live mutable table snapshots at call time
// so entries inserted before the call are all visible.
func (m *MemTable) snapshot() []*utils.Entry {
	if p := m.frozen.Load(); p != nil {
		return *p
	}
	return m.sorted()
}

// Seek returns an iterator positioned at the first entry with key >= from.
// A nil bound starts at the beginning.
func (m *MemTable) Seek(from []byte) utils.Iterator {
	iter := &memIterator{entries: m.snapshot(), cmp: m.cmp}
	iter.Seek(from)
	return iter
}

// Handle returns nil: the mutable layer and its sealed form have no backing
// storage.
func (m *MemTable) Handle() *file.Handle { return nil }

func (m *MemTable) IncrRef() {
	atomic.AddInt32(&m.ref, 1)
}

func (m *MemTable) DecrRef() error {
	// Nothing to release; the garbage collector owns the memory.
	atomic.AddInt32(&m.ref, -1)
	return nil
}

type memIterator struct {
	entries []*utils.Entry
	cmp     cmp.Comparator
	idx     int
}

func (iter *memIterator) Next() { iter.idx++ }

func (iter *memIterator) Valid() bool {
	return iter.idx >= 0 && iter.idx < len(iter.entries)
}

func (iter *memIterator) Rewind() { iter.idx = 0 }

func (iter *memIterator) Seek(key []byte) {
	if key == nil {
		iter.Rewind()
		return
	}
	iter.idx = sort.Search(len(iter.entries), func(i int) bool {
		return iter.cmp.Compare(iter.entries[i].Key, key) >= 0
	})
}

func (iter *memIterator) Item() *utils.Entry {
	if !iter.Valid() {
		return nil
	}
	return iter.entries[iter.idx]
}

func (iter *memIterator) Error() error { return nil }

func (iter *memIterator) Close() error { return nil }
