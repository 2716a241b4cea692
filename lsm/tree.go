package lsm

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"layerkv/cache"
	"layerkv/file"
	"layerkv/sstable"
	"layerkv/utils"
)

// Tree is the LSM tree: one mutable in-memory layer accepting writes plus
// the ordered set of immutable layers. For a given key, the first layer
// (newest first, mutable layer included) holding an entry for it determines
// the logical value, combined with mergeable neighbors.
//
// Inserts and seeks are safe to run concurrently with each other and with
// an in-flight flush: existing layers are never mutated, only the set
// membership is swapped, under a brief write lock.
type Tree struct {
	opt *utils.Options
	ops KeyOps
	lg  *zap.Logger
	bc  *cache.BlockCache

	// mu guards the (mem, layers) pair so a seek snapshots both
	// atomically. Flush holds it only for the seal and the final swap.
	mu     sync.RWMutex
	mem    *MemTable
	layers *LayerSet

	seq     atomic.Uint64
	nextFid atomic.Uint64
	closed  atomic.Bool
}

// Open creates a tree over the persisted layers identified by fids, given
// newest first. An empty fids creates an empty tree. The layer composition
// is owned by the journal; the object store passes it in after replay.
func Open(opt *utils.Options, ops KeyOps, lg *zap.Logger, fids []uint64) (*Tree, error) {
	if ops == nil {
		ops = BaseKeyOps{Comparator: opt.Comparable}
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	if opt.MaxIOConcurrency > 0 {
		file.SetMaxIOConcurrency(opt.MaxIOConcurrency)
	}
	t := &Tree{
		opt: opt,
		ops: ops,
		lg:  lg,
		bc:  cache.NewBlockCache(opt.BlockCacheSize),
	}
	layers := make([]Layer, 0, len(fids))
	var maxFid uint64
	for _, fid := range fids {
		tbl, err := sstable.OpenTable(opt, fid, t.bc)
		if err != nil {
			for _, l := range layers {
				_ = l.DecrRef()
			}
			return nil, err
		}
		layers = append(layers, tbl)
		if fid > maxFid {
			maxFid = fid
		}
	}
	t.mem = NewMemTable(ops)
	t.layers = newLayerSet(layers)
	t.nextFid.Store(maxFid + 1)
	return t, nil
}

// Insert stores an entry in the mutable layer. Amortized O(1); visible to
// subsequent seeks immediately.
func (t *Tree) Insert(e *utils.Entry) error {
	if e == nil || len(e.Key) == 0 {
		return utils.ErrEmptyKey
	}
	if t.closed.Load() {
		return utils.ErrClosed
	}
	e.Seq = t.seq.Add(1)
	t.mu.RLock()
	t.mem.Put(e)
	t.mu.RUnlock()
	return nil
}

// Delete inserts a tombstone for key.
func (t *Tree) Delete(key []byte) error {
	return t.Insert(&utils.Entry{Key: append([]byte(nil), key...), Meta: utils.BitTombstone})
}

// Get is a point lookup over the merged view. Tombstoned and absent keys
// return ErrKeyNotFound.
func (t *Tree) Get(key []byte) (*utils.Entry, error) {
	if len(key) == 0 {
		return nil, utils.ErrEmptyKey
	}
	iter, err := t.Seek(key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = iter.Close() }()
	if !iter.Valid() || t.ops.Compare(iter.Item().Key, key) != 0 {
		if err := iter.Error(); err != nil {
			return nil, err
		}
		return nil, utils.ErrKeyNotFound
	}
	return iter.Item(), nil
}

// Seek returns an iterator over the logical merged view, positioned at the
// first live entry with key >= from (nil bound: from the beginning).
// Tombstones and the entries they shadow are not surfaced.
func (t *Tree) Seek(from []byte) (utils.Iterator, error) {
	if t.closed.Load() {
		return nil, utils.ErrClosed
	}
	mem, snap := t.view()
	iters := make([]utils.Iterator, 0, len(snap.Layers())+1)
	iters = append(iters, mem.Seek(from))
	for _, l := range snap.Layers() {
		iters = append(iters, l.Seek(from))
	}
	merged := NewMergeIterator(iters, t.ops)
	live := newFilterIterator(merged, func(e *utils.Entry) bool {
		return !e.Tombstone()
	})
	live.Seek(from)
	return &snapshotIterator{Iterator: live, snap: snap}, nil
}

// RawSeek is Seek without the tombstone filter. The flush engine uses it;
// object stores should not.
func (t *Tree) RawSeek(from []byte) (utils.Iterator, error) {
	if t.closed.Load() {
		return nil, utils.ErrClosed
	}
	mem, snap := t.view()
	iters := make([]utils.Iterator, 0, len(snap.Layers())+1)
	iters = append(iters, mem.Seek(from))
	for _, l := range snap.Layers() {
		iters = append(iters, l.Seek(from))
	}
	merged := NewMergeIterator(iters, t.ops)
	merged.Seek(from)
	return &snapshotIterator{Iterator: merged, snap: snap}, nil
}

// view atomically snapshots the mutable layer and the immutable set.
func (t *Tree) view() (*MemTable, *Snapshot) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mem, newSnapshot(t.layers)
}

// ImmutableLayerSet returns a pinned snapshot of the current immutable
// layers. Taking it never blocks writers to the mutable layer.
func (t *Tree) ImmutableLayerSet() *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return newSnapshot(t.layers)
}

// Seal freezes the mutable layer into an immutable in-memory layer at the
// front of the layer set and installs a fresh mutable layer. No entry is
// lost or duplicated, and iterators already over the old mutable layer stay
// valid. Sealing an empty mutable layer is a no-op.
func (t *Tree) Seal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mem.Len() == 0 {
		return
	}
	sealed := t.mem
	sealed.Seal()
	t.mem = NewMemTable(t.ops)
	layers := make([]Layer, 0, t.layers.Len()+1)
	layers = append(layers, sealed)
	layers = append(layers, t.layers.Layers()...)
	t.layers = newLayerSet(layers)
}

// NeedsFlush reports whether the mutable layer has outgrown its budget.
func (t *Tree) NeedsFlush() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mem.Size() >= t.opt.MemTableSize
}

// install atomically replaces the merged-away layers with the flush
// output. newLayer may be nil when a major compaction elided everything.
// purge layers are dropped once their last reference is gone.
func (t *Tree) install(newLayer Layer, keep, purge []Layer) {
	t.mu.Lock()
	layers := make([]Layer, 0, len(keep)+1)
	if newLayer != nil {
		layers = append(layers, newLayer)
	}
	layers = append(layers, keep...)
	t.layers = newLayerSet(layers)
	t.mu.Unlock()

	for _, l := range purge {
		if tbl, ok := l.(*sstable.Table); ok {
			tbl.Drop()
		}
		_ = l.DecrRef()
	}
}

// NextFid allocates a layer file id. Fids are never reused.
func (t *Tree) NextFid() uint64 {
	return t.nextFid.Add(1) - 1
}

// BlockCache returns the tree's shared block cache.
func (t *Tree) BlockCache() *cache.BlockCache { return t.bc }

// Options returns the tree options.
func (t *Tree) Options() *utils.Options { return t.opt }

// Close releases the immutable layers. In-flight iterators keep their
// pinned snapshots until closed.
func (t *Tree) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, l := range t.layers.Layers() {
		if err := l.DecrRef(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.layers = newLayerSet(nil)
	return firstErr
}

// snapshotIterator ties a merged iterator to the layer snapshot backing it,
// releasing the snapshot on Close.
type snapshotIterator struct {
	utils.Iterator
	snap *Snapshot
}

func (s *snapshotIterator) Close() error {
	err := s.Iterator.Close()
	s.snap.Release()
	return err
}
