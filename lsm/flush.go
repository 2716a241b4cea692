package lsm

import (
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"layerkv/file"
	"layerkv/sstable"
	"layerkv/utils"
)

// Journal is the policy surface the flush engine needs from the
// write-ahead journal. The engine never sees the journal's record format:
// only the reclaim threshold and a durable-commit callback.
type Journal interface {
	// ReclaimSize is the absolute byte size the journal wants compacted
	// away before its log region grows unbounded.
	ReclaimSize() int64
	// CommitLayerSet durably records the new immutable layer composition
	// (fids newest-first). Only after it returns may the storage of
	// merged-away layers be reclaimed.
	CommitLayerSet(ctx context.Context, fids []uint64) error
}

// MemoryJournal is a loopback Journal for tests and embedded use: it keeps
// the committed compositions in memory.
type MemoryJournal struct {
	Reclaim int64

	mu      sync.Mutex
	commits [][]uint64
}

func (j *MemoryJournal) ReclaimSize() int64 { return j.Reclaim }

func (j *MemoryJournal) CommitLayerSet(_ context.Context, fids []uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.commits = append(j.commits, append([]uint64(nil), fids...))
	return nil
}

// Commits returns every composition committed so far.
func (j *MemoryJournal) Commits() [][]uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([][]uint64, len(j.commits))
	copy(out, j.commits)
	return out
}

// Flusher merges a prefix of the immutable layers into one new persisted
// layer and shrinks the layer set. At most one flush runs per tree; the
// flush lock is distinct from the tree's snapshot lock, so inserts and
// seeks only ever wait on the final layer-set swap.
type Flusher struct {
	tree    *Tree
	journal Journal
	lg      *zap.Logger

	mu sync.Mutex
}

func NewFlusher(t *Tree, j Journal) *Flusher {
	return &Flusher{tree: t, journal: j, lg: t.lg}
}

// Flush seals the mutable layer, selects layers to merge, writes the
// merged result as a new persisted layer and installs the updated layer
// set. On error the previous layer set remains authoritative and the
// partially written layer is discarded; retrying is safe.
func (f *Flusher) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := f.tree
	if t.closed.Load() {
		return utils.ErrClosed
	}
	t.Seal()
	snap := t.ImmutableLayerSet()
	defer snap.Release()

	toMerge, toKeep := pickLayers(snap.Layers(), f.journal.ReclaimSize(), t.opt)
	if len(toMerge) == 0 {
		return nil
	}
	for _, l := range toKeep {
		// Kept layers sit below the split point and must be persisted; an
		// in-memory layer here means selection broke its invariant.
		if l.Handle() == nil {
			return errors.Wrap(utils.ErrMissingHandle, "kept layer")
		}
	}
	f.lg.Info("flush starting",
		zap.Int("merge", len(toMerge)),
		zap.Int("keep", len(toKeep)),
		zap.Bool("major", len(toKeep) == 0))

	newLayer, err := f.writeLayer(ctx, toMerge, len(toKeep) == 0)
	if err != nil {
		f.lg.Error("flush failed", zap.Error(err))
		return err
	}

	fids := make([]uint64, 0, len(toKeep)+1)
	if newLayer != nil {
		fids = append(fids, newLayer.Handle().Fid)
	}
	for _, l := range toKeep {
		fids = append(fids, l.Handle().Fid)
	}
	if err := f.journal.CommitLayerSet(ctx, fids); err != nil {
		// Not yet referenced by anything durable; drop the output.
		if newLayer != nil {
			newLayer.Drop()
			_ = newLayer.DecrRef()
		}
		return errors.Wrap(err, "commit layer set")
	}

	var installed Layer
	if newLayer != nil {
		installed = newLayer
	}
	t.install(installed, toKeep, toMerge)
	f.lg.Info("flush complete", zap.Uint64s("layers", fids))
	return nil
}

// pickLayers partitions the snapshot (newest-first) into the contiguous
// prefix to merge and the suffix to keep.
//
// Walking from newest to oldest, sizes of layers with a backing handle
// accumulate; layers without one (just-sealed in-memory layers) always
// participate. The walk stops at the first layer so much larger than
// everything batched so far that including it would make the flush too
// expensive: total*num < size*den, 4/3 by default.
//
// Exception: when that leaves exactly one on-disk layer selected and its
// size already exceeds the journal's reclaim threshold, merging it would
// write an equally large new layer and immediately re-trigger a flush. If
// the layer just before the split point is that on-disk layer, back off one
// layer and let a new small layer grow over successive flushes instead.
func pickLayers(layers []Layer, reclaimSize int64, opt *utils.Options) (toMerge, toKeep []Layer) {
	num, den := opt.SplitRatioNum, opt.SplitRatioDen
	split := len(layers)
	var total int64
	var diskCount int
	for i, l := range layers {
		h := l.Handle()
		if h == nil {
			continue
		}
		size := h.Size()
		if total > 0 && total*num < size*den {
			split = i
			break
		}
		total += size
		diskCount++
	}
	if diskCount == 1 && total > reclaimSize &&
		split > 0 && layers[split-1].Handle() != nil {
		split--
	}
	return layers[:split], layers[split:]
}

// writeLayer merges the selected layers (newest-first) into one new
// persisted layer. When the output will be the only remaining layer, the
// keyspace's elision predicate filters out entries that nothing can shadow
// anymore. Returns nil when everything was elided.
func (f *Flusher) writeLayer(ctx context.Context, toMerge []Layer, major bool) (*sstable.Table, error) {
	t := f.tree
	fid := t.NextFid()
	w, err := file.NewBlockWriter(ctx, t.opt.WorkDir, fid, t.opt.BlockSize)
	if err != nil {
		return nil, err
	}

	iters := make([]utils.Iterator, 0, len(toMerge))
	for _, l := range toMerge {
		iters = append(iters, l.Seek(nil))
	}
	var src utils.Iterator = NewMergeIterator(iters, t.ops)
	if major {
		src = newFilterIterator(src, func(e *utils.Entry) bool {
			return !t.ops.Elide(e)
		})
	}
	defer func() { _ = src.Close() }()

	b := sstable.NewBuilder(t.opt, w)
	for src.Rewind(); src.Valid(); src.Next() {
		if err := b.Add(src.Item()); err != nil {
			_ = w.Abandon()
			return nil, err
		}
	}
	if err := src.Error(); err != nil {
		_ = w.Abandon()
		return nil, errors.Wrap(err, "merge layers")
	}
	if b.Empty() {
		_ = w.Abandon()
		return nil, nil
	}
	if _, err := b.Finish(); err != nil {
		_ = w.Abandon()
		return nil, err
	}
	tbl, err := sstable.OpenTable(t.opt, fid, t.bc)
	if err != nil {
		_ = os.Remove(file.FileNameLayer(t.opt.WorkDir, fid))
		return nil, errors.Wrap(err, "reopen new layer")
	}
	return tbl, nil
}
