package sstable

import (
	"bytes"
	"sync/atomic"

	"github.com/pkg/errors"

	"layerkv/file"
	"layerkv/utils"
)

// Cache hides the shared block cache from this package. Implemented by the
// cache package.
type Cache interface {
	Get(key uint64) (interface{}, bool)
	Add(key uint64, value interface{})
}

// Table is a persisted layer: an immutable, sorted, seekable run of entries
// backed by a block-aligned layer file. Tables are refcounted; the backing
// storage is released when the last reference drops, and removed as well if
// the table was dropped by a flush.
type Table struct {
	opt    *utils.Options
	mm     *file.MmapFile
	handle *file.Handle
	cache  Cache

	metas      []blockMeta
	compressed bool

	ref     int32
	dropped int32
}

// OpenTable maps the layer file for fid and parses its index. bc may be nil
// to bypass the block cache.
func OpenTable(opt *utils.Options, fid uint64, bc Cache) (*Table, error) {
	path := file.FileNameLayer(opt.WorkDir, fid)
	mm, err := file.OpenMmapFile(path)
	if err != nil {
		return nil, err
	}
	t := &Table{opt: opt, mm: mm, cache: bc, ref: 1}
	if err := t.readIndex(fid, path); err != nil {
		_ = mm.Close()
		return nil, errors.Wrapf(err, "open layer %s", path)
	}
	return t, nil
}

func (t *Table) readIndex(fid uint64, path string) error {
	size := t.mm.Size()
	if size < footerSize {
		return errors.New("layer file too small")
	}
	footer, err := t.mm.Bytes(int(size)-footerSize, footerSize)
	if err != nil {
		return err
	}
	if !bytes.Equal(footer[20:], utils.MagicText[:]) {
		return errors.New("bad magic")
	}
	indexOffset := int(utils.BytesToU32(footer[0:4]))
	indexLen := int(utils.BytesToU32(footer[4:8]))
	indexChecksum := utils.BytesToU64(footer[8:16])
	flags := utils.BytesToU32(footer[16:20])
	t.compressed = flags&flagCompression != 0

	index, err := t.mm.Bytes(indexOffset, indexLen)
	if err != nil {
		return err
	}
	if err := utils.VerifyChecksum(index, indexChecksum); err != nil {
		return errors.Wrap(err, "index block")
	}

	numBlocks := int(utils.BytesToU32(index[:4]))
	pos := 4
	t.metas = make([]blockMeta, 0, numBlocks)
	for i := 0; i < numBlocks; i++ {
		keyLen := int(utils.BytesToU16(index[pos : pos+2]))
		pos += 2
		m := blockMeta{firstKey: index[pos : pos+keyLen]}
		pos += keyLen
		m.offset = utils.BytesToU32(index[pos : pos+4])
		m.length = utils.BytesToU32(index[pos+4 : pos+8])
		m.checksum = utils.BytesToU64(index[pos+8 : pos+16])
		pos += 16
		t.metas = append(t.metas, m)
	}
	t.handle = file.NewHandle(fid, path, size, t.opt.BlockSize)
	return nil
}

// Handle returns the backing handle of the layer.
func (t *Table) Handle() *file.Handle { return t.handle }

// Fid returns the layer file id.
func (t *Table) Fid() uint64 { return t.handle.Fid }

// Seek returns an iterator positioned at the first entry with key >= from.
// A nil bound starts at the beginning. The iterator holds a table reference
// until closed.
func (t *Table) Seek(from []byte) utils.Iterator {
	t.IncrRef()
	iter := &TableIterator{t: t}
	iter.Seek(from)
	return iter
}

// IncrRef increases the reference count by one.
func (t *Table) IncrRef() {
	atomic.AddInt32(&t.ref, 1)
}

// DecrRef drops one reference. At zero the mapping is closed, and the file
// removed if the table was dropped.
func (t *Table) DecrRef() error {
	if atomic.AddInt32(&t.ref, -1) > 0 {
		return nil
	}
	if atomic.LoadInt32(&t.dropped) != 0 {
		return t.mm.Delete()
	}
	return t.mm.Close()
}

// Drop marks the backing file for removal once the last reference is gone.
// Called by the flush engine after the merged-away layer set is durably
// superseded.
func (t *Table) Drop() {
	atomic.StoreInt32(&t.dropped, 1)
}

// block reads, verifies and decodes block idx, consulting the shared cache
// first.
func (t *Table) block(idx int) (*Block, error) {
	m := t.metas[idx]
	cacheKey := t.handle.Fid<<32 | uint64(idx)
	if t.cache != nil {
		if v, ok := t.cache.Get(cacheKey); ok {
			return v.(*Block), nil
		}
	}
	stored, err := t.mm.Bytes(int(m.offset), int(m.length))
	if err != nil {
		return nil, errors.Wrapf(err, "read block %d of %s", idx, t.handle.Path)
	}
	if err := utils.VerifyChecksum(stored, m.checksum); err != nil {
		return nil, errors.Wrapf(err, "block %d of %s", idx, t.handle.Path)
	}
	b, err := decodeBlock(stored, t.compressed)
	if err != nil {
		return nil, errors.Wrapf(err, "decode block %d of %s", idx, t.handle.Path)
	}
	if t.cache != nil {
		t.cache.Add(cacheKey, b)
	}
	return b, nil
}

// blockFor returns the index of the block that may contain key: the last
// block whose first key is <= key.
func (t *Table) blockFor(key []byte) int {
	cmp := t.opt.Comparable
	lo, hi := 0, len(t.metas)
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp.Compare(t.metas[mid].firstKey, key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0
	}
	return lo - 1
}

// TableIterator walks a table block by block.
type TableIterator struct {
	t      *Table
	bIdx   int
	bi     *BlockIterator
	err    error
	closed bool
}

func (iter *TableIterator) loadBlock(idx int) bool {
	if idx < 0 || idx >= len(iter.t.metas) {
		iter.bi = nil
		return false
	}
	b, err := iter.t.block(idx)
	if err != nil {
		iter.err = err
		iter.bi = nil
		return false
	}
	iter.bIdx = idx
	iter.bi = newBlockIterator(b, iter.t.opt.Comparable)
	return true
}

func (iter *TableIterator) Next() {
	if iter.bi == nil {
		return
	}
	iter.bi.Next()
	for !iter.bi.Valid() {
		if !iter.loadBlock(iter.bIdx + 1) {
			return
		}
	}
}

func (iter *TableIterator) Valid() bool {
	return iter.err == nil && iter.bi != nil && iter.bi.Valid()
}

func (iter *TableIterator) Rewind() {
	iter.err = nil
	if iter.loadBlock(0) {
		iter.bi.Rewind()
	}
}

func (iter *TableIterator) Seek(key []byte) {
	iter.err = nil
	if key == nil {
		iter.Rewind()
		return
	}
	if !iter.loadBlock(iter.t.blockFor(key)) {
		return
	}
	iter.bi.Seek(key)
	// The bound may fall past the end of this block but before the next.
	for !iter.bi.Valid() {
		if !iter.loadBlock(iter.bIdx + 1) {
			return
		}
		iter.bi.Seek(key)
	}
}

func (iter *TableIterator) Item() *utils.Entry {
	if iter.bi == nil {
		return nil
	}
	return iter.bi.Item()
}

func (iter *TableIterator) Error() error { return iter.err }

func (iter *TableIterator) Close() error {
	if iter.closed {
		return nil
	}
	iter.closed = true
	return iter.t.DecrRef()
}
