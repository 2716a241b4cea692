package lsm

import "layerkv/utils"

// MergeIterator composes iterators over several layers, ordered newest
// first, into one logical sorted stream. When multiple layers hold an entry
// for the same key the newest layer's entry wins; entries under mergeable
// keys are combined through the keyspace's merge rule. The iterator
// streams: it holds at most one entry per source at a time.
type MergeIterator struct {
	iters []utils.Iterator
	ops   KeyOps
	cur   *utils.Entry
	err   error
}

// NewMergeIterator takes ownership of iters, which must be ordered newest
// first. Closing the merge iterator closes them.
func NewMergeIterator(iters []utils.Iterator, ops KeyOps) *MergeIterator {
	return &MergeIterator{iters: iters, ops: ops}
}

func (m *MergeIterator) Rewind() {
	for _, it := range m.iters {
		it.Rewind()
	}
	m.advance()
}

func (m *MergeIterator) Seek(key []byte) {
	for _, it := range m.iters {
		it.Seek(key)
	}
	m.advance()
}

func (m *MergeIterator) Next() {
	m.advance()
}

func (m *MergeIterator) Valid() bool {
	return m.err == nil && m.cur != nil
}

func (m *MergeIterator) Item() *utils.Entry { return m.cur }

func (m *MergeIterator) Error() error {
	if m.err != nil {
		return m.err
	}
	for _, it := range m.iters {
		if err := it.Error(); err != nil {
			return err
		}
	}
	return nil
}

func (m *MergeIterator) Close() error {
	var firstErr error
	for _, it := range m.iters {
		if err := it.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// smallest returns the index of the iterator positioned at the smallest
// key, ties going to the newest layer, or -1 when all are exhausted.
func (m *MergeIterator) smallest() int {
	idx := -1
	for i, it := range m.iters {
		if err := it.Error(); err != nil {
			m.err = err
			return -1
		}
		if !it.Valid() {
			continue
		}
		if idx == -1 || m.ops.Compare(it.Item().Key, m.iters[idx].Item().Key) < 0 {
			idx = i
		}
	}
	return idx
}

// skipOlder drops entries for key from layers older than from.
func (m *MergeIterator) skipOlder(from int, key []byte) {
	for i := from + 1; i < len(m.iters); i++ {
		it := m.iters[i]
		for it.Valid() && m.ops.Compare(it.Item().Key, key) == 0 {
			it.Next()
		}
	}
}

func (m *MergeIterator) advance() {
	idx := m.smallest()
	if idx == -1 {
		m.cur = nil
		return
	}
	e := m.iters[idx].Item()
	m.iters[idx].Next()
	m.skipOlder(idx, e.Key)

	// Combine mergeable neighbors. The merged entry may in turn merge with
	// the next one, so keep going until the relation breaks.
	for {
		j := m.smallest()
		if j == -1 {
			break
		}
		next := m.iters[j].Item()
		if !m.ops.Mergeable(e, next) {
			break
		}
		m.iters[j].Next()
		m.skipOlder(j, next.Key)
		e = m.ops.Merge(e, next)
	}
	m.cur = e
}

// filterIterator drops entries the keep predicate rejects. Used for the
// major-compaction elision pass and for hiding tombstones from reads.
type filterIterator struct {
	src  utils.Iterator
	keep func(*utils.Entry) bool
}

func newFilterIterator(src utils.Iterator, keep func(*utils.Entry) bool) *filterIterator {
	return &filterIterator{src: src, keep: keep}
}

func (f *filterIterator) settle() {
	for f.src.Valid() && !f.keep(f.src.Item()) {
		f.src.Next()
	}
}

func (f *filterIterator) Next() {
	f.src.Next()
	f.settle()
}

func (f *filterIterator) Rewind() {
	f.src.Rewind()
	f.settle()
}

func (f *filterIterator) Seek(key []byte) {
	f.src.Seek(key)
	f.settle()
}

func (f *filterIterator) Valid() bool        { return f.src.Valid() }
func (f *filterIterator) Item() *utils.Entry { return f.src.Item() }
func (f *filterIterator) Error() error       { return f.src.Error() }
func (f *filterIterator) Close() error       { return f.src.Close() }
