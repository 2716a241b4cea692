package utils

// Meta bits carried by every Entry.
const (
	// BitTombstone marks a logical delete. A tombstone shadows any entry
	// for the same key in older layers until a major compaction drops it.
	BitTombstone byte = 1 << 0
)

// Entry is the fundamental element of every layer and iterator: an ordered
// key, an opaque value, the sequence number assigned at insert time and a
// meta byte.
type Entry struct {
	Key   []byte
	Value []byte
	Meta  byte
	Seq   uint64
}

// Tombstone reports whether the entry is a delete marker.
func (e *Entry) Tombstone() bool {
	return e.Meta&BitTombstone != 0
}

// EstimateSize returns the in-memory footprint charged against the mutable
// layer budget.
func (e *Entry) EstimateSize() int64 {
	// key + value + meta + seq
	return int64(len(e.Key)) + int64(len(e.Value)) + 1 + 8
}

// Iterator is a lazy, restartable, seekable sequence of entries in key
// order. Next past the end leaves the iterator invalid; Rewind restarts it.
// Iteration never mutates the underlying layer.
type Iterator interface {
	Next()
	Valid() bool
	Rewind()
	// Seek positions the iterator at the first entry with key >= key.
	// A nil key is the unbounded seek and is equivalent to Rewind.
	Seek(key []byte)
	Item() *Entry
	// Error reports an I/O or corruption error hit while iterating.
	// Exhaustion is not an error.
	Error() error
	Close() error
}
