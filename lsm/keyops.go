package lsm

import (
	"layerkv/utils"
	"layerkv/utils/cmp"
)

// KeyOps is the keyspace capability supplied by the object store: the total
// order over keys, the mergeable-key combination rule, and the
// major-compaction elision predicate.
//
// The engine never interprets keys or values itself; it only invokes these
// hooks at the right points in the merge order.
type KeyOps interface {
	cmp.Comparator

	// Mergeable reports whether left and right combine rather than
	// override. left precedes right in key order and their keys differ.
	Mergeable(left, right *utils.Entry) bool

	// Merge combines two mergeable entries into one. Precedence between
	// overlapping regions is decided by the keyspace, typically via the
	// entries' sequence numbers.
	Merge(left, right *utils.Entry) *utils.Entry

	// Elide reports whether e may be dropped from the output of a flush
	// that produces the only remaining layer. With nothing older left to
	// shadow, such entries are logically invisible.
	Elide(e *utils.Entry) bool
}

// BaseKeyOps is the plain keyspace: no mergeable keys, tombstones elided on
// major compaction.
type BaseKeyOps struct {
	cmp.Comparator
}

func (BaseKeyOps) Mergeable(left, right *utils.Entry) bool { return false }

func (BaseKeyOps) Merge(left, right *utils.Entry) *utils.Entry { return left }

func (BaseKeyOps) Elide(e *utils.Entry) bool { return e.Tombstone() }
