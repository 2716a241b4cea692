package utils

import "layerkv/utils/cmp"

// Options control the behavior of a tree and its flush engine.
type Options struct {
	Comparable cmp.Comparator
	WorkDir    string

	// MemTableSize is the threshold at which the mutable layer is
	// considered due for sealing.
	MemTableSize int64
	// BlockSize is the size of each data block inside a layer file, and
	// the alignment the layer writer pads the file to.
	BlockSize int
	// BlockCacheSize is the number of blocks the shared block cache holds.
	BlockCacheSize int
	// Compression enables snappy compression of data blocks.
	Compression bool

	// SplitRatioNum/SplitRatioDen tune the compaction split point: layer
	// selection stops at the first layer whose size satisfies
	// total*SplitRatioNum < size*SplitRatioDen. The default 4/3 stops when
	// the next layer is more than a third larger than everything batched
	// so far.
	SplitRatioNum int64
	SplitRatioDen int64

	// MaxIOConcurrency bounds concurrent layer I/O process-wide. Must stay
	// below the executor thread count.
	MaxIOConcurrency int64
}

// DefaultOptions returns a baseline configuration with a byte-ordered
// keyspace.
func DefaultOptions(dir string) *Options {
	return &Options{
		Comparable:       cmp.ByteComparator{},
		WorkDir:          dir,
		MemTableSize:     64 << 20,
		BlockSize:        4 << 10,
		BlockCacheSize:   1024,
		SplitRatioNum:    4,
		SplitRatioDen:    3,
		MaxIOConcurrency: 4,
	}
}
