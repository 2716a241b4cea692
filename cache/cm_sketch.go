package cache

import (
	"math/rand"
	"time"
)

const cmDepth = 4

// cmSketch is a count-min sketch with 4-bit counters, used as the TinyLFU
// frequency estimator.
type cmSketch struct {
	rows [cmDepth]cmRow
	seed [cmDepth]uint64
	mask uint64
}

func newCmSketch(numCounters int64) *cmSketch {
	if numCounters <= 0 {
		panic("cmSketch: invalid numCounters")
	}
	numCounters = next2Power(numCounters)
	if numCounters < 2 {
		numCounters = 2
	}
	sketch := &cmSketch{mask: uint64(numCounters - 1)}
	source := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < cmDepth; i++ {
		sketch.seed[i] = source.Uint64()
		sketch.rows[i] = newCmRow(numCounters)
	}
	return sketch
}

func (s *cmSketch) Increment(hashed uint64) {
	for i := range s.rows {
		s.rows[i].increment((hashed ^ s.seed[i]) & s.mask)
	}
}

func (s *cmSketch) Estimate(hashed uint64) int64 {
	min := byte(255)
	for i := range s.rows {
		if v := s.rows[i].get((hashed ^ s.seed[i]) & s.mask); v < min {
			min = v
		}
	}
	return int64(min)
}

// Reset halves all counter values so old traffic ages out.
func (s *cmSketch) Reset() {
	for _, r := range s.rows {
		r.reset()
	}
}

func next2Power(x int64) int64 {
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	x++
	return x
}

// cmRow packs two 4-bit counters per byte.
type cmRow []byte

func newCmRow(numCounters int64) cmRow {
	return make(cmRow, numCounters/2)
}

func (r cmRow) increment(n uint64) {
	i := n / 2
	s := (n & 1) * 4
	if v := (r[i] >> s) & 0x0f; v < 15 {
		r[i] += 1 << s
	}
}

func (r cmRow) get(n uint64) byte {
	return r[n/2] >> ((n & 1) * 4) & 0x0f
}

func (r cmRow) reset() {
	for i := range r {
		r[i] = (r[i] >> 1) & 0x77
	}
}
