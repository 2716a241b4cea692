package cmp

import "bytes"

// Comparator defines a total order over keys.
type Comparator interface {
	Compare(a, b []byte) int
}

// ByteComparator orders keys lexicographically.
type ByteComparator struct{}

func (ByteComparator) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// IntComparator orders keys by their decimal value, falling back to byte
// order on equal values. Useful for tests that insert formatted integers.
type IntComparator struct{}

func (IntComparator) Compare(a, b []byte) int {
	va, vb := calc(a), calc(b)
	if va == vb {
		return bytes.Compare(a, b)
	}
	if va < vb {
		return -1
	}
	return 1
}

func calc(key []byte) int {
	var value int
	for i := 0; i < len(key); i++ {
		value = value*10 + int(key[i]) - '0'
	}
	return value
}
