package lsm

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"layerkv/utils/cmp"
)

func TestMemTablePutGet(t *testing.T) {
	m := NewMemTable(cmp.ByteComparator{})
	m.Put(entry("a", "1", 1))
	m.Put(entry("b", "2", 2))

	e, ok := m.Get([]byte("a"))
	require.True(t, ok)
	assert.Equal(t, []byte("1"), e.Value)

	_, ok = m.Get([]byte("missing"))
	assert.False(t, ok)

	// Replacement keeps a single entry per key.
	m.Put(entry("a", "3", 3))
	e, _ = m.Get([]byte("a"))
	assert.Equal(t, []byte("3"), e.Value)
	assert.Equal(t, 2, m.Len())
}

func TestMemTableSeek(t *testing.T) {
	m := NewMemTable(cmp.ByteComparator{})
	for _, k := range []string{"d", "a", "c", "e", "b"} {
		m.Put(entry(k, k, 1))
	}
	iter := m.Seek([]byte("b"))
	defer func() { _ = iter.Close() }()
	var keys []string
	for ; iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Item().Key))
	}
	assert.Equal(t, []string{"b", "c", "d", "e"}, keys)

	iter.Rewind()
	assert.Equal(t, []byte("a"), iter.Item().Key)
}

func TestMemTableSealFreezesSnapshot(t *testing.T) {
	m := NewMemTable(cmp.ByteComparator{})
	m.Put(entry("a", "1", 1))
	m.Seal()

	// Iterators over the sealed table use the frozen snapshot.
	iter := m.Seek(nil)
	require.True(t, iter.Valid())
	assert.Equal(t, []byte("a"), iter.Item().Key)
	iter.Next()
	assert.False(t, iter.Valid())
	require.NoError(t, iter.Close())

	assert.Nil(t, m.Handle())
}

func TestMemTableConcurrentPut(t *testing.T) {
	m := NewMemTable(cmp.ByteComparator{})
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				m.Put(entry(fmt.Sprintf("key%d-%05d", g, i), "v", uint64(i)))
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 4000, m.Len())

	iter := m.Seek(nil)
	defer func() { _ = iter.Close() }()
	prev := []byte(nil)
	count := 0
	for ; iter.Valid(); iter.Next() {
		if prev != nil {
			assert.Negative(t, cmp.ByteComparator{}.Compare(prev, iter.Item().Key))
		}
		prev = iter.Item().Key
		count++
	}
	assert.Equal(t, 4000, count)
}
