package sstable

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"layerkv/file"
	"layerkv/utils"
)

func buildTable(t *testing.T, opt *utils.Options, n int) *Table {
	t.Helper()
	w, err := file.NewBlockWriter(context.Background(), opt.WorkDir, 1, opt.BlockSize)
	require.NoError(t, err)
	b := NewBuilder(opt, w)
	for i := 0; i < n; i++ {
		require.NoError(t, b.Add(&utils.Entry{
			Key:   []byte(fmt.Sprintf("key%05d", i)),
			Value: []byte(fmt.Sprintf("val%05d", i)),
			Seq:   uint64(i + 1),
		}))
	}
	h, err := b.Finish()
	require.NoError(t, err)
	assert.Zero(t, h.Size()%int64(opt.BlockSize))

	tbl, err := OpenTable(opt, 1, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tbl.DecrRef() })
	return tbl
}

func testOptions(t *testing.T) *utils.Options {
	opt := utils.DefaultOptions(t.TempDir())
	opt.BlockSize = 256 // small blocks so even short runs span several
	return opt
}

func TestTableRoundtrip(t *testing.T) {
	opt := testOptions(t)
	tbl := buildTable(t, opt, 500)
	require.Greater(t, len(tbl.metas), 1)

	iter := tbl.Seek(nil)
	defer func() { _ = iter.Close() }()
	count := 0
	for ; iter.Valid(); iter.Next() {
		e := iter.Item()
		assert.Equal(t, fmt.Sprintf("key%05d", count), string(e.Key))
		assert.Equal(t, fmt.Sprintf("val%05d", count), string(e.Value))
		assert.Equal(t, uint64(count+1), e.Seq)
		count++
	}
	require.NoError(t, iter.Error())
	assert.Equal(t, 500, count)
}

func TestTableSeek(t *testing.T) {
	opt := testOptions(t)
	tbl := buildTable(t, opt, 500)

	iter := tbl.Seek([]byte("key00123"))
	defer func() { _ = iter.Close() }()
	require.True(t, iter.Valid())
	assert.Equal(t, []byte("key00123"), iter.Item().Key)

	// Between two keys: lands on the next one.
	iter.Seek([]byte("key00123a"))
	require.True(t, iter.Valid())
	assert.Equal(t, []byte("key00124"), iter.Item().Key)

	// Before the first key.
	iter.Seek([]byte("aaa"))
	require.True(t, iter.Valid())
	assert.Equal(t, []byte("key00000"), iter.Item().Key)

	// Past the last key.
	iter.Seek([]byte("zzz"))
	assert.False(t, iter.Valid())
	assert.NoError(t, iter.Error())
}

func TestTableCompressedRoundtrip(t *testing.T) {
	opt := testOptions(t)
	opt.Compression = true
	tbl := buildTable(t, opt, 500)

	iter := tbl.Seek([]byte("key00400"))
	defer func() { _ = iter.Close() }()
	count := 0
	for ; iter.Valid(); iter.Next() {
		count++
	}
	require.NoError(t, iter.Error())
	assert.Equal(t, 100, count)
}

func TestTableHandle(t *testing.T) {
	opt := testOptions(t)
	tbl := buildTable(t, opt, 100)
	h := tbl.Handle()
	require.NotNil(t, h)
	assert.Equal(t, uint64(1), h.Fid)
	assert.Equal(t, opt.BlockSize, h.BlockSize())
	assert.Positive(t, h.Size())
}

func TestTableCorruptBlock(t *testing.T) {
	opt := testOptions(t)
	path := buildTable(t, opt, 500).Handle().Path

	// Flip a byte inside the first data block.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[10] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0666))

	reopened, err := OpenTable(opt, 1, nil)
	require.NoError(t, err)
	defer func() { _ = reopened.DecrRef() }()

	iter := reopened.Seek(nil)
	defer func() { _ = iter.Close() }()
	assert.False(t, iter.Valid())
	assert.ErrorIs(t, iter.Error(), utils.ErrChecksumMismatch)
}

func TestTableBadMagic(t *testing.T) {
	opt := testOptions(t)
	path := buildTable(t, opt, 10).Handle().Path

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0666))

	_, err = OpenTable(opt, 1, nil)
	assert.Error(t, err)
}
