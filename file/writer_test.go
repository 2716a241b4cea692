package file

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockWriterAlignment(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBlockWriter(context.Background(), dir, 7, 512)
	require.NoError(t, err)

	n, err := w.Write(make([]byte, 700))
	require.NoError(t, err)
	assert.Equal(t, 700, n)
	assert.Equal(t, int64(700), w.Offset())

	h, err := w.Complete()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), h.Fid)
	assert.Equal(t, int64(1024), h.Size())

	fi, err := os.Stat(h.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), fi.Size())
}

func TestBlockWriterAbandon(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBlockWriter(context.Background(), dir, 3, 512)
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Abandon())

	_, err = os.Stat(FileNameLayer(dir, 3))
	assert.True(t, os.IsNotExist(err))
}

func TestBlockWriterRefusesExistingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(FileNameLayer(dir, 5), []byte("x"), 0666))
	_, err := NewBlockWriter(context.Background(), dir, 5, 512)
	assert.Error(t, err)
}

func TestBlockWriterCancelledContext(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	w, err := NewBlockWriter(ctx, dir, 9, 512)
	require.NoError(t, err)
	cancel()
	_, err = w.Write([]byte("data"))
	assert.Error(t, err)
	require.NoError(t, w.Abandon())
}

func TestSetMaxIOConcurrencyConcurrentWithWriters(t *testing.T) {
	dir := t.TempDir()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			SetMaxIOConcurrency(int64(g + 1))
			w, err := NewBlockWriter(context.Background(), dir, uint64(100+g), 512)
			if !assert.NoError(t, err) {
				return
			}
			for i := 0; i < 20; i++ {
				_, err := w.Write(make([]byte, 128))
				assert.NoError(t, err)
			}
			_, err = w.Complete()
			assert.NoError(t, err)
		}(g)
	}
	wg.Wait()
}

func TestFileNameLayer(t *testing.T) {
	path := FileNameLayer("/tmp/work", 42)
	assert.Equal(t, filepath.Join("/tmp/work", "000042.lay"), path)
	assert.Equal(t, uint64(42), FID(path))
	assert.Equal(t, uint64(0), FID("notalayer.txt"))
}
