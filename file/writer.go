package file

import (
	"context"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// ioPermits bounds concurrent layer I/O process-wide. Sized below the
// number of scheduler threads so blocking writes cannot starve it.
var (
	ioPermits   atomic.Pointer[semaphore.Weighted]
	ioConfigure sync.Once
)

func init() {
	ioPermits.Store(semaphore.NewWeighted(maxIOPermits(0)))
}

// SetMaxIOConcurrency sizes the process-wide I/O permit pool. Zero picks a
// bound from GOMAXPROCS. Only the first call takes effect: the pool cannot
// be resized under writers holding permits.
func SetMaxIOConcurrency(n int64) {
	ioConfigure.Do(func() {
		ioPermits.Store(semaphore.NewWeighted(maxIOPermits(n)))
	})
}

func maxIOPermits(n int64) int64 {
	if n <= 0 {
		n = int64(runtime.GOMAXPROCS(0)) - 1
	}
	if n < 2 {
		n = 2
	}
	return n
}

// WriteBytes is the sequential byte sink a new layer is materialized
// through during flush.
type WriteBytes interface {
	Write(p []byte) (int, error)
	// Offset returns the number of bytes written so far.
	Offset() int64
	// BlockSize returns the alignment the sink pads to on Complete.
	BlockSize() int
	// Complete pads the file to block alignment, syncs it, and returns the
	// handle of the finished layer.
	Complete() (*Handle, error)
	// Abandon discards the partially written file. Safe after any error;
	// nothing references the file yet.
	Abandon() error
}

// BlockWriter writes a layer file sequentially in block-sized steps. Each
// underlying write holds an I/O permit so a flush cannot monopolize the
// scheduler.
type BlockWriter struct {
	ctx       context.Context
	fd        *os.File
	fid       uint64
	path      string
	blockSize int
	offset    int64
}

// NewBlockWriter creates the layer file for fid under dir. The file is
// created fresh; an existing file with the same fid is an error because
// fids are never reused.
func NewBlockWriter(ctx context.Context, dir string, fid uint64, blockSize int) (*BlockWriter, error) {
	path := FileNameLayer(dir, fid)
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "create layer file %s", path)
	}
	return &BlockWriter{
		ctx:       ctx,
		fd:        fd,
		fid:       fid,
		path:      path,
		blockSize: blockSize,
	}, nil
}

func (w *BlockWriter) Write(p []byte) (int, error) {
	sem := ioPermits.Load()
	if err := sem.Acquire(w.ctx, 1); err != nil {
		return 0, err
	}
	n, err := w.fd.Write(p)
	sem.Release(1)
	w.offset += int64(n)
	if err != nil {
		return n, errors.Wrapf(err, "write layer file %s", w.path)
	}
	return n, nil
}

func (w *BlockWriter) Offset() int64 { return w.offset }

func (w *BlockWriter) BlockSize() int { return w.blockSize }

func (w *BlockWriter) Complete() (*Handle, error) {
	if pad := w.offset % int64(w.blockSize); pad != 0 {
		if _, err := w.Write(make([]byte, int64(w.blockSize)-pad)); err != nil {
			return nil, err
		}
	}
	if err := w.fd.Sync(); err != nil {
		return nil, errors.Wrapf(err, "sync layer file %s", w.path)
	}
	if err := w.fd.Close(); err != nil {
		return nil, errors.Wrapf(err, "close layer file %s", w.path)
	}
	return NewHandle(w.fid, w.path, w.offset, w.blockSize), nil
}

func (w *BlockWriter) Abandon() error {
	_ = w.fd.Close()
	return os.Remove(w.path)
}
