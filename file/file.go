package file

import (
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

const layerFileExt = ".lay"

// FileNameLayer joins the on-disk name of a layer file.
func FileNameLayer(dir string, fid uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%06d%s", fid, layerFileExt))
}

// FID extracts the layer id from a layer file name, or 0 if the name is not
// a layer file.
func FID(name string) uint64 {
	name = path.Base(name)
	if !strings.HasSuffix(name, layerFileExt) {
		return 0
	}
	name = strings.TrimSuffix(name, layerFileExt)
	id, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Handle describes the backing storage of a persisted layer. In-memory
// layers have no handle.
type Handle struct {
	Fid  uint64
	Path string

	size      int64
	blockSize int
}

func NewHandle(fid uint64, path string, size int64, blockSize int) *Handle {
	return &Handle{Fid: fid, Path: path, size: size, blockSize: blockSize}
}

// Size returns the byte size of the backing file.
func (h *Handle) Size() int64 { return h.size }

// BlockSize returns the block alignment the file was written with.
func (h *Handle) BlockSize() int { return h.blockSize }
