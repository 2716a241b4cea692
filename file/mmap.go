package file

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// MmapFile is a read-only memory-mapped layer file: the buffer to the data
// plus the file descriptor.
type MmapFile struct {
	Data []byte
	Fd   *os.File
}

// OpenMmapFile maps an existing file read-only.
func OpenMmapFile(filename string) (*MmapFile, error) {
	fd, err := os.OpenFile(filename, os.O_RDONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open: %s", filename)
	}
	fi, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		return nil, errors.Wrapf(err, "cannot stat: %s", filename)
	}
	data, err := mmap(fd, false, fi.Size())
	if err != nil {
		_ = fd.Close()
		return nil, errors.Wrapf(err, "mmapping %s with size %d", filename, fi.Size())
	}
	return &MmapFile{Data: data, Fd: fd}, nil
}

// Bytes returns data starting at offset off of size sz. Returns io.EOF when
// the range falls outside the mapping.
func (m *MmapFile) Bytes(off, sz int) ([]byte, error) {
	if off < 0 || sz < 0 || off+sz > len(m.Data) {
		return nil, io.EOF
	}
	return m.Data[off : off+sz], nil
}

// Size returns the mapped size.
func (m *MmapFile) Size() int64 {
	return int64(len(m.Data))
}

// Close unmaps and closes the file.
func (m *MmapFile) Close() error {
	if m.Fd == nil {
		return nil
	}
	if err := munmap(m.Data); err != nil {
		_ = m.Fd.Close()
		return err
	}
	return m.Fd.Close()
}

// Delete unmaps, closes and removes the file.
func (m *MmapFile) Delete() error {
	name := m.Fd.Name()
	if err := m.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}
