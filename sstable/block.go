package sstable

import (
	"io"
	"unsafe"

	"github.com/klauspost/compress/snappy"

	"layerkv/utils"
	"layerkv/utils/cmp"
)

// Block is one decoded data block of a layer file.
//
// Payload layout before optional compression:
//
//	+----------------------------------------------------+
//	| entries | entry offsets | num offsets (u32)        |
//	+----------------------------------------------------+
//
// Each entry:
//
//	+--------------------------------------------------------+
//	| header | diff key | meta (u8) | seq (u64) | value      |
//	+--------------------------------------------------------+
type Block struct {
	Data         []byte
	BaseKey      []byte
	EntryOffsets []uint32
	End          int
}

// Header precedes every entry: the length of the prefix shared with the
// block's base key and the length of the differing suffix.
type Header struct {
	Overlap uint16
	Diff    uint16
}

const headerSize = int(unsafe.Sizeof(Header{}))

func (h Header) encode() []byte {
	var b [4]byte
	*(*Header)(unsafe.Pointer(&b[0])) = h
	return b[:]
}

func (h *Header) decode(buf []byte) {
	copy((*[headerSize]byte)(unsafe.Pointer(h))[:], buf[:headerSize])
}

// decodeBlock parses a stored block payload, decompressing it first when
// the table was written with compression. The payload is copied out of the
// mapped file so cached blocks stay valid after the layer is unmapped.
func decodeBlock(stored []byte, compressed bool) (*Block, error) {
	var payload []byte
	if compressed {
		var err error
		payload, err = snappy.Decode(nil, stored)
		if err != nil {
			return nil, err
		}
	} else {
		payload = append([]byte(nil), stored...)
	}
	b := &Block{}
	off := len(payload) - 4
	numEntries := int(utils.BytesToU32(payload[off:]))
	off -= numEntries * 4
	b.EntryOffsets = utils.BytesToU32Slice(payload[off : off+numEntries*4])
	b.Data = payload[:off]
	b.End = off
	if numEntries > 0 {
		h := Header{}
		h.decode(b.Data[b.EntryOffsets[0]:])
		base := b.Data[b.EntryOffsets[0]+uint32(headerSize):]
		b.BaseKey = base[:h.Diff]
	}
	return b, nil
}

// readEntry decodes the entry starting at buf, which spans sz bytes.
func (b *Block) readEntry(buf []byte, sz uint32) *utils.Entry {
	h := Header{}
	h.decode(buf)
	key := make([]byte, int(h.Overlap)+int(h.Diff))
	copy(key, b.BaseKey[:h.Overlap])
	copy(key[h.Overlap:], buf[headerSize:headerSize+int(h.Diff)])

	pos := headerSize + int(h.Diff)
	meta := buf[pos]
	seq := utils.BytesToU64(buf[pos+1 : pos+9])
	value := buf[pos+9 : sz]
	return &utils.Entry{Key: key, Value: value, Meta: meta, Seq: seq}
}

func (b *Block) entry(idx int) *utils.Entry {
	end := uint32(b.End)
	if idx+1 < len(b.EntryOffsets) {
		end = b.EntryOffsets[idx+1]
	}
	return b.readEntry(b.Data[b.EntryOffsets[idx]:], end-b.EntryOffsets[idx])
}

// BlockIterator walks the entries of one block.
type BlockIterator struct {
	block *Block
	cmp   cmp.Comparator
	idx   int
	it    *utils.Entry
	err   error
}

func newBlockIterator(b *Block, cmp cmp.Comparator) *BlockIterator {
	iter := &BlockIterator{block: b, cmp: cmp}
	iter.setIdx(0)
	return iter
}

func (iter *BlockIterator) setIdx(idx int) {
	iter.idx = idx
	if idx < 0 || idx >= len(iter.block.EntryOffsets) {
		iter.err = io.EOF
		iter.it = nil
		return
	}
	iter.err = nil
	iter.it = iter.block.entry(idx)
}

func (iter *BlockIterator) Next() {
	iter.setIdx(iter.idx + 1)
}

func (iter *BlockIterator) Valid() bool {
	return iter.err != io.EOF && iter.it != nil
}

func (iter *BlockIterator) Rewind() {
	iter.setIdx(0)
}

// Seek positions the iterator at the first entry with key >= key.
func (iter *BlockIterator) Seek(key []byte) {
	if key == nil {
		iter.Rewind()
		return
	}
	lo, hi := 0, len(iter.block.EntryOffsets)
	for lo < hi {
		mid := (lo + hi) / 2
		iter.setIdx(mid)
		if iter.cmp.Compare(iter.it.Key, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	iter.setIdx(lo)
}

func (iter *BlockIterator) Item() *utils.Entry { return iter.it }

func (iter *BlockIterator) Error() error {
	if iter.err == io.EOF {
		return nil
	}
	return iter.err
}

func (iter *BlockIterator) Close() error { return nil }
