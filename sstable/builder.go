package sstable

import (
	"github.com/klauspost/compress/snappy"
	"github.com/pkg/errors"

	"layerkv/file"
	"layerkv/utils"
)

// Layer file layout:
//
//	+--------------------------------------------------------------+
//	| block 0 | block 1 | ... | index | padding | footer           |
//	+--------------------------------------------------------------+
//
// Index:
//
//	num blocks (u32), then per block:
//	key len (u16) | first key | offset (u32) | len (u32) | checksum (u64)
//
// Footer (fixed 28 bytes, ends on a block boundary):
//
//	index offset (u32) | index len (u32) | index checksum (u64) |
//	flags (u32) | magic (8 bytes)
const (
	footerSize = 28

	flagCompression uint32 = 1 << 0
)

type blockMeta struct {
	firstKey []byte
	offset   uint32
	length   uint32
	checksum uint64
}

// Builder streams entries into a layer file through a WriteBytes sink. It
// keeps at most one data block in memory; finished blocks are written out
// immediately.
type Builder struct {
	opt *utils.Options
	w   file.WriteBytes

	curBlock *Block
	metas    []blockMeta
	keyCount int
	err      error
}

func NewBuilder(opt *utils.Options, w file.WriteBytes) *Builder {
	return &Builder{opt: opt, w: w}
}

// Add appends an entry. Entries must arrive in strictly increasing key
// order.
func (b *Builder) Add(e *utils.Entry) error {
	if b.err != nil {
		return b.err
	}
	if b.tryFinishBlock(e) {
		if err := b.finishBlock(); err != nil {
			return err
		}
		b.curBlock = &Block{Data: make([]byte, b.opt.BlockSize)}
	}

	key := e.Key
	var diffKey []byte
	if len(b.curBlock.BaseKey) == 0 {
		b.curBlock.BaseKey = append(b.curBlock.BaseKey[:0], key...)
		diffKey = key
	} else {
		diffKey = b.keyDiff(key)
	}
	h := Header{
		Overlap: uint16(len(key) - len(diffKey)),
		Diff:    uint16(len(diffKey)),
	}
	b.curBlock.EntryOffsets = append(b.curBlock.EntryOffsets, uint32(b.curBlock.End))

	b.append(h.encode())
	b.append(diffKey)
	b.append([]byte{e.Meta})
	b.append(utils.U64ToBytes(e.Seq))
	b.append(e.Value)
	b.keyCount++
	return nil
}

// Empty reports whether nothing has been added yet.
func (b *Builder) Empty() bool {
	return b.keyCount == 0
}

// Finish writes the last block, the index and the footer, then completes
// the sink. The caller owns the returned handle.
func (b *Builder) Finish() (*file.Handle, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.finishBlock(); err != nil {
		return nil, err
	}

	index := b.buildIndex()
	indexOffset := uint32(b.w.Offset())
	if _, err := b.w.Write(index); err != nil {
		return nil, b.fail(err)
	}

	// Pad so the footer ends exactly on a block boundary.
	blockSize := int64(b.w.BlockSize())
	if over := (b.w.Offset() + footerSize) % blockSize; over != 0 {
		if _, err := b.w.Write(make([]byte, blockSize-over)); err != nil {
			return nil, b.fail(err)
		}
	}

	var flags uint32
	if b.opt.Compression {
		flags |= flagCompression
	}
	footer := make([]byte, 0, footerSize)
	footer = append(footer, utils.U32ToBytes(indexOffset)...)
	footer = append(footer, utils.U32ToBytes(uint32(len(index)))...)
	footer = append(footer, utils.U64ToBytes(utils.CalculateChecksum(index))...)
	footer = append(footer, utils.U32ToBytes(flags)...)
	footer = append(footer, utils.MagicText[:]...)
	if _, err := b.w.Write(footer); err != nil {
		return nil, b.fail(err)
	}
	return b.w.Complete()
}

func (b *Builder) buildIndex() []byte {
	index := utils.U32ToBytes(uint32(len(b.metas)))
	for _, m := range b.metas {
		index = append(index, utils.U16ToBytes(uint16(len(m.firstKey)))...)
		index = append(index, m.firstKey...)
		index = append(index, utils.U32ToBytes(m.offset)...)
		index = append(index, utils.U32ToBytes(m.length)...)
		index = append(index, utils.U64ToBytes(m.checksum)...)
	}
	return index
}

// finishBlock seals curBlock: appends the entry offsets, compresses if
// enabled, writes the stored bytes and records the index meta.
func (b *Builder) finishBlock() error {
	if b.curBlock == nil || len(b.curBlock.EntryOffsets) == 0 {
		return nil
	}
	b.append(utils.U32SliceToBytes(b.curBlock.EntryOffsets))
	b.append(utils.U32ToBytes(uint32(len(b.curBlock.EntryOffsets))))

	stored := b.curBlock.Data[:b.curBlock.End]
	if b.opt.Compression {
		stored = snappy.Encode(nil, stored)
	}
	meta := blockMeta{
		firstKey: append([]byte(nil), b.curBlock.BaseKey...),
		offset:   uint32(b.w.Offset()),
		length:   uint32(len(stored)),
		checksum: utils.CalculateChecksum(stored),
	}
	if _, err := b.w.Write(stored); err != nil {
		return b.fail(err)
	}
	b.metas = append(b.metas, meta)
	b.curBlock = nil
	return nil
}

func (b *Builder) tryFinishBlock(e *utils.Entry) bool {
	if b.curBlock == nil {
		return true
	}
	if len(b.curBlock.EntryOffsets) == 0 {
		return false
	}
	entriesOffsetsSize := int64(len(b.curBlock.EntryOffsets)+1)*4 + 4
	kvSize := int64(headerSize) + int64(len(e.Key)) + 9 + int64(len(e.Value))
	return int64(b.curBlock.End)+kvSize+entriesOffsetsSize > int64(b.opt.BlockSize)
}

func (b *Builder) keyDiff(newKey []byte) []byte {
	var i int
	for i = 0; i < len(newKey) && i < len(b.curBlock.BaseKey); i++ {
		if newKey[i] != b.curBlock.BaseKey[i] {
			break
		}
	}
	return newKey[i:]
}

// append grows curBlock.Data as needed and copies data in.
func (b *Builder) append(data []byte) {
	bb := b.curBlock
	if len(bb.Data[bb.End:]) < len(data) {
		sz := 2 * len(bb.Data)
		if bb.End+len(data) > sz {
			sz = bb.End + len(data)
		}
		tmp := make([]byte, sz)
		copy(tmp, bb.Data)
		bb.Data = tmp
	}
	bb.End += copy(bb.Data[bb.End:], data)
}

func (b *Builder) fail(err error) error {
	if b.err == nil {
		b.err = errors.Wrap(err, "layer builder")
	}
	return b.err
}
