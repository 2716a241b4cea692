package utils

import "encoding/binary"

func U16ToBytes(v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return b[:]
}

func BytesToU16(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

func U32ToBytes(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func BytesToU32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

func U64ToBytes(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

func BytesToU64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

func U32SliceToBytes(u32s []uint32) []byte {
	b := make([]byte, 4*len(u32s))
	for i, v := range u32s {
		binary.LittleEndian.PutUint32(b[i*4:], v)
	}
	return b
}

func BytesToU32Slice(b []byte) []uint32 {
	u32s := make([]uint32, len(b)/4)
	for i := range u32s {
		u32s[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return u32s
}
