package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumVerify(t *testing.T) {
	data := []byte("block payload")
	sum := CalculateChecksum(data)
	require.NoError(t, VerifyChecksum(data, sum))

	data[0] ^= 0xff
	err := VerifyChecksum(data, sum)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestConvertRoundtrip(t *testing.T) {
	assert.Equal(t, uint16(0xbeef), BytesToU16(U16ToBytes(0xbeef)))
	assert.Equal(t, uint32(0xdeadbeef), BytesToU32(U32ToBytes(0xdeadbeef)))
	assert.Equal(t, uint64(1)<<40|7, BytesToU64(U64ToBytes(uint64(1)<<40|7)))
}

func TestEntryTombstone(t *testing.T) {
	e := &Entry{Key: []byte("k"), Value: []byte("v")}
	assert.False(t, e.Tombstone())
	e.Meta |= BitTombstone
	assert.True(t, e.Tombstone())
}
