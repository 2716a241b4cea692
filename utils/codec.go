package utils

import (
	"hash/crc32"

	"github.com/pkg/errors"
)

var (
	// MagicText identifies a layer file footer.
	MagicText = [...]byte{'L', 'A', 'Y', 'E', 'R', 'K', 'V', '1'}
	// CastagnoliCrcTable is the CRC32 polynomial table used for all
	// on-disk checksums.
	CastagnoliCrcTable = crc32.MakeTable(crc32.Castagnoli)
)

// CalculateChecksum returns the CRC32-Castagnoli checksum of data, widened
// to 64 bits to match the on-disk field.
func CalculateChecksum(data []byte) uint64 {
	return uint64(crc32.Checksum(data, CastagnoliCrcTable))
}

// VerifyChecksum recomputes the checksum of data and compares it against
// expected.
func VerifyChecksum(data []byte, expected uint64) error {
	if CalculateChecksum(data) != expected {
		return errors.Wrapf(ErrChecksumMismatch, "expected %x", expected)
	}
	return nil
}
