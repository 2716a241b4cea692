package utils

import "github.com/pkg/errors"

var (
	ErrEmptyKey         = errors.New("key cannot be empty")
	ErrKeyNotFound      = errors.New("key not found")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrClosed           = errors.New("tree is closed")

	// ErrMissingHandle means a persisted layer had no backing handle where
	// the selection algorithm required one. This is a logic error, not an
	// I/O error: the layer-set invariants were violated.
	ErrMissingHandle = errors.New("layer handle missing")
)

// Panic panics on a non-nil err. Used only for conditions that indicate a
// programming error.
func Panic(err error) {
	if err != nil {
		panic(err)
	}
}

// CondPanic panics with err when condition holds.
func CondPanic(condition bool, err error) {
	if condition {
		Panic(err)
	}
}
