package mnist

import "errors"

// Common errors.
var (
	ErrNotFound         = errors.New("mnist dataset not found")
	ErrFormat           = errors.New("malformed mnist file")
	ErrChecksumMismatch = errors.New("checksum mismatch: file may be corrupted")
)
