package blockdev

import "errors"

// Error classification codes.
//
// Callers MUST classify errors using errors.Is; implementations may wrap
// these with additional context via fmt.Errorf("...: %w", err).
var (
	// ErrOutOfRange indicates a sector index at or beyond the device's
	// sector count.
	ErrOutOfRange = errors.New("blockdev: sector out of range")

	// ErrClosed indicates an operation on a device that has already been
	// closed.
	ErrClosed = errors.New("blockdev: device closed")

	// ErrBadSize indicates a backing file whose length is not an exact
	// multiple of the sector size, or a requested sector count of zero.
	ErrBadSize = errors.New("blockdev: bad device size")
)
