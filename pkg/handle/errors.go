package handle

import "errors"

var (
	// ErrTableFull indicates every non-reserved slot is currently in use.
	ErrTableFull = errors.New("handle: table is full")

	// ErrBadHandle indicates a handle number outside the table's range, or a
	// reserved/unopened slot.
	ErrBadHandle = errors.New("handle: invalid handle")

	// ErrBadArgument indicates a file-only operation (read/write/seek/tell/
	// filesize) was given a directory handle. FileHandle.Seek also returns it
	// for a negative offset.
	ErrBadArgument = errors.New("handle: operation not valid on a directory handle")

	// ErrNotADirectory indicates a directory-only operation (readdir) was
	// given a file handle.
	ErrNotADirectory = errors.New("handle: operation not valid on a file handle")
)
