package inode

import "errors"

// ErrFileTooLarge indicates a requested length or write offset would need a
// logical sector index beyond what the direct/single-indirect/double-indirect
// map can address.
var ErrFileTooLarge = errors.New("inode: file exceeds maximum size")

// ErrBadArgument indicates a negative byte offset passed to WriteAt.
var ErrBadArgument = errors.New("inode: bad argument")
