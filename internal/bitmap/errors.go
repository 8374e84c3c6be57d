package bitmap

import "errors"

// ErrOutOfSpace indicates the allocator could not find a contiguous run of
// free sectors of the requested length.
var ErrOutOfSpace = errors.New("bitmap: out of space")

// ErrInvalidRange indicates a Release call referencing sectors outside the
// bitmap's managed range, or a zero-length request.
var ErrInvalidRange = errors.New("bitmap: invalid range")
