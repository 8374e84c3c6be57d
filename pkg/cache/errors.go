package cache

import "errors"

// ErrBadRange indicates a [start,end) byte range outside [0, SectorSize] or
// with start > end, asserted per spec §9's note that the source's
// bounded_read/bounded_write never validated their range arguments.
var ErrBadRange = errors.New("cache: bad byte range")

// ErrClosed is a sentinel for a cache that no longer accepts work. No Cache
// method returns it: Reset and Flush leave the cache usable.
var ErrClosed = errors.New("cache: closed")
