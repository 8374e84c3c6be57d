package fsys

import "errors"

// ErrBadArgument indicates a negative Create size. A negative Seek offset is
// reported as handle.ErrBadArgument.
var ErrBadArgument = errors.New("fsys: bad argument")
