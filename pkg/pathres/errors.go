package pathres

import "errors"

// ErrNotADirectory indicates a non-final path component named a file, or a
// caller asked to Chdir into something that isn't a directory.
var ErrNotADirectory = errors.New("pathres: not a directory")

// ErrInvalidPath indicates a path with no final component to resolve (e.g.
// "/" or "" passed where a name is required, as for create/remove/mkdir).
var ErrInvalidPath = errors.New("pathres: path has no final component")
