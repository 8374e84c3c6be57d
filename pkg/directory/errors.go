package directory

import "errors"

var (
	// ErrNotFound indicates a lookup found no entry with the given name.
	ErrNotFound = errors.New("directory: entry not found")

	// ErrExists indicates add() was asked to create a name that is already
	// in use.
	ErrExists = errors.New("directory: entry already exists")

	// ErrNameTooLong indicates a name longer than NameMax bytes.
	ErrNameTooLong = errors.New("directory: name too long")

	// ErrEmptyName indicates an empty name was passed to add().
	ErrEmptyName = errors.New("directory: name is empty")

	// ErrNotEmpty indicates remove() was asked to delete a non-empty
	// subdirectory's entry, or a caller tried to remove a non-empty
	// directory outright.
	ErrNotEmpty = errors.New("directory: directory is not empty")

	// ErrReservedName indicates an attempt to remove "." or "..".
	ErrReservedName = errors.New("directory: \".\" and \"..\" cannot be removed")
)
