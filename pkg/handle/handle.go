// Package handle implements the per-process Handle Table (C7): a fixed set
// of slots indexing into either an open file or an open directory. Handles
// 0 and 1 are reserved for standard I/O and are never handed out.
package handle

import (
	"sync"

	"github.com/minkikim98/pintosfs/pkg/directory"
	"github.com/minkikim98/pintosfs/pkg/inode"
)

// NumSlots is the number of descriptor slots per process.
const NumSlots = 128

// Reserved is the number of low handles never allocated (0, 1: stdio).
const Reserved = 2

// Kind distinguishes what a slot holds.
type Kind int

const (
	kindFile Kind = iota
	kindDir
)

// FileHandle is an open file: an inode plus an independent seek cursor.
// Read/Write/Seek/Tell serialize access to that cursor so a single handle
// can be safely shared by concurrent callers, mirroring the per-inode mutex
// one layer down.
type FileHandle struct {
	mu    sync.Mutex
	table *inode.Table
	in    *inode.Inode
	pos   int64
}

// Inode returns the underlying inode.
func (fh *FileHandle) Inode() *inode.Inode { return fh.in }

// Read reads into buf at the handle's current position, advancing it by the
// number of bytes read.
func (fh *FileHandle) Read(buf []byte) (int, error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	n, err := fh.in.ReadAt(buf, fh.pos)
	fh.pos += int64(n)

	return n, err
}

// Write writes buf at the handle's current position, advancing it by the
// number of bytes written.
func (fh *FileHandle) Write(buf []byte) (int, error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	n, err := fh.in.WriteAt(buf, fh.pos)
	fh.pos += int64(n)

	return n, err
}

// Seek repositions the handle's cursor to an absolute byte offset.
func (fh *FileHandle) Seek(pos int64) error {
	if pos < 0 {
		return ErrBadArgument
	}

	fh.mu.Lock()
	fh.pos = pos
	fh.mu.Unlock()

	return nil
}

// Tell returns the handle's current byte offset.
func (fh *FileHandle) Tell() int64 {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	return fh.pos
}

// Filesize returns the current length of the underlying inode.
func (fh *FileHandle) Filesize() (int64, error) {
	length, err := fh.in.Length()

	return int64(length), err
}

type slot struct {
	kind Kind
	file *FileHandle
	dir  *directory.Directory
}

// Table is a process's descriptor table.
type Table struct {
	mu    sync.Mutex
	slots [NumSlots]*slot
}

// NewTable returns an empty handle table.
func NewTable() *Table {
	return &Table{}
}

func (t *Table) allocate(s *slot) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := Reserved; i < NumSlots; i++ {
		if t.slots[i] == nil {
			t.slots[i] = s

			return i, nil
		}
	}

	return 0, ErrTableFull
}

// OpenFile installs in as a new file handle, returning its descriptor.
func (t *Table) OpenFile(table *inode.Table, in *inode.Inode) (int, error) {
	return t.allocate(&slot{kind: kindFile, file: &FileHandle{table: table, in: in}})
}

// OpenDir installs dir as a new directory handle, returning its descriptor.
func (t *Table) OpenDir(dir *directory.Directory) (int, error) {
	return t.allocate(&slot{kind: kindDir, dir: dir})
}

// File returns the file handle at h, or ErrBadArgument if h names a
// directory handle.
func (t *Table) File(h int) (*FileHandle, error) {
	s, err := t.get(h)
	if err != nil {
		return nil, err
	}

	if s.kind != kindFile {
		return nil, ErrBadArgument
	}

	return s.file, nil
}

// Dir returns the directory handle at h, or ErrNotADirectory if h names a
// file handle.
func (t *Table) Dir(h int) (*directory.Directory, error) {
	s, err := t.get(h)
	if err != nil {
		return nil, err
	}

	if s.kind != kindDir {
		return nil, ErrNotADirectory
	}

	return s.dir, nil
}

// IsDir reports whether h is currently a directory handle.
func (t *Table) IsDir(h int) (bool, error) {
	s, err := t.get(h)
	if err != nil {
		return false, err
	}

	return s.kind == kindDir, nil
}

func (t *Table) get(h int) (*slot, error) {
	if h < Reserved || h >= NumSlots {
		return nil, ErrBadHandle
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.slots[h]
	if s == nil {
		return nil, ErrBadHandle
	}

	return s, nil
}

// Close releases the resource backing h (via the inode table for a file, or
// the directory's own close for a directory) and frees its slot.
func (t *Table) Close(h int) error {
	s, err := t.get(h)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.slots[h] = nil
	t.mu.Unlock()

	if s.kind == kindFile {
		return s.file.table.Close(s.file.in)
	}

	return s.dir.Close()
}

// CloseAll releases every open slot, e.g. on process exit. Every slot is
// attempted even after a failure; the first error is returned.
func (t *Table) CloseAll() error {
	var first error

	for i := Reserved; i < NumSlots; i++ {
		t.mu.Lock()
		s := t.slots[i]
		t.slots[i] = nil
		t.mu.Unlock()

		if s == nil {
			continue
		}

		var err error
		if s.kind == kindFile {
			err = s.file.table.Close(s.file.in)
		} else {
			err = s.dir.Close()
		}

		if err != nil && first == nil {
			first = err
		}
	}

	return first
}
