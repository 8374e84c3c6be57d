package fsys

import (
	"fmt"
	"sync"

	"github.com/minkikim98/pintosfs/pkg/directory"
	"github.com/minkikim98/pintosfs/pkg/handle"
	"github.com/minkikim98/pintosfs/pkg/inode"
	"github.com/minkikim98/pintosfs/pkg/pathres"
)

// Handle identifies an open file or directory within a Process's table.
type Handle int

// Process is one caller's view of a FileSystem: its own handle table and
// current working directory, the way a Pintos thread-group owns its own fd
// table and cwd over one shared filesystem.
type Process struct {
	fs      *FileSystem
	handles *handle.Table

	cwdMu sync.Mutex
	cwd   *directory.Directory
}

func newProcess(f *FileSystem, root *directory.Directory) *Process {
	return &Process{fs: f, handles: handle.NewTable(), cwd: root}
}

// Exit releases every open handle and the process's current working
// directory. Call this when the process is done with the filesystem.
func (p *Process) Exit() error {
	if err := p.handles.CloseAll(); err != nil {
		return fmt.Errorf("fsys: process close: %w", err)
	}

	p.cwdMu.Lock()
	cwd := p.cwd
	p.cwd = nil
	p.cwdMu.Unlock()

	return cwd.Close()
}

// snapshotCwd returns a freshly Reopen'd handle onto the process's current
// working directory, safe to use even if a concurrent Chdir swaps p.cwd
// immediately afterward — the open-inode table's refcounting keeps the
// snapshot's underlying inode alive independently. Callers must Close it.
func (p *Process) snapshotCwd() *directory.Directory {
	p.cwdMu.Lock()
	defer p.cwdMu.Unlock()

	return p.cwd.Reopen()
}

func (p *Process) rootSector() uint32 { return p.fs.rootSector }

// Create makes a new, empty file at path sized to initialSize bytes.
func (p *Process) Create(path string, initialSize int64) error {
	if initialSize < 0 {
		return ErrBadArgument
	}

	cwd := p.snapshotCwd()
	defer cwd.Close()

	parent, leaf, err := pathres.ResolveParent(p.fs.dev, p.fs.cache, p.fs.alloc, p.fs.table, p.rootSector(), cwd, path)
	if err != nil {
		return fmt.Errorf("fsys: create %q: %w", path, err)
	}
	defer parent.Close()

	sector, err := p.fs.alloc.Allocate(1)
	if err != nil {
		return fmt.Errorf("fsys: create %q: %w", path, err)
	}

	if err := inode.Create(p.fs.dev, p.fs.cache, p.fs.alloc, sector, uint32(initialSize), false); err != nil {
		_ = p.fs.alloc.Release(sector, 1)

		return fmt.Errorf("fsys: create %q: %w", path, err)
	}

	if err := parent.Add(leaf, sector); err != nil {
		if in, oErr := p.fs.table.Open(p.fs.dev, p.fs.cache, p.fs.alloc, sector); oErr == nil {
			p.fs.table.MarkRemoved(in)
			_ = p.fs.table.Close(in)
		}

		return fmt.Errorf("fsys: create %q: %w", path, err)
	}

	return nil
}

// Mkdir creates a new, empty directory at path.
func (p *Process) Mkdir(path string) error {
	cwd := p.snapshotCwd()
	defer cwd.Close()

	parent, leaf, err := pathres.ResolveParent(p.fs.dev, p.fs.cache, p.fs.alloc, p.fs.table, p.rootSector(), cwd, path)
	if err != nil {
		return fmt.Errorf("fsys: mkdir %q: %w", path, err)
	}
	defer parent.Close()

	if err := directory.SubdirCreate(p.fs.dev, p.fs.cache, p.fs.alloc, p.fs.table, parent, leaf); err != nil {
		return fmt.Errorf("fsys: mkdir %q: %w", path, err)
	}

	return nil
}

// Open resolves path and returns a handle onto it, file or directory alike.
func (p *Process) Open(path string) (Handle, error) {
	cwd := p.snapshotCwd()
	defer cwd.Close()

	sector, isDir, err := pathres.Resolve(p.fs.dev, p.fs.cache, p.fs.alloc, p.fs.table, p.rootSector(), cwd, path)
	if err != nil {
		return 0, fmt.Errorf("fsys: open %q: %w", path, err)
	}

	if isDir {
		d, err := directory.Open(p.fs.dev, p.fs.cache, p.fs.alloc, p.fs.table, sector)
		if err != nil {
			return 0, fmt.Errorf("fsys: open %q: %w", path, err)
		}

		h, err := p.handles.OpenDir(d)
		if err != nil {
			_ = d.Close()

			return 0, fmt.Errorf("fsys: open %q: %w", path, err)
		}

		return Handle(h), nil
	}

	in, err := p.fs.table.Open(p.fs.dev, p.fs.cache, p.fs.alloc, sector)
	if err != nil {
		return 0, fmt.Errorf("fsys: open %q: %w", path, err)
	}

	h, err := p.handles.OpenFile(p.fs.table, in)
	if err != nil {
		_ = p.fs.table.Close(in)

		return 0, fmt.Errorf("fsys: open %q: %w", path, err)
	}

	return Handle(h), nil
}

// Close releases h.
func (p *Process) Close(h Handle) error { return p.handles.Close(int(h)) }

// Read reads into buf from h's current position, advancing it.
func (p *Process) Read(h Handle, buf []byte) (int, error) {
	fh, err := p.handles.File(int(h))
	if err != nil {
		return 0, err
	}

	return fh.Read(buf)
}

// Write writes buf at h's current position, advancing it.
func (p *Process) Write(h Handle, buf []byte) (int, error) {
	fh, err := p.handles.File(int(h))
	if err != nil {
		return 0, err
	}

	return fh.Write(buf)
}

// Seek repositions h's cursor to an absolute byte offset.
func (p *Process) Seek(h Handle, pos int64) error {
	fh, err := p.handles.File(int(h))
	if err != nil {
		return err
	}

	return fh.Seek(pos)
}

// Tell returns h's current byte offset.
func (p *Process) Tell(h Handle) (int64, error) {
	fh, err := p.handles.File(int(h))
	if err != nil {
		return 0, err
	}

	return fh.Tell(), nil
}

// Filesize returns the current length of the file behind h.
func (p *Process) Filesize(h Handle) (int64, error) {
	fh, err := p.handles.File(int(h))
	if err != nil {
		return 0, err
	}

	return fh.Filesize()
}

// Remove unlinks path. If it names a non-empty directory, nothing changes.
func (p *Process) Remove(path string) error {
	cwd := p.snapshotCwd()
	defer cwd.Close()

	parent, leaf, err := pathres.ResolveParent(p.fs.dev, p.fs.cache, p.fs.alloc, p.fs.table, p.rootSector(), cwd, path)
	if err != nil {
		return fmt.Errorf("fsys: remove %q: %w", path, err)
	}
	defer parent.Close()

	if err := parent.Remove(leaf); err != nil {
		return fmt.Errorf("fsys: remove %q: %w", path, err)
	}

	return nil
}

// Chdir changes the process's current working directory to path.
func (p *Process) Chdir(path string) error {
	cwd := p.snapshotCwd()

	newDir, err := pathres.ResolveDir(p.fs.dev, p.fs.cache, p.fs.alloc, p.fs.table, p.rootSector(), cwd, path)

	cwd.Close()

	if err != nil {
		return fmt.Errorf("fsys: chdir %q: %w", path, err)
	}

	p.cwdMu.Lock()
	old := p.cwd
	p.cwd = newDir
	p.cwdMu.Unlock()

	return old.Close()
}

// Readdir advances h's enumeration cursor and returns the next live entry's
// name. ok is false once the directory has been fully enumerated.
func (p *Process) Readdir(h Handle) (string, bool, error) {
	d, err := p.handles.Dir(int(h))
	if err != nil {
		return "", false, err
	}

	return d.Readdir()
}

// IsDir reports whether h is a directory handle.
func (p *Process) IsDir(h Handle) (bool, error) {
	return p.handles.IsDir(int(h))
}

// Inumber returns the inode number (sector) backing h.
func (p *Process) Inumber(h Handle) (uint32, error) {
	if isDir, err := p.handles.IsDir(int(h)); err == nil && isDir {
		d, err := p.handles.Dir(int(h))
		if err != nil {
			return 0, err
		}

		return d.Inode().Inumber(), nil
	}

	fh, err := p.handles.File(int(h))
	if err != nil {
		return 0, err
	}

	return fh.Inode().Inumber(), nil
}
