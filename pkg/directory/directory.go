// Package directory implements the Directory Layer (C5): a directory is a
// regular inode whose data is a dense array of fixed-size entries. Lookup,
// add and remove all take the directory's per-inode mutex (Inode.DirLock).
// Remove calls into the open-inode table (and so takes the table's mutex)
// while holding the parent's DirLock, and takes a child directory's DirLock
// after the parent's; the table's mutex is never held while a DirLock is
// being acquired.
package directory

import (
	"fmt"

	"github.com/minkikim98/pintosfs/internal/bitmap"
	"github.com/minkikim98/pintosfs/internal/blockdev"
	"github.com/minkikim98/pintosfs/pkg/cache"
	"github.com/minkikim98/pintosfs/pkg/inode"
)

// Directory is one open handle onto a directory inode. Multiple Directory
// values may wrap the same underlying Inode (the open-inode table dedupes
// that); each keeps its own Readdir cursor.
type Directory struct {
	in    *inode.Inode
	table *inode.Table
	dev   *blockdev.Device
	cache *cache.Cache
	alloc *bitmap.Bitmap
	pos   uint32 // next entry slot Readdir will inspect
}

// Create builds a new, empty directory inode at sector, sized to hold
// entryCount entries.
func Create(dev *blockdev.Device, c *cache.Cache, alloc *bitmap.Bitmap, sector uint32, entryCount uint32) error {
	return inode.Create(dev, c, alloc, sector, entryCount*entrySize, true)
}

// Open returns a Directory wrapping the inode at sector.
func Open(dev *blockdev.Device, c *cache.Cache, alloc *bitmap.Bitmap, table *inode.Table, sector uint32) (*Directory, error) {
	in, err := table.Open(dev, c, alloc, sector)
	if err != nil {
		return nil, err
	}

	return &Directory{in: in, table: table, dev: dev, cache: c, alloc: alloc}, nil
}

// OpenRoot returns a Directory wrapping the filesystem's root directory
// inode, whose sector is chosen at format time and handed in by the caller.
func OpenRoot(dev *blockdev.Device, c *cache.Cache, alloc *bitmap.Bitmap, table *inode.Table, rootSector uint32) (*Directory, error) {
	return Open(dev, c, alloc, table, rootSector)
}

// Reopen returns a second, independent Directory handle (its own Readdir
// cursor) onto the same underlying inode.
func (d *Directory) Reopen() *Directory {
	d.table.Reopen(d.in)

	return &Directory{in: d.in, table: d.table, dev: d.dev, cache: d.cache, alloc: d.alloc}
}

// Close releases this handle. The underlying inode is only closed in the
// open-inode table once every handle onto it (directory or file) has closed.
func (d *Directory) Close() error {
	return d.table.Close(d.in)
}

// Inode returns the underlying inode, e.g. for inumber/is_dir queries or to
// pass to Remove's "is this directory empty" check.
func (d *Directory) Inode() *inode.Inode { return d.in }

// Lookup scans the directory for name, returning the inode sector it names.
// "." and ".." are ordinary stored entries and resolve the same way as any
// other name.
func (d *Directory) Lookup(name string) (uint32, error) {
	d.in.DirLock().Lock()
	defer d.in.DirLock().Unlock()

	entries, err := readAllEntries(d.in)
	if err != nil {
		return 0, fmt.Errorf("directory: lookup %q: %w", name, err)
	}

	for _, e := range entries {
		if e.inUse && e.name == name {
			return e.sector, nil
		}
	}

	return 0, ErrNotFound
}

// Add inserts a new entry mapping name to sector, reusing the first free
// slot if one exists or appending otherwise.
func (d *Directory) Add(name string, sector uint32) error {
	if name == "" {
		return ErrEmptyName
	}

	if len(name) > NameMax {
		return ErrNameTooLong
	}

	d.in.DirLock().Lock()
	defer d.in.DirLock().Unlock()

	entries, err := readAllEntries(d.in)
	if err != nil {
		return fmt.Errorf("directory: add %q: %w", name, err)
	}

	slot := -1

	for i, e := range entries {
		if e.inUse && e.name == name {
			return ErrExists
		}

		if !e.inUse && slot < 0 {
			slot = i
		}
	}

	if slot < 0 {
		slot = len(entries)
	}

	buf := encodeEntry(dirEntry{sector: sector, name: name, inUse: true})
	if _, err := d.in.WriteAt(buf, int64(slot)*entrySize); err != nil {
		return fmt.Errorf("directory: add %q: %w", name, err)
	}

	return nil
}

// Remove unlinks name from the directory. If the referenced inode is itself
// a directory, it must be empty (besides "." and "..") or ErrNotEmpty is
// returned and nothing changes. The referenced inode is marked removed (its
// storage is reclaimed once its last open handle closes).
func (d *Directory) Remove(name string) error {
	if name == "." || name == ".." {
		return ErrReservedName
	}

	d.in.DirLock().Lock()
	defer d.in.DirLock().Unlock()

	entries, err := readAllEntries(d.in)
	if err != nil {
		return fmt.Errorf("directory: remove %q: %w", name, err)
	}

	slot := -1
	var target dirEntry

	for i, e := range entries {
		if e.inUse && e.name == name {
			slot = i
			target = e

			break
		}
	}

	if slot < 0 {
		return ErrNotFound
	}

	victim, err := d.table.Open(d.dev, d.cache, d.alloc, target.sector)
	if err != nil {
		return fmt.Errorf("directory: remove %q: %w", name, err)
	}

	isDir, err := victim.IsDir()
	if err != nil {
		_ = d.table.Close(victim)

		return fmt.Errorf("directory: remove %q: %w", name, err)
	}

	if isDir {
		// Lock order is always parent-directory-mutex before
		// child-directory-mutex, consistent with every other directory
		// mutation. Held from the emptiness check through the parent's
		// entry erase below, so a concurrent add() into victim (via a
		// handle opened independently of this parent) cannot slip in
		// between the check and the unlink.
		victim.DirLock().Lock()
		defer victim.DirLock().Unlock()

		empty, err := isEmptyLocked(victim)
		if err != nil {
			_ = d.table.Close(victim)

			return fmt.Errorf("directory: remove %q: %w", name, err)
		}

		if !empty {
			_ = d.table.Close(victim)

			return ErrNotEmpty
		}
	}

	buf := encodeEntry(dirEntry{})
	if _, err := d.in.WriteAt(buf, int64(slot)*entrySize); err != nil {
		_ = d.table.Close(victim)

		return fmt.Errorf("directory: remove %q: %w", name, err)
	}

	d.table.MarkRemoved(victim)

	return d.table.Close(victim)
}

// Readdir returns the next live entry's name (skipping free slots, "." and
// ".."), advancing this handle's cursor. ok is false once every slot has
// been inspected.
func (d *Directory) Readdir() (name string, ok bool, err error) {
	d.in.DirLock().Lock()
	defer d.in.DirLock().Unlock()

	length, err := d.in.Length()
	if err != nil {
		return "", false, err
	}

	total := length / entrySize

	for d.pos < total {
		e, err := readEntryAt(d.in, d.pos)
		if err != nil {
			return "", false, err
		}

		d.pos++

		if !e.inUse || e.name == "." || e.name == ".." {
			continue
		}

		return e.name, true, nil
	}

	return "", false, nil
}

// IsEmpty reports whether dir holds no live entries besides "." and "..".
func (d *Directory) IsEmpty() (bool, error) {
	d.in.DirLock().Lock()
	defer d.in.DirLock().Unlock()

	return isEmptyLocked(d.in)
}

func isEmptyLocked(in *inode.Inode) (bool, error) {
	entries, err := readAllEntries(in)
	if err != nil {
		return false, err
	}

	for _, e := range entries {
		if !e.inUse || e.name == "." || e.name == ".." {
			continue
		}

		return false, nil
	}

	return true, nil
}

// SubdirCreate allocates a new directory inode, populates its "." and ".."
// self-entries, and links it into parent under leafName. If linking fails
// (e.g. the name already exists), the freshly created inode is torn down and
// its sectors released.
func SubdirCreate(dev *blockdev.Device, c *cache.Cache, alloc *bitmap.Bitmap, table *inode.Table, parent *Directory, leafName string) error {
	if leafName == "" {
		return ErrEmptyName
	}

	if len(leafName) > NameMax {
		return ErrNameTooLong
	}

	childSector, err := alloc.Allocate(1)
	if err != nil {
		return fmt.Errorf("directory: subdir_create %q: %w", leafName, err)
	}

	const initialEntries = 2 // "." and ".."

	if err := Create(dev, c, alloc, childSector, initialEntries); err != nil {
		_ = alloc.Release(childSector, 1)

		return fmt.Errorf("directory: subdir_create %q: %w", leafName, err)
	}

	childIn, err := table.Open(dev, c, alloc, childSector)
	if err != nil {
		_ = alloc.Release(childSector, 1)

		return fmt.Errorf("directory: subdir_create %q: %w", leafName, err)
	}

	linked := false

	defer func() {
		if !linked {
			table.MarkRemoved(childIn)
		}

		_ = table.Close(childIn)
	}()

	self := encodeEntry(dirEntry{sector: childSector, name: ".", inUse: true})
	if _, err := childIn.WriteAt(self, 0); err != nil {
		return fmt.Errorf("directory: subdir_create %q: %w", leafName, err)
	}

	parentEntry := encodeEntry(dirEntry{sector: parent.in.Inumber(), name: "..", inUse: true})
	if _, err := childIn.WriteAt(parentEntry, entrySize); err != nil {
		return fmt.Errorf("directory: subdir_create %q: %w", leafName, err)
	}

	if err := parent.Add(leafName, childSector); err != nil {
		return err
	}

	linked = true

	return nil
}

func readAllEntries(in *inode.Inode) ([]dirEntry, error) {
	length, err := in.Length()
	if err != nil {
		return nil, err
	}

	total := length / entrySize
	entries := make([]dirEntry, 0, total)

	for i := uint32(0); i < total; i++ {
		e, err := readEntryAt(in, i)
		if err != nil {
			return nil, err
		}

		entries = append(entries, e)
	}

	return entries, nil
}

func readEntryAt(in *inode.Inode, slot uint32) (dirEntry, error) {
	buf := make([]byte, entrySize)
	if _, err := in.ReadAt(buf, int64(slot)*entrySize); err != nil {
		return dirEntry{}, err
	}

	return decodeEntry(buf), nil
}
