// Package fsys is the filesystem facade: Format lays out a brand-new
// filesystem on a backing file, Init mounts an existing one, and each
// Process exposes the syscall-level operation table (spec.md §6) over its
// own handle table and current working directory.
package fsys

import (
	"fmt"

	"github.com/minkikim98/pintosfs/internal/bitmap"
	"github.com/minkikim98/pintosfs/internal/blockdev"
	"github.com/minkikim98/pintosfs/pkg/cache"
	"github.com/minkikim98/pintosfs/pkg/directory"
	"github.com/minkikim98/pintosfs/pkg/fs"
	"github.com/minkikim98/pintosfs/pkg/inode"
)

// bitmapBaseSector is the first sector reserved for the free-sector
// allocator's own persisted bitmap. Sector 0 is reserved for a boot sector,
// matching the original layout.
const bitmapBaseSector = 1

// rootDirEntries is how many entries the root directory is initially sized
// to hold; it grows like any other directory once that capacity is
// exceeded.
const rootDirEntries = 16

// FileSystem is a mounted filesystem: the device, buffer cache, free-sector
// allocator and open-inode table it shares across every Process opened on
// top of it.
type FileSystem struct {
	dev        *blockdev.Device
	cache      *cache.Cache
	alloc      *bitmap.Bitmap
	table      *inode.Table
	rootSector uint32
}

// rootSectorFor computes where the root directory's inode lives: right
// after the bitmap's own persisted storage, which is itself sized from the
// device's total sector count (one bit tracks every sector, reserved ones
// included). Both Format and Init derive this the same way, so no
// superblock needs to persist it separately.
func rootSectorFor(sectorCount uint32) uint32 {
	return bitmapBaseSector + bitmap.SectorsNeeded(sectorCount)
}

// Format lays out a brand-new filesystem of sectorCount sectors at path: a
// free-sector bitmap, and an empty root directory with real "." and ".."
// self-entries. The backing file must not already exist.
func Format(filesystem fs.FS, path string, sectorCount uint32) error {
	dev, err := blockdev.Create(filesystem, path, sectorCount)
	if err != nil {
		return fmt.Errorf("fsys: format %q: %w", path, err)
	}
	defer dev.Close()

	alloc, err := bitmap.Create(dev, bitmapBaseSector, sectorCount)
	if err != nil {
		return fmt.Errorf("fsys: format %q: %w", path, err)
	}

	bitmapSectors := bitmap.SectorsNeeded(sectorCount)
	rootSector := rootSectorFor(sectorCount)

	if err := alloc.MarkUsed(0, 1+bitmapSectors+1); err != nil {
		return fmt.Errorf("fsys: format %q: reserving boot/bitmap/root sectors: %w", path, err)
	}

	c := cache.New()
	table := inode.NewTable()

	if err := directory.Create(dev, c, alloc, rootSector, rootDirEntries); err != nil {
		return fmt.Errorf("fsys: format %q: %w", path, err)
	}

	root, err := directory.OpenRoot(dev, c, alloc, table, rootSector)
	if err != nil {
		return fmt.Errorf("fsys: format %q: %w", path, err)
	}

	if err := root.Add(".", rootSector); err != nil {
		return fmt.Errorf("fsys: format %q: %w", path, err)
	}

	if err := root.Add("..", rootSector); err != nil {
		return fmt.Errorf("fsys: format %q: %w", path, err)
	}

	if err := root.Close(); err != nil {
		return fmt.Errorf("fsys: format %q: %w", path, err)
	}

	if err := c.Flush(); err != nil {
		return fmt.Errorf("fsys: format %q: %w", path, err)
	}

	if err := alloc.Flush(); err != nil {
		return fmt.Errorf("fsys: format %q: %w", path, err)
	}

	return dev.Sync()
}

// Init mounts an existing filesystem backing file.
func Init(filesystem fs.FS, path string) (*FileSystem, error) {
	dev, err := blockdev.Open(filesystem, path)
	if err != nil {
		return nil, fmt.Errorf("fsys: init %q: %w", path, err)
	}

	alloc, err := bitmap.Open(dev, bitmapBaseSector, dev.SectorCount())
	if err != nil {
		_ = dev.Close()

		return nil, fmt.Errorf("fsys: init %q: %w", path, err)
	}

	return &FileSystem{
		dev:        dev,
		cache:      cache.New(),
		alloc:      alloc,
		table:      inode.NewTable(),
		rootSector: rootSectorFor(dev.SectorCount()),
	}, nil
}

// Done flushes the buffer cache and allocator and closes the backing
// device. The FileSystem must not be used afterward.
func (f *FileSystem) Done() error {
	if err := f.cache.Flush(); err != nil {
		return fmt.Errorf("fsys: done: %w", err)
	}

	if err := f.alloc.Flush(); err != nil {
		return fmt.Errorf("fsys: done: %w", err)
	}

	return f.dev.Close()
}

// CacheStats returns the buffer cache's cumulative access/miss counters.
func (f *FileSystem) CacheStats() cache.Stats { return f.cache.Stats() }

// ResetCacheStats zeroes the buffer cache's cumulative counters.
func (f *FileSystem) ResetCacheStats() { f.cache.ResetStats() }

// ResetCache flushes and evicts every cached sector, as if the filesystem
// had just been remounted cold.
func (f *FileSystem) ResetCache() error { return f.cache.Reset() }

// DeviceStats returns the backing device's cumulative read/write counters.
func (f *FileSystem) DeviceStats() blockdev.Stats { return f.dev.Stats() }

// ResetDeviceStats zeroes the backing device's cumulative counters.
func (f *FileSystem) ResetDeviceStats() { f.dev.ResetStats() }

// NewProcess opens a Process rooted at the filesystem's root directory.
func (f *FileSystem) NewProcess() (*Process, error) {
	root, err := directory.OpenRoot(f.dev, f.cache, f.alloc, f.table, f.rootSector)
	if err != nil {
		return nil, fmt.Errorf("fsys: new_process: %w", err)
	}

	return newProcess(f, root), nil
}
