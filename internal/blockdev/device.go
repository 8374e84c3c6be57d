// Package blockdev implements the Sector Device Adapter (C1): a thin,
// bounds-checked, counted wrapper around a sector-addressable backing file.
//
// A Device knows nothing about inodes, directories, or caching — it only
// reads and writes whole sectors and tracks how many of each it has done,
// the raw material the buffer cache in pkg/cache builds on top of.
package blockdev

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/minkikim98/pintosfs/pkg/fs"
)

// SectorSize is the fixed size of a device sector in bytes. All IDE disks
// (and most USB/SCSI disks) use this size; the rest of the stack is not
// written to cater to other sizes.
const SectorSize = 512

// Device is a block-addressable device backed by a single file. Reads and
// writes are serialized through a single mutex, modeling the single request
// queue of a real IDE controller — concurrency above the device lives in the
// buffer cache, not here.
type Device struct {
	mu          sync.Mutex
	file        fs.File
	lockFile    fs.File
	sectorCount uint32
	closed      atomic.Bool

	reads  atomic.Int64
	writes atomic.Int64
}

// Stats holds cumulative device I/O counters, exposed for the test hooks in
// spec §6 (device_reads, device_writes).
type Stats struct {
	Reads  int64
	Writes int64
}

// Create creates a new backing file of exactly sectorCount sectors,
// zero-filled, and returns a Device over it. It fails if the file already
// exists.
func Create(filesystem fs.FS, path string, sectorCount uint32) (*Device, error) {
	if sectorCount == 0 {
		return nil, fmt.Errorf("blockdev: create %q: %w", path, ErrBadSize)
	}

	file, err := filesystem.OpenFile(path, osExclCreateFlags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockdev: create %q: %w", path, err)
	}

	size := int64(sectorCount) * SectorSize
	if truncErr := truncate(file, size); truncErr != nil {
		_ = file.Close()

		return nil, fmt.Errorf("blockdev: truncate %q: %w", path, truncErr)
	}

	return open(filesystem, path, file, sectorCount)
}

// Open opens an existing backing file. sectorCount is derived from the file
// size; ErrBadSize is returned if the size is not an exact multiple of
// SectorSize.
func Open(filesystem fs.FS, path string) (*Device, error) {
	file, err := filesystem.OpenFile(path, osReadWriteFlags, 0)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %q: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("blockdev: stat %q: %w", path, err)
	}

	if info.Size()%SectorSize != 0 || info.Size() == 0 {
		_ = file.Close()

		return nil, fmt.Errorf("blockdev: open %q: %w", path, ErrBadSize)
	}

	return open(filesystem, path, file, uint32(info.Size()/SectorSize))
}

func open(filesystem fs.FS, path string, file fs.File, sectorCount uint32) (*Device, error) {
	lockFile, err := filesystem.OpenFile(path+".lock", osReadWriteCreateFlags, 0o644)
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("blockdev: open lock file for %q: %w", path, err)
	}

	if flockErr := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); flockErr != nil {
		_ = lockFile.Close()
		_ = file.Close()

		return nil, fmt.Errorf("blockdev: %q already in use by another process: %w", path, flockErr)
	}

	return &Device{
		file:        file,
		lockFile:    lockFile,
		sectorCount: sectorCount,
	}, nil
}

// SectorCount returns the number of addressable sectors on the device.
func (d *Device) SectorCount() uint32 {
	return d.sectorCount
}

// ReadSector reads exactly SectorSize bytes from sector into dst.
// dst must have length >= SectorSize.
func (d *Device) ReadSector(sector uint32, dst []byte) error {
	if sector >= d.sectorCount {
		return fmt.Errorf("blockdev: read sector %d: %w", sector, ErrOutOfRange)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Load() {
		return ErrClosed
	}

	if _, err := d.file.Seek(int64(sector)*SectorSize, 0); err != nil {
		return fmt.Errorf("blockdev: seek sector %d: %w", sector, err)
	}

	if _, err := readFull(d.file, dst[:SectorSize]); err != nil {
		return fmt.Errorf("blockdev: read sector %d: %w", sector, err)
	}

	d.reads.Add(1)

	return nil
}

// WriteSector writes exactly SectorSize bytes from src to sector.
// src must have length >= SectorSize.
func (d *Device) WriteSector(sector uint32, src []byte) error {
	if sector >= d.sectorCount {
		return fmt.Errorf("blockdev: write sector %d: %w", sector, ErrOutOfRange)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Load() {
		return ErrClosed
	}

	if _, err := d.file.Seek(int64(sector)*SectorSize, 0); err != nil {
		return fmt.Errorf("blockdev: seek sector %d: %w", sector, err)
	}

	if _, err := d.file.Write(src[:SectorSize]); err != nil {
		return fmt.Errorf("blockdev: write sector %d: %w", sector, err)
	}

	d.writes.Add(1)

	return nil
}

// Sync flushes the backing file to stable storage.
func (d *Device) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Load() {
		return ErrClosed
	}

	return d.file.Sync()
}

// Close syncs and releases the backing file and its writer lock.
// Close is idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Swap(true) {
		return nil
	}

	syncErr := d.file.Sync()
	closeErr := d.file.Close()
	_ = unix.Flock(int(d.lockFile.Fd()), unix.LOCK_UN)
	lockCloseErr := d.lockFile.Close()

	if syncErr != nil {
		return fmt.Errorf("blockdev: sync on close: %w", syncErr)
	}

	if closeErr != nil {
		return fmt.Errorf("blockdev: close: %w", closeErr)
	}

	return lockCloseErr
}

// Stats returns cumulative read/write counters since the device was opened
// or since the last ResetStats call.
func (d *Device) Stats() Stats {
	return Stats{
		Reads:  d.reads.Load(),
		Writes: d.writes.Load(),
	}
}

// ResetStats zeroes the cumulative I/O counters. Used by tests that measure
// cache effectiveness across a second pass over the same workload.
func (d *Device) ResetStats() {
	d.reads.Store(0)
	d.writes.Store(0)
}

func readFull(r fs.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n

		if err != nil {
			return total, err
		}

		if n == 0 {
			return total, fmt.Errorf("blockdev: short read (%d/%d bytes)", total, len(buf))
		}
	}

	return total, nil
}
