// Package bitmap implements the Free-Sector Allocator (C2): a persistent
// bitmap of free/used sectors, backed by a reserved range of the device.
//
// The allocator has no knowledge of inodes or directories — it only hands
// out and reclaims contiguous runs of sector numbers.
package bitmap

import (
	"fmt"
	"sync"

	"github.com/minkikim98/pintosfs/internal/blockdev"
)

const bitsPerByte = 8

// Bitmap is a thread-safe free-sector allocator backed by a reserved sector
// range on a [blockdev.Device]. A single internal mutex serializes all
// allocation/release decisions; it is independent of every other lock in the
// stack and may be acquired from anywhere (spec §5 lock ordering, item 6).
type Bitmap struct {
	mu sync.Mutex

	dev        *blockdev.Device
	baseSector uint32 // first sector of the bitmap's own on-disk storage
	numSectors uint32 // sectors occupied by the bitmap's own storage
	numBits    uint32 // number of sectors this bitmap tracks (sector 0..numBits-1)

	bits  []byte // numBits bits, packed 8 per byte, 0=free 1=used
	dirty bool
}

// bytesForBits returns the number of bytes needed to hold numBits bits.
func bytesForBits(numBits uint32) uint32 {
	return (numBits + bitsPerByte - 1) / bitsPerByte
}

// SectorsNeeded returns how many device sectors are required to persist a
// bitmap tracking numBits sectors. Callers reserve this many sectors at
// baseSector before calling Create.
func SectorsNeeded(numBits uint32) uint32 {
	nbytes := bytesForBits(numBits)

	return (nbytes + blockdev.SectorSize - 1) / blockdev.SectorSize
}

// Create initializes a brand-new, all-free bitmap tracking numBits sectors
// and persists it (all zero) to dev starting at baseSector.
func Create(dev *blockdev.Device, baseSector, numBits uint32) (*Bitmap, error) {
	b := &Bitmap{
		dev:        dev,
		baseSector: baseSector,
		numSectors: SectorsNeeded(numBits),
		numBits:    numBits,
		bits:       make([]byte, bytesForBits(numBits)),
		dirty:      true,
	}

	if err := b.Flush(); err != nil {
		return nil, fmt.Errorf("bitmap: create: %w", err)
	}

	return b, nil
}

// Open reads an existing bitmap of numBits bits back from dev starting at
// baseSector.
func Open(dev *blockdev.Device, baseSector, numBits uint32) (*Bitmap, error) {
	b := &Bitmap{
		dev:        dev,
		baseSector: baseSector,
		numSectors: SectorsNeeded(numBits),
		numBits:    numBits,
		bits:       make([]byte, bytesForBits(numBits)),
	}

	buf := make([]byte, blockdev.SectorSize)

	for i := uint32(0); i < b.numSectors; i++ {
		if err := dev.ReadSector(baseSector+i, buf); err != nil {
			return nil, fmt.Errorf("bitmap: open: reading sector %d: %w", baseSector+i, err)
		}

		start := i * blockdev.SectorSize
		end := start + blockdev.SectorSize

		if end > uint32(len(b.bits)) {
			end = uint32(len(b.bits))
		}

		if start < end {
			copy(b.bits[start:end], buf[:end-start])
		}
	}

	return b, nil
}

// Allocate finds a contiguous run of n free sectors, marks them used, and
// returns the index of the first sector in the run. It returns ErrOutOfSpace
// if no such run exists.
//
// On any failure partway through marking a run as used, every sector
// already marked in this call is released again before returning — the
// corrected behavior from spec §9's documented source defect ("releases
// j>0, not j>=0, leaking sector 0's entry").
func (b *Bitmap) Allocate(n uint32) (uint32, error) {
	if n == 0 {
		return 0, fmt.Errorf("bitmap: allocate 0 sectors: %w", ErrInvalidRange)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	base, ok := b.findFreeRun(n)
	if !ok {
		return 0, ErrOutOfSpace
	}

	for i := uint32(0); i < n; i++ {
		if b.testBit(base + i) {
			// Another run claimed part of this window; release everything
			// we've marked so far, including index 0 of this attempt, and
			// fail. This should not happen since findFreeRun only reports
			// runs observed fully free under the same locked section, but
			// guards against future refactors reintroducing the defect.
			for j := uint32(0); j < i; j++ {
				b.clearBit(base + j)
			}

			b.dirty = true

			return 0, ErrOutOfSpace
		}

		b.setBit(base + i)
	}

	b.dirty = true

	return base, nil
}

// Release marks n sectors starting at base as free again.
func (b *Bitmap) Release(base, n uint32) error {
	if n == 0 {
		return fmt.Errorf("bitmap: release 0 sectors: %w", ErrInvalidRange)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if base+n > b.numBits || base+n < base {
		return fmt.Errorf("bitmap: release [%d,%d): %w", base, base+n, ErrInvalidRange)
	}

	for i := uint32(0); i < n; i++ {
		b.clearBit(base + i)
	}

	b.dirty = true

	return nil
}

// MarkUsed reserves [base, base+n) as used without going through the
// free-run search. Used at format time to reserve the boot sector, the
// bitmap's own sectors, and the root directory's inode sector.
func (b *Bitmap) MarkUsed(base, n uint32) error {
	if base+n > b.numBits || base+n < base {
		return fmt.Errorf("bitmap: mark used [%d,%d): %w", base, base+n, ErrInvalidRange)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i := uint32(0); i < n; i++ {
		b.setBit(base + i)
	}

	b.dirty = true

	return nil
}

// Flush persists the in-memory bitmap to its reserved sector range if dirty.
func (b *Bitmap) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.flushLocked()
}

func (b *Bitmap) flushLocked() error {
	if !b.dirty {
		return nil
	}

	buf := make([]byte, blockdev.SectorSize)

	for i := uint32(0); i < b.numSectors; i++ {
		start := i * blockdev.SectorSize
		end := start + blockdev.SectorSize

		for j := range buf {
			buf[j] = 0
		}

		if start < uint32(len(b.bits)) {
			copyEnd := end
			if copyEnd > uint32(len(b.bits)) {
				copyEnd = uint32(len(b.bits))
			}

			copy(buf, b.bits[start:copyEnd])
		}

		if err := b.dev.WriteSector(b.baseSector+i, buf); err != nil {
			return fmt.Errorf("bitmap: flush sector %d: %w", b.baseSector+i, err)
		}
	}

	b.dirty = false

	return nil
}

func (b *Bitmap) findFreeRun(n uint32) (uint32, bool) {
	if n > b.numBits {
		return 0, false
	}

	run := uint32(0)
	start := uint32(0)

	for i := uint32(0); i < b.numBits; i++ {
		if b.testBit(i) {
			run = 0
			start = i + 1

			continue
		}

		run++
		if run == n {
			return start, true
		}
	}

	return 0, false
}

func (b *Bitmap) testBit(i uint32) bool {
	return b.bits[i/bitsPerByte]&(1<<(i%bitsPerByte)) != 0
}

func (b *Bitmap) setBit(i uint32) {
	b.bits[i/bitsPerByte] |= 1 << (i % bitsPerByte)
}

func (b *Bitmap) clearBit(i uint32) {
	b.bits[i/bitsPerByte] &^= 1 << (i % bitsPerByte)
}
