package inode

import (
	"fmt"

	"github.com/minkikim98/pintosfs/internal/blockdev"
)

// sectorForIndex resolves logical sector index i to a physical sector,
// without allocating. It returns 0 if no sector is mapped there yet.
//
// i < DirectPointers: direct[i].
// DirectPointers <= i < DirectPointers+PointersPerSector: single-indirect[i-DirectPointers].
// otherwise: double-indirect[j/PointersPerSector][j%PointersPerSector], j = i-DirectPointers-PointersPerSector.
func (in *Inode) sectorForIndex(i uint32) (uint32, error) {
	switch {
	case i < DirectPointers:
		return in.directPointer(int(i))

	case i < DirectPointers+PointersPerSector:
		single, err := in.singlePointer()
		if err != nil || single == 0 {
			return 0, err
		}

		return indirectPointerAt(in.cache, in.dev, single, int(i-DirectPointers))

	default:
		j := i - DirectPointers - PointersPerSector
		outer := int(j / PointersPerSector)
		inner := int(j % PointersPerSector)

		double, err := in.doublePointer()
		if err != nil || double == 0 {
			return 0, err
		}

		single, err := indirectPointerAt(in.cache, in.dev, double, outer)
		if err != nil || single == 0 {
			return 0, err
		}

		return indirectPointerAt(in.cache, in.dev, single, inner)
	}
}

// allocRecord remembers one sector allocated during a growSectorMap call, and
// how to unwire it from the map if the overall extension must roll back.
type allocRecord struct {
	sector uint32
	undo   func() error
}

func (in *Inode) zeroSector(sector uint32) error {
	var zero [blockdev.SectorSize]byte
	return in.cache.WriteRange(in.dev, sector, zero[:], 0, blockdev.SectorSize)
}

func (in *Inode) allocOne() (uint32, error) {
	base, err := in.alloc.Allocate(1)
	if err != nil {
		return 0, err
	}

	return base, nil
}

// growSectorMap ensures logical indices [current, target) are all mapped to
// freshly allocated, zero-filled sectors, allocating any indirect blocks
// along the way. If the allocator runs out partway through, every sector
// claimed by this call (data and indirect alike) is released and every
// pointer this call wrote is reset to 0 before returning — extension is
// all-or-nothing.
func (in *Inode) growSectorMap(current, target uint32) error {
	var track []allocRecord

	rollback := func() {
		for i := len(track) - 1; i >= 0; i-- {
			rec := track[i]
			_ = rec.undo() // best-effort: the sector below is still released

			_ = in.alloc.Release(rec.sector, 1)
		}
	}

	for i := current; i < target; i++ {
		if i >= MaxSectors {
			rollback()

			return ErrFileTooLarge
		}

		if _, err := in.ensureDataSector(i, &track); err != nil {
			rollback()

			return err
		}
	}

	return nil
}

// ensureDataSector guarantees logical index i has a backing data sector,
// allocating it (and any indirect block tiers above it) if needed. Every
// sector it allocates is appended to track along with how to unwire it.
func (in *Inode) ensureDataSector(i uint32, track *[]allocRecord) (uint32, error) {
	switch {
	case i < DirectPointers:
		idx := int(i)

		existing, err := in.directPointer(idx)
		if err != nil {
			return 0, err
		}

		if existing != 0 {
			return existing, nil
		}

		sector, err := in.allocOne()
		if err != nil {
			return 0, fmt.Errorf("inode: allocate data sector: %w", err)
		}

		if err := in.zeroSector(sector); err != nil {
			return 0, err
		}

		if err := in.setDirectPointer(idx, sector); err != nil {
			return 0, err
		}

		*track = append(*track, allocRecord{sector: sector, undo: func() error { return in.setDirectPointer(idx, 0) }})

		return sector, nil

	case i < DirectPointers+PointersPerSector:
		idx := int(i - DirectPointers)

		single, err := in.ensureSinglePointer(in.singlePointer, in.setSinglePointer, track)
		if err != nil {
			return 0, err
		}

		return in.ensureIndirectSlot(single, idx, track)

	default:
		j := i - DirectPointers - PointersPerSector
		outer := int(j / PointersPerSector)
		inner := int(j % PointersPerSector)

		double, err := in.ensureSinglePointer(in.doublePointer, in.setDoublePointer, track)
		if err != nil {
			return 0, err
		}

		single, err := in.ensureIndirectBlock(double, outer, track)
		if err != nil {
			return 0, err
		}

		return in.ensureIndirectSlot(single, inner, track)
	}
}

// ensureSinglePointer guarantees a header-level indirect pointer (the
// single-indirect or double-indirect field) is set, allocating and
// zero-filling a fresh indirect sector if it is not.
func (in *Inode) ensureSinglePointer(get func() (uint32, error), set func(uint32) error, track *[]allocRecord) (uint32, error) {
	existing, err := get()
	if err != nil {
		return 0, err
	}

	if existing != 0 {
		return existing, nil
	}

	sector, err := in.allocOne()
	if err != nil {
		return 0, fmt.Errorf("inode: allocate indirect sector: %w", err)
	}

	if err := in.zeroSector(sector); err != nil {
		return 0, err
	}

	if err := set(sector); err != nil {
		return 0, err
	}

	*track = append(*track, allocRecord{sector: sector, undo: func() error { return set(0) }})

	return sector, nil
}

// ensureIndirectBlock guarantees slot outer within the double-indirect
// sector points at a valid single-indirect sector, allocating one if needed.
func (in *Inode) ensureIndirectBlock(doubleSector uint32, outer int, track *[]allocRecord) (uint32, error) {
	existing, err := indirectPointerAt(in.cache, in.dev, doubleSector, outer)
	if err != nil {
		return 0, err
	}

	if existing != 0 {
		return existing, nil
	}

	sector, err := in.allocOne()
	if err != nil {
		return 0, fmt.Errorf("inode: allocate second-level indirect sector: %w", err)
	}

	if err := in.zeroSector(sector); err != nil {
		return 0, err
	}

	if err := setIndirectPointerAt(in.cache, in.dev, doubleSector, outer, sector); err != nil {
		return 0, err
	}

	*track = append(*track, allocRecord{
		sector: sector,
		undo:   func() error { return setIndirectPointerAt(in.cache, in.dev, doubleSector, outer, 0) },
	})

	return sector, nil
}

// ensureIndirectSlot guarantees slot idx within an indirect sector points at
// a valid, zero-filled data sector, allocating one if needed.
func (in *Inode) ensureIndirectSlot(indirectSector uint32, idx int, track *[]allocRecord) (uint32, error) {
	existing, err := indirectPointerAt(in.cache, in.dev, indirectSector, idx)
	if err != nil {
		return 0, err
	}

	if existing != 0 {
		return existing, nil
	}

	sector, err := in.allocOne()
	if err != nil {
		return 0, fmt.Errorf("inode: allocate data sector: %w", err)
	}

	if err := in.zeroSector(sector); err != nil {
		return 0, err
	}

	if err := setIndirectPointerAt(in.cache, in.dev, indirectSector, idx, sector); err != nil {
		return 0, err
	}

	*track = append(*track, allocRecord{
		sector: sector,
		undo:   func() error { return setIndirectPointerAt(in.cache, in.dev, indirectSector, idx, 0) },
	})

	return sector, nil
}
