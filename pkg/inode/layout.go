package inode

import "github.com/minkikim98/pintosfs/internal/blockdev"

// On-disk inode layout, one sector, little-endian. Offsets follow
// original_source/pintos/src/filesys/inode.c's buffered accessor functions;
// the distilled behavior states the fields but not their wire positions.
const (
	offLength = 0
	offIsDir  = 4
	offDirect = 8
	offSingle = 8 + DirectPointers*4
	offDouble = offSingle + 4
	offMagic  = offDouble + 4
)

// DirectPointers is the number of direct sector pointers in the header.
const DirectPointers = 12

// PointersPerSector is how many 4-byte sector pointers fit in one indirect
// sector (S/4).
const PointersPerSector = blockdev.SectorSize / 4

// Magic self-identifies a sector as holding a valid inode header.
const Magic = 0x494e4f44 // "INOD"

// MaxSectors is the largest logical sector index (exclusive) reachable
// through the direct/single-indirect/double-indirect map.
const MaxSectors = DirectPointers + PointersPerSector + PointersPerSector*PointersPerSector

// MaxFileSize is the largest file size in bytes the map can address.
const MaxFileSize = int64(MaxSectors) * blockdev.SectorSize

func lengthToSectors(length uint32) uint32 {
	return (length + blockdev.SectorSize - 1) / blockdev.SectorSize
}
