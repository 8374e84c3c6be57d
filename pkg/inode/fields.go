package inode

import (
	"encoding/binary"

	"github.com/minkikim98/pintosfs/internal/blockdev"
	"github.com/minkikim98/pintosfs/pkg/cache"
)

// The field accessors below are the "buffered" equivalent of
// original_source/pintos/src/filesys/inode.c's inode_get_length,
// inode_get_is_dir, inode_get_direct_ptr, inode_get_single_ptr,
// inode_get_double_ptr and their _set_ counterparts: every call goes through
// the cache rather than a cached in-memory copy.

func (in *Inode) length() (uint32, error) {
	var buf [4]byte
	if err := in.cache.ReadRange(in.dev, in.sector, buf[:], offLength, offLength+4); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (in *Inode) setLength(n uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], n)

	return in.cache.WriteRange(in.dev, in.sector, buf[:], offLength, offLength+4)
}

func (in *Inode) isDirField() (bool, error) {
	var buf [4]byte
	if err := in.cache.ReadRange(in.dev, in.sector, buf[:], offIsDir, offIsDir+4); err != nil {
		return false, err
	}

	return binary.LittleEndian.Uint32(buf[:]) != 0, nil
}

func (in *Inode) magicField() (uint32, error) {
	var buf [4]byte
	if err := in.cache.ReadRange(in.dev, in.sector, buf[:], offMagic, offMagic+4); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (in *Inode) directPointer(i int) (uint32, error) {
	var buf [4]byte
	off := offDirect + i*4
	if err := in.cache.ReadRange(in.dev, in.sector, buf[:], off, off+4); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (in *Inode) setDirectPointer(i int, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	off := offDirect + i*4

	return in.cache.WriteRange(in.dev, in.sector, buf[:], off, off+4)
}

func (in *Inode) singlePointer() (uint32, error) {
	var buf [4]byte
	if err := in.cache.ReadRange(in.dev, in.sector, buf[:], offSingle, offSingle+4); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (in *Inode) setSinglePointer(v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)

	return in.cache.WriteRange(in.dev, in.sector, buf[:], offSingle, offSingle+4)
}

func (in *Inode) doublePointer() (uint32, error) {
	var buf [4]byte
	if err := in.cache.ReadRange(in.dev, in.sector, buf[:], offDouble, offDouble+4); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (in *Inode) setDoublePointer(v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)

	return in.cache.WriteRange(in.dev, in.sector, buf[:], offDouble, offDouble+4)
}

// indirectPointerAt reads pointer index idx out of the indirect sector
// identified by indirectSector. Indirect sectors are plain cached sectors,
// not inodes, so this is a free function rather than an Inode method.
func indirectPointerAt(c *cache.Cache, dev *blockdev.Device, indirectSector uint32, idx int) (uint32, error) {
	var buf [4]byte
	off := idx * 4
	if err := c.ReadRange(dev, indirectSector, buf[:], off, off+4); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

func setIndirectPointerAt(c *cache.Cache, dev *blockdev.Device, indirectSector uint32, idx int, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	off := idx * 4

	return c.WriteRange(dev, indirectSector, buf[:], off, off+4)
}
