package blockdev_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/minkikim98/pintosfs/internal/blockdev"
	"github.com/minkikim98/pintosfs/pkg/fs"
)

func newDevice(t *testing.T, sectors uint32) *blockdev.Device {
	t.Helper()

	path := filepath.Join(t.TempDir(), "disk.img")

	dev, err := blockdev.Create(fs.NewReal(), path, sectors)
	require.NoError(t, err)

	t.Cleanup(func() { _ = dev.Close() })

	return dev
}

func TestDevice_ReadWriteRoundTrip(t *testing.T) {
	t.Parallel()

	dev := newDevice(t, 4)

	want := bytes.Repeat([]byte{0xAB}, blockdev.SectorSize)
	require.NoError(t, dev.WriteSector(2, want))

	got := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.ReadSector(2, got))
	require.Equal(t, want, got)
}

func TestDevice_NewSectorsAreZeroed(t *testing.T) {
	t.Parallel()

	dev := newDevice(t, 2)

	got := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.ReadSector(0, got))
	require.Equal(t, make([]byte, blockdev.SectorSize), got)
}

func TestDevice_OutOfRange(t *testing.T) {
	t.Parallel()

	dev := newDevice(t, 2)

	buf := make([]byte, blockdev.SectorSize)
	err := dev.ReadSector(2, buf)
	require.True(t, errors.Is(err, blockdev.ErrOutOfRange))

	err = dev.WriteSector(100, buf)
	require.True(t, errors.Is(err, blockdev.ErrOutOfRange))
}

func TestDevice_StatsCountReadsAndWrites(t *testing.T) {
	t.Parallel()

	dev := newDevice(t, 4)

	buf := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.WriteSector(0, buf))
	require.NoError(t, dev.WriteSector(1, buf))
	require.NoError(t, dev.ReadSector(0, buf))

	stats := dev.Stats()
	require.Equal(t, int64(2), stats.Writes)
	require.Equal(t, int64(1), stats.Reads)

	dev.ResetStats()
	require.Equal(t, blockdev.Stats{}, dev.Stats())
}

func TestDevice_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	dev := newDevice(t, 1)
	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close())

	buf := make([]byte, blockdev.SectorSize)
	err := dev.ReadSector(0, buf)
	require.True(t, errors.Is(err, blockdev.ErrClosed))
}

func TestOpen_RejectsSizeNotMultipleOfSectorSize(t *testing.T) {
	t.Parallel()

	realFS := fs.NewReal()
	path := filepath.Join(t.TempDir(), "bad.img")

	f, err := realFS.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 10))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = blockdev.Open(realFS, path)
	require.True(t, errors.Is(err, blockdev.ErrBadSize))
}
