package bitmap_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/minkikim98/pintosfs/internal/bitmap"
	"github.com/minkikim98/pintosfs/internal/blockdev"
	"github.com/minkikim98/pintosfs/pkg/fs"
)

func newDevice(t *testing.T, sectors uint32) *blockdev.Device {
	t.Helper()

	dev, err := blockdev.Create(fs.NewReal(), filepath.Join(t.TempDir(), "disk.img"), sectors)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })

	return dev
}

func TestBitmap_AllocateRelease(t *testing.T) {
	t.Parallel()

	dev := newDevice(t, 10)
	bm, err := bitmap.Create(dev, 0, 100)
	require.NoError(t, err)

	base, err := bm.Allocate(5)
	require.NoError(t, err)
	require.Equal(t, uint32(0), base)

	base2, err := bm.Allocate(3)
	require.NoError(t, err)
	require.Equal(t, uint32(5), base2)

	require.NoError(t, bm.Release(base, 5))

	base3, err := bm.Allocate(5)
	require.NoError(t, err)
	require.Equal(t, uint32(0), base3, "released run should be reused")
}

func TestBitmap_OutOfSpace(t *testing.T) {
	t.Parallel()

	dev := newDevice(t, 10)
	bm, err := bitmap.Create(dev, 0, 4)
	require.NoError(t, err)

	_, err = bm.Allocate(3)
	require.NoError(t, err)

	_, err = bm.Allocate(2)
	require.True(t, errors.Is(err, bitmap.ErrOutOfSpace))
}

func TestBitmap_MarkUsedReservesRange(t *testing.T) {
	t.Parallel()

	dev := newDevice(t, 10)
	bm, err := bitmap.Create(dev, 0, 20)
	require.NoError(t, err)

	require.NoError(t, bm.MarkUsed(0, 3))

	base, err := bm.Allocate(1)
	require.NoError(t, err)
	require.Equal(t, uint32(3), base)
}

func TestBitmap_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	dev := newDevice(t, 10)
	bm, err := bitmap.Create(dev, 0, 64)
	require.NoError(t, err)

	base, err := bm.Allocate(4)
	require.NoError(t, err)
	require.NoError(t, bm.Flush())

	reopened, err := bitmap.Open(dev, 0, 64)
	require.NoError(t, err)

	// The reloaded bitmap still marks the original run used, so the next
	// run of 4 lands right after it.
	base2, err := reopened.Allocate(4)
	require.NoError(t, err)
	require.Equal(t, base+4, base2)

	require.NoError(t, reopened.Release(base, 4))
}

func TestBitmap_ConcurrentAllocateNeverDoubleAssigns(t *testing.T) {
	t.Parallel()

	dev := newDevice(t, 10)
	bm, err := bitmap.Create(dev, 0, 256)
	require.NoError(t, err)

	const workers = 32

	results := make(chan uint32, workers)
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		go func() {
			base, err := bm.Allocate(1)
			if err != nil {
				errs <- err

				return
			}

			results <- base
		}()
	}

	seen := make(map[uint32]bool)

	for i := 0; i < workers; i++ {
		select {
		case base := <-results:
			require.False(t, seen[base], "sector %d allocated twice", base)
			seen[base] = true
		case err := <-errs:
			t.Fatalf("unexpected allocate error: %v", err)
		}
	}
}
