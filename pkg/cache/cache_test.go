package cache_test

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/minkikim98/pintosfs/internal/blockdev"
	"github.com/minkikim98/pintosfs/pkg/cache"
	"github.com/minkikim98/pintosfs/pkg/fs"
)

func newDevice(t *testing.T, sectors uint32) *blockdev.Device {
	t.Helper()

	dev, err := blockdev.Create(fs.NewReal(), filepath.Join(t.TempDir(), "disk.img"), sectors)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })

	return dev
}

func TestCache_ReadMiss_GoesToDevice(t *testing.T) {
	t.Parallel()

	dev := newDevice(t, 4)

	want := make([]byte, blockdev.SectorSize)
	for i := range want {
		want[i] = byte(i)
	}
	require.NoError(t, dev.WriteSector(2, want))

	c := cache.New()

	got := make([]byte, blockdev.SectorSize)
	require.NoError(t, c.ReadRange(dev, 2, got, 0, blockdev.SectorSize))
	require.Equal(t, want, got)
	require.EqualValues(t, 1, c.Stats().Misses)
}

func TestCache_SameSectorNeverCachedTwice(t *testing.T) {
	t.Parallel()

	dev := newDevice(t, 4)
	c := cache.New()

	buf := make([]byte, 1)
	for i := 0; i < 10; i++ {
		require.NoError(t, c.ReadRange(dev, 0, buf, 0, 1))
	}

	require.EqualValues(t, 10, c.Stats().Accesses)
	require.EqualValues(t, 1, c.Stats().Misses, "only the first access should miss")
}

func TestCache_WriteThenReadIsCoherentBeforeFlush(t *testing.T) {
	t.Parallel()

	dev := newDevice(t, 4)
	c := cache.New()

	payload := []byte("hello")
	require.NoError(t, c.WriteRange(dev, 1, payload, 0, len(payload)))

	got := make([]byte, len(payload))
	require.NoError(t, c.ReadRange(dev, 1, got, 0, len(payload)))
	require.Equal(t, payload, got)
}

func TestCache_FlushPersistsDirtyEntriesToDevice(t *testing.T) {
	t.Parallel()

	dev := newDevice(t, 4)
	c := cache.New()

	payload := []byte("persisted")
	require.NoError(t, c.WriteRange(dev, 3, payload, 0, len(payload)))
	require.NoError(t, c.Flush())

	fresh := cache.New()
	got := make([]byte, len(payload))
	require.NoError(t, fresh.ReadRange(dev, 3, got, 0, len(payload)))
	require.Equal(t, payload, got)
}

func TestCache_ResetEvictsEverythingAndCountsAsNewMisses(t *testing.T) {
	t.Parallel()

	dev := newDevice(t, 4)
	c := cache.New()

	buf := make([]byte, 1)
	require.NoError(t, c.ReadRange(dev, 0, buf, 0, 1))
	require.NoError(t, c.Reset())
	c.ResetStats()

	require.NoError(t, c.ReadRange(dev, 0, buf, 0, 1))
	require.EqualValues(t, 1, c.Stats().Misses, "a reset cache must re-fetch from the device")
}

func TestCache_EvictsPastCapacityWithoutLosingWrittenData(t *testing.T) {
	t.Parallel()

	dev := newDevice(t, cache.Slots+16)
	c := cache.New()

	for s := uint32(0); s < cache.Slots+16; s++ {
		payload := []byte{byte(s)}
		require.NoError(t, c.WriteRange(dev, s, payload, 0, 1))
	}

	require.NoError(t, c.Flush())

	for s := uint32(0); s < cache.Slots+16; s++ {
		got := make([]byte, 1)
		require.NoError(t, c.ReadRange(dev, s, got, 0, 1))
		require.Equal(t, byte(s), got[0])
	}
}

func TestCache_BadRangeRejected(t *testing.T) {
	t.Parallel()

	dev := newDevice(t, 1)
	c := cache.New()

	buf := make([]byte, blockdev.SectorSize)
	err := c.ReadRange(dev, 0, buf, 10, 5)
	require.ErrorIs(t, err, cache.ErrBadRange)

	err = c.WriteRange(dev, 0, buf, 0, blockdev.SectorSize+1)
	require.ErrorIs(t, err, cache.ErrBadRange)
}

func TestCache_ConcurrentAccessToManySectorsNeverCorrupts(t *testing.T) {
	t.Parallel()

	const sectors = 200

	dev := newDevice(t, sectors)
	c := cache.New()

	var wg sync.WaitGroup

	for s := uint32(0); s < sectors; s++ {
		wg.Add(1)

		go func(sector uint32) {
			defer wg.Done()

			payload := []byte{byte(sector), byte(sector + 1)}

			for i := 0; i < 20; i++ {
				require.NoError(t, c.WriteRange(dev, sector, payload, 0, len(payload)))

				got := make([]byte, len(payload))
				require.NoError(t, c.ReadRange(dev, sector, got, 0, len(payload)))
				require.Equal(t, payload, got)
			}
		}(s)
	}

	wg.Wait()
}
