package directory_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/minkikim98/pintosfs/internal/bitmap"
	"github.com/minkikim98/pintosfs/internal/blockdev"
	"github.com/minkikim98/pintosfs/pkg/cache"
	"github.com/minkikim98/pintosfs/pkg/directory"
	"github.com/minkikim98/pintosfs/pkg/fs"
	"github.com/minkikim98/pintosfs/pkg/inode"
)

type fixture struct {
	dev   *blockdev.Device
	cache *cache.Cache
	alloc *bitmap.Bitmap
	table *inode.Table
}

func newFixture(t *testing.T, sectors uint32) *fixture {
	t.Helper()

	dev, err := blockdev.Create(fs.NewReal(), filepath.Join(t.TempDir(), "disk.img"), sectors)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })

	alloc, err := bitmap.Create(dev, 1, sectors)
	require.NoError(t, err)
	require.NoError(t, alloc.MarkUsed(0, 2)) // boot sector + bitmap's own sector

	return &fixture{dev: dev, cache: cache.New(), alloc: alloc, table: inode.NewTable()}
}

// newRoot creates a root directory with no "." / ".." entries of its own
// (the real filesystem format step would give it self-entries pointing at
// itself; these tests only need a directory to add/lookup/remove against).
func (f *fixture) newRoot(t *testing.T, capacity uint32) (uint32, *directory.Directory) {
	t.Helper()

	sector, err := f.alloc.Allocate(1)
	require.NoError(t, err)
	require.NoError(t, directory.Create(f.dev, f.cache, f.alloc, sector, capacity))

	d, err := directory.Open(f.dev, f.cache, f.alloc, f.table, sector)
	require.NoError(t, err)

	return sector, d
}

// newFile creates an empty file inode on its own sector, for entries a test
// removes (Remove opens the entry's inode, so the sector must hold one).
func (f *fixture) newFile(t *testing.T) uint32 {
	t.Helper()

	sector, err := f.alloc.Allocate(1)
	require.NoError(t, err)
	require.NoError(t, inode.Create(f.dev, f.cache, f.alloc, sector, 0, false))

	return sector
}

func TestDirectory_AddThenLookupRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 64)
	_, root := f.newRoot(t, 4)

	require.NoError(t, root.Add("hello.txt", 42))

	got, err := root.Lookup("hello.txt")
	require.NoError(t, err)
	require.EqualValues(t, 42, got)

	require.NoError(t, root.Close())
}

func TestDirectory_LookupMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 64)
	_, root := f.newRoot(t, 4)

	_, err := root.Lookup("nope")
	require.ErrorIs(t, err, directory.ErrNotFound)

	require.NoError(t, root.Close())
}

func TestDirectory_AddRejectsBadNames(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 64)
	_, root := f.newRoot(t, 4)

	require.ErrorIs(t, root.Add("", 1), directory.ErrEmptyName)

	tooLong := ""
	for i := 0; i <= directory.NameMax; i++ {
		tooLong += "a"
	}
	require.ErrorIs(t, root.Add(tooLong, 1), directory.ErrNameTooLong)

	require.NoError(t, root.Close())
}

func TestDirectory_AddDuplicateNameFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 64)
	_, root := f.newRoot(t, 4)

	require.NoError(t, root.Add("dup", 10))
	require.ErrorIs(t, root.Add("dup", 11), directory.ErrExists)

	require.NoError(t, root.Close())
}

func TestDirectory_RemoveFreesSlotForReuse(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 64)
	_, root := f.newRoot(t, 2)

	require.NoError(t, root.Add("a", f.newFile(t)))
	require.NoError(t, root.Add("b", 11))

	require.NoError(t, root.Remove("a"))

	_, err := root.Lookup("a")
	require.ErrorIs(t, err, directory.ErrNotFound)

	// The freed slot is reused rather than growing the directory.
	require.NoError(t, root.Add("c", 12))

	got, err := root.Lookup("c")
	require.NoError(t, err)
	require.EqualValues(t, 12, got)

	require.NoError(t, root.Close())
}

func TestDirectory_RemoveUnknownNameFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 64)
	_, root := f.newRoot(t, 4)

	require.ErrorIs(t, root.Remove("ghost"), directory.ErrNotFound)

	require.NoError(t, root.Close())
}

func TestDirectory_RemoveReservedNamesRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 64)
	_, root := f.newRoot(t, 4)

	require.ErrorIs(t, root.Remove("."), directory.ErrReservedName)
	require.ErrorIs(t, root.Remove(".."), directory.ErrReservedName)

	require.NoError(t, root.Close())
}

func TestDirectory_ReaddirSkipsDotEntriesAndFreeSlots(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 64)
	rootSector, root := f.newRoot(t, 8)

	require.NoError(t, root.Add(".", rootSector))
	require.NoError(t, root.Add("..", rootSector))
	require.NoError(t, root.Add("alpha", 10))
	require.NoError(t, root.Add("beta", f.newFile(t)))
	require.NoError(t, root.Add("gamma", 12))
	require.NoError(t, root.Remove("beta"))

	var names []string
	for {
		name, ok, err := root.Readdir()
		require.NoError(t, err)

		if !ok {
			break
		}

		names = append(names, name)
	}

	require.ElementsMatch(t, []string{"alpha", "gamma"}, names)

	require.NoError(t, root.Close())
}

func TestDirectory_ReaddirCursorIsPerHandle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 64)
	_, root := f.newRoot(t, 4)

	require.NoError(t, root.Add("one", 10))
	require.NoError(t, root.Add("two", 11))

	name, ok, err := root.Readdir()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one", name)

	second := root.Reopen()

	// second's cursor starts fresh even though it shares the same inode.
	name, ok, err = second.Readdir()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one", name)

	name, ok, err = root.Readdir()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "two", name)

	require.NoError(t, root.Close())
	require.NoError(t, second.Close())
}

func TestDirectory_IsEmpty(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 64)
	rootSector, root := f.newRoot(t, 4)

	empty, err := root.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)

	require.NoError(t, root.Add(".", rootSector))
	require.NoError(t, root.Add("..", rootSector))

	empty, err = root.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty, "dot entries alone still count as empty")

	require.NoError(t, root.Add("child", 99))

	empty, err = root.IsEmpty()
	require.NoError(t, err)
	require.False(t, empty)

	require.NoError(t, root.Close())
}

func TestDirectory_SubdirCreateLinksSelfAndParentEntries(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 64)
	rootSector, root := f.newRoot(t, 4)
	require.NoError(t, root.Add(".", rootSector))
	require.NoError(t, root.Add("..", rootSector))

	require.NoError(t, directory.SubdirCreate(f.dev, f.cache, f.alloc, f.table, root, "sub"))

	childSector, err := root.Lookup("sub")
	require.NoError(t, err)

	child, err := directory.Open(f.dev, f.cache, f.alloc, f.table, childSector)
	require.NoError(t, err)

	self, err := child.Lookup(".")
	require.NoError(t, err)
	require.Equal(t, childSector, self)

	parent, err := child.Lookup("..")
	require.NoError(t, err)
	require.Equal(t, rootSector, parent)

	empty, err := child.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)

	require.NoError(t, child.Close())
	require.NoError(t, root.Close())
}

func TestDirectory_SubdirCreateRollsBackOnNameCollision(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 64)
	_, root := f.newRoot(t, 4)

	require.NoError(t, root.Add("taken", 123))

	// The first free sector before the failed call must be free again after it.
	probe, err := f.alloc.Allocate(1)
	require.NoError(t, err)
	require.NoError(t, f.alloc.Release(probe, 1))

	err = directory.SubdirCreate(f.dev, f.cache, f.alloc, f.table, root, "taken")
	require.ErrorIs(t, err, directory.ErrExists)

	// "taken" still resolves to the original file, not to a half-built
	// directory; its sector was released back to the allocator.
	got, err := root.Lookup("taken")
	require.NoError(t, err)
	require.EqualValues(t, 123, got)

	reused, err := f.alloc.Allocate(1)
	require.NoError(t, err)
	require.Equal(t, probe, reused)

	require.NoError(t, root.Close())
}

func TestDirectory_RemoveNonEmptySubdirectoryFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 64)
	rootSector, root := f.newRoot(t, 4)
	require.NoError(t, root.Add(".", rootSector))
	require.NoError(t, root.Add("..", rootSector))

	require.NoError(t, directory.SubdirCreate(f.dev, f.cache, f.alloc, f.table, root, "sub"))

	childSector, err := root.Lookup("sub")
	require.NoError(t, err)

	child, err := directory.Open(f.dev, f.cache, f.alloc, f.table, childSector)
	require.NoError(t, err)
	require.NoError(t, child.Add("leaf", 999))
	require.NoError(t, child.Close())

	err = root.Remove("sub")
	require.ErrorIs(t, err, directory.ErrNotEmpty)

	// Still resolvable: the failed remove changed nothing.
	_, err = root.Lookup("sub")
	require.NoError(t, err)

	require.NoError(t, root.Close())
}

func TestDirectory_RemoveEmptySubdirectorySucceeds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 64)
	rootSector, root := f.newRoot(t, 4)
	require.NoError(t, root.Add(".", rootSector))
	require.NoError(t, root.Add("..", rootSector))

	require.NoError(t, directory.SubdirCreate(f.dev, f.cache, f.alloc, f.table, root, "sub"))

	require.NoError(t, root.Remove("sub"))

	_, err := root.Lookup("sub")
	require.ErrorIs(t, err, directory.ErrNotFound)

	require.NoError(t, root.Close())
}
