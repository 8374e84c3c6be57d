// Package pathres implements the Path Resolver (C6): it walks a `/`-
// separated path, one component at a time, against either the root
// directory (absolute paths) or a process's current working directory
// (relative paths), descending through the directory layer.
package pathres

import (
	"fmt"
	"strings"

	"github.com/minkikim98/pintosfs/internal/bitmap"
	"github.com/minkikim98/pintosfs/internal/blockdev"
	"github.com/minkikim98/pintosfs/pkg/cache"
	"github.com/minkikim98/pintosfs/pkg/directory"
	"github.com/minkikim98/pintosfs/pkg/inode"
)

// deps bundles the layers every resolution threads through the walk, plus
// the filesystem's root sector (fixed at format time, known by pkg/fsys).
type deps struct {
	dev        *blockdev.Device
	cache      *cache.Cache
	alloc      *bitmap.Bitmap
	table      *inode.Table
	rootSector uint32
}

// splitComponents splits path on '/', dropping empty components so that
// repeated, leading, or trailing slashes are all ignored.
func splitComponents(path string) (components []string, absolute bool) {
	absolute = strings.HasPrefix(path, "/")

	for _, c := range strings.Split(path, "/") {
		if c != "" {
			components = append(components, c)
		}
	}

	return components, absolute
}

func startDir(d deps, cwd *directory.Directory, absolute bool) (*directory.Directory, error) {
	if absolute {
		return directory.OpenRoot(d.dev, d.cache, d.alloc, d.table, d.rootSector)
	}

	return cwd.Reopen(), nil
}

func removedDuringWalk(d deps, dir *directory.Directory) bool {
	return d.table.Removed(dir.Inode())
}

// resolveWalk descends through every non-final component, returning the
// directory the final component should be looked up in, plus that
// component's name. If path names no final component (e.g. "/" or ""), ok
// is false and dir is the (already-reopened) target directory itself.
func resolveWalk(d deps, cwd *directory.Directory, path string) (dir *directory.Directory, leaf string, ok bool, err error) {
	comps, absolute := splitComponents(path)

	cur, err := startDir(d, cwd, absolute)
	if err != nil {
		return nil, "", false, err
	}

	if len(comps) == 0 {
		return cur, "", false, nil
	}

	for i := 0; i < len(comps)-1; i++ {
		name := comps[i]

		if len(name) > directory.NameMax {
			cur.Close()

			return nil, "", false, directory.ErrNameTooLong
		}

		if removedDuringWalk(d, cur) {
			cur.Close()

			return nil, "", false, directory.ErrNotFound
		}

		sector, err := cur.Lookup(name)
		if err != nil {
			cur.Close()

			return nil, "", false, err
		}

		next, err := directory.Open(d.dev, d.cache, d.alloc, d.table, sector)
		if err != nil {
			cur.Close()

			return nil, "", false, err
		}

		isDir, err := next.Inode().IsDir()
		if err != nil {
			next.Close()
			cur.Close()

			return nil, "", false, err
		}

		if !isDir {
			next.Close()
			cur.Close()

			return nil, "", false, ErrNotADirectory
		}

		cur.Close()
		cur = next
	}

	leaf = comps[len(comps)-1]
	if len(leaf) > directory.NameMax {
		cur.Close()

		return nil, "", false, directory.ErrNameTooLong
	}

	return cur, leaf, true, nil
}

// Resolve walks path to its target, returning the inode sector it names and
// whether that inode is a directory.
func Resolve(dev *blockdev.Device, c *cache.Cache, alloc *bitmap.Bitmap, table *inode.Table, rootSector uint32, cwd *directory.Directory, path string) (uint32, bool, error) {
	d := deps{dev: dev, cache: c, alloc: alloc, table: table, rootSector: rootSector}

	dir, leaf, ok, err := resolveWalk(d, cwd, path)
	if err != nil {
		return 0, false, fmt.Errorf("pathres: resolve %q: %w", path, err)
	}

	if !ok {
		sector := dir.Inode().Inumber()
		dir.Close()

		return sector, true, nil
	}

	defer dir.Close()

	if removedDuringWalk(d, dir) {
		return 0, false, fmt.Errorf("pathres: resolve %q: %w", path, directory.ErrNotFound)
	}

	sector, err := dir.Lookup(leaf)
	if err != nil {
		return 0, false, fmt.Errorf("pathres: resolve %q: %w", path, err)
	}

	in, err := table.Open(dev, c, alloc, sector)
	if err != nil {
		return 0, false, fmt.Errorf("pathres: resolve %q: %w", path, err)
	}
	defer func() { _ = table.Close(in) }()

	isDir, err := in.IsDir()
	if err != nil {
		return 0, false, fmt.Errorf("pathres: resolve %q: %w", path, err)
	}

	return sector, isDir, nil
}

// ResolveDir walks path to a directory target and returns it open, for
// Chdir.
func ResolveDir(dev *blockdev.Device, c *cache.Cache, alloc *bitmap.Bitmap, table *inode.Table, rootSector uint32, cwd *directory.Directory, path string) (*directory.Directory, error) {
	sector, isDir, err := Resolve(dev, c, alloc, table, rootSector, cwd, path)
	if err != nil {
		return nil, err
	}

	if !isDir {
		return nil, fmt.Errorf("pathres: resolve %q: %w", path, ErrNotADirectory)
	}

	return directory.Open(dev, c, alloc, table, sector)
}

// ResolveParent walks all but the final component of path, returning the
// open parent directory and the final component's name — the shape Create,
// Mkdir and Remove all need (lock the parent, then add/remove the leaf).
func ResolveParent(dev *blockdev.Device, c *cache.Cache, alloc *bitmap.Bitmap, table *inode.Table, rootSector uint32, cwd *directory.Directory, path string) (*directory.Directory, string, error) {
	d := deps{dev: dev, cache: c, alloc: alloc, table: table, rootSector: rootSector}

	dir, leaf, ok, err := resolveWalk(d, cwd, path)
	if err != nil {
		return nil, "", fmt.Errorf("pathres: resolve_parent %q: %w", path, err)
	}

	if !ok {
		dir.Close()

		return nil, "", fmt.Errorf("pathres: resolve_parent %q: %w", path, ErrInvalidPath)
	}

	if removedDuringWalk(d, dir) {
		dir.Close()

		return nil, "", fmt.Errorf("pathres: resolve_parent %q: %w", path, directory.ErrNotFound)
	}

	return dir, leaf, nil
}
