// Package cache implements the content-addressed archive cache (C4): a
// directory of downloaded .rvn files keyed by the filename a repository
// index declares, verified against the SHA-256 the index asserts.
package cache

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/ravenlinux/rvn/internal/archive"
	"github.com/ravenlinux/rvn/internal/rvnerr"
)

// Cache is a directory of cached package archives.
type Cache struct {
	dir string
}

// Open ensures dir exists and returns a Cache rooted at it.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &rvnerr.IOError{Path: dir, Cause: err}
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache's root directory.
func (c *Cache) Dir() string { return c.dir }

func (c *Cache) path(filename string) string { return filepath.Join(c.dir, filename) }

// Get returns the path to filename if it exists in the cache and its
// content hashes to sha256. A stale cache entry (wrong hash) is removed
// and treated as a miss, per spec.md §4.4.
func (c *Cache) Get(filename, sha256 string) (string, bool, error) {
	path := c.path(filename)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, &rvnerr.IOError{Path: path, Cause: err}
	}

	hash, err := archive.HashFile(path)
	if err != nil {
		return "", false, err
	}
	if hash != sha256 {
		if err := os.Remove(path); err != nil {
			return "", false, &rvnerr.IOError{Path: path, Cause: err}
		}
		return "", false, nil
	}
	return path, true, nil
}

// Put moves sourcePath into the cache under filename, renaming when
// sourcePath and the cache live on the same filesystem and falling back
// to copy-then-remove otherwise.
func (c *Cache) Put(filename, sourcePath string) (string, error) {
	dest := c.path(filename)
	if err := os.Rename(sourcePath, dest); err == nil {
		return dest, nil
	}

	if err := copyFile(sourcePath, dest); err != nil {
		return "", err
	}
	if err := os.Remove(sourcePath); err != nil {
		return "", &rvnerr.IOError{Path: sourcePath, Cause: err}
	}
	return dest, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return &rvnerr.IOError{Path: src, Cause: err}
	}
	defer in.Close()

	tmp := dest + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return &rvnerr.IOError{Path: tmp, Cause: err}
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return &rvnerr.IOError{Path: tmp, Cause: err}
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return &rvnerr.IOError{Path: tmp, Cause: err}
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return &rvnerr.IOError{Path: dest, Cause: err}
	}
	return nil
}

// Entry describes one file present in the cache directory.
type Entry struct {
	Filename string
	Path     string
	Size     int64
}

// List enumerates every cache entry, sorted by filename.
func (c *Cache) List() ([]Entry, error) {
	dirents, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, &rvnerr.IOError{Path: c.dir, Cause: err}
	}
	var entries []Entry
	for _, d := range dirents {
		if d.IsDir() {
			continue
		}
		info, err := d.Info()
		if err != nil {
			return nil, &rvnerr.IOError{Path: filepath.Join(c.dir, d.Name()), Cause: err}
		}
		entries = append(entries, Entry{Filename: d.Name(), Path: filepath.Join(c.dir, d.Name()), Size: info.Size()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Filename < entries[j].Filename })
	return entries, nil
}

// Clean removes every cached archive. It never runs on its own — `rvn
// clean` invokes it explicitly, per spec.md §4.4's "cache never deletes
// proactively."
func (c *Cache) Clean() (int, error) {
	return c.CleanExcept(nil)
}

// CleanExcept removes every cached archive whose filename is not in keep,
// the "all-but-latest per package name" form of `rvn clean` — the caller
// (which knows, from the repo indexes, which filename is the latest
// version of each package) supplies the set of filenames to retain.
func (c *Cache) CleanExcept(keep map[string]bool) (int, error) {
	entries, err := c.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if keep[e.Filename] {
			continue
		}
		if err := os.Remove(e.Path); err != nil {
			return removed, &rvnerr.IOError{Path: e.Path, Cause: err}
		}
		removed++
	}
	return removed, nil
}
