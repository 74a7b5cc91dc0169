// Package fsys implements the Filesystem Layout component of spec.md
// §4.2: a deterministic per-download directory tree under a configured
// root.
package fsys

import (
	"os"
	"path/filepath"

	"torrentstream/internal/domain"
)

// DirFor returns the stable per-download directory supplied to the peer
// client as targetDir: {root}/{download.id}.
func DirFor(root string, id domain.ItemID) string {
	return filepath.Join(root, string(id))
}

// ListFiles recursively enumerates dir depth-first, returning absolute
// paths to regular files. A missing directory yields an empty slice, not
// an error.
func ListFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		out = append(out, abs)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	return out, nil
}

// RemoveDir recursively removes dir. The caller is expected to log and
// discard the returned error per spec.md §4.2 ("errors logged but not
// propagated") — this function still returns it so call sites decide.
func RemoveDir(dir string) error {
	return os.RemoveAll(dir)
}

// IsEmpty reports whether dir does not exist or contains no files.
func IsEmpty(dir string) bool {
	files, err := ListFiles(dir)
	if err != nil {
		return true
	}
	return len(files) == 0
}
