package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Delete removes the file or directory at path, recursively for
// directories, without following symlinks. rootPath constrains deletion
// to strict descendants of the scan root. The caller un-counts the
// corresponding tree entry afterwards.
func Delete(path, rootPath string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	absRoot, err := filepath.Abs(rootPath)
	if err != nil {
		return fmt.Errorf("cannot resolve root %s: %w", rootPath, err)
	}

	// The target must be strictly inside the root, never the root itself.
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to delete %s: outside scan root %s", absPath, absRoot)
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", absPath, err)
	}
	if info.IsDir() {
		return deleteResolvedPath(filepath.Dir(absPath), filepath.Base(absPath))
	}
	return os.Remove(absPath)
}
