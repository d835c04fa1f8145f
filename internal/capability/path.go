package capability

import (
	"fmt"
	"path/filepath"
	"strings"
)

// errPathTraversal is returned when a path parameter contains a ".."
// component, before the filesystem is ever touched.
var errPathTraversal = fmt.Errorf("path traversal denied: '..' components forbidden")

// safeResolvePath rejects traversal and returns the canonicalized
// absolute path for a read/list operation.
func safeResolvePath(path string) (string, error) {
	if containsParentDir(path) {
		return "", errPathTraversal
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path: %w", err)
	}
	return resolved, nil
}

// safeResolveParent rejects traversal, canonicalizes the parent
// directory, and returns parent/filename for a write to a possibly-new
// file.
func safeResolveParent(path string) (string, error) {
	if containsParentDir(path) {
		return "", errPathTraversal
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path: %w", err)
	}
	dir := filepath.Dir(abs)
	name := filepath.Base(abs)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid path: no file name")
	}
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("path traversal denied in file name")
	}
	canonicalDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", fmt.Errorf("cannot resolve parent directory: %w", err)
	}
	return filepath.Join(canonicalDir, name), nil
}

// containsParentDir reports whether any path component is "..", without
// first cleaning the path (filepath.Clean would silently collapse
// "a/../b" and hide the traversal attempt from this check).
func containsParentDir(path string) bool {
	path = filepath.ToSlash(path)
	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return true
		}
	}
	return false
}
