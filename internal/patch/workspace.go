package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveWorkspacePath confines a patch-op path to workspaceRoot, the
// same way the filesystem tools resolve paths: always absolute and
// symlink-canonicalized, rejecting anything that resolves outside the
// workspace boundary. Non-existent targets (new files) resolve through
// their nearest existing ancestor.
func resolveWorkspacePath(raw, workspaceRoot string) (string, error) {
	var candidate string
	if filepath.IsAbs(raw) {
		candidate = filepath.Clean(raw)
	} else {
		candidate = filepath.Clean(filepath.Join(workspaceRoot, raw))
	}

	absRoot, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return "", fmt.Errorf("cannot resolve workspace root: %w", err)
	}
	rootReal, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		rootReal = absRoot // workspace not yet created
	}

	absCandidate, _ := filepath.Abs(candidate)
	real, err := filepath.EvalSymlinks(absCandidate)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("cannot resolve path: %w", err)
		}
		parentReal, parentErr := filepath.EvalSymlinks(filepath.Dir(absCandidate))
		if parentErr != nil {
			return "", fmt.Errorf("cannot resolve parent directory: %w", parentErr)
		}
		real = filepath.Join(parentReal, filepath.Base(absCandidate))
	}

	if !isWithin(real, rootReal) {
		return "", fmt.Errorf("path escapes workspace: %s", raw)
	}
	return real, nil
}

func isWithin(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}
