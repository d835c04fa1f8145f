package patch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Apply applies parsed operations against the filesystem, confining
// every path to workspaceRoot. Unlike parsing, applying is best-effort:
// one op's failure is recorded in Result.Errors and does not abort the
// remaining ops.
func Apply(ops []Op, workspaceRoot string) *Result {
	result := &Result{}

	for _, op := range ops {
		switch op.Kind {
		case OpAddFile:
			applyAddFile(op, workspaceRoot, result)
		case OpUpdateFile:
			applyUpdateFile(op, workspaceRoot, result)
		case OpDeleteFile:
			applyDeleteFile(op, workspaceRoot, result)
		}
	}

	return result
}

func applyAddFile(op Op, workspaceRoot string, result *Result) {
	resolved, err := resolveWorkspacePath(op.Path, workspaceRoot)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", op.Path, err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("mkdir %s: %s", op.Path, err))
		return
	}
	if err := os.WriteFile(resolved, []byte(op.Content), 0o644); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("write %s: %s", op.Path, err))
		return
	}
	result.FilesAdded++
}

func applyUpdateFile(op Op, workspaceRoot string, result *Result) {
	resolved, err := resolveWorkspacePath(op.Path, workspaceRoot)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", op.Path, err))
		return
	}

	original, err := os.ReadFile(resolved)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("read %s: %s", op.Path, err))
		return
	}

	patched, err := applyHunks(string(original), op.Hunks)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("patch %s: %s", op.Path, err))
		return
	}

	target := resolved
	if op.MoveTo != "" {
		t, err := resolveWorkspacePath(op.MoveTo, workspaceRoot)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", op.MoveTo, err))
			return
		}
		target = t
		result.FilesMoved++
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("mkdir %s: %s", op.Path, err))
		return
	}
	if err := os.WriteFile(target, []byte(patched), 0o644); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("write %s: %s", op.Path, err))
		return
	}
	result.FilesUpdated++
	if op.MoveTo != "" && target != resolved {
		_ = os.Remove(resolved)
	}
}

func applyDeleteFile(op Op, workspaceRoot string, result *Result) {
	resolved, err := resolveWorkspacePath(op.Path, workspaceRoot)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", op.Path, err))
		return
	}
	if err := os.Remove(resolved); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("delete %s: %s", op.Path, err))
		return
	}
	result.FilesDeleted++
}

// applyHunks applies a sequence of hunks to file content. Each hunk's
// context-before + old-lines are located in the content (exact match,
// falling back to trailing-whitespace-insensitive fuzzy match) and
// replaced with context-before + new-lines.
func applyHunks(content string, hunks []Hunk) (string, error) {
	lines := splitLines(content)
	trailingNewline := strings.HasSuffix(content, "\n")

	for idx, hunk := range hunks {
		anchor := append(append([]string{}, hunk.ContextBefore...), hunk.OldLines...)

		if len(anchor) == 0 && len(hunk.OldLines) == 0 {
			lines = append(lines, hunk.NewLines...)
			continue
		}

		pos, found := findAnchor(lines, anchor)
		if !found {
			pos, found = findAnchorFuzzy(lines, anchor)
		}
		if !found {
			return "", fmt.Errorf("hunk %d failed: could not find context/old lines in file", idx+1)
		}

		removeCount := len(hunk.ContextBefore) + len(hunk.OldLines)
		replacement := append(append([]string{}, hunk.ContextBefore...), hunk.NewLines...)

		tail := append([]string{}, lines[pos+removeCount:]...)
		lines = append(lines[:pos], append(replacement, tail...)...)
	}

	result := strings.Join(lines, "\n")
	if trailingNewline && !strings.HasSuffix(result, "\n") {
		result += "\n"
	}
	return result, nil
}

// splitLines is content.lines() equivalent: splits on "\n" without
// producing a trailing empty element for a final newline.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	trimmed := strings.TrimSuffix(content, "\n")
	return strings.Split(trimmed, "\n")
}

func findAnchor(fileLines, anchor []string) (int, bool) {
	if len(anchor) == 0 {
		return len(fileLines), true
	}
	if len(anchor) > len(fileLines) {
		return 0, false
	}
outer:
	for start := 0; start <= len(fileLines)-len(anchor); start++ {
		for j, expected := range anchor {
			if fileLines[start+j] != expected {
				continue outer
			}
		}
		return start, true
	}
	return 0, false
}

// findAnchorFuzzy retries the anchor search trimming trailing whitespace
// from both sides of the comparison, logging when a match only succeeds
// this way.
func findAnchorFuzzy(fileLines, anchor []string) (int, bool) {
	if len(anchor) == 0 {
		return len(fileLines), true
	}
	if len(anchor) > len(fileLines) {
		return 0, false
	}
outer:
	for start := 0; start <= len(fileLines)-len(anchor); start++ {
		for j, expected := range anchor {
			if strings.TrimRight(fileLines[start+j], " \t") != strings.TrimRight(expected, " \t") {
				continue outer
			}
		}
		slog.Warn("patch hunk matched with fuzzy whitespace", "line", start+1)
		return start, true
	}
	return 0, false
}
