package patch

import (
	"fmt"
	"strings"
)

// Parse parses a patch string into a list of Ops. Expects the body
// delimited by "*** Begin Patch" / "*** End Patch" markers; within that
// block each file operation starts with "*** Add File:", "*** Update
// File:", or "*** Delete File:".
func Parse(input string) ([]Op, error) {
	lines := strings.Split(input, "\n")

	begin := -1
	end := -1
	for i, l := range lines {
		if strings.TrimSpace(l) == "*** Begin Patch" && begin == -1 {
			begin = i
		}
		if strings.TrimSpace(l) == "*** End Patch" {
			end = i
		}
	}
	if begin == -1 {
		return nil, fmt.Errorf("missing '*** Begin Patch' marker")
	}
	if end == -1 {
		return nil, fmt.Errorf("missing '*** End Patch' marker")
	}
	if end <= begin {
		return nil, fmt.Errorf("'*** End Patch' must come after '*** Begin Patch'")
	}

	body := lines[begin+1 : end]
	var ops []Op
	i := 0

	for i < len(body) {
		line := strings.TrimSpace(body[i])

		switch {
		case strings.HasPrefix(line, "*** Add File:"):
			path := strings.TrimSpace(strings.TrimPrefix(line, "*** Add File:"))
			if path == "" {
				return nil, fmt.Errorf("empty path in '*** Add File:'")
			}
			i++
			var contentLines []string
			for i < len(body) && !strings.HasPrefix(strings.TrimSpace(body[i]), "***") {
				l := body[i]
				if stripped, ok := strip(l, "+"); ok {
					contentLines = append(contentLines, stripped)
				} else if strings.TrimSpace(l) != "" {
					return nil, fmt.Errorf("expected '+' prefix in Add File content, got: %s", l)
				}
				i++
			}
			ops = append(ops, Op{Kind: OpAddFile, Path: path, Content: strings.Join(contentLines, "\n")})

		case strings.HasPrefix(line, "*** Update File:"):
			rest := strings.TrimSpace(strings.TrimPrefix(line, "*** Update File:"))
			path := rest
			moveTo := ""
			if idx := strings.Index(rest, "->"); idx >= 0 {
				path = strings.TrimSpace(rest[:idx])
				moveTo = strings.TrimSpace(rest[idx+2:])
			}
			if path == "" {
				return nil, fmt.Errorf("empty path in '*** Update File:'")
			}
			i++

			var hunks []Hunk
			for i < len(body) && !strings.HasPrefix(strings.TrimSpace(body[i]), "***") {
				l := strings.TrimSpace(body[i])
				if strings.HasPrefix(l, "@@") {
					i++
					hunk, next := parseHunkBody(body, i)
					hunks = append(hunks, hunk)
					i = next
				} else {
					i++
				}
			}
			if len(hunks) == 0 {
				return nil, fmt.Errorf("update file '%s' has no hunks", path)
			}
			ops = append(ops, Op{Kind: OpUpdateFile, Path: path, MoveTo: moveTo, Hunks: hunks})

		case strings.HasPrefix(line, "*** Delete File:"):
			path := strings.TrimSpace(strings.TrimPrefix(line, "*** Delete File:"))
			if path == "" {
				return nil, fmt.Errorf("empty path in '*** Delete File:'")
			}
			i++
			ops = append(ops, Op{Kind: OpDeleteFile, Path: path})

		case line == "":
			i++

		default:
			return nil, fmt.Errorf("unexpected line in patch: %s", line)
		}
	}

	if len(ops) == 0 {
		return nil, fmt.Errorf("patch contains no operations")
	}
	return ops, nil
}

// parseHunkBody consumes hunk lines starting at index i until the next
// "@@" or "***" marker, classifying each into context-before, old,
// new, or context-after based on its prefix and position relative to
// the first +/- line seen.
func parseHunkBody(body []string, i int) (Hunk, int) {
	var h Hunk
	inChange := false
	pastChange := false

	for i < len(body) {
		t := strings.TrimSpace(body[i])
		if strings.HasPrefix(t, "@@") || strings.HasPrefix(t, "***") {
			break
		}
		l := body[i]
		switch {
		case strings.HasPrefix(l, "-"):
			inChange = true
			pastChange = false
			h.OldLines = append(h.OldLines, l[1:])
		case strings.HasPrefix(l, "+"):
			inChange = true
			pastChange = false
			h.NewLines = append(h.NewLines, l[1:])
		case strings.HasPrefix(l, " "):
			stripped := l[1:]
			if inChange || pastChange {
				pastChange = true
				inChange = false
				h.ContextAfter = append(h.ContextAfter, stripped)
			} else {
				h.ContextBefore = append(h.ContextBefore, stripped)
			}
		case strings.TrimSpace(l) == "":
			if inChange || pastChange {
				pastChange = true
				inChange = false
				h.ContextAfter = append(h.ContextAfter, "")
			} else {
				h.ContextBefore = append(h.ContextBefore, "")
			}
		default:
			if inChange || pastChange {
				pastChange = true
				inChange = false
				h.ContextAfter = append(h.ContextAfter, l)
			} else {
				h.ContextBefore = append(h.ContextBefore, l)
			}
		}
		i++
	}
	return h, i
}

func strip(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		return s[len(prefix):], true
	}
	return "", false
}
