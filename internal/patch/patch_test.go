package patch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseAddFile(t *testing.T) {
	p := "*** Begin Patch\n" +
		"*** Add File: src/new.go\n" +
		"+func main() {\n" +
		"+\tprintln(\"hello\")\n" +
		"+}\n" +
		"*** End Patch"
	ops, err := Parse(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("expected 1 op, got %d", len(ops))
	}
	if ops[0].Kind != OpAddFile || ops[0].Path != "src/new.go" {
		t.Fatalf("unexpected op: %+v", ops[0])
	}
	if !strings.Contains(ops[0].Content, "func main()") {
		t.Fatalf("content missing expected text: %q", ops[0].Content)
	}
}

func TestParseUpdateFile(t *testing.T) {
	p := "*** Begin Patch\n" +
		"*** Update File: src/lib.go\n" +
		"@@ hunk 1 @@\n" +
		" func existing() {\n" +
		"-\toldCode()\n" +
		"+\tnewCode()\n" +
		" }\n" +
		"*** End Patch"
	ops, err := Parse(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ops) != 1 || ops[0].Kind != OpUpdateFile {
		t.Fatalf("expected single UpdateFile op, got %+v", ops)
	}
	op := ops[0]
	if op.Path != "src/lib.go" || op.MoveTo != "" {
		t.Fatalf("unexpected path/move: %+v", op)
	}
	if len(op.Hunks) != 1 {
		t.Fatalf("expected 1 hunk, got %d", len(op.Hunks))
	}
	h := op.Hunks[0]
	if len(h.ContextBefore) != 1 || h.ContextBefore[0] != "func existing() {" {
		t.Fatalf("unexpected context_before: %+v", h.ContextBefore)
	}
	if len(h.OldLines) != 1 || h.OldLines[0] != "\toldCode()" {
		t.Fatalf("unexpected old_lines: %+v", h.OldLines)
	}
	if len(h.NewLines) != 1 || h.NewLines[0] != "\tnewCode()" {
		t.Fatalf("unexpected new_lines: %+v", h.NewLines)
	}
	if len(h.ContextAfter) != 1 || h.ContextAfter[0] != "}" {
		t.Fatalf("unexpected context_after: %+v", h.ContextAfter)
	}
}

func TestParseDeleteFile(t *testing.T) {
	p := "*** Begin Patch\n*** Delete File: src/old.go\n*** End Patch"
	ops, err := Parse(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ops) != 1 || ops[0].Kind != OpDeleteFile || ops[0].Path != "src/old.go" {
		t.Fatalf("unexpected ops: %+v", ops)
	}
}

func TestParseMoveFile(t *testing.T) {
	p := "*** Begin Patch\n" +
		"*** Update File: old/path.go -> new/path.go\n" +
		"@@ hunk @@\n" +
		" keep_this\n" +
		"-remove_this\n" +
		"+add_this\n" +
		"*** End Patch"
	ops, err := Parse(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ops[0].Path != "old/path.go" || ops[0].MoveTo != "new/path.go" {
		t.Fatalf("unexpected move op: %+v", ops[0])
	}
}

func TestParseMultiOp(t *testing.T) {
	p := "*** Begin Patch\n" +
		"*** Add File: a.txt\n" +
		"+hello\n" +
		"*** Delete File: b.txt\n" +
		"*** Update File: c.txt\n" +
		"@@ hunk @@\n" +
		"-old\n" +
		"+new\n" +
		"*** End Patch"
	ops, err := Parse(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("expected 3 ops, got %d", len(ops))
	}
	if ops[0].Kind != OpAddFile || ops[1].Kind != OpDeleteFile || ops[2].Kind != OpUpdateFile {
		t.Fatalf("unexpected op kinds: %+v", ops)
	}
}

func TestParseMissingBegin(t *testing.T) {
	p := "*** Add File: a.txt\n+hello\n*** End Patch"
	if _, err := Parse(p); err == nil {
		t.Fatal("expected error for missing begin marker")
	}
}

func TestParseMissingEnd(t *testing.T) {
	p := "*** Begin Patch\n*** Add File: a.txt\n+hello"
	if _, err := Parse(p); err == nil {
		t.Fatal("expected error for missing end marker")
	}
}

func TestParseEmptyPatch(t *testing.T) {
	p := "*** Begin Patch\n*** End Patch"
	if _, err := Parse(p); err == nil {
		t.Fatal("expected error for empty patch")
	}
}

func TestApplyHunksSimple(t *testing.T) {
	content := "line1\nline2\nline3\n"
	hunks := []Hunk{{
		ContextBefore: []string{"line1"},
		OldLines:      []string{"line2"},
		NewLines:      []string{"replaced"},
	}}
	result, err := applyHunks(content, hunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "replaced") || strings.Contains(result, "line2") {
		t.Fatalf("unexpected result: %q", result)
	}
	if !strings.Contains(result, "line1") || !strings.Contains(result, "line3") {
		t.Fatalf("unchanged lines missing: %q", result)
	}
}

func TestApplyHunksMultiHunk(t *testing.T) {
	content := "a\nb\nc\nd\ne\n"
	hunks := []Hunk{
		{ContextBefore: []string{"a"}, OldLines: []string{"b"}, NewLines: []string{"B"}},
		{ContextBefore: []string{"c"}, OldLines: []string{"d"}, NewLines: []string{"D", "D2"}},
	}
	result, err := applyHunks(content, hunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "B") {
		t.Fatalf("missing B: %q", result)
	}
	if !strings.Contains(result, "D\nD2") {
		t.Fatalf("missing D\\nD2: %q", result)
	}
	if strings.Contains(result, "\nb\n") || strings.Contains(result, "\nd\n") {
		t.Fatalf("old lines not removed: %q", result)
	}
}

func TestApplyHunksContextMismatch(t *testing.T) {
	content := "alpha\nbeta\ngamma\n"
	hunks := []Hunk{{
		ContextBefore: []string{"nonexistent"},
		OldLines:      []string{"also_nonexistent"},
		NewLines:      []string{"new"},
	}}
	if _, err := applyHunks(content, hunks); err == nil {
		t.Fatal("expected error for mismatched anchor")
	}
}

func TestApplyHunksFuzzyWhitespace(t *testing.T) {
	content := "line1  \nline2\t\nline3\n"
	hunks := []Hunk{{
		ContextBefore: []string{"line1"},
		OldLines:      []string{"line2"},
		NewLines:      []string{"replaced"},
	}}
	result, err := applyHunks(content, hunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "replaced") {
		t.Fatalf("fuzzy match did not apply: %q", result)
	}
}

func TestApplyHunksPreservesUnchanged(t *testing.T) {
	content := "header\nkeep1\nkeep2\nold_line\nkeep3\nfooter\n"
	hunks := []Hunk{{
		ContextBefore: []string{"keep2"},
		OldLines:      []string{"old_line"},
		NewLines:      []string{"new_line"},
	}}
	result, err := applyHunks(content, hunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"header", "keep1", "keep2", "new_line", "keep3", "footer"} {
		if !strings.Contains(result, want) {
			t.Fatalf("expected %q in result: %q", want, result)
		}
	}
	if strings.Contains(result, "old_line") {
		t.Fatalf("old_line should have been removed: %q", result)
	}
}

func TestFindAnchorExact(t *testing.T) {
	lines := []string{"a", "b", "c", "d"}
	pos, found := findAnchor(lines, []string{"b", "c"})
	if !found || pos != 1 {
		t.Fatalf("expected (1, true), got (%d, %v)", pos, found)
	}
}

func TestFindAnchorNotFound(t *testing.T) {
	lines := []string{"a", "b", "c"}
	if _, found := findAnchor(lines, []string{"x", "y"}); found {
		t.Fatal("expected not found")
	}
}

func TestFindAnchorFuzzy(t *testing.T) {
	lines := []string{"a  ", "b\t", "c"}
	pos, found := findAnchorFuzzy(lines, []string{"a", "b"})
	if !found || pos != 0 {
		t.Fatalf("expected (0, true), got (%d, %v)", pos, found)
	}
}

func TestApplyIntegration(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "existing.txt"), []byte("line1\nline2\nline3\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	ops := []Op{
		{Kind: OpAddFile, Path: "new.txt", Content: "hello world"},
		{
			Kind: OpUpdateFile, Path: "existing.txt",
			Hunks: []Hunk{{
				ContextBefore: []string{"line1"},
				OldLines:      []string{"line2"},
				NewLines:      []string{"replaced"},
			}},
		},
	}

	result := Apply(ops, dir)
	if !result.OK() {
		t.Fatalf("expected no errors, got: %v", result.Errors)
	}
	if result.FilesAdded != 1 || result.FilesUpdated != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}

	newContent, err := os.ReadFile(filepath.Join(dir, "new.txt"))
	if err != nil || string(newContent) != "hello world" {
		t.Fatalf("unexpected new.txt content: %q, err=%v", newContent, err)
	}

	updated, err := os.ReadFile(filepath.Join(dir, "existing.txt"))
	if err != nil {
		t.Fatalf("read existing.txt: %v", err)
	}
	if !strings.Contains(string(updated), "replaced") || strings.Contains(string(updated), "line2") {
		t.Fatalf("unexpected existing.txt content: %q", updated)
	}
}

func TestApplyDelete(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "doomed.txt")
	if err := os.WriteFile(target, []byte("goodbye"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	result := Apply([]Op{{Kind: OpDeleteFile, Path: "doomed.txt"}}, dir)
	if !result.OK() || result.FilesDeleted != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("expected file to be deleted")
	}
}

func TestApplyRejectsWorkspaceEscape(t *testing.T) {
	dir := t.TempDir()
	result := Apply([]Op{{Kind: OpAddFile, Path: "../outside.txt", Content: "x"}}, dir)
	if result.OK() {
		t.Fatal("expected escape to be rejected")
	}
}
