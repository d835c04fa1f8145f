package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfang-project/openfang/internal/capability"
)

func TestSkillRunRequiresSkillName(t *testing.T) {
	tool := NewSkillRunTool(t.TempDir(), capability.GuestState{}, 0, 0, 0)
	res := tool.Execute(context.Background(), map[string]interface{}{})
	if !res.IsError {
		t.Fatal("expected error for missing skill argument")
	}
}

func TestSkillRunRejectsPathTraversalNames(t *testing.T) {
	tool := NewSkillRunTool(t.TempDir(), capability.GuestState{}, 0, 0, 0)
	for _, name := range []string{"../escape", "a/b", `a\b`, ".."} {
		res := tool.Execute(context.Background(), map[string]interface{}{"skill": name})
		if !res.IsError || !strings.Contains(res.ForLLM, "invalid skill name") {
			t.Fatalf("expected invalid-name rejection for %q, got %+v", name, res)
		}
	}
}

func TestSkillRunMissingModule(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "summarize"), 0o755); err != nil {
		t.Fatal(err)
	}
	tool := NewSkillRunTool(root, capability.GuestState{}, 0, 0, 0)
	res := tool.Execute(context.Background(), map[string]interface{}{"skill": "summarize"})
	if !res.IsError || !strings.Contains(res.ForLLM, "no compiled module") {
		t.Fatalf("expected missing-module error, got %+v", res)
	}
}

func TestSkillRunRejectsMalformedModule(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "broken")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "skill.wasm"), []byte("not wasm"), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := NewSkillRunTool(root, capability.GuestState{}, 0, 0, 0)
	res := tool.Execute(context.Background(), map[string]interface{}{"skill": "broken"})
	if !res.IsError {
		t.Fatalf("expected failure for malformed module, got %+v", res)
	}
}
