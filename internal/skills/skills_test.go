package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSkill(t *testing.T, root, name, frontmatter, body string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	content := body
	if frontmatter != "" {
		content = "---\n" + frontmatter + "\n---\n" + body
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestLoaderParsesFrontmatterAndBody(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "deploy", "description: Deploys the service", "Run the deploy playbook.")

	l := NewLoader(root)
	s, ok := l.Get("deploy")
	if !ok {
		t.Fatalf("expected skill %q to load", "deploy")
	}
	if s.Description != "Deploys the service" {
		t.Fatalf("description = %q", s.Description)
	}
	if strings.TrimSpace(s.Content) != "Run the deploy playbook." {
		t.Fatalf("content = %q", s.Content)
	}
}

func TestLoaderHandlesMissingFrontmatter(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "bare", "", "Just a body, no frontmatter.")

	l := NewLoader(root)
	s, ok := l.Get("bare")
	if !ok {
		t.Fatalf("expected skill %q to load", "bare")
	}
	if s.Description != "" {
		t.Fatalf("expected empty description, got %q", s.Description)
	}
	if !strings.Contains(s.Content, "Just a body") {
		t.Fatalf("content = %q", s.Content)
	}
}

func TestFilterSkillsSemantics(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "a", "description: A", "body a")
	writeSkill(t, root, "b", "description: B", "body b")

	l := NewLoader(root)

	if got := l.FilterSkills(nil); len(got) != 2 {
		t.Fatalf("nil allow list should return all skills, got %d", len(got))
	}
	if got := l.FilterSkills([]string{}); len(got) != 0 {
		t.Fatalf("empty allow list should return no skills, got %d", len(got))
	}
	got := l.FilterSkills([]string{"a"})
	if len(got) != 1 || got[0].Name != "a" {
		t.Fatalf("filtered set = %+v", got)
	}
}

func TestBuildSummaryIncludesAllowedSkillsOnly(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "a", "description: A skill", "body a")
	writeSkill(t, root, "b", "description: B skill", "body b")

	l := NewLoader(root)
	summary := l.BuildSummary([]string{"a"})
	if !strings.Contains(summary, `name="a"`) {
		t.Fatalf("summary missing skill a: %s", summary)
	}
	if strings.Contains(summary, `name="b"`) {
		t.Fatalf("summary should not include skill b: %s", summary)
	}
	if l.BuildSummary([]string{}) != "" {
		t.Fatalf("empty allow list should produce empty summary")
	}
}

func TestReloadPicksUpNewSkills(t *testing.T) {
	root := t.TempDir()
	l := NewLoader(root)
	if len(l.List()) != 0 {
		t.Fatalf("expected empty loader for empty dir")
	}

	writeSkill(t, root, "new", "description: New skill", "body")
	if err := l.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(l.List()) != 1 {
		t.Fatalf("expected 1 skill after reload, got %d", len(l.List()))
	}
}

func TestNewLoaderWithMissingRootStartsEmpty(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "does-not-exist"))
	if len(l.List()) != 0 {
		t.Fatalf("expected no skills for missing root")
	}
}

func TestWatchPicksUpNewSkillWithoutExplicitReload(t *testing.T) {
	root := t.TempDir()
	l := NewLoader(root)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Watch(ctx)

	writeSkill(t, root, "hot", "description: Hot loaded", "body")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := l.Get("hot"); ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected hot-reloaded skill to appear within timeout")
}
