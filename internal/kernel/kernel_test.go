package kernel

import (
	"context"
	"strings"
	"testing"

	"github.com/openfang-project/openfang/internal/agent"
	"github.com/openfang-project/openfang/internal/capability"
	"github.com/openfang-project/openfang/internal/store"
)

const scoutManifest = `
name = "scout"
provider = "anthropic"
model = "test-model"

[[capabilities]]
kind = "file_read"
target = "/workspace/reports/**"
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest(scoutManifest)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.Name != "scout" || m.Model != "test-model" {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	set := m.CapabilitySet()
	if len(set) != 1 || set[0].Kind != capability.FileRead {
		t.Fatalf("unexpected capability set: %v", set)
	}
}

func TestParseManifestRequiresName(t *testing.T) {
	if _, err := ParseManifest(`provider = "anthropic"`); err == nil {
		t.Fatal("expected error for manifest without name")
	}
	if _, err := ParseManifest(`name = "x`); err == nil {
		t.Fatal("expected error for malformed TOML")
	}
}

func TestSpawnAgentEnforcesCapabilityMonotonicity(t *testing.T) {
	spawned := 0
	r := NewRegistry(nil, func(ctx context.Context, m Manifest, parentAgentID string) (*agent.Loop, error) {
		spawned++
		return nil, nil
	}, nil, "")

	parentCaps := capability.Set{
		{Kind: capability.FileRead, Target: "/workspace/**"},
	}

	// Child within the parent grant spawns.
	id, name, err := r.SpawnAgent(context.Background(), scoutManifest, "parent-1", parentCaps)
	if err != nil {
		t.Fatalf("SpawnAgent: %v", err)
	}
	if name != "scout" || id == "" || spawned != 1 {
		t.Fatalf("unexpected spawn result: id=%q name=%q spawned=%d", id, name, spawned)
	}

	// Child requesting beyond the parent grant is rejected before SpawnFunc runs.
	escalating := strings.Replace(scoutManifest, "file_read", "shell_exec", 1)
	if _, _, err := r.SpawnAgent(context.Background(), escalating, "parent-1", parentCaps); err == nil {
		t.Fatal("expected capability-escalation rejection")
	}
	if spawned != 1 {
		t.Fatalf("SpawnFunc ran for a rejected manifest (spawned=%d)", spawned)
	}
}

func TestSpawnAgentRecordsAuditTrail(t *testing.T) {
	audit := store.NewAuditLog(nil)
	r := NewRegistry(nil, func(ctx context.Context, m Manifest, parentAgentID string) (*agent.Loop, error) {
		return nil, nil
	}, nil, "")
	r.SetAuditLog(audit)

	parentCaps := capability.Set{{Kind: capability.FileRead, Target: "/workspace/**"}}
	if _, _, err := r.SpawnAgent(context.Background(), scoutManifest, "parent-1", parentCaps); err != nil {
		t.Fatalf("SpawnAgent: %v", err)
	}
	escalating := strings.Replace(scoutManifest, "file_read", "agent_spawn", 1)
	r.SpawnAgent(context.Background(), escalating, "parent-1", parentCaps)

	records := audit.Records()
	if len(records) != 2 {
		t.Fatalf("expected 2 audit records, got %d", len(records))
	}
	if records[0].Kind != store.AuditAgentSpawn || records[1].Kind != store.AuditCapabilityDeny {
		t.Fatalf("unexpected audit kinds: %s, %s", records[0].Kind, records[1].Kind)
	}
	if err := audit.Verify(); err != nil {
		t.Fatalf("audit chain: %v", err)
	}
}

func TestLookupResolvesByIDAndName(t *testing.T) {
	r := NewRegistry(nil, nil, nil, "")
	caps := capability.Set{{Kind: capability.MemoryRead, Target: "*"}}
	r.Register("agent-id-1", "researcher", caps, nil, "")

	if id, _, ok := r.Lookup("agent-id-1"); !ok || id != "agent-id-1" {
		t.Fatalf("lookup by id failed: %q %t", id, ok)
	}
	if id, _, ok := r.Lookup("researcher"); !ok || id != "agent-id-1" {
		t.Fatalf("lookup by name failed: %q %t", id, ok)
	}
	if _, _, ok := r.Lookup("nobody"); ok {
		t.Fatal("expected unknown target to miss")
	}
}

func TestSkillRunToolRequiresRegisteredAgent(t *testing.T) {
	r := NewRegistry(nil, nil, nil, "")
	if _, err := r.SkillRunTool("ghost", SkillRunConfig{SkillsRoot: t.TempDir()}); err == nil {
		t.Fatal("expected error for unregistered agent")
	}

	caps := capability.Set{{Kind: capability.FileRead, Target: "/workspace/**"}}
	r.Register("agent-1", "scout", caps, nil, "")
	tool, err := r.SkillRunTool("agent-1", SkillRunConfig{SkillsRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("SkillRunTool: %v", err)
	}
	if tool.Name() != "skill_run" {
		t.Fatalf("unexpected tool name %q", tool.Name())
	}
}
