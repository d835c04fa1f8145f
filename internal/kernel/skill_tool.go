package kernel

import (
	"fmt"

	"github.com/openfang-project/openfang/internal/capability"
	"github.com/openfang-project/openfang/internal/tools"
)

// SkillRunConfig bounds one agent's WASM skill invocations.
type SkillRunConfig struct {
	SkillsRoot string
	MemoryMB   int    // linear-memory cap per invocation; <=0 = 128
	TimeoutSec int    // wall-time budget per invocation; <=0 = 30
	FuelBudget uint64 // host-call budget per invocation; 0 = unlimited
}

// SkillRunTool builds the skill_run tool bound to agentID: the guest
// state it threads into every invocation carries the agent's granted
// capability set as captured at spawn and a kernel handle scoped to that
// agent, so kv/agent host calls from inside the guest resolve against
// the right memory namespace and spawn lineage. The returned tool is
// what a SpawnFunc registers into the new agent's tool registry.
func (r *Registry) SkillRunTool(agentID string, cfg SkillRunConfig) (tools.Tool, error) {
	_, caps, ok := r.Get(agentID)
	if !ok {
		return nil, fmt.Errorf("kernel: no agent registered for id %q", agentID)
	}
	state := capability.GuestState{
		Capabilities: caps,
		AgentID:      agentID,
		Kernel:       r.Handle(agentID),
	}
	return tools.NewSkillRunTool(cfg.SkillsRoot, state, cfg.MemoryMB, cfg.TimeoutSec, cfg.FuelBudget), nil
}
