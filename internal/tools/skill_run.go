package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfang-project/openfang/internal/capability"
	"github.com/openfang-project/openfang/internal/sandbox"
)

// skillModuleFile is the compiled guest module a skill bundle ships next
// to its SKILL.md when it carries executable code.
const skillModuleFile = "skill.wasm"

// SkillRunTool executes a skill bundle's compiled WASM module inside the
// guest runtime. Unlike exec, which gets process-level isolation on the
// host, skill code has no syscall surface at all: its only way to touch
// the outside world is the host_call import, and every host_call is
// checked against the invoking agent's capability grants.
type SkillRunTool struct {
	root       string // skills root; modules live at <root>/<skill>/skill.wasm
	state      capability.GuestState
	memoryMB   int
	timeoutSec int
	fuelBudget uint64
}

// NewSkillRunTool builds the tool bound to one agent's guest state. The
// state must carry the agent's granted capability set and a kernel handle
// — without the handle, kv_get/kv_set/agent_send/agent_spawn host calls
// fail inside the guest.
func NewSkillRunTool(root string, state capability.GuestState, memoryMB, timeoutSec int, fuelBudget uint64) *SkillRunTool {
	if memoryMB <= 0 {
		memoryMB = 128
	}
	if timeoutSec <= 0 {
		timeoutSec = 30
	}
	return &SkillRunTool{
		root:       root,
		state:      state,
		memoryMB:   memoryMB,
		timeoutSec: timeoutSec,
		fuelBudget: fuelBudget,
	}
}

func (t *SkillRunTool) Name() string { return "skill_run" }
func (t *SkillRunTool) Description() string {
	return "Run a skill's compiled code in the WASM sandbox and return its output"
}

func (t *SkillRunTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"skill": map[string]interface{}{
				"type":        "string",
				"description": "Name of the skill whose code to run",
			},
			"entry": map[string]interface{}{
				"type":        "string",
				"description": "Optional exported function to call (defaults to \"run\")",
			},
			"input": map[string]interface{}{
				"type":        "string",
				"description": "Optional input passed to the skill",
			},
		},
		"required": []string{"skill"},
	}
}

func (t *SkillRunTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	name, _ := args["skill"].(string)
	if name == "" {
		return ErrorResult("skill is required")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return ErrorResult("invalid skill name: " + name)
	}

	wasmBytes, err := os.ReadFile(filepath.Join(t.root, name, skillModuleFile))
	if err != nil {
		return ErrorResult(fmt.Sprintf("skill %q has no compiled module", name))
	}

	entry, _ := args["entry"].(string)
	input, _ := args["input"].(string)

	res, err := sandbox.RunModuleOnce(ctx, wasmBytes, t.memoryMB, t.timeoutSec, sandbox.RunRequest{
		State:      t.state,
		EntryPoint: entry,
		Args:       []byte(input),
		FuelBudget: t.fuelBudget,
	})
	if err != nil {
		switch {
		case errors.Is(err, sandbox.ErrFuelExhausted):
			return ErrorResult(fmt.Sprintf("skill %q halted: fuel budget exhausted after %d host calls", name, res.HostCalls))
		case errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "deadline exceeded"):
			// wazero reports epoch preemption as a module-closed error
			// naming the context deadline, not as context.DeadlineExceeded
			// itself.
			return ErrorResult(fmt.Sprintf("skill %q halted: wall-time budget (%ds) exceeded", name, t.timeoutSec))
		default:
			return ErrorResult(fmt.Sprintf("skill %q failed: %v", name, err))
		}
	}

	out := strings.TrimSpace(string(res.Output))
	if out == "" {
		return SilentResult(fmt.Sprintf("skill %q completed with no output", name))
	}
	return NewResult(out)
}
