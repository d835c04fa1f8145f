package agent

import (
	"fmt"

	"github.com/openfang-project/openfang/internal/capability"
	"github.com/openfang-project/openfang/internal/tools"
)

// builtinToolCapability maps a built-in tool name to the capability.Kind
// it exercises. Tools absent from this table (sessions_list, cron,
// gateway, browser, canvas, session_status, agents_list, whatsapp_login,
// read_image, create_image, ...) sit outside the host-function resource
// model and so carry no capability check, the same way kernel-admin
// operations do. skill_run is absent on
// purpose: its checks happen per host_call inside the WASM dispatch,
// against the same grant set, not up front against a single capability.
var builtinToolCapability = map[string]capability.Kind{
	"read_file":      capability.FileRead,
	"list_files":     capability.FileRead,
	"search":         capability.FileRead,
	"glob":           capability.FileRead,
	"write_file":     capability.FileWrite,
	"edit_file":      capability.FileWrite,
	"apply_patch":    capability.FileWrite,
	"exec":           capability.ShellExec,
	"process":        capability.ShellExec,
	"web_fetch":      capability.NetConnect,
	"web_search":     capability.NetConnect,
	"memory_search":  capability.MemoryRead,
	"memory_get":     capability.MemoryRead,
	"sessions_send":  capability.AgentMessage,
	"message":        capability.AgentMessage,
	"sessions_spawn": capability.AgentSpawn,
	"subagents":      capability.AgentSpawn,
}

// toolTargetArgs lists, per tool, the argument keys (in priority order)
// that carry the glob target a capability grant is matched against —
// the path for filesystem tools, the URL for network tools, and so on.
var toolTargetArgs = map[string][]string{
	"read_file":   {"path", "file"},
	"list_files":  {"path", "dir"},
	"search":      {"path", "dir"},
	"glob":        {"path", "pattern"},
	"write_file":  {"path", "file"},
	"edit_file":   {"path", "file"},
	"apply_patch": {"path", "file"},
	"exec":        {"command"},
	"process":     {"command"},
	"web_fetch":   {"url"},
	"memory_search": {"key"},
	"memory_get":    {"key"},
	"sessions_send": {"to", "agent", "target"},
	"message":       {"to", "agent", "target"},
}

// requiredCapability returns the capability a built-in tool call
// exercises, given its name and arguments. ok is false when the tool
// carries no capability requirement.
func requiredCapability(name string, args map[string]interface{}) (capability.Capability, bool) {
	kind, ok := builtinToolCapability[name]
	if !ok {
		return capability.Capability{}, false
	}
	target := "*"
	for _, key := range toolTargetArgs[name] {
		if v, ok := args[key].(string); ok && v != "" {
			target = v
			break
		}
	}
	return capability.Capability{Kind: kind, Target: target}, true
}

// checkToolCapability enforces the deny-by-default capability system
// against a built-in tool call, the same grant set WASM guest
// calls are checked against via capability.Dispatch — built-in tools
// have their own execution path (filesystem/workspace semantics differ
// from the WASM host functions' sandboxed view), so rather than routing
// through Dispatch itself, the turn loop runs this check immediately
// before tools.Registry.ExecuteWithContext and short-circuits on denial.
// Returns nil when the call is permitted or the tool carries no
// capability requirement.
func (l *Loop) checkToolCapability(name string, args map[string]interface{}) *tools.Result {
	required, ok := requiredCapability(name, args)
	if !ok {
		return nil
	}
	if l.capabilities.Allows(required) {
		return nil
	}
	return tools.ErrorResult(fmt.Sprintf(
		"capability denied: tool %q requires %s, which is not granted to this agent", name, required.String()))
}
