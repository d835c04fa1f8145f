package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/openfang-project/openfang/internal/providers"
)

// Tool is anything the agent loop can invoke as a function call. Name and
// Parameters feed the provider's function-calling schema; Execute never
// panics — failures are reported through Result.IsError.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry holds the set of tools available to an agent before per-call
// capability/policy filtering narrows it down.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Names returns every registered tool name, sorted for deterministic
// iteration (schema generation, logging).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List is an alias of Names for call sites that ask the registry for its
// full tool roster (system-prompt tool-name listing, the unfiltered base
// of the policy pipeline) rather than a single tool lookup.
func (r *Registry) List() []string {
	return r.Names()
}

// ProviderDefs returns every registered tool's provider-facing schema, in
// the same deterministic order as Names. Used when no PolicyEngine is
// configured (no filtering needed) or by callers, like the subagent
// runner, that build their own registry from a fixed tool set.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.sortedNamesLocked()
	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, ToProviderDef(r.tools[name]))
	}
	return defs
}

// ToProviderDef converts a Tool's name/description/parameters into the
// provider-facing function-call schema.
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// Execute looks up name and runs it directly against args, with no
// capability gating or per-channel/session context — the minimal
// execution path callers outside the turn loop (the subagent runner,
// which applies its own deny-list before ever reaching this registry)
// use. internal/agent's turn loop uses ExecuteWithContext instead, which
// carries the channel/session context filesystem and sandbox tools key
// off of.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	tool, ok := r.Get(name)
	if !ok {
		return ErrorResult("unknown tool: " + name)
	}
	return tool.Execute(ctx, args)
}

// ExecuteWithContext runs name with args, threading the invoking
// channel/chatID/peerKind/sessionKey into ctx via the context_keys.go
// setters tools.go (filesystem, exec, sandbox-routed tools) already read
// through their matching FromCtx accessors, so a tool sees which
// session/channel it's running under without every Tool implementation
// taking those as explicit parameters. sessionKey doubles as the sandbox
// key. extra is reserved for future per-call metadata and may be nil;
// today no built-in tool reads it.
func (r *Registry) ExecuteWithContext(ctx context.Context, name string, args map[string]interface{}, channel, chatID, peerKind, sessionKey string, extra map[string]string) *Result {
	tool, ok := r.Get(name)
	if !ok {
		return ErrorResult("unknown tool: " + name)
	}
	ctx = WithToolChannel(ctx, channel)
	ctx = WithToolChatID(ctx, chatID)
	ctx = WithToolPeerKind(ctx, peerKind)
	ctx = WithToolSandboxKey(ctx, sessionKey)
	return tool.Execute(ctx, args)
}

// Filtered returns the subset of registered tools whose names appear in
// allowed, preserving the deterministic Names() order.
func (r *Registry) Filtered(allowed []string) []Tool {
	allowSet := make(map[string]bool, len(allowed))
	for _, n := range allowed {
		allowSet[n] = true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Tool
	for _, name := range r.sortedNamesLocked() {
		if allowSet[name] {
			out = append(out, r.tools[name])
		}
	}
	return out
}

func (r *Registry) sortedNamesLocked() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
