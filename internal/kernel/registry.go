package kernel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/openfang-project/openfang/internal/agent"
	"github.com/openfang-project/openfang/internal/capability"
	"github.com/openfang-project/openfang/internal/scheduler"
	"github.com/openfang-project/openfang/internal/sessions"
	"github.com/openfang-project/openfang/internal/store"
)

// SpawnFunc builds the turn loop for a newly spawned agent from its
// parsed manifest. Supplied by the caller (provider/tool resolution
// lives outside this package, the same injection the scheduler already
// uses for RunFunc) so Registry carries no reverse dependency on
// provider or tool construction. Implementations must set the returned
// Loop's LoopConfig.Capabilities to m.CapabilitySet() — Register stores
// that same Set in the registry entry for spawn_agent's monotonicity
// check, but the Loop itself must carry it too so every built-in tool
// call the spawned agent makes is gated by it.
type SpawnFunc func(ctx context.Context, m Manifest, parentAgentID string) (*agent.Loop, error)

type registryEntry struct {
	loop     *agent.Loop
	name     string
	caps     capability.Set
	parentID string
}

// Registry is the kernel's agent table: every spawned agent's turn loop,
// granted capability set, and lineage, addressable by AgentId. It also
// implements scheduler.RunFunc (Run) so it can sit directly behind a
// scheduler.Scheduler, resolving the target loop from the session key's
// embedded agent id.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*registryEntry

	memory   store.MemoryStore
	sessions store.SessionStore // optional: only needed for DeliveryLastChannel lookups
	spawn    SpawnFunc
	sched    *scheduler.Scheduler
	lane     scheduler.Lane
	audit    *store.AuditLog // optional
}

// NewRegistry constructs an empty Registry. sched/lane may be nil/"" if
// SendToAgent and Run will never be exercised (e.g. a registry used only
// for kv_get/kv_set in tests).
func NewRegistry(memory store.MemoryStore, spawn SpawnFunc, sched *scheduler.Scheduler, lane scheduler.Lane) *Registry {
	if lane == "" {
		lane = scheduler.LaneSubagent
	}
	return &Registry{
		agents: make(map[string]*registryEntry),
		memory: memory,
		spawn:  spawn,
		sched:  sched,
		lane:   lane,
	}
}

// NewRegistryFromStores constructs a Registry wired to the storage
// container: memory backs kv_get/kv_set, sessions back
// DeliveryLastChannel, and the audit trail (when present) records spawn
// events. The vault, when present, stays with the caller — provider and
// peer construction read credentials from it before the registry exists.
func NewRegistryFromStores(s *store.Stores, spawn SpawnFunc, sched *scheduler.Scheduler, lane scheduler.Lane) *Registry {
	r := NewRegistry(s.Memory, spawn, sched, lane)
	if s.Sessions != nil {
		r.SetSessionStore(s.Sessions)
	}
	if s.Audit != nil {
		r.SetAuditLog(s.Audit)
	}
	return r
}

// SetAuditLog attaches the hash-chained audit trail; spawn and
// spawn-denial events are appended to it. Optional.
func (r *Registry) SetAuditLog(log *store.AuditLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = log
}

// SetSessionStore attaches the session store used to resolve
// DeliveryLastChannel ("reply on whatever channel this agent last used")
// for cron-fired turns. Optional — only the cron dispatcher needs it.
func (r *Registry) SetSessionStore(sessions store.SessionStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = sessions
}

// LastUsedChannel returns the channel/chatID the agent last used, for
// DeliveryLastChannel. ok is false if no session store is attached or no
// session is on record yet.
func (r *Registry) LastUsedChannel(agentID string) (channel, chatID string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.sessions == nil {
		return "", "", false
	}
	channel, chatID = r.sessions.LastUsedChannel(agentID)
	return channel, chatID, channel != ""
}

// Register adds an already-constructed loop to the table under id,
// granting it caps. Used both by SpawnAgentChecked and by whatever
// bootstraps the root/default agents before any spawn_agent call.
func (r *Registry) Register(id, name string, caps capability.Set, loop *agent.Loop, parentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[id] = &registryEntry{loop: loop, name: name, caps: caps, parentID: parentID}
}

// Get returns the registered loop and capability set for id.
func (r *Registry) Get(id string) (*agent.Loop, capability.Set, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[id]
	if !ok {
		return nil, nil, false
	}
	return e.loop, e.caps, true
}

// Lookup resolves target against both agent id and registered name —
// agent_send callers (skills, other agents) address peers by either.
func (r *Registry) Lookup(target string) (id string, loop *agent.Loop, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, found := r.agents[target]; found {
		return target, e.loop, true
	}
	for id, e := range r.agents {
		if e.name == target {
			return id, e.loop, true
		}
	}
	return "", nil, false
}

// Run implements scheduler.RunFunc: resolves the agent id embedded in
// req.SessionKey and dispatches to that agent's own loop.
func (r *Registry) Run(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
	agentID, _ := sessions.ParseSessionKey(req.SessionKey)
	loop, _, ok := r.Get(agentID)
	if !ok {
		return nil, fmt.Errorf("kernel: no agent registered for id %q", agentID)
	}
	return loop.Run(ctx, req)
}

// Handle returns the capability.KernelHandle scoped to agentID: the
// handle a GuestState is constructed with for that agent's tool calls.
func (r *Registry) Handle(agentID string) capability.KernelHandle {
	return &agentHandle{reg: r, agentID: agentID}
}

// agentHandle is the per-agent capability.KernelHandle implementation.
// It's deliberately a thin adapter: all the actual work is on Registry,
// scoped by the agentID this handle closes over.
type agentHandle struct {
	reg     *Registry
	agentID string
}

func (h *agentHandle) MemoryRecall(ctx context.Context, key string) (string, bool, error) {
	if h.reg.memory == nil {
		return "", false, fmt.Errorf("kernel: no memory store configured")
	}
	return h.reg.memory.Get(ctx, h.agentID, key)
}

func (h *agentHandle) MemoryStore(ctx context.Context, key, value string) error {
	if h.reg.memory == nil {
		return fmt.Errorf("kernel: no memory store configured")
	}
	return h.reg.memory.Set(ctx, h.agentID, key, value)
}

func (h *agentHandle) SendToAgent(ctx context.Context, target, message string) (string, error) {
	return h.reg.sendMessage(ctx, h.agentID, target, message)
}

func (h *agentHandle) SpawnAgentChecked(ctx context.Context, manifestTOML string, parentAgentID string, parentCaps capability.Set) (string, string, error) {
	return h.reg.SpawnAgent(ctx, manifestTOML, parentAgentID, parentCaps)
}

// SpawnAgent parses manifestTOML, enforces the capability-monotonicity
// invariant (child caps must be a subset of parentCaps), builds the new
// loop via the injected SpawnFunc, and registers it.
func (r *Registry) SpawnAgent(ctx context.Context, manifestTOML, parentAgentID string, parentCaps capability.Set) (id, name string, err error) {
	if r.spawn == nil {
		return "", "", fmt.Errorf("kernel: no spawn function configured")
	}
	m, err := ParseManifest(manifestTOML)
	if err != nil {
		return "", "", err
	}
	r.mu.RLock()
	audit := r.audit
	r.mu.RUnlock()
	childCaps := m.CapabilitySet()
	if !childCaps.IsSubsetOf(parentCaps) {
		if audit != nil {
			audit.Append(store.AuditCapabilityDeny, parentAgentID,
				fmt.Sprintf("spawn of %q rejected: capabilities exceed parent grant", m.Name))
		}
		return "", "", fmt.Errorf("kernel: manifest requests capabilities %v beyond parent's grant", childCaps)
	}

	loop, err := r.spawn(ctx, m, parentAgentID)
	if err != nil {
		return "", "", fmt.Errorf("kernel: spawn failed: %w", err)
	}

	newID := uuid.NewString()
	r.Register(newID, m.Name, childCaps, loop, parentAgentID)
	if audit != nil {
		audit.Append(store.AuditAgentSpawn, parentAgentID,
			fmt.Sprintf("spawned %q as %s", m.Name, newID))
	}
	return newID, m.Name, nil
}

// sendMessage implements both SendToAgent (WASM-facing agent_send) and
// the kernel handle's send_message: resolve target, run one blocking
// turn on its loop via the scheduler so it shares the target agent's
// session/lane concurrency gates, and return the reply text.
func (r *Registry) sendMessage(ctx context.Context, fromAgentID, target, message string) (string, error) {
	targetID, loop, ok := r.Lookup(target)
	if !ok {
		return "", fmt.Errorf("kernel: no agent registered for target %q", target)
	}
	req := agent.RunRequest{
		SessionKey: sessions.BuildSubagentSessionKey(targetID, fromAgentID),
		Message:    message,
		RunID:      uuid.NewString(),
	}
	if r.sched == nil {
		result, err := loop.Run(ctx, req)
		if err != nil {
			return "", err
		}
		return result.Content, nil
	}
	select {
	case out := <-r.sched.Schedule(ctx, r.lane, req):
		if out.Err != nil {
			return "", out.Err
		}
		return out.Result.Content, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// SendMessage implements the kernel handle's blocking send_message(agent,
// text) operation against an already-registered agent (not WASM-scoped,
// so no capability check — callers reaching this are already inside the
// kernel's own trust boundary, e.g. the workflow engine or bridge).
func (r *Registry) SendMessage(ctx context.Context, agentID, text string) (*agent.RunResult, error) {
	sessionKey := sessions.BuildSessionKey(agentID, "kernel", sessions.PeerDirect, agentID)
	return r.runOnSession(ctx, agentID, sessionKey, text)
}

// runOnSession drives one blocking turn for agentID on an explicit
// session key, shared by SendMessage (kernel-default session) and the
// cron dispatcher (one BuildCronSessionKey key per job).
func (r *Registry) runOnSession(ctx context.Context, agentID, sessionKey, text string) (*agent.RunResult, error) {
	_, loop, ok := r.Lookup(agentID)
	if !ok {
		return nil, fmt.Errorf("kernel: no agent registered for id %q", agentID)
	}
	req := agent.RunRequest{
		SessionKey: sessionKey,
		Message:    text,
		RunID:      uuid.NewString(),
	}
	return loop.Run(ctx, req)
}

// SendMessageStreaming implements send_message_streaming: runs the turn
// in its own goroutine with RunRequest.StreamEvents populated, returning
// the caller a live channel it must drain until closed. runID lets the
// caller StopRun this specific run.
func (r *Registry) SendMessageStreaming(ctx context.Context, agentID, text string) (events <-chan agent.StreamEvent, runID string, err error) {
	_, loop, ok := r.Lookup(agentID)
	if !ok {
		return nil, "", fmt.Errorf("kernel: no agent registered for id %q", agentID)
	}
	runID = uuid.NewString()
	ch := make(chan agent.StreamEvent, 16)
	req := agent.RunRequest{
		SessionKey:   sessions.BuildSessionKey(agentID, "kernel", sessions.PeerDirect, agentID),
		Message:      text,
		RunID:        runID,
		StreamEvents: ch,
	}
	go func() {
		defer close(ch)
		if _, err := loop.Run(ctx, req); err != nil {
			ch <- agent.StreamEvent{Kind: agent.StreamContentComplete, RunID: runID, Text: err.Error(), IsError: true}
		}
	}()
	return ch, runID, nil
}

// ResetSession implements reset_session(agent).
func (r *Registry) ResetSession(agentID string) error {
	loop, _, ok := r.Get(agentID)
	if !ok {
		return fmt.Errorf("kernel: no agent registered for id %q", agentID)
	}
	sessionKey := sessions.BuildSessionKey(agentID, "kernel", sessions.PeerDirect, agentID)
	return loop.ResetSession(sessionKey)
}

// CompactSession implements compact_session(agent).
func (r *Registry) CompactSession(ctx context.Context, agentID string) error {
	loop, _, ok := r.Get(agentID)
	if !ok {
		return fmt.Errorf("kernel: no agent registered for id %q", agentID)
	}
	sessionKey := sessions.BuildSessionKey(agentID, "kernel", sessions.PeerDirect, agentID)
	return loop.CompactSession(ctx, sessionKey)
}

// SetModel implements set_model(agent, model).
func (r *Registry) SetModel(agentID, model string) error {
	loop, _, ok := r.Get(agentID)
	if !ok {
		return fmt.Errorf("kernel: no agent registered for id %q", agentID)
	}
	loop.SetModel(model)
	return nil
}

// SetThinking implements set_thinking(agent, on). "on" maps to the
// turn loop's default non-trivial thinking level; callers wanting a
// specific level should reach for the loop directly.
func (r *Registry) SetThinking(agentID string, on bool) error {
	loop, _, ok := r.Get(agentID)
	if !ok {
		return fmt.Errorf("kernel: no agent registered for id %q", agentID)
	}
	level := "off"
	if on {
		level = "medium"
	}
	loop.SetThinkingLevel(level)
	return nil
}

// StopRun implements stop_run(agent): cancels the in-flight run runID on
// agentID's loop via loop.StopRun. Returns false if the agent is not
// registered or no run with that id is active.
func (r *Registry) StopRun(agentID, runID string) bool {
	loop, _, ok := r.Get(agentID)
	if !ok {
		return false
	}
	return loop.StopRun(runID)
}

// SessionUsage implements session_usage(agent).
func (r *Registry) SessionUsage(agentID string) (promptTokens, completionTokens int64, err error) {
	loop, _, ok := r.Get(agentID)
	if !ok {
		return 0, 0, fmt.Errorf("kernel: no agent registered for id %q", agentID)
	}
	sessionKey := sessions.BuildSessionKey(agentID, "kernel", sessions.PeerDirect, agentID)
	pt, ct, _ := loop.SessionUsage(sessionKey)
	return pt, ct, nil
}
