package capability

import "context"

// KernelHandle is the capability dispatch's view of the kernel: the
// minimal surface agent_send/agent_spawn/kv_get/kv_set need, kept as an
// interface so the capability package holds no reverse reference to the
// scheduler.
type KernelHandle interface {
	MemoryRecall(ctx context.Context, key string) (string, bool, error)
	MemoryStore(ctx context.Context, key, value string) error
	SendToAgent(ctx context.Context, target, message string) (string, error)
	SpawnAgentChecked(ctx context.Context, manifestTOML string, parentAgentID string, parentCaps Set) (id, name string, err error)
}

// GuestState carries the caller's granted capability set, the calling
// agent's id, and a handle back to the kernel for the host functions
// that need it. Passed by value into Dispatch; never mutated by a host
// function.
type GuestState struct {
	Capabilities Set
	AgentID      string
	Kernel       KernelHandle // nil when no kernel operations are available (e.g. bare sandbox tests)
}
