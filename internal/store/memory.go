package store

import "context"

// MemoryStore backs the capability system's kv_get/kv_set host functions
// (MemoryRead/MemoryWrite capabilities): a flat, agent-scoped string
// key/value space. Standalone mode backs this with a file-based store;
// managed mode backs it with Postgres. Wired into internal/kernel's
// Registry, which scopes each agent_send/kv_get/kv_set call to its
// calling agent's id before ever reaching here.
type MemoryStore interface {
	Get(ctx context.Context, agentID, key string) (string, bool, error)
	Set(ctx context.Context, agentID, key, value string) error
	Delete(ctx context.Context, agentID, key string) error
	List(ctx context.Context, agentID, keyPrefix string) ([]string, error)
}
