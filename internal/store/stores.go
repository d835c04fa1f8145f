package store

// Stores is the top-level container for all storage backends. In
// standalone mode, managed-only stores (Agents, Tracing, AgentLinks,
// Teams, BuiltinTools) are nil. internal/kernel.NewRegistryFromStores
// reads Sessions/Memory/Audit off this container directly.
type Stores struct {
	Sessions SessionStore
	Memory   MemoryStore
	Skills   SkillStore
	Audit    *AuditLog // nil = no audit trail
	Vault    *Vault    // nil = credentials come from env/config only

	Agents       AgentStore       // nil in standalone mode
	Tracing      TracingStore     // nil in standalone mode
	AgentLinks   AgentLinkStore   // nil in standalone mode
	Teams        TeamStore        // nil in standalone mode
	BuiltinTools BuiltinToolStore // nil in standalone mode
}
