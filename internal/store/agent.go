package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/openfang-project/openfang/internal/config"
)

// AgentData is one row of the agents table: an agent's identity, model
// binding, workspace, and per-agent config overrides (stored as JSONB and
// lazily parsed by the Parse* helpers below).
type AgentData struct {
	BaseModel
	AgentKey    string `json:"agent_key"`
	DisplayName string `json:"display_name,omitempty"`
	AgentType   string `json:"agent_type"` // "open", "predefined", "team_lead", "team_member"
	Status      string `json:"status"`     // "active", "summoning", "disabled"
	OwnerID     string `json:"owner_id"`
	IsDefault   bool   `json:"is_default,omitempty"`

	Provider string `json:"provider"`
	Model    string `json:"model"`

	Workspace            string `json:"workspace"`
	RestrictToWorkspace  bool   `json:"restrict_to_workspace"`
	ContextWindow        int    `json:"context_window,omitempty"`
	MaxToolIterations    int    `json:"max_tool_iterations,omitempty"`

	Frontmatter string `json:"frontmatter,omitempty"` // rendered agent card, used in TEAM.md/delegate listings

	ThinkingLevel     string          `json:"thinking_level,omitempty"`
	CompactionConfig  json.RawMessage `json:"compaction_config,omitempty"`
	ContextPruning    json.RawMessage `json:"context_pruning,omitempty"`
	SandboxConfig     json.RawMessage `json:"sandbox_config,omitempty"`
	ToolsConfig       json.RawMessage `json:"tools_config,omitempty"`
	MemoryConfig      json.RawMessage `json:"memory_config,omitempty"`
	OtherConfig       json.RawMessage `json:"other_config,omitempty"`
}

// ParseThinkingLevel returns the agent's configured thinking level, or "".
func (a *AgentData) ParseThinkingLevel() string {
	return a.ThinkingLevel
}

// ParseCompactionConfig unmarshals CompactionConfig, or nil if unset/empty.
func (a *AgentData) ParseCompactionConfig() *config.CompactionConfig {
	if len(a.CompactionConfig) == 0 || string(a.CompactionConfig) == "{}" {
		return nil
	}
	var c config.CompactionConfig
	if err := json.Unmarshal(a.CompactionConfig, &c); err != nil {
		return nil
	}
	return &c
}

// ParseContextPruning unmarshals ContextPruning, or nil if unset/empty.
func (a *AgentData) ParseContextPruning() *config.ContextPruningConfig {
	if len(a.ContextPruning) == 0 || string(a.ContextPruning) == "{}" {
		return nil
	}
	var c config.ContextPruningConfig
	if err := json.Unmarshal(a.ContextPruning, &c); err != nil {
		return nil
	}
	return &c
}

// ParseSandboxConfig unmarshals SandboxConfig, or nil if unset/empty.
func (a *AgentData) ParseSandboxConfig() *config.SandboxConfig {
	if len(a.SandboxConfig) == 0 || string(a.SandboxConfig) == "{}" {
		return nil
	}
	var c config.SandboxConfig
	if err := json.Unmarshal(a.SandboxConfig, &c); err != nil {
		return nil
	}
	return &c
}

// ParseToolsConfig unmarshals ToolsConfig, or nil if unset/empty.
func (a *AgentData) ParseToolsConfig() *config.ToolPolicySpec {
	if len(a.ToolsConfig) == 0 || string(a.ToolsConfig) == "{}" {
		return nil
	}
	var c config.ToolPolicySpec
	if err := json.Unmarshal(a.ToolsConfig, &c); err != nil {
		return nil
	}
	return &c
}

// ParseMemoryConfig unmarshals MemoryConfig, or nil if unset/empty.
func (a *AgentData) ParseMemoryConfig() *config.MemoryConfig {
	if len(a.MemoryConfig) == 0 {
		return nil
	}
	var c config.MemoryConfig
	if err := json.Unmarshal(a.MemoryConfig, &c); err != nil {
		return nil
	}
	return &c
}

// AgentShare grants a user access to an agent the user doesn't own.
type AgentShare struct {
	AgentID   uuid.UUID `json:"agent_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"` // "viewer", "user", "admin"
	GrantedBy string    `json:"granted_by"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentContextFileData is one named context file (SOUL.md, AGENTS.md, ...)
// attached to an agent, optionally scoped to a single user.
type AgentContextFileData struct {
	AgentID  uuid.UUID `json:"agent_id"`
	UserID   string    `json:"user_id,omitempty"` // "" = agent-level file
	FileName string    `json:"file_name"`
	Content  string    `json:"content"`
}

// AgentStore manages agent records, access control, and per-agent/per-user
// context files (managed mode only).
type AgentStore interface {
	Create(ctx context.Context, a *AgentData) error
	GetByID(ctx context.Context, id uuid.UUID) (*AgentData, error)
	GetByKey(ctx context.Context, key string) (*AgentData, error)
	ListAccessible(ctx context.Context, userID string) ([]AgentData, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, id uuid.UUID) error

	// CanAccess reports whether userID may act on agent id, and the role granted.
	CanAccess(ctx context.Context, id uuid.UUID, userID string) (bool, string, error)
	ListShares(ctx context.Context, id uuid.UUID) ([]AgentShare, error)
	ShareAgent(ctx context.Context, id uuid.UUID, userID, role, grantedBy string) error
	RevokeShare(ctx context.Context, id uuid.UUID, targetUserID string) error

	// Context files
	GetAgentContextFiles(ctx context.Context, agentID uuid.UUID) ([]AgentContextFileData, error)
	GetUserContextFiles(ctx context.Context, agentID uuid.UUID, userID string) ([]AgentContextFileData, error)
	SetAgentContextFile(ctx context.Context, agentID uuid.UUID, fileName, content string) error
	SetUserContextFile(ctx context.Context, agentID uuid.UUID, userID, fileName, content string) error
	DeleteUserContextFile(ctx context.Context, agentID uuid.UUID, userID, fileName string) error
	IsGroupFileWriter(ctx context.Context, agentID uuid.UUID, groupID, numericUserID string) (bool, error)
}
