package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// AgentLinkData is a directed delegation edge: source agent may delegate
// tasks to target agent, subject to Settings (permission rules, as JSON)
// and MaxConcurrent (0 = unlimited).
type AgentLinkData struct {
	BaseModel
	SourceAgentID uuid.UUID  `json:"source_agent_id"`
	TargetAgentID uuid.UUID  `json:"target_agent_id"`
	TeamID        *uuid.UUID `json:"team_id,omitempty"` // set for links auto-created by team membership

	TargetAgentKey    string `json:"target_agent_key"`
	TargetDisplayName string `json:"target_display_name,omitempty"`
	TargetDescription string `json:"target_description,omitempty"`

	Settings      json.RawMessage `json:"settings,omitempty"` // JSONB permission rules (e.g. allowed users)
	MaxConcurrent int             `json:"max_concurrent,omitempty"`
	CreatedBy     string          `json:"created_by,omitempty"`
}

// AgentLinkStore manages delegation links between agents (managed mode only).
type AgentLinkStore interface {
	Create(ctx context.Context, link *AgentLinkData) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetLinkBetween(ctx context.Context, sourceAgentID, targetAgentID uuid.UUID) (*AgentLinkData, error)
	DelegateTargets(ctx context.Context, sourceAgentID uuid.UUID) ([]AgentLinkData, error)
	ListBySource(ctx context.Context, sourceAgentID uuid.UUID) ([]AgentLinkData, error)
}
