package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Team status values.
const (
	TeamStatusActive   = "active"
	TeamStatusArchived = "archived"
)

// Team member roles.
const (
	TeamRoleLead   = "lead"
	TeamRoleMember = "member"
)

// Task status values.
const (
	TeamTaskStatusPending    = "pending"
	TeamTaskStatusInProgress = "in_progress"
	TeamTaskStatusCompleted  = "completed"
)

// Task list status filters (ListTasks statusFilter param).
const (
	TeamTaskFilterAll       = "all"
	TeamTaskFilterCompleted = "completed"
)

// TeamData is one row of agent_teams.
type TeamData struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	LeadAgentID  uuid.UUID       `json:"lead_agent_id"`
	LeadAgentKey string          `json:"lead_agent_key,omitempty"`
	Description  string          `json:"description,omitempty"`
	Status       string          `json:"status"`
	Settings     json.RawMessage `json:"settings,omitempty"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TeamMemberData is one row of agent_team_members, joined with the member's
// agent identity for display/prompt-building purposes.
type TeamMemberData struct {
	TeamID      uuid.UUID `json:"team_id"`
	AgentID     uuid.UUID `json:"agent_id"`
	Role        string    `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
	AgentKey    string    `json:"agent_key,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Frontmatter string    `json:"frontmatter,omitempty"`
}

// TeamTaskData is one row of team_tasks.
type TeamTaskData struct {
	ID            uuid.UUID   `json:"id"`
	TeamID        uuid.UUID   `json:"team_id"`
	Subject       string      `json:"subject"`
	Description   string      `json:"description,omitempty"`
	Status        string      `json:"status"`
	OwnerAgentID  *uuid.UUID  `json:"owner_agent_id,omitempty"`
	OwnerAgentKey string      `json:"owner_agent_key,omitempty"`
	BlockedBy     []uuid.UUID `json:"blocked_by,omitempty"`
	Priority      int         `json:"priority"`
	Result        *string     `json:"result,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// TeamMessageData is one row of team_messages: a broadcast (ToAgentID nil)
// or direct message between team members.
type TeamMessageData struct {
	ID          uuid.UUID  `json:"id"`
	TeamID      uuid.UUID  `json:"team_id"`
	FromAgentID uuid.UUID  `json:"from_agent_id"`
	ToAgentID   *uuid.UUID `json:"to_agent_id,omitempty"`
	Content     string     `json:"content"`
	MessageType string     `json:"message_type"`
	Read        bool       `json:"read"`
	CreatedAt   time.Time  `json:"created_at"`

	FromAgentKey string `json:"from_agent_key,omitempty"`
	ToAgentKey   string `json:"to_agent_key,omitempty"`
}

// HandoffRouteData pins which agent currently owns a channel conversation
// (e.g. after a human handoff), keyed by channel+chatID.
type HandoffRouteData struct {
	ID           uuid.UUID `json:"id"`
	Channel      string    `json:"channel"`
	ChatID       string    `json:"chat_id"`
	FromAgentKey string    `json:"from_agent_key,omitempty"`
	ToAgentKey   string    `json:"to_agent_key"`
	Reason       string    `json:"reason,omitempty"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// DelegationHistoryData records one completed (or failed) delegate call for
// auditing and the delegation dashboard.
type DelegationHistoryData struct {
	ID             uuid.UUID  `json:"id"`
	SourceAgentID  uuid.UUID  `json:"source_agent_id"`
	TargetAgentID  uuid.UUID  `json:"target_agent_id"`
	TeamID         *uuid.UUID `json:"team_id,omitempty"`
	TeamTaskID     *uuid.UUID `json:"team_task_id,omitempty"`
	UserID         string     `json:"user_id,omitempty"`
	Task           string     `json:"task"`
	Mode           string     `json:"mode"` // "sync", "async"
	Status         string     `json:"status"`
	Result         *string    `json:"result,omitempty"`
	Error          *string    `json:"error,omitempty"`
	Iterations     int        `json:"iterations,omitempty"`
	TraceID        uuid.UUID  `json:"trace_id,omitempty"`
	DurationMS     int64      `json:"duration_ms,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	SourceAgentKey string     `json:"source_agent_key,omitempty"`
	TargetAgentKey string     `json:"target_agent_key,omitempty"`
}

// DelegationHistoryListOpts filters/paginates ListDelegationHistory.
type DelegationHistoryListOpts struct {
	SourceAgentID *uuid.UUID
	TargetAgentID *uuid.UUID
	TeamID        *uuid.UUID
	UserID        string
	Status        string
	Limit         int
	Offset        int
}

// TeamStore manages agent teams, tasks, inter-agent messages, handoff
// routing, and delegation history (managed mode only).
type TeamStore interface {
	CreateTeam(ctx context.Context, team *TeamData) error
	GetTeam(ctx context.Context, teamID uuid.UUID) (*TeamData, error)
	DeleteTeam(ctx context.Context, teamID uuid.UUID) error
	ListTeams(ctx context.Context) ([]TeamData, error)

	AddMember(ctx context.Context, teamID, agentID uuid.UUID, role string) error
	RemoveMember(ctx context.Context, teamID, agentID uuid.UUID) error
	ListMembers(ctx context.Context, teamID uuid.UUID) ([]TeamMemberData, error)
	GetTeamForAgent(ctx context.Context, agentID uuid.UUID) (*TeamData, error)

	SetHandoffRoute(ctx context.Context, route *HandoffRouteData) error
	GetHandoffRoute(ctx context.Context, channel, chatID string) (*HandoffRouteData, error)
	ClearHandoffRoute(ctx context.Context, channel, chatID string) error

	CreateTask(ctx context.Context, task *TeamTaskData) error
	UpdateTask(ctx context.Context, taskID uuid.UUID, updates map[string]any) error
	ListTasks(ctx context.Context, teamID uuid.UUID, orderBy, statusFilter string) ([]TeamTaskData, error)
	GetTask(ctx context.Context, taskID uuid.UUID) (*TeamTaskData, error)
	SearchTasks(ctx context.Context, teamID uuid.UUID, query string, limit int) ([]TeamTaskData, error)
	ClaimTask(ctx context.Context, taskID, agentID uuid.UUID) error
	CompleteTask(ctx context.Context, taskID uuid.UUID, result string) error

	SendMessage(ctx context.Context, msg *TeamMessageData) error
	GetUnread(ctx context.Context, teamID, agentID uuid.UUID) ([]TeamMessageData, error)
	MarkRead(ctx context.Context, messageID uuid.UUID) error

	SaveDelegationHistory(ctx context.Context, record *DelegationHistoryData) error
	ListDelegationHistory(ctx context.Context, opts DelegationHistoryListOpts) ([]DelegationHistoryData, int, error)
	GetDelegationHistory(ctx context.Context, id uuid.UUID) (*DelegationHistoryData, error)
}
