package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// GenNewID returns a fresh UUIDv7 (time-ordered, the convention for
// every primary key in this package).
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// ValidateUserID rejects empty user identifiers at the write boundary, so a
// blank string never silently becomes an ownership/audit field in Postgres.
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("store: user id must not be empty")
	}
	return nil
}

type (
	userIDKey    struct{}
	agentIDKey   struct{}
	agentTypeKey struct{}
	senderIDKey  struct{}
)

// WithUserID attaches the acting user's ID to ctx, for stores and tools that
// need caller identity without threading it through every call signature.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the user ID set by WithUserID, or "".
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// WithAgentID attaches the running agent's UUID to ctx.
func WithAgentID(ctx context.Context, agentID uuid.UUID) context.Context {
	return context.WithValue(ctx, agentIDKey{}, agentID)
}

// AgentIDFromContext returns the agent UUID set by WithAgentID, or uuid.Nil.
func AgentIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(agentIDKey{}).(uuid.UUID)
	return id
}

// WithAgentType attaches the running agent's type (e.g. "assistant", "team_lead") to ctx.
func WithAgentType(ctx context.Context, agentType string) context.Context {
	return context.WithValue(ctx, agentTypeKey{}, agentType)
}

// AgentTypeFromContext returns the agent type set by WithAgentType, or "".
func AgentTypeFromContext(ctx context.Context) string {
	t, _ := ctx.Value(agentTypeKey{}).(string)
	return t
}

// WithSenderID attaches the originating message sender's channel-native ID to ctx.
func WithSenderID(ctx context.Context, senderID string) context.Context {
	return context.WithValue(ctx, senderIDKey{}, senderID)
}

// SenderIDFromContext returns the sender ID set by WithSenderID, or "".
func SenderIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(senderIDKey{}).(string)
	return id
}

// StoreConfig configures managed-mode (Postgres-backed) store construction.
type StoreConfig struct {
	PostgresDSN      string
	EncryptionKey    string
	SkillsStorageDir string
}
