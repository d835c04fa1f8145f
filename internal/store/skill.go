package store

import (
	"context"
	"time"
)

// SkillData is one stored skill bundle: a named block of prompt context
// and/or tool-callable code, optionally semantically searchable via an
// embedding stored alongside it (managed mode only — standalone mode
// resolves skills straight off disk, see internal/skills.Loader).
type SkillData struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name,omitempty"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SkillStore manages skill bundle persistence (file-backed in standalone
// mode, Postgres-backed with embedding search in managed mode).
type SkillStore interface {
	List(ctx context.Context) ([]SkillData, error)
	Get(ctx context.Context, name string) (*SkillData, error)
	Upsert(ctx context.Context, s *SkillData) error
	Delete(ctx context.Context, name string) error
}
