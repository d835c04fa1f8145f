// Package cron implements the scheduled-job subsystem: validation of
// CronJob definitions, next-run computation for interval/one-shot/cron-
// expression schedules, and the dispatcher that ticks them.
package cron

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Job count and field-size limits, ported from the original kernel's
// scheduler types (openfang-types/src/scheduler.rs).
const (
	MaxJobsPerAgent   = 50
	maxNameLen        = 128
	minEverySecs      = 60
	maxEverySecs      = 86_400
	maxAtHorizonSecs  = 365 * 24 * 3600
	maxEventTextLen   = 4096
	maxTurnMessageLen = 16_384
	minTimeoutSecs    = 10
	maxTimeoutSecs    = 600
	maxWebhookURLLen  = 2048
)

// RetryConfig controls retry attempts and backoff for failed job runs.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns the default retry settings: 3 attempts,
// starting at a 2s base delay, capped at a 30s max delay.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// JobID uniquely identifies a scheduled job.
type JobID uuid.UUID

// NewJobID generates a new random JobID.
func NewJobID() JobID { return JobID(uuid.New()) }

func (id JobID) String() string { return uuid.UUID(id).String() }

// ParseJobID parses a string into a JobID.
func ParseJobID(s string) (JobID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return JobID{}, err
	}
	return JobID(u), nil
}

func (id JobID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

func (id *JobID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*id = JobID{}
		return nil
	}
	parsed, err := ParseJobID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ScheduleKind discriminates the CronSchedule sum type.
type ScheduleKind string

const (
	ScheduleAt    ScheduleKind = "at"
	ScheduleEvery ScheduleKind = "every"
	ScheduleCron  ScheduleKind = "cron"
)

// Schedule describes when a job fires. Exactly one of the fields
// matching Kind is meaningful.
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// ScheduleAt
	At time.Time `json:"at,omitempty"`

	// ScheduleEvery
	EverySecs uint64 `json:"every_secs,omitempty"`

	// ScheduleCron
	Expr string `json:"expr,omitempty"`
	TZ   string `json:"tz,omitempty"` // IANA zone name, "" = UTC
}

// ActionKind discriminates the CronAction sum type.
type ActionKind string

const (
	ActionSystemEvent ActionKind = "system_event"
	ActionAgentTurn   ActionKind = "agent_turn"
)

// Action describes what a job does when it fires.
type Action struct {
	Kind ActionKind `json:"kind"`

	// ActionSystemEvent
	Text string `json:"text,omitempty"`

	// ActionAgentTurn
	Message        string `json:"message,omitempty"`
	ModelOverride  string `json:"model_override,omitempty"`
	TimeoutSecs    uint64 `json:"timeout_secs,omitempty"` // 0 = unset, use default
}

// DeliveryKind discriminates the CronDelivery sum type.
type DeliveryKind string

const (
	DeliveryNone        DeliveryKind = "none"
	DeliveryChannel     DeliveryKind = "channel"
	DeliveryLastChannel DeliveryKind = "last_channel"
	DeliveryWebhook     DeliveryKind = "webhook"
)

// Delivery describes where a job's output is sent.
type Delivery struct {
	Kind DeliveryKind `json:"kind"`

	// DeliveryChannel
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`

	// DeliveryWebhook
	URL string `json:"url,omitempty"`
}

// Job is a scheduled job belonging to one agent.
type Job struct {
	ID        JobID     `json:"id"`
	AgentID   string    `json:"agent_id"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Schedule  Schedule  `json:"schedule"`
	Action    Action    `json:"action"`
	Delivery  Delivery  `json:"delivery"`
	CreatedAt time.Time `json:"created_at"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
}

// Validate checks every field of j, returning a diagnostic string naming
// the first failing field on error. existingCount is the number of jobs
// the owning agent already has (excluding j itself if it already exists).
func (j *Job) Validate(existingCount int) error {
	if existingCount >= MaxJobsPerAgent {
		return fmt.Errorf("agent already has %d jobs (max %d)", existingCount, MaxJobsPerAgent)
	}

	if j.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if len(j.Name) > maxNameLen {
		return fmt.Errorf("name too long (%d chars, max %d)", len(j.Name), maxNameLen)
	}
	for _, r := range j.Name {
		if !(isAlphaNumeric(r) || r == ' ' || r == '-' || r == '_') {
			return fmt.Errorf("name may only contain alphanumeric characters, spaces, hyphens, and underscores")
		}
	}

	if err := j.validateSchedule(); err != nil {
		return err
	}
	if err := j.validateAction(); err != nil {
		return err
	}
	if err := j.validateDelivery(); err != nil {
		return err
	}
	return nil
}

// isAlphaNumeric matches Rust's char::is_alphanumeric, which accepts any
// Unicode letter or digit, not just ASCII.
func isAlphaNumeric(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (j *Job) validateSchedule() error {
	switch j.Schedule.Kind {
	case ScheduleEvery:
		if j.Schedule.EverySecs < minEverySecs {
			return fmt.Errorf("every_secs too small (%d, min %d)", j.Schedule.EverySecs, minEverySecs)
		}
		if j.Schedule.EverySecs > maxEverySecs {
			return fmt.Errorf("every_secs too large (%d, max %d)", j.Schedule.EverySecs, maxEverySecs)
		}
	case ScheduleAt:
		now := time.Now().UTC()
		if !j.Schedule.At.After(now) {
			return fmt.Errorf("scheduled time must be in the future")
		}
		delta := j.Schedule.At.Sub(now).Seconds()
		if delta > float64(maxAtHorizonSecs) {
			return fmt.Errorf("scheduled time too far in the future (max %ds / ~1 year)", maxAtHorizonSecs)
		}
	case ScheduleCron:
		if err := validateCronExpr(j.Schedule.Expr); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", j.Schedule.Kind)
	}
	return nil
}

func (j *Job) validateAction() error {
	switch j.Action.Kind {
	case ActionSystemEvent:
		if j.Action.Text == "" {
			return fmt.Errorf("system event text must not be empty")
		}
		if len(j.Action.Text) > maxEventTextLen {
			return fmt.Errorf("system event text too long (%d chars, max %d)", len(j.Action.Text), maxEventTextLen)
		}
	case ActionAgentTurn:
		if j.Action.Message == "" {
			return fmt.Errorf("agent turn message must not be empty")
		}
		if len(j.Action.Message) > maxTurnMessageLen {
			return fmt.Errorf("agent turn message too long (%d chars, max %d)", len(j.Action.Message), maxTurnMessageLen)
		}
		if j.Action.TimeoutSecs != 0 {
			if j.Action.TimeoutSecs < minTimeoutSecs {
				return fmt.Errorf("timeout_secs too small (%d, min %d)", j.Action.TimeoutSecs, minTimeoutSecs)
			}
			if j.Action.TimeoutSecs > maxTimeoutSecs {
				return fmt.Errorf("timeout_secs too large (%d, max %d)", j.Action.TimeoutSecs, maxTimeoutSecs)
			}
		}
	default:
		return fmt.Errorf("unknown action kind %q", j.Action.Kind)
	}
	return nil
}

func (j *Job) validateDelivery() error {
	switch j.Delivery.Kind {
	case DeliveryChannel:
		if j.Delivery.Channel == "" {
			return fmt.Errorf("delivery channel must not be empty")
		}
		if j.Delivery.To == "" {
			return fmt.Errorf("delivery recipient must not be empty")
		}
	case DeliveryWebhook:
		if !strings.HasPrefix(j.Delivery.URL, "http://") && !strings.HasPrefix(j.Delivery.URL, "https://") {
			return fmt.Errorf("webhook URL must start with http:// or https://")
		}
		if len(j.Delivery.URL) > maxWebhookURLLen {
			return fmt.Errorf("webhook URL too long (%d chars, max %d)", len(j.Delivery.URL), maxWebhookURLLen)
		}
	case DeliveryNone, DeliveryLastChannel:
		// nothing to validate
	default:
		return fmt.Errorf("unknown delivery kind %q", j.Delivery.Kind)
	}
	return nil
}

// validateCronExpr performs the basic 5-field format check. Full
// schedulability (does this expression ever fire) is left to the
// underlying cron-expression library at next-run time.
func validateCronExpr(expr string) error {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return fmt.Errorf("cron expression must not be empty")
	}
	fields := strings.Fields(trimmed)
	if len(fields) != 5 {
		return fmt.Errorf("cron expression must have exactly 5 fields (got %d): %q", len(fields), trimmed)
	}
	for i, field := range fields {
		if field == "" {
			return fmt.Errorf("cron field %d is empty", i)
		}
		for _, c := range field {
			if !(c >= '0' && c <= '9') && c != '*' && c != '/' && c != '-' && c != ',' && c != '?' {
				return fmt.Errorf("cron field %d contains invalid characters: %q", i, field)
			}
		}
	}
	return nil
}
