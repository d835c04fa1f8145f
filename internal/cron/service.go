package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// tickInterval bounds the dispatcher to at most one scan per second.
const tickInterval = time.Second

// maxAtRecoveryLag bounds how late a missed `At` job may still fire on
// restart; a job missed by more than this is silently disabled instead.
const maxAtRecoveryLag = 24 * time.Hour

// Store is the persistence contract the dispatcher needs. A real backend
// (file-based or Postgres) implements this against the opaque KV/log
// store the kernel treats persistence through.
type Store interface {
	// ListEnabled returns every enabled job across all agents.
	ListEnabled(ctx context.Context) ([]*Job, error)
	// Update persists changes to an existing job (LastRun/NextRun/Enabled).
	Update(ctx context.Context, job *Job) error
}

// ActionResult is what firing a job's Action produced, handed to the
// Delivery policy.
type ActionResult struct {
	Output string
	Err    error
}

// Dispatcher is the kernel handle for firing actions and delivering
// their output. Supplied by the caller so this package has no dependency
// on the scheduler or channel bridge.
type Dispatcher interface {
	// FireSystemEvent publishes a system event and returns its output (if any).
	FireSystemEvent(ctx context.Context, job *Job, text string) ActionResult
	// FireAgentTurn submits an agent turn for job.AgentID and blocks for the result.
	FireAgentTurn(ctx context.Context, job *Job, action Action) ActionResult
	// Deliver applies job.Delivery to a fired job's result.
	Deliver(ctx context.Context, job *Job, result ActionResult)
}

// Service is the single dispatcher that scans all enabled jobs on a
// fixed tick and fires those whose NextRun has passed.
type Service struct {
	store      Store
	dispatcher Dispatcher

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped chan struct{}
}

func NewService(store Store, dispatcher Dispatcher) *Service {
	return &Service{store: store, dispatcher: dispatcher}
}

// Start begins the ≤1Hz scan loop in its own goroutine. Stop cancels it.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.stopped = make(chan struct{})
	stopCh := s.stopCh
	stopped := s.stopped
	s.mu.Unlock()

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop halts the scan loop and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	stopped := s.stopped
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-stopped
}

// Tick performs one scan-and-fire pass. Exported so tests (and callers
// that want deterministic control rather than the background ticker) can
// drive it directly.
func (s *Service) Tick(ctx context.Context) {
	jobs, err := s.store.ListEnabled(ctx)
	if err != nil {
		slog.Error("cron: failed to list enabled jobs", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, job := range jobs {
		if job.NextRun == nil {
			next, err := NextRun(job.Schedule, now)
			if err != nil {
				slog.Error("cron: failed to compute next run", "job", job.ID, "error", err)
				continue
			}
			job.NextRun = &next
			if err := s.store.Update(ctx, job); err != nil {
				slog.Error("cron: failed to persist initial next_run", "job", job.ID, "error", err)
			}
			continue
		}
		if job.NextRun.After(now) {
			continue
		}
		s.fire(ctx, job, now)
	}
}

func (s *Service) fire(ctx context.Context, job *Job, now time.Time) {
	if job.Schedule.Kind == ScheduleAt && now.Sub(*job.NextRun) > maxAtRecoveryLag {
		// Missed too far in the past (e.g. process was down): disable
		// silently rather than fire a stale one-shot job.
		job.Enabled = false
		if err := s.store.Update(ctx, job); err != nil {
			slog.Error("cron: failed to disable stale at-job", "job", job.ID, "error", err)
		}
		return
	}

	var result ActionResult
	switch job.Action.Kind {
	case ActionSystemEvent:
		result = s.dispatcher.FireSystemEvent(ctx, job, job.Action.Text)
	case ActionAgentTurn:
		result = s.dispatcher.FireAgentTurn(ctx, job, job.Action)
	default:
		slog.Error("cron: unknown action kind", "job", job.ID, "kind", job.Action.Kind)
		return
	}
	if result.Err != nil {
		slog.Warn("cron: job action failed", "job", job.ID, "error", result.Err)
	}
	s.dispatcher.Deliver(ctx, job, result)

	job.LastRun = &now
	if job.Schedule.Kind == ScheduleAt {
		job.Enabled = false
		job.NextRun = nil
	} else {
		next, err := NextRun(job.Schedule, now)
		if err != nil {
			slog.Error("cron: failed to compute next run after fire", "job", job.ID, "error", err)
			job.Enabled = false
		} else {
			job.NextRun = &next
		}
	}
	if err := s.store.Update(ctx, job); err != nil {
		slog.Error("cron: failed to persist job after fire", "job", job.ID, "error", err)
	}
}
