package cron

import (
	"context"
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[JobID]*Job
}

func newMemStore(jobs ...*Job) *memStore {
	m := &memStore{jobs: make(map[JobID]*Job)}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *memStore) ListEnabled(ctx context.Context) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Job
	for _, j := range m.jobs {
		if j.Enabled {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memStore) Update(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

type recordingDispatcher struct {
	mu        sync.Mutex
	fired     []JobID
	delivered []ActionResult
}

func (d *recordingDispatcher) FireSystemEvent(ctx context.Context, job *Job, text string) ActionResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fired = append(d.fired, job.ID)
	return ActionResult{Output: text}
}

func (d *recordingDispatcher) FireAgentTurn(ctx context.Context, job *Job, action Action) ActionResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fired = append(d.fired, job.ID)
	return ActionResult{Output: "ok: " + action.Message}
}

func (d *recordingDispatcher) Deliver(ctx context.Context, job *Job, result ActionResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, result)
}

func (d *recordingDispatcher) fireCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fired)
}

func TestServiceFiresDueEveryJob(t *testing.T) {
	past := time.Now().UTC().Add(-time.Second)
	job := &Job{
		ID:       NewJobID(),
		AgentID:  "a1",
		Name:     "ping",
		Enabled:  true,
		Schedule: Schedule{Kind: ScheduleEvery, EverySecs: 60},
		Action:   Action{Kind: ActionSystemEvent, Text: "hi"},
		Delivery: Delivery{Kind: DeliveryNone},
		NextRun:  &past,
	}
	store := newMemStore(job)
	disp := &recordingDispatcher{}
	svc := NewService(store, disp)

	svc.Tick(context.Background())

	if disp.fireCount() != 1 {
		t.Fatalf("expected 1 fire, got %d", disp.fireCount())
	}
	if job.LastRun == nil {
		t.Fatalf("expected LastRun to be set")
	}
	if job.NextRun == nil || !job.NextRun.After(time.Now().UTC()) {
		t.Fatalf("expected NextRun to be recomputed in the future, got %v", job.NextRun)
	}
	if !job.Enabled {
		t.Fatalf("expected Every job to remain enabled")
	}
}

func TestServiceSkipsNotYetDueJob(t *testing.T) {
	future := time.Now().UTC().Add(time.Hour)
	job := &Job{
		ID: NewJobID(), AgentID: "a1", Name: "later", Enabled: true,
		Schedule: Schedule{Kind: ScheduleEvery, EverySecs: 3600},
		Action:   Action{Kind: ActionSystemEvent, Text: "hi"},
		Delivery: Delivery{Kind: DeliveryNone},
		NextRun:  &future,
	}
	store := newMemStore(job)
	disp := &recordingDispatcher{}
	svc := NewService(store, disp)

	svc.Tick(context.Background())

	if disp.fireCount() != 0 {
		t.Fatalf("expected 0 fires, got %d", disp.fireCount())
	}
}

func TestServiceComputesInitialNextRun(t *testing.T) {
	job := &Job{
		ID: NewJobID(), AgentID: "a1", Name: "fresh", Enabled: true,
		Schedule: Schedule{Kind: ScheduleEvery, EverySecs: 120},
		Action:   Action{Kind: ActionSystemEvent, Text: "hi"},
		Delivery: Delivery{Kind: DeliveryNone},
	}
	store := newMemStore(job)
	disp := &recordingDispatcher{}
	svc := NewService(store, disp)

	svc.Tick(context.Background())

	if disp.fireCount() != 0 {
		t.Fatalf("a freshly-seen job should not fire on the same tick, got %d fires", disp.fireCount())
	}
	if job.NextRun == nil {
		t.Fatalf("expected NextRun to be computed")
	}
}

func TestServiceAtJobDisablesAfterFiring(t *testing.T) {
	past := time.Now().UTC().Add(-time.Second)
	job := &Job{
		ID: NewJobID(), AgentID: "a1", Name: "once", Enabled: true,
		Schedule: Schedule{Kind: ScheduleAt, At: past},
		Action:   Action{Kind: ActionSystemEvent, Text: "hi"},
		Delivery: Delivery{Kind: DeliveryNone},
		NextRun:  &past,
	}
	store := newMemStore(job)
	disp := &recordingDispatcher{}
	svc := NewService(store, disp)

	svc.Tick(context.Background())

	if disp.fireCount() != 1 {
		t.Fatalf("expected 1 fire, got %d", disp.fireCount())
	}
	if job.Enabled {
		t.Fatalf("expected At job to disable itself after firing")
	}
}

func TestServiceStaleAtJobDisabledSilently(t *testing.T) {
	stale := time.Now().UTC().Add(-48 * time.Hour)
	job := &Job{
		ID: NewJobID(), AgentID: "a1", Name: "missed", Enabled: true,
		Schedule: Schedule{Kind: ScheduleAt, At: stale},
		Action:   Action{Kind: ActionSystemEvent, Text: "hi"},
		Delivery: Delivery{Kind: DeliveryNone},
		NextRun:  &stale,
	}
	store := newMemStore(job)
	disp := &recordingDispatcher{}
	svc := NewService(store, disp)

	svc.Tick(context.Background())

	if disp.fireCount() != 0 {
		t.Fatalf("expected stale at-job not to fire, got %d fires", disp.fireCount())
	}
	if job.Enabled {
		t.Fatalf("expected stale at-job to be disabled")
	}
}

func TestServiceAgentTurnActionDelivered(t *testing.T) {
	past := time.Now().UTC().Add(-time.Second)
	job := &Job{
		ID: NewJobID(), AgentID: "a1", Name: "turn", Enabled: true,
		Schedule: Schedule{Kind: ScheduleEvery, EverySecs: 60},
		Action:   Action{Kind: ActionAgentTurn, Message: "status?"},
		Delivery: Delivery{Kind: DeliveryChannel, Channel: "telegram", To: "123"},
		NextRun:  &past,
	}
	store := newMemStore(job)
	disp := &recordingDispatcher{}
	svc := NewService(store, disp)

	svc.Tick(context.Background())

	if len(disp.delivered) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(disp.delivered))
	}
	if disp.delivered[0].Output != "ok: status?" {
		t.Fatalf("unexpected delivered output: %q", disp.delivered[0].Output)
	}
}

func TestNextRunEvery(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := NextRun(Schedule{Kind: ScheduleEvery, EverySecs: 90}, now)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	if !next.Equal(now.Add(90 * time.Second)) {
		t.Fatalf("expected now+90s, got %v", next)
	}
}

func TestNextRunAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	target := now.Add(time.Hour)
	next, err := NextRun(Schedule{Kind: ScheduleAt, At: target}, now)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	if !next.Equal(target) {
		t.Fatalf("expected %v, got %v", target, next)
	}
}

func TestNextRunCronEveryMinute(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 30, 15, 0, time.UTC)
	next, err := NextRun(Schedule{Kind: ScheduleCron, Expr: "* * * * *"}, now)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	if next.Before(now) {
		t.Fatalf("expected next tick after now, got %v", next)
	}
	if next.Sub(now) > 2*time.Minute {
		t.Fatalf("expected next tick within 2 minutes, got %v", next.Sub(now))
	}
}

func TestNextRunCronDayOfWeekWildcard(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := NextRun(Schedule{Kind: ScheduleCron, Expr: "0 9 ? * ?"}, now)
	if err != nil {
		t.Fatalf("expected ? wildcard to be normalized, got %v", err)
	}
}
