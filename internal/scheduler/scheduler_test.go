package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openfang-project/openfang/internal/agent"
)

func blockingRunFunc(started, release chan struct{}) RunFunc {
	return func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &agent.RunResult{RunID: req.RunID}, nil
	}
}

func TestScheduleRunsToCompletion(t *testing.T) {
	s := NewScheduler(DefaultLanes(), DefaultQueueConfig(), func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
		return &agent.RunResult{RunID: req.RunID, Content: "ok"}, nil
	})
	defer s.Stop()

	out := s.Schedule(context.Background(), LaneMain, agent.RunRequest{SessionKey: "s1", RunID: "r1"})
	outcome := <-out
	if outcome.Err != nil {
		t.Fatalf("unexpected error: %v", outcome.Err)
	}
	if outcome.Result.Content != "ok" {
		t.Fatalf("unexpected result: %+v", outcome.Result)
	}
}

func TestSessionConcurrencyDefaultsToOne(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	s := NewScheduler(DefaultLanes(), DefaultQueueConfig(), blockingRunFunc(started, release))
	defer s.Stop()

	out1 := s.Schedule(context.Background(), LaneMain, agent.RunRequest{SessionKey: "s1", RunID: "r1"})

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first run never started")
	}

	out2 := s.Schedule(context.Background(), LaneMain, agent.RunRequest{SessionKey: "s1", RunID: "r2"})

	// Second run must NOT start while the first holds the session's single slot.
	select {
	case <-started:
		t.Fatal("second run started before first released its session slot")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-out1

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("second run never started after first completed")
	}
	<-out2
}

func TestDistinctSessionsRunConcurrently(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	s := NewScheduler(DefaultLanes(), DefaultQueueConfig(), blockingRunFunc(started, release))
	defer s.Stop()

	out1 := s.Schedule(context.Background(), LaneMain, agent.RunRequest{SessionKey: "s1", RunID: "r1"})
	out2 := s.Schedule(context.Background(), LaneMain, agent.RunRequest{SessionKey: "s2", RunID: "r2"})

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("expected both distinct-session runs to start concurrently")
		}
	}
	close(release)
	<-out1
	<-out2
}

func TestCancelOneSessionCancelsOldestRun(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	s := NewScheduler(DefaultLanes(), DefaultQueueConfig(), blockingRunFunc(started, release))
	defer s.Stop()

	out := s.Schedule(context.Background(), LaneMain, agent.RunRequest{SessionKey: "s1", RunID: "r1"})
	<-started

	if ok := s.CancelOneSession("s1"); !ok {
		t.Fatal("expected CancelOneSession to find a run")
	}

	outcome := <-out
	if outcome.Err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestCancelSessionOnNonexistentReturnsFalse(t *testing.T) {
	s := NewScheduler(DefaultLanes(), DefaultQueueConfig(), func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
		return &agent.RunResult{}, nil
	})
	defer s.Stop()

	if s.CancelSession("missing") {
		t.Fatal("expected false for unknown session")
	}
	if s.CancelOneSession("missing") {
		t.Fatal("expected false for unknown session")
	}
}

func TestLaneConcurrencyCeilingQueues(t *testing.T) {
	lanes := map[Lane]LaneConfig{LaneMain: {MaxConcurrent: 1}}
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	s := NewScheduler(lanes, DefaultQueueConfig(), blockingRunFunc(started, release))
	defer s.Stop()

	out1 := s.Schedule(context.Background(), LaneMain, agent.RunRequest{SessionKey: "s1", RunID: "r1"})
	<-started

	out2 := s.Schedule(context.Background(), LaneMain, agent.RunRequest{SessionKey: "s2", RunID: "r2"})
	select {
	case <-started:
		t.Fatal("second run should have queued behind the lane's concurrency ceiling")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-out1
	<-started
	<-out2
}

func TestAdaptiveThrottleForcesSingleConcurrency(t *testing.T) {
	var calls int32
	s := NewScheduler(DefaultLanes(), QueueConfig{DefaultSessionMaxConcurrent: 3}, func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
		atomic.AddInt32(&calls, 1)
		return &agent.RunResult{}, nil
	})
	defer s.Stop()

	s.SetTokenEstimateFunc(func(sessionKey string) (int, int) {
		return 190000, 200000 // 95% full — past the compaction threshold
	})

	if cap := s.effectiveSessionCap("s1"); cap != 1 {
		t.Fatalf("expected throttled cap of 1, got %d", cap)
	}
}

func TestScheduleWithOptsOverridesSessionCap(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	s := NewScheduler(DefaultLanes(), DefaultQueueConfig(), blockingRunFunc(started, release))
	defer s.Stop()

	out1 := s.ScheduleWithOpts(context.Background(), LaneMain, agent.RunRequest{SessionKey: "s1", RunID: "r1"}, ScheduleOpts{MaxConcurrent: 2})
	<-started
	out2 := s.ScheduleWithOpts(context.Background(), LaneMain, agent.RunRequest{SessionKey: "s1", RunID: "r2"}, ScheduleOpts{MaxConcurrent: 2})

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("expected second run to start immediately under a raised session cap")
	}

	close(release)
	<-out1
	<-out2
}

func TestStopCancelsOutstandingRuns(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	s := NewScheduler(DefaultLanes(), DefaultQueueConfig(), blockingRunFunc(started, release))

	out := s.Schedule(context.Background(), LaneMain, agent.RunRequest{SessionKey: "s1", RunID: "r1"})
	<-started

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Stop()
	}()

	outcome := <-out
	if outcome.Err == nil {
		t.Fatal("expected Stop to cancel the outstanding run")
	}
	wg.Wait()
}
