package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func fixedResolver(agentID, agentName string) AgentResolver {
	return func(ref StepAgent) (string, string, bool) {
		return agentID, agentName, true
	}
}

// TestFanOutJoin: two FanOut steps followed by a Collect step must run
// concurrently, join in declaration order, and produce a single
// StepResult per fan-out agent plus one for the collect.
func TestFanOutJoin(t *testing.T) {
	def := Definition{
		Name: "fanout-demo",
		Steps: []Step{
			{Name: "task-a", Mode: StepFanOut, PromptTemplate: "Task A: {{input}}"},
			{Name: "task-b", Mode: StepFanOut, PromptTemplate: "Task B: {{input}}"},
			{Name: "collect", Mode: StepCollect},
		},
	}

	e := NewEngine()
	defID := e.Register(def)
	runID, ok := e.CreateRun(defID, "data")
	if !ok {
		t.Fatal("CreateRun failed")
	}

	// The sender echoes back the prompt's label ("Task A"/"Task B") so the
	// joined output naturally contains both markers.
	send := func(ctx context.Context, agentID, prompt string) (string, uint64, uint64, error) {
		idx := strings.Index(prompt, ": ")
		label := prompt
		if idx >= 0 {
			label = prompt[:idx]
		}
		return fmt.Sprintf("Done: %s", label), 1, 1, nil
	}

	output, err := e.ExecuteRun(context.Background(), runID, fixedResolver("agent-1", "agent-one"), send)
	if err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	if !strings.Contains(output, "Done: Task A") {
		t.Errorf("output missing Task A result: %q", output)
	}
	if !strings.Contains(output, "Done: Task B") {
		t.Errorf("output missing Task B result: %q", output)
	}
	if !strings.Contains(output, "---") {
		t.Errorf("output missing collect separator: %q", output)
	}

	run, ok := e.GetRun(runID)
	if !ok {
		t.Fatal("run not found")
	}
	if run.State != RunCompleted {
		t.Errorf("state = %v, want Completed", run.State)
	}
	if len(run.StepResults) != 3 {
		t.Errorf("step_results len = %d, want 3", len(run.StepResults))
	}
	if run.StepResults[0].StepName != "task-a" || run.StepResults[1].StepName != "task-b" {
		t.Errorf("fan-out results out of declaration order: %+v", run.StepResults)
	}
}

// TestLoopUntilCondition: a Loop step repeats until the sender's output
// contains the until-substring or the iteration cap is hit, whichever
// comes first.
func TestLoopUntilCondition(t *testing.T) {
	def := Definition{
		Name: "loop-demo",
		Steps: []Step{
			{Name: "poll", Mode: StepLoop, MaxIterations: 5, Until: "DONE", PromptTemplate: "{{input}}"},
		},
	}

	e := NewEngine()
	defID := e.Register(def)
	runID, _ := e.CreateRun(defID, "start")

	var calls int
	var mu sync.Mutex
	send := func(ctx context.Context, agentID, prompt string) (string, uint64, uint64, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls >= 3 {
			return "Result: DONE", 1, 1, nil
		}
		return "Still working...", 1, 1, nil
	}

	output, err := e.ExecuteRun(context.Background(), runID, fixedResolver("agent-1", "agent-one"), send)
	if err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}
	if !strings.Contains(output, "DONE") {
		t.Errorf("output = %q, want containing DONE", output)
	}
	if calls != 3 {
		t.Errorf("sender called %d times, want 3", calls)
	}

	run, _ := e.GetRun(runID)
	if len(run.StepResults) != 3 {
		t.Errorf("step_results len = %d, want 3", len(run.StepResults))
	}
}

// TestLoopMaxIterations verifies the loop stops at the cap even if the
// until-condition is never met.
func TestLoopMaxIterations(t *testing.T) {
	def := Definition{
		Name: "loop-cap",
		Steps: []Step{
			{Name: "poll", Mode: StepLoop, MaxIterations: 3, Until: "NEVER", PromptTemplate: "{{input}}"},
		},
	}
	e := NewEngine()
	defID := e.Register(def)
	runID, _ := e.CreateRun(defID, "start")

	var calls int
	send := func(ctx context.Context, agentID, prompt string) (string, uint64, uint64, error) {
		calls++
		return "still going", 0, 0, nil
	}

	_, err := e.ExecuteRun(context.Background(), runID, fixedResolver("a", "a"), send)
	if err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

// TestConditionalStepSkipped verifies a Conditional step is skipped (no
// StepResult recorded, input passed through unchanged) when the previous
// output doesn't contain the condition substring.
func TestConditionalStepSkipped(t *testing.T) {
	def := Definition{
		Name: "conditional-demo",
		Steps: []Step{
			{Name: "maybe", Mode: StepConditional, Condition: "trigger", PromptTemplate: "handled: {{input}}"},
		},
	}
	e := NewEngine()
	defID := e.Register(def)
	runID, _ := e.CreateRun(defID, "no match here")

	called := false
	send := func(ctx context.Context, agentID, prompt string) (string, uint64, uint64, error) {
		called = true
		return "should not run", 0, 0, nil
	}

	output, err := e.ExecuteRun(context.Background(), runID, fixedResolver("a", "a"), send)
	if err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}
	if called {
		t.Error("sender invoked for a skipped conditional step")
	}
	if output != "no match here" {
		t.Errorf("output = %q, want input unchanged", output)
	}

	run, _ := e.GetRun(runID)
	if len(run.StepResults) != 0 {
		t.Errorf("step_results len = %d, want 0 for skipped step", len(run.StepResults))
	}
}

// TestErrorModeSkipPreservesInput verifies a Skip-mode step failure leaves
// currentInput untouched and records no StepResult for the failed attempt.
func TestErrorModeSkipPreservesInput(t *testing.T) {
	def := Definition{
		Name: "skip-demo",
		Steps: []Step{
			{Name: "flaky", Mode: StepSequential, ErrorMode: ErrorSkip, PromptTemplate: "{{input}}"},
		},
	}
	e := NewEngine()
	defID := e.Register(def)
	runID, _ := e.CreateRun(defID, "original")

	send := func(ctx context.Context, agentID, prompt string) (string, uint64, uint64, error) {
		return "", 0, 0, fmt.Errorf("boom")
	}

	output, err := e.ExecuteRun(context.Background(), runID, fixedResolver("a", "a"), send)
	if err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}
	if output != "original" {
		t.Errorf("output = %q, want input preserved as %q", output, "original")
	}
	run, _ := e.GetRun(runID)
	if run.State != RunCompleted {
		t.Errorf("state = %v, want Completed", run.State)
	}
	if len(run.StepResults) != 0 {
		t.Errorf("step_results len = %d, want 0", len(run.StepResults))
	}
}

// TestErrorModeRetryExhausted verifies a Retry-mode step that never
// succeeds ultimately fails the run after N+1 attempts.
func TestErrorModeRetryExhausted(t *testing.T) {
	def := Definition{
		Name: "retry-demo",
		Steps: []Step{
			{Name: "flaky", Mode: StepSequential, ErrorMode: ErrorRetry, MaxRetries: 2, PromptTemplate: "{{input}}"},
		},
	}
	e := NewEngine()
	defID := e.Register(def)
	runID, _ := e.CreateRun(defID, "x")

	var attempts int
	send := func(ctx context.Context, agentID, prompt string) (string, uint64, uint64, error) {
		attempts++
		return "", 0, 0, fmt.Errorf("always fails")
	}

	_, err := e.ExecuteRun(context.Background(), runID, fixedResolver("a", "a"), send)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (1 + 2 retries)", attempts)
	}
	run, _ := e.GetRun(runID)
	if run.State != RunFailed {
		t.Errorf("state = %v, want Failed", run.State)
	}
	if run.Error == "" {
		t.Error("expected run.Error to be set")
	}
}

// TestOutputVarPrecedence verifies a step's own output_var binding wins
// over an identically-named placeholder substituted earlier as {{input}}.
func TestOutputVarPrecedence(t *testing.T) {
	def := Definition{
		Name: "var-demo",
		Steps: []Step{
			{Name: "first", Mode: StepSequential, PromptTemplate: "{{input}}", OutputVar: "result"},
			{Name: "second", Mode: StepSequential, PromptTemplate: "use {{result}}"},
		},
	}
	e := NewEngine()
	defID := e.Register(def)
	runID, _ := e.CreateRun(defID, "seed")

	var prompts []string
	var mu sync.Mutex
	send := func(ctx context.Context, agentID, prompt string) (string, uint64, uint64, error) {
		mu.Lock()
		prompts = append(prompts, prompt)
		mu.Unlock()
		return "captured-output", 0, 0, nil
	}

	_, err := e.ExecuteRun(context.Background(), runID, fixedResolver("a", "a"), send)
	if err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}
	if len(prompts) != 2 {
		t.Fatalf("expected 2 prompts, got %d", len(prompts))
	}
	if prompts[1] != "use captured-output" {
		t.Errorf("second prompt = %q, want %q", prompts[1], "use captured-output")
	}
}

// TestRunRetentionEvictsOldestTerminal verifies the 200-run cap evicts the
// oldest completed/failed runs first, never an in-flight one.
func TestRunRetentionEvictsOldestTerminal(t *testing.T) {
	def := Definition{Name: "noop", Steps: []Step{{Name: "s", Mode: StepSequential, PromptTemplate: "{{input}}"}}}
	e := NewEngine()
	defID := e.Register(def)

	send := func(ctx context.Context, agentID, prompt string) (string, uint64, uint64, error) {
		return "ok", 0, 0, nil
	}

	var ids []uuid.UUID
	for i := 0; i < maxRetainedRuns+10; i++ {
		runID, ok := e.CreateRun(defID, "x")
		if !ok {
			t.Fatal("CreateRun failed")
		}
		ids = append(ids, runID)
		if _, err := e.ExecuteRun(context.Background(), runID, fixedResolver("a", "a"), send); err != nil {
			t.Fatalf("ExecuteRun: %v", err)
		}
	}

	e.mu.RLock()
	count := len(e.runs)
	e.mu.RUnlock()
	if count > maxRetainedRuns {
		t.Errorf("retained %d runs, want <= %d", count, maxRetainedRuns)
	}
	if _, ok := e.GetRun(ids[0]); ok {
		t.Error("oldest run should have been evicted")
	}
	if _, ok := e.GetRun(ids[len(ids)-1]); !ok {
		t.Error("most recent run should still be retained")
	}
}
