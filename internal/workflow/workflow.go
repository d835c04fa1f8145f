// Package workflow implements a declarative multi-step agent pipeline:
// each step routes a prompt to an agent, can run sequentially or fanned
// out in parallel, can be skipped on a condition, and can loop until an
// output matches. The engine never talks to agents directly — it's handed
// a resolver and a sender function so it stays decoupled from however the
// caller resolves/dispatches agents (the same callback-injection idiom
// internal/scheduler uses for RunFunc).
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StepMode selects how a step executes relative to its neighbors.
type StepMode int

const (
	StepSequential StepMode = iota
	StepFanOut
	StepCollect
	StepConditional
	StepLoop
)

// ErrorMode selects how a step's failure is handled.
type ErrorMode int

const (
	ErrorFail ErrorMode = iota
	ErrorSkip
	ErrorRetry
)

// StepAgent identifies the agent a step routes to, either by UUID or by
// name (first match wins, resolved by the caller's AgentResolver).
type StepAgent struct {
	ID   string
	Name string
}

// Step is one node in a workflow's pipeline.
type Step struct {
	Name           string
	Agent          StepAgent
	PromptTemplate string
	Mode           StepMode
	TimeoutSecs    uint64 // default 120 if zero
	ErrorMode      ErrorMode
	MaxRetries     uint32 // ErrorMode == ErrorRetry
	Condition      string // StepMode == StepConditional
	MaxIterations  uint32 // StepMode == StepLoop
	Until          string // StepMode == StepLoop
	OutputVar      string // optional: stash this step's output under a name
}

const defaultStepTimeout = 120 * time.Second

func (s Step) timeout() time.Duration {
	if s.TimeoutSecs == 0 {
		return defaultStepTimeout
	}
	return time.Duration(s.TimeoutSecs) * time.Second
}

// Definition is a named, ordered sequence of steps.
type Definition struct {
	ID          uuid.UUID
	Name        string
	Description string
	Steps       []Step
	CreatedAt   time.Time
}

// RunState tracks a run's lifecycle.
type RunState int

const (
	RunPending RunState = iota
	RunRunning
	RunCompleted
	RunFailed
)

func (s RunState) String() string {
	switch s {
	case RunPending:
		return "pending"
	case RunRunning:
		return "running"
	case RunCompleted:
		return "completed"
	case RunFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StepResult records one executed step (or one loop iteration) of a run.
type StepResult struct {
	StepName     string
	AgentID      string
	AgentName    string
	Output       string
	InputTokens  uint64
	OutputTokens uint64
	Duration     time.Duration
}

// Run is one in-flight or completed execution of a Definition.
type Run struct {
	ID           uuid.UUID
	DefinitionID uuid.UUID
	DefinitionName string
	Input        string
	State        RunState
	StepResults  []StepResult
	Output       string
	Error        string
	StartedAt    time.Time
	CompletedAt  time.Time
}

// maxRetainedRuns bounds run-history memory growth: once exceeded, the
// oldest completed/failed runs are evicted first.
const maxRetainedRuns = 200

// AgentResolver resolves a step's agent reference to a dispatchable ID and
// a display name. Returning ok=false fails the step ("agent not found").
type AgentResolver func(ref StepAgent) (agentID, agentName string, ok bool)

// SendMessageFunc dispatches prompt to agentID and returns its output plus
// token usage. The engine never calls this directly outside a timeout.
type SendMessageFunc func(ctx context.Context, agentID, prompt string) (output string, inputTokens, outputTokens uint64, err error)

// Engine owns workflow definitions and their runs.
type Engine struct {
	mu              sync.RWMutex
	definitions     map[uuid.UUID]Definition
	runs            map[uuid.UUID]*Run
	maxRetainedRuns int
}

func NewEngine() *Engine {
	return NewEngineWithLimits(maxRetainedRuns)
}

// NewEngineWithLimits builds an Engine whose run-history cap is maxRuns
// instead of the package default. maxRuns <= 0 falls back to the default.
func NewEngineWithLimits(maxRuns int) *Engine {
	if maxRuns <= 0 {
		maxRuns = maxRetainedRuns
	}
	return &Engine{
		definitions:     make(map[uuid.UUID]Definition),
		runs:            make(map[uuid.UUID]*Run),
		maxRetainedRuns: maxRuns,
	}
}

// Register stores def (assigning an ID if unset) and returns it.
func (e *Engine) Register(def Definition) uuid.UUID {
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.definitions[def.ID] = def
	slog.Info("workflow registered", "id", def.ID, "name", def.Name, "steps", len(def.Steps))
	return def.ID
}

func (e *Engine) ListDefinitions() []Definition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Definition, 0, len(e.definitions))
	for _, d := range e.definitions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (e *Engine) GetDefinition(id uuid.UUID) (Definition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.definitions[id]
	return d, ok
}

func (e *Engine) RemoveDefinition(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.definitions[id]; !ok {
		return false
	}
	delete(e.definitions, id)
	return true
}

// CreateRun starts a new pending run of definitionID with the given input,
// evicting the oldest terminal runs if the retained-run cap is exceeded.
func (e *Engine) CreateRun(definitionID uuid.UUID, input string) (uuid.UUID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	def, ok := e.definitions[definitionID]
	if !ok {
		return uuid.Nil, false
	}

	run := &Run{
		ID:             uuid.New(),
		DefinitionID:   definitionID,
		DefinitionName: def.Name,
		Input:          input,
		State:          RunPending,
		StartedAt:      time.Now(),
	}
	e.runs[run.ID] = run

	if len(e.runs) > e.maxRetainedRuns {
		e.evictOldestTerminalLocked(len(e.runs) - e.maxRetainedRuns)
	}
	return run.ID, true
}

func (e *Engine) evictOldestTerminalLocked(count int) {
	type candidate struct {
		id      uuid.UUID
		started time.Time
	}
	var evictable []candidate
	for id, r := range e.runs {
		if r.State == RunCompleted || r.State == RunFailed {
			evictable = append(evictable, candidate{id, r.StartedAt})
		}
	}
	sort.Slice(evictable, func(i, j int) bool { return evictable[i].started.Before(evictable[j].started) })
	for i := 0; i < count && i < len(evictable); i++ {
		delete(e.runs, evictable[i].id)
	}
}

func (e *Engine) GetRun(runID uuid.UUID) (Run, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[runID]
	if !ok {
		return Run{}, false
	}
	return *r, true
}

// ListRuns returns every run, optionally filtered by state ("" means all).
func (e *Engine) ListRuns(stateFilter string) []Run {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Run, 0, len(e.runs))
	for _, r := range e.runs {
		if stateFilter != "" && !strings.EqualFold(stateFilter, r.State.String()) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// expandVariables replaces {{input}} first, then every {{name}} in vars —
// so a step's own output_var binding (added to vars after it runs) always
// wins over an identically-named earlier template placeholder.
func expandVariables(template, input string, vars map[string]string) string {
	result := strings.ReplaceAll(template, "{{input}}", input)
	for k, v := range vars {
		result = strings.ReplaceAll(result, "{{"+k+"}}", v)
	}
	return result
}

func (e *Engine) appendStepResult(runID uuid.UUID, sr StepResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.runs[runID]; ok {
		r.StepResults = append(r.StepResults, sr)
	}
}

func (e *Engine) failRun(runID uuid.UUID, errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.runs[runID]; ok {
		r.State = RunFailed
		r.Error = errMsg
		r.CompletedAt = time.Now()
	}
}

func (e *Engine) completeRun(runID uuid.UUID, output string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.runs[runID]; ok {
		r.State = RunCompleted
		r.Output = output
		r.CompletedAt = time.Now()
	}
}

// stepOutcome is what executeStepWithErrorMode returns: a step that ran
// (ok=true, with its output/usage) or one that was skipped under
// ErrorSkip (ok=false, err=nil).
type stepOutcome struct {
	output       string
	inputTokens  uint64
	outputTokens uint64
	ok           bool
}

// executeStepWithErrorMode runs one send_message call under step's timeout
// and error-handling policy. ErrorRetry has no inter-attempt backoff,
// matching the ported behavior exactly.
func executeStepWithErrorMode(ctx context.Context, step Step, agentID, prompt string, send SendMessageFunc) (stepOutcome, error) {
	call := func() (stepOutcome, error) {
		cctx, cancel := context.WithTimeout(ctx, step.timeout())
		defer cancel()
		output, in, out, err := send(cctx, agentID, prompt)
		if err != nil {
			if cctx.Err() == context.DeadlineExceeded {
				return stepOutcome{}, fmt.Errorf("step %q timed out after %ds", step.Name, step.TimeoutSecs)
			}
			return stepOutcome{}, fmt.Errorf("step %q failed: %w", step.Name, err)
		}
		return stepOutcome{output: output, inputTokens: in, outputTokens: out, ok: true}, nil
	}

	switch step.ErrorMode {
	case ErrorSkip:
		outcome, err := call()
		if err != nil {
			slog.Warn("workflow step failed, skipping", "step", step.Name, "error", err)
			return stepOutcome{}, nil
		}
		return outcome, nil

	case ErrorRetry:
		var lastErr error
		for attempt := uint32(0); attempt <= step.MaxRetries; attempt++ {
			outcome, err := call()
			if err == nil {
				return outcome, nil
			}
			lastErr = err
			if attempt < step.MaxRetries {
				slog.Warn("workflow step attempt failed, retrying", "step", step.Name, "attempt", attempt+1, "error", err)
			}
		}
		return stepOutcome{}, fmt.Errorf("step %q failed after %d retries: %w", step.Name, step.MaxRetries, lastErr)

	default: // ErrorFail
		return call()
	}
}

// fanOutResult pairs a completed fan-out step with its outcome, keeping
// declaration order for deterministic result processing after the join.
type fanOutResult struct {
	step      Step
	agentID   string
	agentName string
	outcome   stepOutcome
	err       error
}

// ExecuteRun drives runID's definition to completion (or failure),
// dispatching every step through resolve/send. It returns the final
// output string, or an error describing what failed.
func (e *Engine) ExecuteRun(ctx context.Context, runID uuid.UUID, resolve AgentResolver, send SendMessageFunc) (string, error) {
	e.mu.Lock()
	run, ok := e.runs[runID]
	if !ok {
		e.mu.Unlock()
		return "", fmt.Errorf("workflow run not found")
	}
	run.State = RunRunning
	def, ok := e.definitions[run.DefinitionID]
	if !ok {
		e.mu.Unlock()
		return "", fmt.Errorf("workflow definition not found")
	}
	currentInput := run.Input
	e.mu.Unlock()

	slog.Info("workflow run starting", "run_id", runID, "workflow", def.Name, "steps", len(def.Steps))

	var allOutputs []string
	variables := make(map[string]string)

	i := 0
	for i < len(def.Steps) {
		step := def.Steps[i]

		switch step.Mode {
		case StepSequential:
			agentID, agentName, ok := resolve(step.Agent)
			if !ok {
				err := fmt.Errorf("agent not found for step %q", step.Name)
				e.failRun(runID, err.Error())
				return "", err
			}
			prompt := expandVariables(step.PromptTemplate, currentInput, variables)

			start := time.Now()
			outcome, err := executeStepWithErrorMode(ctx, step, agentID, prompt, send)
			duration := time.Since(start)
			if err != nil {
				e.failRun(runID, err.Error())
				return "", err
			}
			if outcome.ok {
				e.appendStepResult(runID, StepResult{
					StepName: step.Name, AgentID: agentID, AgentName: agentName,
					Output: outcome.output, InputTokens: outcome.inputTokens,
					OutputTokens: outcome.outputTokens, Duration: duration,
				})
				if step.OutputVar != "" {
					variables[step.OutputVar] = outcome.output
				}
				allOutputs = append(allOutputs, outcome.output)
				currentInput = outcome.output
			}

		case StepFanOut:
			fanSteps := []Step{step}
			j := i + 1
			for j < len(def.Steps) && def.Steps[j].Mode == StepFanOut {
				fanSteps = append(fanSteps, def.Steps[j])
				j++
			}

			type prepared struct {
				step      Step
				agentID   string
				agentName string
				prompt    string
			}
			preps := make([]prepared, 0, len(fanSteps))
			for _, fs := range fanSteps {
				agentID, agentName, ok := resolve(fs.Agent)
				if !ok {
					err := fmt.Errorf("agent not found for step %q", fs.Name)
					e.failRun(runID, err.Error())
					return "", err
				}
				preps = append(preps, prepared{
					step: fs, agentID: agentID, agentName: agentName,
					prompt: expandVariables(fs.PromptTemplate, currentInput, variables),
				})
			}

			results := make([]fanOutResult, len(preps))
			var wg sync.WaitGroup
			start := time.Now()
			for k, p := range preps {
				wg.Add(1)
				go func(k int, p prepared) {
					defer wg.Done()
					outcome, err := executeStepWithErrorMode(ctx, p.step, p.agentID, p.prompt, send)
					results[k] = fanOutResult{step: p.step, agentID: p.agentID, agentName: p.agentName, outcome: outcome, err: err}
				}(k, p)
			}
			wg.Wait()
			duration := time.Since(start)

			for _, r := range results {
				if r.err != nil {
					errMsg := fmt.Sprintf("fan-out step %q failed: %v", r.step.Name, r.err)
					e.failRun(runID, errMsg)
					return "", fmt.Errorf("%s", errMsg)
				}
				if r.outcome.ok {
					e.appendStepResult(runID, StepResult{
						StepName: r.step.Name, AgentID: r.agentID, AgentName: r.agentName,
						Output: r.outcome.output, InputTokens: r.outcome.inputTokens,
						OutputTokens: r.outcome.outputTokens, Duration: duration,
					})
					if r.step.OutputVar != "" {
						variables[r.step.OutputVar] = r.outcome.output
					}
					allOutputs = append(allOutputs, r.outcome.output)
					currentInput = r.outcome.output
				}
			}

			slog.Info("workflow fan-out completed", "run_id", runID, "count", len(fanSteps), "duration", duration)
			i = j
			continue

		case StepCollect:
			start := time.Now()
			currentInput = strings.Join(allOutputs, "\n\n---\n\n")
			allOutputs = []string{currentInput}
			if step.OutputVar != "" {
				variables[step.OutputVar] = currentInput
			}
			e.appendStepResult(runID, StepResult{
				StepName: step.Name, Output: currentInput, Duration: time.Since(start),
			})

		case StepConditional:
			if !strings.Contains(strings.ToLower(currentInput), strings.ToLower(step.Condition)) {
				slog.Info("workflow conditional step skipped", "run_id", runID, "step", step.Name, "condition", step.Condition)
				i++
				continue
			}

			agentID, agentName, ok := resolve(step.Agent)
			if !ok {
				err := fmt.Errorf("agent not found for step %q", step.Name)
				e.failRun(runID, err.Error())
				return "", err
			}
			prompt := expandVariables(step.PromptTemplate, currentInput, variables)

			start := time.Now()
			outcome, err := executeStepWithErrorMode(ctx, step, agentID, prompt, send)
			duration := time.Since(start)
			if err != nil {
				e.failRun(runID, err.Error())
				return "", err
			}
			if outcome.ok {
				e.appendStepResult(runID, StepResult{
					StepName: step.Name, AgentID: agentID, AgentName: agentName,
					Output: outcome.output, InputTokens: outcome.inputTokens,
					OutputTokens: outcome.outputTokens, Duration: duration,
				})
				if step.OutputVar != "" {
					variables[step.OutputVar] = outcome.output
				}
				allOutputs = append(allOutputs, outcome.output)
				currentInput = outcome.output
			}

		case StepLoop:
			agentID, agentName, ok := resolve(step.Agent)
			if !ok {
				err := fmt.Errorf("agent not found for step %q", step.Name)
				e.failRun(runID, err.Error())
				return "", err
			}
			untilLower := strings.ToLower(step.Until)

			for iter := uint32(0); iter < step.MaxIterations; iter++ {
				prompt := expandVariables(step.PromptTemplate, currentInput, variables)

				start := time.Now()
				outcome, err := executeStepWithErrorMode(ctx, step, agentID, prompt, send)
				duration := time.Since(start)
				if err != nil {
					e.failRun(runID, err.Error())
					return "", err
				}
				if !outcome.ok {
					break
				}

				e.appendStepResult(runID, StepResult{
					StepName: fmt.Sprintf("%s (iter %d)", step.Name, iter+1),
					AgentID: agentID, AgentName: agentName, Output: outcome.output,
					InputTokens: outcome.inputTokens, OutputTokens: outcome.outputTokens, Duration: duration,
				})
				currentInput = outcome.output

				if strings.Contains(strings.ToLower(outcome.output), untilLower) {
					slog.Info("workflow loop terminated (until met)", "run_id", runID, "step", step.Name, "iterations", iter+1)
					break
				}
				if iter+1 == step.MaxIterations {
					slog.Info("workflow loop terminated (max iterations)", "run_id", runID, "step", step.Name)
				}
			}

			if step.OutputVar != "" {
				variables[step.OutputVar] = currentInput
			}
			allOutputs = append(allOutputs, currentInput)
		}

		i++
	}

	e.completeRun(runID, currentInput)
	slog.Info("workflow run completed", "run_id", runID)
	return currentInput, nil
}
