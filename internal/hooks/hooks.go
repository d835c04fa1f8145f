// Package hooks implements quality-gate evaluation: lightweight checks run
// against agent output (e.g. after a delegation completes) that can block or
// retry a result before it is accepted.
package hooks

import (
	"context"
	"fmt"
	"strings"
)

// HookConfig describes one configured quality gate, typically parsed from an
// agent's other_config.quality_gates JSON array.
type HookConfig struct {
	Event          string `json:"event"`           // e.g. "delegation.completed"
	Type           string `json:"type"`            // "contains", "not_contains", "min_length", "llm_judge"
	Match          string `json:"match,omitempty"` // substring/phrase for contains-style gates
	MinLength      int    `json:"min_length,omitempty"`
	BlockOnFailure bool   `json:"block_on_failure"`
	MaxRetries     int    `json:"max_retries"`
}

// HookContext carries the data a gate evaluates against.
type HookContext struct {
	Event          string
	SourceAgentKey string
	TargetAgentKey string
	UserID         string
	Content        string
	Task           string
}

// HookResult is the outcome of evaluating a single gate.
type HookResult struct {
	Passed   bool
	Feedback string
}

type skipHooksKey struct{}

// WithSkipHooks marks a context so hook evaluation is bypassed entirely —
// used by internal retries and tests that must not loop on quality gates.
func WithSkipHooks(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipHooksKey{}, true)
}

// SkipHooksFromContext reports whether WithSkipHooks was set on ctx.
func SkipHooksFromContext(ctx context.Context) bool {
	skip, _ := ctx.Value(skipHooksKey{}).(bool)
	return skip
}

// Engine evaluates quality gates against delegation output. It has no
// external dependencies: every gate type is a pure function of HookContext,
// except "llm_judge" which is routed through an injected Judge.
type Engine struct {
	judge Judge
}

// Judge is implemented by anything that can answer a free-form yes/no
// quality question about a piece of text (typically an LLM provider call).
type Judge interface {
	Judge(ctx context.Context, question, content string) (passed bool, feedback string, err error)
}

// NewEngine creates a hook engine. judge may be nil — "llm_judge" gates then
// fail open (pass) since there is nothing to evaluate them.
func NewEngine(judge Judge) *Engine {
	return &Engine{judge: judge}
}

// EvaluateSingleHook runs one gate against hctx.
func (e *Engine) EvaluateSingleHook(ctx context.Context, gate HookConfig, hctx HookContext) (*HookResult, error) {
	switch gate.Type {
	case "contains":
		if strings.Contains(strings.ToLower(hctx.Content), strings.ToLower(gate.Match)) {
			return &HookResult{Passed: true}, nil
		}
		return &HookResult{Passed: false, Feedback: fmt.Sprintf("output must mention %q", gate.Match)}, nil

	case "not_contains":
		if !strings.Contains(strings.ToLower(hctx.Content), strings.ToLower(gate.Match)) {
			return &HookResult{Passed: true}, nil
		}
		return &HookResult{Passed: false, Feedback: fmt.Sprintf("output must not mention %q", gate.Match)}, nil

	case "min_length":
		if len(hctx.Content) >= gate.MinLength {
			return &HookResult{Passed: true}, nil
		}
		return &HookResult{Passed: false, Feedback: fmt.Sprintf("output too short, need at least %d chars", gate.MinLength)}, nil

	case "llm_judge":
		if e.judge == nil {
			return &HookResult{Passed: true}, nil
		}
		passed, feedback, err := e.judge.Judge(ctx, gate.Match, hctx.Content)
		if err != nil {
			return nil, err
		}
		return &HookResult{Passed: passed, Feedback: feedback}, nil

	default:
		return &HookResult{Passed: true}, nil
	}
}
