package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/google/uuid"
)

// CustomToolDefinition is one user-authored tool loaded from the managed
// store: a name/description/schema triple plus the shell command template
// that backs it, matched against a spawned subprocess at call time.
type CustomToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Command     string
	WorkDir     string
}

// CustomToolSource loads the custom tool definitions an agent has been
// granted, scoped by agent ID.
type CustomToolSource interface {
	ListForAgent(ctx context.Context, agentID uuid.UUID) ([]CustomToolDefinition, error)
}

// DynamicToolLoader builds per-agent tool registries out of DB-defined
// custom tools (managed mode only — standalone agents get their tools from
// config.json and never touch this).
type DynamicToolLoader struct {
	source    CustomToolSource
	workspace string
}

func NewDynamicToolLoader(source CustomToolSource, workspace string) *DynamicToolLoader {
	return &DynamicToolLoader{source: source, workspace: workspace}
}

// LoadForAgent returns a fresh Registry seeded with base's tools plus every
// custom tool defined for agentID, each wrapped as a shellCommandTool.
func (l *DynamicToolLoader) LoadForAgent(ctx context.Context, base *Registry, agentID uuid.UUID) (*Registry, error) {
	out := NewRegistry()
	if base != nil {
		for _, name := range base.Names() {
			if t, ok := base.Get(name); ok {
				out.Register(t)
			}
		}
	}
	if l.source == nil {
		return out, nil
	}
	defs, err := l.source.ListForAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		out.Register(newShellCommandTool(def, l.workspace))
	}
	return out, nil
}

// shellCommandTool wraps a custom tool definition's command template as a
// Tool, running it the same way ExecTool.executeOnHost does: sh -c, a
// working directory, and a fixed timeout rather than the deny-pattern/
// approval pipeline a raw exec call gets (the command template is authored
// by whoever configured the agent, not requested live by the model).
type shellCommandTool struct {
	def       CustomToolDefinition
	workspace string
}

func newShellCommandTool(def CustomToolDefinition, workspace string) *shellCommandTool {
	return &shellCommandTool{def: def, workspace: workspace}
}

func (t *shellCommandTool) Name() string        { return t.def.Name }
func (t *shellCommandTool) Description() string { return t.def.Description }
func (t *shellCommandTool) Parameters() map[string]interface{} {
	if t.def.Parameters != nil {
		return t.def.Parameters
	}
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *shellCommandTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	cwd := t.def.WorkDir
	if cwd == "" {
		cwd = t.workspace
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", t.def.Command)
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ErrorResult(fmt.Sprintf("custom tool %q timed out", t.def.Name))
		}
		msg := stderr.String()
		if msg == "" {
			msg = err.Error()
		}
		return ErrorResult(msg)
	}
	if stdout.Len() == 0 {
		return SilentResult("(command completed with no output)")
	}
	return SilentResult(stdout.String())
}
