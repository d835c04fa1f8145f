package tools

import (
	"context"
	"fmt"

	"github.com/openfang-project/openfang/internal/patch"
)

// PatchTool applies a structured multi-hunk patch against files confined
// to a workspace root. Registered under the name the policy engine's
// apply-patch alias resolves to.
type PatchTool struct {
	workspace string
}

func NewPatchTool(workspace string) *PatchTool {
	return &PatchTool{workspace: workspace}
}

func (t *PatchTool) Name() string        { return "apply_patch" }
func (t *PatchTool) Description() string { return "Apply a structured multi-hunk patch to add, update, move, or delete files" }
func (t *PatchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"patch": map[string]interface{}{
				"type":        "string",
				"description": "Patch text delimited by '*** Begin Patch' / '*** End Patch'",
			},
		},
		"required": []string{"patch"},
	}
}

func (t *PatchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	raw, _ := args["patch"].(string)
	if raw == "" {
		return ErrorResult("patch is required")
	}

	workspace := ToolWorkspaceFromCtx(ctx)
	if workspace == "" {
		workspace = t.workspace
	}

	ops, err := patch.Parse(raw)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to parse patch: %v", err))
	}

	result := patch.Apply(ops, workspace)
	if !result.OK() {
		return ErrorResult(fmt.Sprintf("%s: %v", result.Summary(), result.Errors))
	}
	return SilentResult(result.Summary())
}
