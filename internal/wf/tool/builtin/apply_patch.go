package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/pocketomega/pocket-omega/internal/wf/patch"
	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
	"github.com/pocketomega/pocket-omega/internal/wf/tool"
)

// applyPatchTool applies a repository patch under the project's base path,
// using the format named in the tool's config (default "v4a") — ported
// from tools/apply_patch_tool.py's ApplyPatchTool. Distinct from the
// graph-level apply_patch node executor: this is the LLM-invokable,
// function-call form.
type applyPatchTool struct {
	prj *runtime.Project
}

// NewApplyPatchTool builds the "apply_patch" built-in tool.
func NewApplyPatchTool(prj *runtime.Project) tool.BaseTool { return &applyPatchTool{prj: prj} }

func (t *applyPatchTool) Name() string { return "apply_patch" }

func (t *applyPatchTool) Run(ctx context.Context, req tool.Req, args map[string]any) (*tool.Response, error) {
	text, _ := args["text"].(string)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("apply_patch requires 'text' (patch content)")
	}

	format := "v4a"
	if raw, ok := req.Spec.Config["format"].(string); ok && raw != "" {
		format = strings.ToLower(raw)
	}
	supported := map[string]bool{}
	for _, f := range patch.SupportedFormats() {
		supported[f] = true
	}
	if !supported[format] {
		return &tool.Response{
			Type: tool.ResponseText,
			Text: fmt.Sprintf("Unsupported patch format: %s. Supported formats: %s",
				format, strings.Join(patch.SupportedFormats(), ", ")),
		}, nil
	}

	summary, _, changes, _, errs := patch.ApplyPatch(format, text, t.prj.BasePath)
	if len(errs) > 0 && summary == "" {
		return &tool.Response{Type: tool.ResponseText, Text: fmt.Sprintf("Error applying patch: %v", errs[0])}, nil
	}

	if len(changes) > 0 && t.prj.Refresh != nil {
		fileChanges := make([]runtime.FileChange, 0, len(changes))
		for rel, kind := range changes {
			fileChanges = append(fileChanges, runtime.FileChange{
				Type:             runtime.FileChangeType(kind),
				RelativeFilename: rel,
			})
		}
		go t.prj.Refresh(context.Background(), fileChanges)
	}

	return &tool.Response{Type: tool.ResponseText, Text: summary}, nil
}

func (t *applyPatchTool) OpenAPISpec(state.ToolSpec) (map[string]any, error) {
	formats := patch.SupportedFormats()
	return map[string]any{
		"type": "object",
		"description": fmt.Sprintf(
			"Apply a repository patch to the current project. Patch format is configured "+
				"in this tool's config (format=%s). Returns a human-readable summary of "+
				"changes or errors.", strings.Join(formats, "/")),
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "Patch content to apply.",
			},
		},
		"required":             []string{"text"},
		"additionalProperties": false,
	}, nil
}
