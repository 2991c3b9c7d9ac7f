// Package builtin implements the tools every project gets for free:
// exec, apply_patch, run_agent, update_plan. Grounded on the teacher's
// internal/tool/builtin/{shell.go,update_plan.go} for style and on the
// original tools/{exec_tool,apply_patch_tool,run_agent,update_plan_tool}.py
// for the exact argument/behavior contracts.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
	"github.com/pocketomega/pocket-omega/internal/wf/tool"
)

// execTool runs a command through the project's ShellManager and returns
// a JSON payload of combined output, exit code, and timeout status —
// ported from tools/exec_tool.py's ExecTool.
type execTool struct {
	prj *runtime.Project
}

// NewExecTool builds the "exec" built-in tool.
func NewExecTool(prj *runtime.Project) tool.BaseTool { return &execTool{prj: prj} }

const (
	execDefaultTimeout    = 60 * time.Second
	execDefaultMaxOutput  = 10 * 1024
)

func (t *execTool) Name() string { return "exec" }

func (t *execTool) Run(ctx context.Context, req tool.Req, args map[string]any) (*tool.Response, error) {
	if t.prj.Shells == nil {
		return nil, fmt.Errorf("exec tool requires project.Shells (ShellManager)")
	}
	command, _ := args["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("exec requires 'command' (string) argument")
	}

	timeout := execDefaultTimeout
	if raw, ok := req.Spec.Config["timeout_s"]; ok {
		if f, ok := toFloat(raw); ok && f > 0 {
			timeout = time.Duration(f * float64(time.Second))
		}
	}
	maxOutput := execDefaultMaxOutput
	if raw, ok := req.Spec.Config["max_output_chars"]; ok {
		if f, ok := toFloat(raw); ok && f > 0 {
			maxOutput = int(f)
		}
	}

	_, results := t.prj.Shells.Run(ctx, command, timeout, maxOutput)
	result := <-results

	payload := map[string]any{
		"output":    result.Output,
		"exit_code": result.ExitCode,
		"timed_out": result.TimedOut,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal exec result: %w", err)
	}
	return &tool.Response{Type: tool.ResponseText, Text: string(raw)}, nil
}

func (t *execTool) OpenAPISpec(state.ToolSpec) (map[string]any, error) {
	return map[string]any{
		"type": "object",
		"description": fmt.Sprintf(
			"Execute a shell command and return combined stdout/stderr, exit code, and "+
				"timeout status. Timeout is configurable via tool config (timeout_s) and "+
				"defaults to %s. Output is truncated to ~%dKB.",
			execDefaultTimeout, execDefaultMaxOutput/1024),
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Command to run (executed via the project shell).",
			},
		},
		"required":             []string{"command"},
		"additionalProperties": false,
	}, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
