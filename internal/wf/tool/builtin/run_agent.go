package builtin

import (
	"context"
	"fmt"

	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
	"github.com/pocketomega/pocket-omega/internal/wf/tool"
)

// runAgentTool requests starting a nested workflow by name, checked
// against the project's AgentWorkflows allow-list — ported from
// tools/run_agent.py's RunAgentTool. A nil allow-list permits any
// registered workflow; a non-nil one restricts to its members.
type runAgentTool struct {
	prj *runtime.Project
}

// NewRunAgentTool builds the "run_agent" built-in tool.
func NewRunAgentTool(prj *runtime.Project) tool.BaseTool { return &runAgentTool{prj: prj} }

func (t *runAgentTool) Name() string { return "run_agent" }

func (t *runAgentTool) Run(ctx context.Context, req tool.Req, args map[string]any) (*tool.Response, error) {
	workflow, _ := args["name"].(string)
	if workflow == "" {
		return nil, fmt.Errorf("run_agent requires 'name' argument (string)")
	}

	if t.prj.AgentWorkflows != nil {
		allowed := false
		for _, w := range t.prj.AgentWorkflows {
			if w == workflow {
				allowed = true
				break
			}
		}
		parent := ""
		if req.Execution != nil {
			parent = req.Execution.WorkflowName
		}
		if !allowed {
			return nil, fmt.Errorf("workflow %q is not allowed to be executed by %q", workflow, parent)
		}
	}

	initialText, _ := args["text"].(string)
	resp := &tool.Response{Type: tool.ResponseStartWorkflow, Workflow: workflow}
	if initialText != "" {
		resp.InitialText = initialText
	}
	return resp, nil
}

func (t *runAgentTool) OpenAPISpec(state.ToolSpec) (map[string]any, error) {
	return map[string]any{
		"type": "object",
		"description": "Run an agent by name. Provide 'name' as the agent name and " +
			"'text' as the agent prompt value.",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Name of the agent to run",
			},
			"text": map[string]any{
				"type":        "string",
				"description": "Free-form text to pass to an agent.",
			},
		},
		"required":             []string{"name"},
		"additionalProperties": false,
	}, nil
}
