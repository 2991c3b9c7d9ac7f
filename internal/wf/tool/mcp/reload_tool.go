package mcp

import (
	"context"

	"github.com/pocketomega/pocket-omega/internal/wf/state"
	"github.com/pocketomega/pocket-omega/internal/wf/tool"
)

// ReloadTool exposes the "mcp_reload" built-in: a diff-based hot reload
// of mcp.json. New stdio Python servers are security-scanned before
// activation; the tool takes no arguments and returns a summary.
type ReloadTool struct {
	manager  *Manager
	registry *tool.Registry
}

// NewReloadTool builds a ReloadTool wired to manager and registry.
func NewReloadTool(manager *Manager, registry *tool.Registry) *ReloadTool {
	return &ReloadTool{manager: manager, registry: registry}
}

func (t *ReloadTool) Name() string { return "mcp_reload" }

func (t *ReloadTool) OpenAPISpec(state.ToolSpec) (map[string]any, error) {
	return map[string]any{
		"type": "object",
		"description": "Reloads the MCP server configuration from mcp.json. Connects new " +
			"servers and registers their tools, disconnects removed servers, and leaves " +
			"unchanged servers as they are. New stdio " +
			"Python servers are security-scanned before activation.",
		"properties":           map[string]any{},
		"additionalProperties": false,
	}, nil
}

func (t *ReloadTool) Run(ctx context.Context, _ tool.Req, _ map[string]any) (*tool.Response, error) {
	summary, err := t.manager.Reload(ctx, t.registry)
	if err != nil {
		return nil, err
	}
	return &tool.Response{Type: tool.ResponseText, Text: summary}, nil
}
