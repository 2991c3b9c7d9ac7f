package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pocketomega/pocket-omega/internal/wf/state"
	"github.com/pocketomega/pocket-omega/internal/wf/tool"
)

// mcpToolTimeout caps a single MCP tool call so a hung server fails
// quickly and returns control to the node instead of stalling the run.
const mcpToolTimeout = 60 * time.Second

// ToolAdapter bridges an MCP server tool to wf/tool.BaseTool, making it
// indistinguishable from a built-in tool to the LLM executor.
//
// Naming convention: mcp_<serverName>__<toolName> — the double
// underscore is unambiguous (it cannot appear within a valid server or
// tool name) and prevents collisions when either component contains
// single underscores. Example: server "csv-tool", tool "read_csv" →
// "mcp_csv-tool__read_csv".
type ToolAdapter struct {
	serverName string
	info       ToolInfo
	// client is the shared persistent connection; nil for per_call
	// lifecycle, where Run rebuilds a fresh connection from cfg.
	client    *Client
	cfg       ServerConfig
	lifecycle string
}

// NewToolAdapter creates an adapter for a single MCP tool. For persistent
// servers client must be non-nil; cfg is kept so per_call Run can rebuild
// a transient connection.
func NewToolAdapter(serverName string, info ToolInfo, client *Client, cfg ServerConfig) *ToolAdapter {
	lc := cfg.Lifecycle
	if lc == "" {
		lc = "persistent"
	}
	return &ToolAdapter{serverName: serverName, info: info, client: client, cfg: cfg, lifecycle: lc}
}

// Name returns the fully-qualified tool name: mcp_<server>__<tool>.
func (a *ToolAdapter) Name() string { return fmt.Sprintf("mcp_%s__%s", a.serverName, a.info.Name) }

// OpenAPISpec returns the MCP server's own input schema, defaulting to an
// open object when the server reports none.
func (a *ToolAdapter) OpenAPISpec(state.ToolSpec) (map[string]any, error) {
	if len(a.info.InputSchema) == 0 {
		return map[string]any{"type": "object", "description": a.info.Description}, nil
	}
	var schema map[string]any
	if err := json.Unmarshal(a.info.InputSchema, &schema); err != nil {
		return nil, fmt.Errorf("mcp adapter %s: decode input schema: %w", a.Name(), err)
	}
	if schema["description"] == nil && a.info.Description != "" {
		schema["description"] = a.info.Description
	}
	return schema, nil
}

// Run delegates to the MCP server. For persistent lifecycle it reuses
// the shared client; for per_call it connects, calls, and disconnects so
// no residual process is left running.
func (a *ToolAdapter) Run(ctx context.Context, _ tool.Req, args map[string]any) (*tool.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, mcpToolTimeout)
	defer cancel()

	if a.lifecycle == "per_call" {
		c := NewClient(a.cfg)
		if err := c.Connect(callCtx); err != nil {
			return nil, fmt.Errorf("mcp per_call: connect to %q: %w", a.cfg.Name, err)
		}
		defer c.Close() //nolint:errcheck // best-effort cleanup
		text, err := c.CallTool(callCtx, a.info.Name, args)
		if err != nil {
			return nil, err
		}
		return &tool.Response{Type: tool.ResponseText, Text: text}, nil
	}

	text, err := a.client.CallTool(callCtx, a.info.Name, args)
	if err != nil {
		return nil, err
	}
	return &tool.Response{Type: tool.ResponseText, Text: text}, nil
}
