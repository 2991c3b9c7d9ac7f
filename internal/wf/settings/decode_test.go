package settings

import "testing"

func sampleRaw() map[string]any {
	return map[string]any{
		"default_workflow": "main",
		"workflows": map[string]any{
			"main": map[string]any{
				"description": "demo",
				"agent_workflows": []any{"sub"},
				"nodes": []any{
					map[string]any{
						"name":     "ask",
						"type":     "llm",
						"outcomes": []any{map[string]any{"name": "done"}},
					},
					map[string]any{"name": "run", "type": "exec"},
				},
				"edges": []any{
					"ask.done -> run",
				},
			},
		},
		"tools": []any{
			"exec",
			map[string]any{"name": "apply_patch", "enabled": true, "config": map[string]any{"format": "v4a"}},
		},
		"tool_settings": map[string]any{
			"exec_tool": map[string]any{"max_output_chars": 2048},
		},
		"process": map[string]any{
			"shell": map[string]any{"mode": "direct", "default_timeout_s": 30},
		},
		"internal_http": map[string]any{"port": 8099},
	}
}

func TestFromRawDecodesWorkflowsAndTools(t *testing.T) {
	s, err := FromRaw(sampleRaw())
	if err != nil {
		t.Fatalf("FromRaw: %v", err)
	}
	if s.DefaultWorkflow != "main" {
		t.Fatalf("default workflow: got %q", s.DefaultWorkflow)
	}
	wf, ok := s.Workflows["main"]
	if !ok {
		t.Fatalf("missing workflow main")
	}
	if len(wf.Nodes) != 2 || len(wf.Edges) != 1 {
		t.Fatalf("unexpected node/edge counts: %d/%d", len(wf.Nodes), len(wf.Edges))
	}
	if len(s.Tools) != 2 || s.Tools[0].Name != "exec" || !s.Tools[0].Enabled {
		t.Fatalf("unexpected tools: %+v", s.Tools)
	}
	if s.ToolSettings == nil || s.ToolSettings.ExecTool == nil || s.ToolSettings.ExecTool.MaxOutputChars != 2048 {
		t.Fatalf("exec tool settings not decoded: %+v", s.ToolSettings)
	}
	if s.Process.Shell.Mode != ShellModeDirect || s.Process.Shell.DefaultTimeoutS != 30 {
		t.Fatalf("shell settings not decoded: %+v", s.Process.Shell)
	}
	if s.InternalHTTP == nil || s.InternalHTTP.Port == nil || *s.InternalHTTP.Port != 8099 {
		t.Fatalf("internal http port not decoded: %+v", s.InternalHTTP)
	}
}

func TestBuildGraphFromEdgeShorthand(t *testing.T) {
	s, err := FromRaw(sampleRaw())
	if err != nil {
		t.Fatalf("FromRaw: %v", err)
	}
	g, err := BuildGraph(s.Workflows["main"])
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	edge, ok := g.EdgeFor("ask", "done")
	if !ok || edge.TargetNode != "run" {
		t.Fatalf("expected edge ask.done -> run, got %+v ok=%v", edge, ok)
	}
}

func TestGraphsBuildsEveryWorkflow(t *testing.T) {
	s, err := FromRaw(sampleRaw())
	if err != nil {
		t.Fatalf("FromRaw: %v", err)
	}
	graphs, err := s.Graphs()
	if err != nil {
		t.Fatalf("Graphs: %v", err)
	}
	if _, ok := graphs["main"]; !ok {
		t.Fatalf("expected graph for workflow main")
	}
}

func TestAgentWorkflowNamesUnion(t *testing.T) {
	s, err := FromRaw(sampleRaw())
	if err != nil {
		t.Fatalf("FromRaw: %v", err)
	}
	names := s.AgentWorkflowNames()
	if len(names) != 1 || names[0] != "sub" {
		t.Fatalf("expected [sub], got %v", names)
	}
}

func TestGlobalToolSpecsCarriesToolConfig(t *testing.T) {
	s, err := FromRaw(sampleRaw())
	if err != nil {
		t.Fatalf("FromRaw: %v", err)
	}
	specs := s.GlobalToolSpecs()
	apply, ok := specs["apply_patch"]
	if !ok {
		t.Fatalf("missing apply_patch global spec")
	}
	if apply.Config["format"] != "v4a" {
		t.Fatalf("expected format v4a, got %+v", apply.Config)
	}
}

func TestEdgeShorthandWithResetPolicy(t *testing.T) {
	e, err := ParseEdgeShorthand("a.ok -> b:keep")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if e.SourceNode != "a" || e.SourceOutcome != "ok" || e.TargetNode != "b" || e.ResetPolicy == nil || *e.ResetPolicy != "keep" {
		t.Fatalf("unexpected edge: %+v", e)
	}
}

func TestDecodeNodeRequiresNameAndType(t *testing.T) {
	_, err := decodeNode(map[string]any{"name": "x"})
	if err == nil {
		t.Fatal("expected error for missing type")
	}
}
