package settings

import "fmt"

// FromRaw decodes a configuration document's top-level map (as produced by
// internal/wf/config.Decode, after internal/wf/vars interpolation) into
// Settings. Unknown keys are ignored, matching the original's permissive
// pydantic model (extra fields pass through unexamined).
func FromRaw(raw map[string]any) (*Settings, error) {
	s := &Settings{
		Workflows:          map[string]*WorkflowConfig{},
		ToolCallFormatters: map[string]ToolCallFormatter{},
	}

	if wfs, ok := asMap(raw["workflows"]); ok {
		for name, v := range wfs {
			wf, err := decodeWorkflowConfig(v)
			if err != nil {
				return nil, fmt.Errorf("settings: workflow %q: %w", name, err)
			}
			wf.Name = name
			s.Workflows[name] = wf
		}
	}

	s.DefaultWorkflow = asString(raw["default_workflow"])

	if tools, ok := raw["tools"].([]any); ok {
		for i, t := range tools {
			ts, err := decodeToolSpec(t)
			if err != nil {
				return nil, fmt.Errorf("settings: tools[%d]: %w", i, err)
			}
			s.Tools = append(s.Tools, ts)
		}
	}

	if ts, ok := asMap(raw["tool_settings"]); ok {
		s.ToolSettings = &ToolSettings{}
		if et, ok := asMap(ts["exec_tool"]); ok {
			ets := &ExecToolSettings{MaxOutputChars: 10 * 1024}
			if v, ok := asInt(et["max_output_chars"]); ok {
				ets.MaxOutputChars = v
			}
			if v, ok := asFloat(et["timeout_s"]); ok {
				ets.TimeoutS = &v
			}
			s.ToolSettings.ExecTool = ets
		}
	}

	if formatters, ok := asMap(raw["tool_call_formatters"]); ok {
		for name, v := range formatters {
			m, ok := asMap(v)
			if !ok {
				continue
			}
			s.ToolCallFormatters[name] = ToolCallFormatter{
				Title:      asString(m["title"]),
				Formatter:  orDefault(asString(m["formatter"]), "generic"),
				ShowOutput: asBool(m["show_output"]),
				Options:    mustMap(m["options"]),
			}
		}
	}

	if p, ok := asMap(raw["process"]); ok {
		s.Process = decodeProcessSettings(p)
	}

	if l, ok := asMap(raw["logging"]); ok {
		ls := &LoggingSettings{DefaultLevel: LogLevelInfo, EnabledLoggers: map[string]LogLevel{}}
		if v := asString(l["default_level"]); v != "" {
			ls.DefaultLevel = LogLevel(v)
		}
		if loggers, ok := asMap(l["enabled_loggers"]); ok {
			for name, v := range loggers {
				ls.EnabledLoggers[name] = LogLevel(asString(v))
			}
		}
		s.Logging = ls
	}

	if p, ok := asMap(raw["persistence"]); ok {
		ps := &PersistenceSettings{SaveIntervalS: 120, MaxTotalLogBytes: 1024 * 1024 * 1024}
		if v, ok := asFloat(p["save_interval_s"]); ok {
			ps.SaveIntervalS = v
		}
		if v, ok := asInt64(p["max_total_log_bytes"]); ok {
			ps.MaxTotalLogBytes = v
		}
		s.Persistence = ps
	}

	if t, ok := asMap(raw["tui"]); ok {
		s.TUI = &TUIOptions{
			Unicode:       asBoolDefault(t["unicode"], true),
			ASCIIFallback: asBool(t["ascii_fallback"]),
		}
	}

	if h, ok := asMap(raw["internal_http"]); ok {
		hs := &InternalHTTPSettings{Host: orDefault(asString(h["host"]), "127.0.0.1")}
		if v, ok := asInt(h["port"]); ok {
			hs.Port = &v
		}
		hs.SecretKey = asString(h["secret_key"])
		s.InternalHTTP = hs
	}

	return s, nil
}

func decodeProcessSettings(p map[string]any) *ProcessSettings {
	ps := &ProcessSettings{
		Env: ProcessEnvSettings{InheritParent: true, Defaults: map[string]string{}},
		Shell: ShellSettings{
			Mode:            ShellModeShell,
			Program:         "bash",
			Args:            []string{"--noprofile", "--norc"},
			DefaultTimeoutS: 120,
		},
	}
	if env, ok := asMap(p["env"]); ok {
		ps.Env.InheritParent = asBoolDefault(env["inherit_parent"], true)
		ps.Env.Allowlist = asStringSlice(env["allowlist"])
		ps.Env.Denylist = asStringSlice(env["denylist"])
		if defs, ok := asMap(env["defaults"]); ok {
			for k, v := range defs {
				ps.Env.Defaults[k] = asString(v)
			}
		}
	}
	if shell, ok := asMap(p["shell"]); ok {
		if v := asString(shell["mode"]); v != "" {
			ps.Shell.Mode = ShellMode(v)
		}
		if v := asString(shell["program"]); v != "" {
			ps.Shell.Program = v
		}
		if args := asStringSlice(shell["args"]); args != nil {
			ps.Shell.Args = args
		}
		if v, ok := asInt(shell["default_timeout_s"]); ok {
			ps.Shell.DefaultTimeoutS = v
		}
	}
	return ps
}

func decodeWorkflowConfig(v any) (*WorkflowConfig, error) {
	m, ok := asMap(v)
	if !ok {
		return nil, fmt.Errorf("expected a mapping")
	}
	wf := &WorkflowConfig{
		Description:     asString(m["description"]),
		NeedInput:       asBoolDefault(m["need_input"], true),
		NeedInputPrompt: asString(m["need_input_prompt"]),
		Config:          mustMap(m["config"]),
		AgentWorkflows:  asStringSlice(m["agent_workflows"]),
	}

	nodes, _ := m["nodes"].([]any)
	for i, n := range nodes {
		node, err := decodeNode(n)
		if err != nil {
			return nil, fmt.Errorf("nodes[%d]: %w", i, err)
		}
		wf.Nodes = append(wf.Nodes, node)
	}

	edges, _ := m["edges"].([]any)
	for i, e := range edges {
		edge, err := decodeEdge(e)
		if err != nil {
			return nil, fmt.Errorf("edges[%d]: %w", i, err)
		}
		wf.Edges = append(wf.Edges, edge)
	}

	return wf, nil
}

func decodeNode(v any) (Node, error) {
	m, ok := asMap(v)
	if !ok {
		return Node{}, fmt.Errorf("expected a mapping")
	}
	n := Node{
		Name:            asString(m["name"]),
		Type:            asString(m["type"]),
		Description:     asString(m["description"]),
		Skip:            asBool(m["skip"]),
		MessageMode:     asString(m["message_mode"]),
		OutputMode:      asString(m["output_mode"]),
		Confirmation:    asString(m["confirmation"]),
		ResetPolicy:     asString(m["reset_policy"]),
		OutcomeStrategy: asString(m["outcome_strategy"]),
		Config:          mustMap(m["config"]),
	}
	if n.Name == "" || n.Type == "" {
		return Node{}, fmt.Errorf("node must have non-empty 'name' and 'type'")
	}
	if v, ok := asInt(m["max_runs"]); ok {
		n.MaxRuns = &v
	}
	if v, ok := asBoolPtr(m["collapse"]); ok {
		n.Collapse = v
	}
	if v, ok := asInt(m["collapse_lines"]); ok {
		n.CollapseLines = &v
	}
	if v, ok := asBoolPtr(m["visible"]); ok {
		n.Visible = v
	}
	if v, ok := asBoolPtr(m["tool_collapse"]); ok {
		n.ToolCollapse = v
	}
	if outcomes, ok := m["outcomes"].([]any); ok {
		for _, o := range outcomes {
			om, ok := asMap(o)
			if !ok {
				continue
			}
			n.Outcomes = append(n.Outcomes, OutcomeSlot{
				Name:        asString(om["name"]),
				Description: asString(om["description"]),
			})
		}
	}
	return n, nil
}

func decodeEdge(v any) (Edge, error) {
	if s, ok := v.(string); ok {
		return ParseEdgeShorthand(s)
	}
	m, ok := asMap(v)
	if !ok {
		return Edge{}, fmt.Errorf("expected a mapping or 'source.outcome -> target' string")
	}
	e := Edge{
		SourceNode:    asString(m["source_node"]),
		SourceOutcome: asString(m["source_outcome"]),
		TargetNode:    asString(m["target_node"]),
	}
	if rp := asString(m["reset_policy"]); rp != "" {
		e.ResetPolicy = &rp
	}
	return e, nil
}

func decodeToolSpec(v any) (ToolSpec, error) {
	if s, ok := v.(string); ok {
		return ToolSpec{Name: s, Enabled: true, Config: map[string]any{}}, nil
	}
	m, ok := asMap(v)
	if !ok {
		return ToolSpec{}, fmt.Errorf("tool spec must be a string or mapping")
	}
	name := asString(m["name"])
	if name == "" {
		return ToolSpec{}, fmt.Errorf("tool spec must include non-empty 'name'")
	}
	ts := ToolSpec{
		Name:    name,
		Enabled: asBoolDefault(m["enabled"], true),
		Config:  mustMap(m["config"]),
	}
	if v, ok := asBoolPtr(m["auto_approve"]); ok {
		ts.AutoApprove = v
	}
	if rules, ok := m["auto_approve_rules"].([]any); ok {
		for _, r := range rules {
			rm, ok := asMap(r)
			if !ok {
				continue
			}
			ts.AutoApproveRules = append(ts.AutoApproveRules, ToolAutoApproveRule{
				Key:     asString(rm["key"]),
				Pattern: asString(rm["pattern"]),
			})
		}
	}
	return ts, nil
}
