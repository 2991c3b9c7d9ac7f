package llmexec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pocketomega/pocket-omega/internal/wf/executor"
	"github.com/pocketomega/pocket-omega/internal/wf/executor/llm/preprocess"
	"github.com/pocketomega/pocket-omega/internal/wf/graphmodel"
	"github.com/pocketomega/pocket-omega/internal/wf/llm"
	"github.com/pocketomega/pocket-omega/internal/wf/logging"
	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
	"github.com/pocketomega/pocket-omega/internal/wf/tool"
)

var log = logging.New("executor.llm")

const defaultMaxRounds = 8

// Config is the "llm" node's Config-map payload, mirroring LLMNode from
// runner/executors/llm/models.py.
type Config struct {
	Model           string
	System          string
	SystemAppend    string
	Temperature     *float32
	MaxTokens       int
	OutcomeStrategy graphmodel.OutcomeStrategy
	Tools           map[string]state.ToolSpec
	Extra           map[string]any
	MaxRounds       int
	ReasoningEffort string
	Preprocessors   []preprocess.Spec
}

// DecodeConfig decodes node.Config into an LLM Config.
func DecodeConfig(node *graphmodel.Node) (*Config, error) {
	cfg := &Config{
		Tools:     map[string]state.ToolSpec{},
		MaxRounds: defaultMaxRounds,
	}
	c := node.Config
	if v, ok := c["model"].(string); ok {
		cfg.Model = v
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm node %q: model is required", node.Name)
	}
	if v, ok := c["system"].(string); ok {
		cfg.System = v
	}
	if v, ok := c["system_append"].(string); ok {
		cfg.SystemAppend = v
	}
	if v, ok := c["temperature"].(float64); ok {
		f := float32(v)
		cfg.Temperature = &f
	}
	if v, ok := c["max_tokens"].(float64); ok {
		cfg.MaxTokens = int(v)
	}
	if v, ok := c["max_rounds"].(float64); ok && v > 0 {
		cfg.MaxRounds = int(v)
	}
	if v, ok := c["reasoning_effort"].(string); ok {
		cfg.ReasoningEffort = v
	}
	cfg.OutcomeStrategy = node.OutcomeStrategy
	if cfg.OutcomeStrategy == "" {
		cfg.OutcomeStrategy = graphmodel.OutcomeStrategyTag
	}
	if raw, ok := c["tools"].(map[string]any); ok {
		for name, v := range raw {
			spec := state.ToolSpec{Name: name, Config: map[string]any{}}
			if m, ok := v.(map[string]any); ok {
				if e, ok := m["enabled"].(bool); ok {
					spec.Enabled = e
				} else {
					spec.Enabled = true
				}
				if a, ok := m["auto_approve"].(bool); ok {
					spec.AutoApprove = a
				}
				if rules, ok := m["auto_approve_rules"].([]any); ok {
					for _, r := range rules {
						if s, ok := r.(string); ok {
							spec.AutoApproveRules = append(spec.AutoApproveRules, s)
						}
					}
				}
				if cfgMap, ok := m["config"].(map[string]any); ok {
					spec.Config = cfgMap
				}
			} else {
				spec.Enabled = true
			}
			cfg.Tools[name] = spec
		}
	}
	if extra, ok := c["extra"].(map[string]any); ok {
		cfg.Extra = extra
	}
	if raw, ok := c["preprocessors"].([]any); ok {
		specs, err := preprocess.DecodeSpecs(raw)
		if err != nil {
			return nil, fmt.Errorf("llm node %q: %w", node.Name, err)
		}
		cfg.Preprocessors = specs
	}
	return cfg, nil
}

type llmExecutor struct {
	node    *graphmodel.Node
	cfg     *Config
	project *runtime.Project
}

// New constructs the llm executor for the given node.
func New(node *graphmodel.Node, project *runtime.Project) (executor.Executor, error) {
	cfg, err := DecodeConfig(node)
	if err != nil {
		return nil, err
	}
	return &llmExecutor{node: node, cfg: cfg, project: project}, nil
}

func (e *llmExecutor) Run(ctx context.Context, in executor.Input, replies <-chan executor.Reply) <-chan executor.Event {
	ch := make(chan executor.Event, 4)
	go e.run(ctx, in, ch)
	return ch
}

func (e *llmExecutor) run(ctx context.Context, in executor.Input, ch chan<- executor.Event) {
	defer close(ch)

	if e.project == nil || e.project.LLM == nil {
		e.fail(ctx, in, ch, "no LLM provider configured")
		return
	}

	names := outcomeNames(e.node)

	rounds := countToolRounds(in.Execution)
	if e.cfg.MaxRounds > 0 && rounds >= e.cfg.MaxRounds {
		e.fail(ctx, in, ch, fmt.Sprintf("exceeded max_rounds (%d)", e.cfg.MaxRounds))
		return
	}

	req, err := e.buildRequest(in)
	if err != nil {
		e.fail(ctx, in, ch, err.Error())
		return
	}

	partial := state.NewStep(in.Execution.ID, state.StepOutputMessage)
	partialMsg := state.NewMessage(state.RoleAssistant, "")
	partial.Message = &partialMsg
	partial.OutputMode = state.OutputMode(e.node.OutputMode)

	onDelta := func(delta string) {
		partialMsg.Text += delta
		partial.Message = &partialMsg
		stepCopy := partial
		msgCopy := partialMsg
		stepCopy.Message = &msgCopy
		select {
		case ch <- executor.Event{Step: &stepCopy}:
		case <-ctx.Done():
		}
	}

	resp, err := e.project.LLM.StreamComplete(ctx, req, onDelta)
	if err != nil {
		e.fail(ctx, in, ch, fmt.Sprintf("LLM call failed: %v", err))
		return
	}

	usage := &state.LLMUsageStats{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		CostDollars:      resp.CostDollars,
		InputTokenLimit:  resp.InputTokenLimit,
	}

	if chosen, ok := extractChosenOutcome(resp, e.cfg.OutcomeStrategy, names); ok && len(nonChoiceToolCalls(resp.ToolCalls)) == 0 {
		text := resp.Content
		if e.cfg.OutcomeStrategy == graphmodel.OutcomeStrategyTag {
			text = stripOutcomeLine(text)
		}
		final := state.NewStep(in.Execution.ID, state.StepOutputMessage)
		msg := state.NewMessage(state.RoleAssistant, text)
		final.Message = &msg
		final.IsComplete = true
		final.IsFinal = true
		final.OutcomeName = chosen
		final.LLMUsage = usage
		final.OutputMode = state.OutputMode(e.node.OutputMode)
		send(ctx, ch, final)
		return
	}

	realCalls := nonChoiceToolCalls(resp.ToolCalls)
	if len(realCalls) == 0 {
		// No outcome chosen and no tool calls: surface the raw text as the
		// final output; the outcome is set only when there's exactly one
		// outcome slot.
		outcome := ""
		if len(names) == 1 {
			outcome = names[0]
		}
		final := state.NewStep(in.Execution.ID, state.StepOutputMessage)
		msg := state.NewMessage(state.RoleAssistant, resp.Content)
		final.Message = &msg
		final.IsComplete = true
		final.IsFinal = true
		final.OutcomeName = outcome
		final.LLMUsage = usage
		final.OutputMode = state.OutputMode(e.node.OutputMode)
		send(ctx, ch, final)
		return
	}

	reqs := make([]state.ToolCallReq, 0, len(realCalls))
	for _, tc := range realCalls {
		args, argErr := llm.ParseToolArguments(tc.Arguments)
		if argErr != nil {
			log.Warning("llm node %s: tool call %q arguments failed to parse as JSON: %v", e.node.Name, tc.Name, argErr)
			args = map[string]any{}
		}
		spec := e.effectiveToolSpec(tc.Name)
		status := state.ToolCallReqRequiresConfirmation
		if e.node.Confirmation == graphmodel.ConfirmationAuto || spec.AutoApprove {
			status = state.ToolCallReqPendingExecution
		}
		reqs = append(reqs, state.ToolCallReq{
			ID:       tc.ID,
			Type:     "function",
			Name:     tc.Name,
			Args:     args,
			ToolSpec: &spec,
			Status:   status,
		})
	}

	step := state.NewStep(in.Execution.ID, state.StepToolRequest)
	msg := state.NewMessage(state.RoleAssistant, resp.Content)
	msg.ToolCallRequests = reqs
	step.Message = &msg
	step.IsComplete = true
	step.LLMUsage = usage
	step.OutputMode = state.OutputMode(e.node.OutputMode)
	send(ctx, ch, step)
}

func (e *llmExecutor) fail(ctx context.Context, in executor.Input, ch chan<- executor.Event, reason string) {
	step := state.NewStep(in.Execution.ID, state.StepOutputMessage)
	msg := state.NewMessage(state.RoleAssistant, reason)
	step.Message = &msg
	step.IsComplete = true
	step.IsFinal = true
	step.OutcomeName = "fail"
	send(ctx, ch, step)
}

func send(ctx context.Context, ch chan<- executor.Event, step state.Step) {
	select {
	case ch <- executor.Event{Step: &step}:
	case <-ctx.Done():
	}
}

func countToolRounds(ne *state.NodeExecution) int {
	n := 0
	for _, s := range ne.Steps {
		if s.Type == state.StepToolRequest {
			n++
		}
	}
	return n
}

func (e *llmExecutor) effectiveToolSpec(name string) state.ToolSpec {
	global := e.project.GlobalToolSpecs[name]
	return tool.MergeSpec(name, e.cfg.Tools[name], global)
}

func (e *llmExecutor) buildRequest(in executor.Input) (llm.Request, error) {
	var messages []llm.Message

	system := e.cfg.System
	if e.cfg.SystemAppend != "" {
		system = strings.TrimRight(system, "\n") + "\n" + e.cfg.SystemAppend
	}

	names := outcomeNames(e.node)
	bullets := outcomeDescBullets(e.node)
	switch e.cfg.OutcomeStrategy {
	case graphmodel.OutcomeStrategyTag:
		if len(names) > 0 {
			system = strings.TrimRight(system, "\n") + "\n\n" + buildTagSystemInstruction(names, bullets)
		}
	}

	origUserText := latestUserText(in.Run, in.Execution)
	userText := origUserText
	if len(e.cfg.Preprocessors) > 0 {
		var err error
		system, userText, err = preprocess.Apply(e.cfg.Preprocessors, e.project, system, userText)
		if err != nil {
			return llm.Request{}, fmt.Errorf("preprocessors: %w", err)
		}
	}

	if strings.TrimSpace(system) != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	if userText != "" && userText != origUserText {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userText})
	}

	for _, em := range state.IterExecutionMessages(in.Run, in.Execution) {
		messages = append(messages, toLLMMessage(em.Message))
	}

	var toolDefs []llm.ToolDefinition
	for name, nodeSpec := range e.cfg.Tools {
		eff := e.effectiveToolSpec(name)
		if !eff.Enabled {
			continue
		}
		t, ok := e.project.Tools.Get(name)
		if !ok {
			log.Warning("llm node %s: configured tool %q not found in registry", e.node.Name, name)
			continue
		}
		schema, err := t.OpenAPISpec(eff)
		if err != nil {
			return llm.Request{}, fmt.Errorf("tool %q openapi_spec: %w", name, err)
		}
		toolDefs = append(toolDefs, llm.ToolDefinition{
			Name:        name,
			Description: describeTool(nodeSpec, schema),
			Parameters:  schema,
		})
	}

	if e.cfg.OutcomeStrategy == graphmodel.OutcomeStrategyFunction && len(names) > 0 {
		choiceDesc := outcomeChoiceDesc(bullets)
		ct := buildChooseOutcomeTool(names, bullets, choiceDesc)
		schema, _ := ct.OpenAPISpec(state.ToolSpec{})
		toolDefs = append(toolDefs, llm.ToolDefinition{
			Name:        chooseOutcomeToolName,
			Description: choiceDesc,
			Parameters:  schema,
		})
	}

	return llm.Request{
		Model:           e.cfg.Model,
		Messages:        messages,
		Temperature:     e.cfg.Temperature,
		MaxTokens:       e.cfg.MaxTokens,
		ReasoningEffort: e.cfg.ReasoningEffort,
		Tools:           toolDefs,
		Extra:           e.cfg.Extra,
	}, nil
}

// latestUserText returns the most recent user-role message's text in the
// execution history, or "" if none — the target text a Mode: user
// preprocessor spec reads and transforms.
func latestUserText(run *state.WorkflowExecution, ne *state.NodeExecution) string {
	var latest string
	for _, em := range state.IterExecutionMessages(run, ne) {
		if em.Message.Role == state.RoleUser {
			latest = em.Message.Text
		}
	}
	return latest
}

func describeTool(_ state.ToolSpec, schema map[string]any) string {
	if d, ok := schema["description"].(string); ok {
		return d
	}
	return ""
}

func toLLMMessage(m state.Message) llm.Message {
	role := llm.RoleAssistant
	switch m.Role {
	case state.RoleUser:
		role = llm.RoleUser
	case state.RoleSystem, state.RoleDeveloper:
		role = llm.RoleSystem
	case state.RoleTool:
		role = llm.RoleTool
	case state.RoleAssistant:
		role = llm.RoleAssistant
	}

	out := llm.Message{Role: role, Content: m.Text}
	for _, tc := range m.ToolCallRequests {
		raw, _ := json.Marshal(tc.Args)
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: string(raw)})
	}
	if len(m.ToolCallResponses) > 0 {
		// Tool responses are represented as separate RoleTool messages by
		// the caller of IterExecutionMessages's underlying steps; when a
		// single assistant Message carries both requests and responses
		// (shouldn't normally happen) we fold the first response's result
		// into ToolCallID/Content for compatibility.
		resp := m.ToolCallResponses[0]
		out.ToolCallID = resp.ID
		if out.Role != llm.RoleTool {
			out.Role = llm.RoleTool
		}
		if b, err := json.Marshal(resp.Result); err == nil {
			out.Content = string(b)
		}
	}
	return out
}

func extractChosenOutcome(resp *llm.Response, strategy graphmodel.OutcomeStrategy, names []string) (string, bool) {
	if strategy == graphmodel.OutcomeStrategyFunction {
		for _, tc := range resp.ToolCalls {
			if tc.Name != chooseOutcomeToolName {
				continue
			}
			var args struct {
				Outcome string `json:"outcome"`
			}
			if err := json.Unmarshal([]byte(tc.Arguments), &args); err == nil {
				for _, n := range names {
					if n == args.Outcome {
						return n, true
					}
				}
			}
		}
		return "", false
	}
	if name := parseOutcomeFromText(resp.Content, names); name != "" {
		return name, true
	}
	return "", false
}

func nonChoiceToolCalls(calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, 0, len(calls))
	for _, tc := range calls {
		if tc.Name == chooseOutcomeToolName {
			continue
		}
		out = append(out, tc)
	}
	return out
}
