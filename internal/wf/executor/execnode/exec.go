// Package execnode implements the "exec" node type: runs one shell
// command through the project's proc.ShellManager and streams its output
// as it accumulates, grounded on vocode's runner/executors/exec_node.py.
package execnode

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pocketomega/pocket-omega/internal/wf/executor"
	"github.com/pocketomega/pocket-omega/internal/wf/graphmodel"
	"github.com/pocketomega/pocket-omega/internal/wf/proc"
	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
)

const defaultMaxOutputChars = 200_000

// Config is the "exec" node's Config-map payload.
type Config struct {
	Command             string
	TimeoutSeconds      float64
	ExpectedReturnCode  *int
	Message             string
}

// DecodeConfig reads an exec Config out of a graphmodel.Node's generic
// Config map, validating the outcome/expected_return_code pairing the same
// way ExecNode's model_validator does.
func DecodeConfig(node *graphmodel.Node) (*Config, error) {
	cfg := &Config{}
	if v, ok := node.Config["command"].(string); ok {
		cfg.Command = v
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("exec node %q: command is required", node.Name)
	}
	if v, ok := node.Config["timeout_s"].(float64); ok {
		cfg.TimeoutSeconds = v
	}
	if v, ok := node.Config["message"].(string); ok {
		cfg.Message = v
	}
	if raw, ok := node.Config["expected_return_code"]; ok && raw != nil {
		if v, ok := raw.(float64); ok {
			code := int(v)
			cfg.ExpectedReturnCode = &code
		}
	}

	if cfg.ExpectedReturnCode == nil {
		if len(node.Outcomes) > 1 {
			return nil, fmt.Errorf("exec node %q: when expected_return_code is not provided, at most one outcome is allowed", node.Name)
		}
	} else {
		names := map[string]bool{}
		for _, o := range node.Outcomes {
			names[o.Name] = true
		}
		if len(names) != 2 || !names["success"] || !names["fail"] {
			return nil, fmt.Errorf("exec node %q: when expected_return_code is provided, outcomes must be exactly {success, fail}", node.Name)
		}
	}
	return cfg, nil
}

func maxOutputChars(project *runtime.Project) int {
	// Project-level override lives under GlobalToolSpecs["exec"].Config in
	// this port (the original keeps a dedicated tool_settings.exec_tool
	// section; we fold it into the same tool config surface since exec's
	// node executor and the exec tool share one output cap).
	if spec, ok := project.GlobalToolSpecs["exec"]; ok {
		if v, ok := spec.Config["max_output_chars"].(float64); ok && v > 0 {
			return int(v)
		}
	}
	return defaultMaxOutputChars
}

type execExecutor struct {
	node    *graphmodel.Node
	cfg     *Config
	project *runtime.Project
}

// New constructs the exec executor for the given node.
func New(node *graphmodel.Node, project *runtime.Project) (executor.Executor, error) {
	cfg, err := DecodeConfig(node)
	if err != nil {
		return nil, err
	}
	return &execExecutor{node: node, cfg: cfg, project: project}, nil
}

func (e *execExecutor) Run(ctx context.Context, in executor.Input, _ <-chan executor.Reply) <-chan executor.Event {
	ch := make(chan executor.Event, 4)
	go e.run(ctx, in, ch)
	return ch
}

func (e *execExecutor) run(ctx context.Context, in executor.Input, ch chan<- executor.Event) {
	defer close(ch)

	if e.project.Shells == nil {
		ch <- executor.Event{Err: fmt.Errorf("exec node %q: project has no shell manager configured", e.node.Name)}
		return
	}

	var headerParts []string
	if e.cfg.Message != "" {
		headerParts = append(headerParts, e.cfg.Message)
	}
	headerParts = append(headerParts, "> "+e.cfg.Command)
	header := strings.Join(headerParts, "\n") + "\n"

	var timeout time.Duration
	if e.cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(e.cfg.TimeoutSeconds * float64(time.Second))
	}

	lines, results := e.project.Shells.Run(ctx, e.cfg.Command, timeout, maxOutputChars(e.project))

	step := state.NewStep(in.Execution.ID, state.StepOutputMessage)
	msg := state.NewMessage(state.RoleAssistant, header)
	step.Message = &msg

	emitCopy := func() {
		s := step
		m := *step.Message
		s.Message = &m
		select {
		case ch <- executor.Event{Step: &s}:
		case <-ctx.Done():
		}
	}
	emitCopy()

	output := header
	var result proc.CommandResult
	linesOpen, resultsOpen := true, true
	for linesOpen || resultsOpen {
		select {
		case line, ok := <-lines:
			if !ok {
				linesOpen = false
				continue
			}
			if len(output) < maxOutputChars(e.project) {
				output += line + "\n"
				step.Message.Text = output
				emitCopy()
			}
		case res, ok := <-results:
			if !ok {
				resultsOpen = false
				continue
			}
			result = res
		case <-ctx.Done():
			return
		}
	}

	step.Message.Text = strings.TrimRight(output, "\n")
	step.IsComplete = true
	step.IsFinal = true

	switch {
	case e.cfg.ExpectedReturnCode != nil:
		if !result.TimedOut && result.ExitCode != nil && *result.ExitCode == *e.cfg.ExpectedReturnCode {
			step.OutcomeName = "success"
		} else {
			step.OutcomeName = "fail"
		}
	case len(e.node.Outcomes) == 1:
		step.OutcomeName = e.node.Outcomes[0].Name
	}

	select {
	case ch <- executor.Event{Step: &step}:
	case <-ctx.Done():
	}
}
