// Package applypatch implements the "apply_patch" node type: feeds the
// last input message's text through the Patch Engine and emits one
// terminal step, grounded on vocode's
// runner/executors/apply_patch_node.py.
package applypatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/pocketomega/pocket-omega/internal/wf/executor"
	"github.com/pocketomega/pocket-omega/internal/wf/graphmodel"
	"github.com/pocketomega/pocket-omega/internal/wf/patch"
	_ "github.com/pocketomega/pocket-omega/internal/wf/patch/searchreplace" // registers "patch"
	_ "github.com/pocketomega/pocket-omega/internal/wf/patch/v4a"           // registers "v4a"
	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
)

// Config is the "apply_patch" node's Config-map payload.
type Config struct {
	Format string
}

func DecodeConfig(node *graphmodel.Node) (*Config, error) {
	cfg := &Config{Format: "v4a"}
	if v, ok := node.Config["format"].(string); ok && v != "" {
		cfg.Format = strings.ToLower(v)
	}
	if node.ResetPolicy != graphmodel.ResetPolicyReset {
		return nil, fmt.Errorf("apply_patch node %q: reset_policy must be 'reset'", node.Name)
	}
	return cfg, nil
}

type applyPatchExecutor struct {
	node    *graphmodel.Node
	cfg     *Config
	project *runtime.Project
}

// New constructs the apply_patch executor for the given node.
func New(node *graphmodel.Node, project *runtime.Project) (executor.Executor, error) {
	cfg, err := DecodeConfig(node)
	if err != nil {
		return nil, err
	}
	return &applyPatchExecutor{node: node, cfg: cfg, project: project}, nil
}

func terminalStep(executionID string, text string, outcome string) state.Step {
	step := state.NewStep(executionID, state.StepOutputMessage)
	msg := state.NewMessage(state.RoleAssistant, text)
	step.Message = &msg
	step.IsComplete = true
	step.IsFinal = true
	step.OutcomeName = outcome
	return step
}

func (e *applyPatchExecutor) Run(ctx context.Context, in executor.Input, _ <-chan executor.Reply) <-chan executor.Event {
	ch := make(chan executor.Event, 1)
	go e.run(ctx, in, ch)
	return ch
}

func (e *applyPatchExecutor) run(ctx context.Context, in executor.Input, ch chan<- executor.Event) {
	defer close(ch)

	supported := map[string]bool{}
	for _, name := range patch.SupportedFormats() {
		supported[name] = true
	}
	if !supported[e.cfg.Format] {
		step := terminalStep(in.Execution.ID,
			fmt.Sprintf("Unsupported patch format: %s. Supported formats: %s", e.cfg.Format, strings.Join(patch.SupportedFormats(), ", ")),
			"fail")
		send(ctx, ch, step)
		return
	}

	var sourceText string
	if n := len(in.Execution.InputMessages); n > 0 {
		sourceText = in.Execution.InputMessages[n-1].Text
	}
	if strings.TrimSpace(sourceText) == "" {
		step := terminalStep(in.Execution.ID, "No patch was provided. The patch application has failed.", "fail")
		send(ctx, ch, step)
		return
	}

	if e.project.BasePath == "" {
		step := terminalStep(in.Execution.ID, "apply_patch requires a configured project base path", "fail")
		send(ctx, ch, step)
		return
	}

	summary, outcomeName, changes, _, _ := patch.ApplyPatch(e.cfg.Format, sourceText, e.project.BasePath)

	if e.project.Refresh != nil && len(changes) > 0 {
		var changed []runtime.FileChange
		for rel, kind := range changes {
			changed = append(changed, runtime.FileChange{Type: runtime.FileChangeType(kind), RelativeFilename: rel})
		}
		go e.project.Refresh(context.Background(), changed)
	}

	step := terminalStep(in.Execution.ID, summary, outcomeName)
	send(ctx, ch, step)
}

func send(ctx context.Context, ch chan<- executor.Event, step state.Step) {
	select {
	case ch <- executor.Event{Step: &step}:
	case <-ctx.Done():
	}
}
