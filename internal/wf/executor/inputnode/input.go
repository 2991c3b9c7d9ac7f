// Package inputnode implements the "input" node type: emits a prompt step
// requesting the user speak, then waits for the runner to deliver the
// user's reply over the replies channel and echoes it back as the node's
// completed output — grounded on vocode's runner/executors/input.py (a
// thin InputNode referenced by tests/test_runner.py's
// test_input_node_prompts_and_returns_user_message_as_output).
package inputnode

import (
	"context"
	"fmt"

	"github.com/pocketomega/pocket-omega/internal/wf/executor"
	"github.com/pocketomega/pocket-omega/internal/wf/graphmodel"
	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
)

// Config is the "input" node's Config-map payload.
type Config struct {
	Message string
}

func DecodeConfig(node *graphmodel.Node) *Config {
	cfg := &Config{}
	if v, ok := node.Config["message"].(string); ok {
		cfg.Message = v
	}
	return cfg
}

type inputExecutor struct {
	node *graphmodel.Node
	cfg  *Config
}

// New constructs the input executor for the given node.
func New(node *graphmodel.Node, _ *runtime.Project) (executor.Executor, error) {
	return &inputExecutor{node: node, cfg: DecodeConfig(node)}, nil
}

func (e *inputExecutor) Run(ctx context.Context, in executor.Input, replies <-chan executor.Reply) <-chan executor.Event {
	ch := make(chan executor.Event, 2)
	go e.run(ctx, in, replies, ch)
	return ch
}

func (e *inputExecutor) run(ctx context.Context, in executor.Input, replies <-chan executor.Reply, ch chan<- executor.Event) {
	defer close(ch)

	promptText := e.cfg.Message
	if promptText == "" {
		promptText = "Waiting for input..."
	}
	promptStep := state.NewStep(in.Execution.ID, state.StepPrompt)
	promptMsg := state.NewMessage(state.RoleAssistant, promptText)
	promptStep.Message = &promptMsg
	promptStep.IsComplete = true

	select {
	case ch <- executor.Event{Step: &promptStep}:
	case <-ctx.Done():
		return
	}

	var reply executor.Reply
	select {
	case r, ok := <-replies:
		if !ok {
			ch <- executor.Event{Err: fmt.Errorf("input node %q: replies channel closed before a reply arrived", e.node.Name)}
			return
		}
		reply = r
	case <-ctx.Done():
		return
	}
	if reply.Message == nil {
		ch <- executor.Event{Err: fmt.Errorf("input node %q: reply carried no message", e.node.Name)}
		return
	}

	inputStep := state.NewStep(in.Execution.ID, state.StepInputMessage)
	inputMsg := *reply.Message
	inputStep.Message = &inputMsg
	inputStep.IsComplete = true
	select {
	case ch <- executor.Event{Step: &inputStep}:
	case <-ctx.Done():
		return
	}

	outputStep := state.NewStep(in.Execution.ID, state.StepOutputMessage)
	outputMsg := *reply.Message
	outputStep.Message = &outputMsg
	outputStep.IsComplete = true
	outputStep.IsFinal = true
	if len(e.node.Outcomes) == 1 {
		outputStep.OutcomeName = e.node.Outcomes[0].Name
	}

	select {
	case ch <- executor.Event{Step: &outputStep}:
	case <-ctx.Done():
	}
}
