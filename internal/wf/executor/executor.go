// Package executor defines the per-node-type execution contract and a
// registry of constructors, generalizing vocode's runner/base.py
// BaseExecutor/ExecutorFactory (an async generator `run(input) -> Step`)
// into a channel-streamed equivalent: Go has no async generators, so each
// Executor runs in its own goroutine and streams state.Step updates over a
// channel until it closes, which is the same "yield updates, caller reacts"
// shape the runner drives.
package executor

import (
	"context"
	"fmt"

	"github.com/pocketomega/pocket-omega/internal/wf/graphmodel"
	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
)

// Input bundles what an executor needs for one run, mirroring
// runner/base.py's ExecutorInput.
type Input struct {
	Execution *state.NodeExecution
	Run       *state.WorkflowExecution
}

// Event is one message on an Executor's output channel: either a step
// update (possibly with IsComplete/IsFinal false, meaning "more to come")
// or a terminal error. The channel closes after the final step (IsFinal
// true) or after an Err is sent, whichever comes first.
type Event struct {
	Step *state.Step
	Err  error
}

// Reply is what the runner sends back on the replies channel after a
// caller (UI/manager) responds to a non-final step such as a prompt —
// the channel-based equivalent of the Python async generator's asend(input).
type Reply struct {
	Message *state.Message
}

// Executor runs one NodeExecution to completion, streaming Steps.
type Executor interface {
	// Run starts the executor. replies delivers external responses for
	// steps that need one (e.g. "input"'s prompt); executors that never
	// pause never read from it. The returned channel is closed by Run's
	// goroutine once the executor reaches a final step or an error. Run
	// must respect ctx cancellation by closing the channel promptly.
	Run(ctx context.Context, in Input, replies <-chan Reply) <-chan Event
}

// Constructor builds an Executor for one configured node.
type Constructor func(node *graphmodel.Node, project *runtime.Project) (Executor, error)

// Factory is the type-name-keyed executor registry, ported from
// ExecutorFactory in runner/base.py.
type Factory struct {
	ctors map[string]Constructor
}

// NewFactory creates an empty Factory.
func NewFactory() *Factory {
	return &Factory{ctors: make(map[string]Constructor)}
}

// Register installs the constructor for a node type (e.g. "llm", "exec").
func (f *Factory) Register(typeName string, ctor Constructor) {
	f.ctors[typeName] = ctor
}

// CreateForNode builds the Executor configured for node.Type.
func (f *Factory) CreateForNode(node *graphmodel.Node, project *runtime.Project) (Executor, error) {
	ctor, ok := f.ctors[node.Type]
	if !ok {
		return nil, fmt.Errorf("no executor registered for node type %q", node.Type)
	}
	return ctor(node, project)
}

// emit sends e on ch unless ctx is already done, in which case it drops the
// event (the runner is no longer listening).
func emit(ctx context.Context, ch chan<- Event, e Event) {
	select {
	case ch <- e:
	case <-ctx.Done():
	}
}
