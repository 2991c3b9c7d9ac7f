// Package runner drives one workflow graph to completion: pulls steps out
// of the current node's Executor, resolves tool-call confirmation and
// implicit single-outcome confirmation, projects a finished node's output
// into the next node's input per its ResultMode, and follows graph edges
// until a terminal (zero-outcome) node is reached or the caller stops it.
//
// runner/runner.py in the original is a stub; this package's control flow
// is reverse-engineered from tests/test_runner.py's assertions instead
// (see DESIGN.md for the specific behaviors this was derived from, and
// the scope simplifications taken around ambiguous multi-complete-step
// detection).
package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/pocketomega/pocket-omega/internal/wf/executor"
	"github.com/pocketomega/pocket-omega/internal/wf/graphmodel"
	"github.com/pocketomega/pocket-omega/internal/wf/logging"
	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
	"github.com/pocketomega/pocket-omega/internal/wf/tool"
)

var log = logging.New("runner")

// RunEventResponseType is the caller's reply kind to one RunEvent.
type RunEventResponseType string

const (
	RespNoop    RunEventResponseType = "noop"
	RespDecline RunEventResponseType = "decline"
	RespMessage RunEventResponseType = "message"
)

// RunEventResp is what the driving caller sends back for each RunEvent.
type RunEventResp struct {
	RespType RunEventResponseType
	Message  *state.Message
}

// RunEvent carries one step for the caller to observe and acknowledge.
type RunEvent struct {
	Step *state.Step
}

// Workflow is the minimal surface a Runner needs from a loaded workflow.
type Workflow interface {
	Name() string
	Graph() *graphmodel.Graph
}

// Runner drives a single Workflow's Graph to completion.
type Runner struct {
	workflow  Workflow
	project   *runtime.Project
	factory   *executor.Factory
	Execution *state.WorkflowExecution

	initialMessage *state.Message

	status        state.RunnerStatus
	stopRequested bool
}

// New constructs a fresh Runner for workflow, optionally seeded with an
// initial user message for the entry node.
func New(workflow Workflow, project *runtime.Project, factory *executor.Factory, initialMessage *state.Message) *Runner {
	return &Runner{
		workflow:       workflow,
		project:        project,
		factory:        factory,
		Execution:      state.NewWorkflowExecution(workflow.Name()),
		initialMessage: initialMessage,
		status:         state.RunnerIdle,
	}
}

func (r *Runner) Status() state.RunnerStatus { return r.status }

// Graph returns the workflow graph this runner drives, for callers (the
// UI bridge) that need a step's owning node's display hints.
func (r *Runner) Graph() *graphmodel.Graph { return r.workflow.Graph() }

// Stop requests the run loop to halt at its next safe checkpoint (between
// steps or between nodes); the current NodeExecution is marked canceled.
func (r *Runner) Stop() { r.stopRequested = true }

var errStopped = fmt.Errorf("runner stopped")

// Run starts (or resumes) the drive loop in a goroutine and returns the
// event stream plus the channel the caller uses to reply to each event.
func (r *Runner) Run(ctx context.Context) (<-chan RunEvent, chan<- RunEventResp) {
	events := make(chan RunEvent)
	replies := make(chan RunEventResp)
	r.stopRequested = false
	r.status = state.RunnerRunning
	go r.loop(ctx, events, replies)
	return events, replies
}

func (r *Runner) loop(ctx context.Context, events chan<- RunEvent, replies <-chan RunEventResp) {
	defer close(events)

	graph := r.workflow.Graph()
	byName := graph.NodeByName()

	node, ne, skip, err := r.resumePoint(byName, graph)
	if err != nil {
		log.Error("resume failed: %v", err)
		r.status = state.RunnerStopped
		return
	}
	if node == nil {
		r.status = state.RunnerFinished
		return
	}

	for {
		if r.stopRequested {
			ne.Status = state.RunStatusCanceled
			r.status = state.RunnerStopped
			return
		}

		outcome, err := r.runNode(ctx, events, replies, node, ne, skip)
		skip = false
		if err == errStopped {
			ne.Status = state.RunStatusCanceled
			r.status = state.RunnerStopped
			return
		}
		if err != nil {
			log.Error("node %q failed: %v", node.Name, err)
			ne.Status = state.RunStatusCanceled
			r.status = state.RunnerStopped
			return
		}
		ne.Status = state.RunStatusFinished

		if outcome == "" {
			r.status = state.RunnerFinished
			return
		}

		edge, ok := graph.EdgeFor(node.Name, outcome)
		if !ok {
			log.Error("node %q: no edge for outcome %q", node.Name, outcome)
			r.status = state.RunnerFinished
			return
		}

		nextNode, ok := byName[edge.TargetNode]
		if !ok {
			r.status = state.RunnerFinished
			return
		}

		nextInputs := projectOutput(node, ne)
		resetPolicy := nextNode.ResetPolicy
		if edge.ResetPolicy != nil {
			resetPolicy = *edge.ResetPolicy
		}

		var previous *state.NodeExecution
		if resetPolicy == graphmodel.ResetPolicyKeep {
			previous = r.latestExecutionFor(nextNode.Name)
		}

		nextNE := state.NewNodeExecution(nextNode.Name, previous)
		nextNE.InputMessages = nextInputs
		r.Execution.AddNodeExecution(nextNE)

		node, ne = nextNode, nextNE
	}
}

// resumePoint inspects the Execution for an in-progress NodeExecution
// (the Runner was constructed against a WorkflowExecution carrying prior
// state) and decides whether to skip re-running its Executor, rerun it,
// or start fresh at the graph's entry node.
func (r *Runner) resumePoint(byName map[string]*graphmodel.Node, graph *graphmodel.Graph) (*graphmodel.Node, *state.NodeExecution, bool, error) {
	for _, ne := range r.Execution.NodeExecutions {
		if ne.Status != state.RunStatusRunning {
			continue
		}
		node, ok := byName[ne.Node]
		if !ok {
			return nil, nil, false, fmt.Errorf("resume: unknown node %q", ne.Node)
		}
		last := ne.LastStep()
		if last == nil {
			return node, ne, false, nil
		}
		switch last.Type {
		case state.StepOutputMessage:
			r.trimAfterLastOutput(ne)
			return node, ne, true, nil
		case state.StepInputMessage, state.StepToolResult, state.StepWorkflowResult:
			return node, ne, false, nil
		default:
			return node, ne, false, nil
		}
	}

	entry := graph.EntryNode()
	if entry == nil {
		return nil, nil, false, nil
	}
	ne := state.NewNodeExecution(entry.Name, nil)
	if r.initialMessage != nil {
		ne.InputMessages = []state.Message{*r.initialMessage}
	}
	r.Execution.AddNodeExecution(ne)
	return entry, ne, false, nil
}

func (r *Runner) trimAfterLastOutput(ne *state.NodeExecution) {
	lastOutIdx := -1
	for i, s := range ne.Steps {
		if s.Type == state.StepOutputMessage && s.IsComplete {
			lastOutIdx = i
		}
	}
	if lastOutIdx == -1 {
		return
	}
	var toRemove []string
	for i := lastOutIdx + 1; i < len(ne.Steps); i++ {
		toRemove = append(toRemove, ne.Steps[i].ID)
	}
	r.Execution.DeleteSteps(toRemove)
}

func (r *Runner) latestExecutionFor(nodeName string) *state.NodeExecution {
	var latest *state.NodeExecution
	for _, ne := range r.Execution.NodeExecutions {
		if ne.Node != nodeName {
			continue
		}
		if latest == nil || ne.CreatedAt.After(latest.CreatedAt) {
			latest = ne
		}
	}
	return latest
}

// runNode drives node's Executor (or, if skipExecutor, reuses the
// already-settled last output step) through to a resolved outcome name
// ("" for a terminal/zero-outcome node), handling tool-call dispatch and
// implicit single-outcome manual confirmation along the way.
func (r *Runner) runNode(ctx context.Context, events chan<- RunEvent, replies <-chan RunEventResp, node *graphmodel.Node, ne *state.NodeExecution, skipExecutor bool) (string, error) {
	if skipExecutor {
		last := ne.LastFinalStep()
		if last == nil {
			last = lastCompleteOutput(ne)
		}
		if last == nil {
			return "", fmt.Errorf("node %q: resumed with no settled output step", node.Name)
		}
		return r.resolveOutcome(ctx, events, replies, node, ne, last.OutcomeName)
	}

	for {
		final, err := r.driveExecutorOnce(ctx, events, replies, node, ne)
		if err != nil {
			return "", err
		}

		if final.Type == state.StepToolRequest || (final.Message != nil && len(final.Message.ToolCallRequests) > 0) {
			rerun, err := r.handleToolCalls(ctx, events, replies, node, ne, final)
			if err != nil {
				return "", err
			}
			if rerun {
				continue
			}
			return "", nil
		}

		return r.resolveOutcome(ctx, events, replies, node, ne, final.OutcomeName)
	}
}

// driveExecutorOnce runs node's Executor to completion for one round,
// forwarding every step as a RunEvent and piping replies back into the
// executor's own Reply channel (buffered so executors that never read it,
// i.e. most of them, are unaffected).
func (r *Runner) driveExecutorOnce(ctx context.Context, events chan<- RunEvent, replies <-chan RunEventResp, node *graphmodel.Node, ne *state.NodeExecution) (state.Step, error) {
	ex, err := r.factory.CreateForNode(node, r.project)
	if err != nil {
		return state.Step{}, err
	}

	execReplies := make(chan executor.Reply, 8)
	evCh := ex.Run(ctx, executor.Input{Execution: ne, Run: r.Execution}, execReplies)

	var last *state.Step
	completeCount := 0

	for ev := range evCh {
		if ev.Err != nil {
			return state.Step{}, ev.Err
		}
		step := *ev.Step
		r.Execution.AppendStep(ne, step)
		last = &step
		if step.IsComplete {
			completeCount++
		}

		resp, stop := emitAndWait(ctx, events, replies, step)
		if stop {
			return state.Step{}, errStopped
		}

		select {
		case execReplies <- executor.Reply{Message: resp.Message}:
		case <-ctx.Done():
			return state.Step{}, ctx.Err()
		default:
		}
	}

	if last == nil {
		return state.Step{}, fmt.Errorf("node %q: executor produced no steps", node.Name)
	}
	if !last.IsComplete {
		return state.Step{}, fmt.Errorf("node %q: executor run ended without a complete step", node.Name)
	}
	if completeCount > 1 && !last.IsFinal && last.Type != state.StepToolRequest {
		return state.Step{}, fmt.Errorf("node %q: executor produced multiple complete steps with no final step", node.Name)
	}
	return *last, nil
}

// handleToolCalls resolves confirmation for a batch of requested tool
// calls (auto-approving per node.Confirmation / the tool's effective
// spec, otherwise emitting a tool_request step and awaiting a reply),
// executes approved calls through the project's tool registry, and
// records a tool_result step. Returns rerun=true when the node's Executor
// should be invoked again to consume the result.
func (r *Runner) handleToolCalls(ctx context.Context, events chan<- RunEvent, replies <-chan RunEventResp, node *graphmodel.Node, ne *state.NodeExecution, step state.Step) (bool, error) {
	if step.Message == nil || len(step.Message.ToolCallRequests) == 0 {
		return false, nil
	}

	needsConfirm := false
	for _, req := range step.Message.ToolCallRequests {
		if req.Status == state.ToolCallReqRequiresConfirmation {
			needsConfirm = true
		}
	}

	if needsConfirm {
		reqStep := state.NewStep(ne.ID, state.StepToolRequest)
		msg := *step.Message
		reqStep.Message = &msg
		reqStep.IsComplete = true
		r.Execution.AppendStep(ne, reqStep)

		resp, stop := emitAndWait(ctx, events, replies, reqStep)
		if stop {
			return false, errStopped
		}

		if resp.RespType == RespDecline {
			rej := state.NewStep(ne.ID, state.StepRejection)
			text := "Tool call(s) declined by user."
			if resp.Message != nil && strings.TrimSpace(resp.Message.Text) != "" {
				text = resp.Message.Text
			}
			rejMsg := state.NewMessage(state.RoleUser, text)
			rej.Message = &rejMsg
			rej.IsComplete = true
			r.Execution.AppendStep(ne, rej)
			for i := range step.Message.ToolCallRequests {
				step.Message.ToolCallRequests[i].Status = state.ToolCallReqRejected
			}
			return true, nil
		}
	}

	// pending batches ordinary tool_result responses; a run_agent call
	// flushes it first (so ordering on the wire matches request order) and
	// gets its own workflow_result step instead of folding into the batch —
	// spec.md §4.3/§8 Scenario 6 require a distinct workflow_result step,
	// not a tool_result carrying a start_workflow payload.
	var pending []state.ToolCallResp
	flush := func() {
		if len(pending) == 0 {
			return
		}
		resultStep := state.NewStep(ne.ID, state.StepToolResult)
		resultMsg := state.Message{Role: state.RoleTool, ToolCallResponses: pending}
		resultStep.Message = &resultMsg
		resultStep.IsComplete = true
		r.Execution.AppendStep(ne, resultStep)
		pending = nil
	}

	for _, req := range step.Message.ToolCallRequests {
		t, ok := r.project.Tools.Get(req.Name)
		if !ok {
			pending = append(pending, state.ToolCallResp{ID: req.ID, Name: req.Name, Status: state.ToolCallRespFailed, Result: map[string]any{"error": "unknown tool: " + req.Name}})
			continue
		}
		spec := state.ToolSpec{Name: req.Name, Enabled: true}
		if req.ToolSpec != nil {
			spec = *req.ToolSpec
		}
		if schema, specErr := t.OpenAPISpec(spec); specErr == nil {
			if verr := tool.ValidateArgs(schema, req.Args); verr != nil {
				pending = append(pending, state.ToolCallResp{ID: req.ID, Name: req.Name, Status: state.ToolCallRespFailed, Result: map[string]any{"error": verr.Error()}})
				continue
			}
		}
		toolResp, runErr := t.Run(ctx, tool.Req{Execution: r.Execution, Spec: spec}, req.Args)
		if runErr != nil {
			pending = append(pending, state.ToolCallResp{ID: req.ID, Name: req.Name, Status: state.ToolCallRespFailed, Result: map[string]any{"error": runErr.Error()}})
			continue
		}
		if toolResp != nil && toolResp.Type == tool.ResponseStartWorkflow {
			flush()
			if wfErr := r.appendWorkflowResult(ctx, ne, req, toolResp); wfErr != nil {
				pending = append(pending, state.ToolCallResp{ID: req.ID, Name: req.Name, Status: state.ToolCallRespFailed, Result: map[string]any{"error": wfErr.Error()}})
			}
			continue
		}
		pending = append(pending, state.ToolCallResp{ID: req.ID, Name: req.Name, Status: state.ToolCallRespCompleted, Result: toolResultPayload(toolResp)})
	}
	flush()

	return true, nil
}

// appendWorkflowResult blocks on the project's RunAgent hook until the
// nested workflow toolResp.Workflow runs to completion, then appends a
// workflow_result step carrying {agent_name, response}, keyed to req.ID so
// the LLM sees it as that run_agent call's answer — spec.md §4.3/§8
// Scenario 6: "parent receives a workflow_result step whose result payload
// contains {agent_name: child, response: <child final text>}".
func (r *Runner) appendWorkflowResult(ctx context.Context, ne *state.NodeExecution, req state.ToolCallReq, toolResp *tool.Response) error {
	if r.project.RunAgent == nil {
		return fmt.Errorf("run_agent: nested workflows are not supported by this runner")
	}

	var initial *state.Message
	if toolResp.InitialText != "" {
		msg := state.NewMessage(state.RoleUser, toolResp.InitialText)
		initial = &msg
	}

	final, err := r.project.RunAgent(ctx, toolResp.Workflow, initial)
	if err != nil {
		return err
	}
	responseText := ""
	if final != nil {
		responseText = final.Text
	}

	wfStep := state.NewStep(ne.ID, state.StepWorkflowResult)
	wfMsg := state.Message{
		Role: state.RoleTool,
		ToolCallResponses: []state.ToolCallResp{{
			ID:     req.ID,
			Name:   req.Name,
			Status: state.ToolCallRespCompleted,
			Result: map[string]any{"agent_name": toolResp.Workflow, "response": responseText},
		}},
	}
	wfStep.Message = &wfMsg
	wfStep.IsComplete = true
	r.Execution.AppendStep(ne, wfStep)
	return nil
}

// toolResultPayload builds the plain tool_result map for an ordinary text
// response. ResponseStartWorkflow never reaches here: handleToolCalls
// intercepts it and routes to appendWorkflowResult instead.
func toolResultPayload(resp *tool.Response) any {
	if resp == nil {
		return nil
	}
	return map[string]any{"text": resp.Text}
}

// resolveOutcome decides the node's effective outcome name: an
// explicit one from the step wins outright; otherwise, with exactly one
// declared outcome slot, manual confirmation nodes must prompt before
// accepting it implicitly (a decline re-runs the executor with any
// feedback message folded in as a new input_message).
func (r *Runner) resolveOutcome(ctx context.Context, events chan<- RunEvent, replies <-chan RunEventResp, node *graphmodel.Node, ne *state.NodeExecution, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if len(node.Outcomes) == 0 {
		return "", nil
	}
	if len(node.Outcomes) > 1 {
		return "", fmt.Errorf("node %q: ambiguous outcome (multiple slots, none chosen)", node.Name)
	}
	sole := node.Outcomes[0].Name

	if node.Confirmation != graphmodel.ConfirmationManual {
		return sole, nil
	}

	for {
		confirm := state.NewStep(ne.ID, state.StepPromptConfirm)
		confirm.IsComplete = true
		r.Execution.AppendStep(ne, confirm)

		resp, stop := emitAndWait(ctx, events, replies, confirm)
		if stop {
			return "", errStopped
		}

		feedback := ""
		if resp.Message != nil {
			feedback = strings.TrimSpace(resp.Message.Text)
		}

		accept := resp.RespType == RespNoop || (resp.RespType == RespMessage && feedback == "")
		if accept {
			return sole, nil
		}

		if feedback != "" {
			inStep := state.NewStep(ne.ID, state.StepInputMessage)
			msg := state.NewMessage(state.RoleUser, feedback)
			inStep.Message = &msg
			inStep.IsComplete = true
			r.Execution.AppendStep(ne, inStep)
			ne.InputMessages = append(ne.InputMessages, msg)
		}

		final, err := r.driveExecutorOnce(ctx, events, replies, node, ne)
		if err != nil {
			return "", err
		}
		if final.OutcomeName != "" {
			return final.OutcomeName, nil
		}
		// loop again: re-prompt for confirmation on the new final step
	}
}

func emitAndWait(ctx context.Context, events chan<- RunEvent, replies <-chan RunEventResp, step state.Step) (RunEventResp, bool) {
	select {
	case events <- RunEvent{Step: &step}:
	case <-ctx.Done():
		return RunEventResp{}, true
	}
	select {
	case resp := <-replies:
		return resp, false
	case <-ctx.Done():
		return RunEventResp{}, true
	}
}

func lastCompleteOutput(ne *state.NodeExecution) *state.Step {
	for i := len(ne.Steps) - 1; i >= 0; i-- {
		if ne.Steps[i].Type == state.StepOutputMessage && ne.Steps[i].IsComplete {
			return &ne.Steps[i]
		}
	}
	return nil
}

// projectOutput builds the next node's InputMessages according to the
// finishing node's MessageMode (spec.md §3's result-mode projection).
func projectOutput(node *graphmodel.Node, ne *state.NodeExecution) []state.Message {
	finalStep := ne.LastFinalStep()
	if finalStep == nil {
		finalStep = lastCompleteOutput(ne)
	}

	switch node.MessageMode {
	case graphmodel.ResultAllMessages:
		out := append([]state.Message{}, ne.InputMessages...)
		for _, s := range ne.Steps {
			if s.Type == state.StepOutputMessage && s.IsComplete && s.Message != nil {
				out = append(out, *s.Message)
			}
		}
		return out
	case graphmodel.ResultConcatenateFinal:
		var parts []string
		for _, m := range ne.InputMessages {
			parts = append(parts, m.Text)
		}
		role := state.RoleUser
		if finalStep != nil && finalStep.Message != nil {
			parts = append(parts, finalStep.Message.Text)
			role = finalStep.Message.Role
		}
		combined := state.NewMessage(role, strings.Join(parts, "\n\n"))
		return []state.Message{combined}
	default: // ResultFinalResponse
		if finalStep != nil && finalStep.Message != nil {
			return []state.Message{*finalStep.Message}
		}
		return nil
	}
}
