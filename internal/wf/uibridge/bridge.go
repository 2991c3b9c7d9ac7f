package uibridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/pocketomega/pocket-omega/internal/wf/graphmodel"
	"github.com/pocketomega/pocket-omega/internal/wf/manager"
	"github.com/pocketomega/pocket-omega/internal/wf/manager/autocomplete"
	"github.com/pocketomega/pocket-omega/internal/wf/manager/commands"
	"github.com/pocketomega/pocket-omega/internal/wf/runner"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
)

// Bridge drives one Endpoint's worth of UI traffic for a manager.Manager:
// it installs itself as the manager's run-event handler (translating
// steps into RunnerReqPacket/InputPromptPacket and resolving prompts back
// into RunEventResp) and answers incoming UI packets (chat input, slash
// commands, autocomplete, stop, log paging). Grounded on original
// manager/server.py's UIServer.
type Bridge struct {
	mgr       *manager.Manager
	cmds      *commands.Registry
	completer *autocomplete.Completer
	logs      *LogStore

	endpoint Endpoint
	rpc      *RPC
	router   *Router

	mu           sync.Mutex
	pushMsgID    int
	started      bool
	inputWaiters []chan *state.Message
	cancelRecv   context.CancelFunc
}

// New builds a Bridge over endpoint for mgr, with its own command
// registry and autocomplete completer; there is no way to pass in shared
// ones.
func New(mgr *manager.Manager, endpoint Endpoint, logs *LogStore) *Bridge {
	b := &Bridge{
		mgr:       mgr,
		cmds:      commands.NewRegistry(),
		completer: autocomplete.NewCompleter(),
		logs:      logs,
		endpoint:  endpoint,
	}
	b.rpc = NewRPC(b.sendEnvelope, "uibridge")
	b.router = NewRouter(b.rpc, "uibridge")
	b.router.Register(KindUserInput, b.onUserInput)
	b.router.Register(KindAutocompleteReq, b.onAutocompleteReq)
	b.router.Register(KindStopReq, b.onStopReq)
	b.router.Register(KindLogReq, b.onLogReq)
	return b
}

// Manager satisfies commands.Host.
func (b *Bridge) Manager() *manager.Manager { return b.mgr }

// SendText satisfies commands.Host by pushing a plain text_message
// packet.
func (b *Bridge) SendText(text string) error {
	return b.sendPacket(TextMessagePacket{Text: text, Format: TextFormatPlain})
}

func (b *Bridge) sendEnvelope(ctx context.Context, env Envelope) error {
	return b.endpoint.Send(ctx, env)
}

func (b *Bridge) sendPacket(payload Packet) error {
	b.mu.Lock()
	b.pushMsgID++
	id := b.pushMsgID
	b.mu.Unlock()
	return b.endpoint.Send(context.Background(), Envelope{MsgID: id, Payload: payload})
}

// Start installs this bridge as mgr's run-event handler and begins
// pumping incoming packets from the endpoint until ctx is canceled.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	recvCtx, cancel := context.WithCancel(ctx)
	b.cancelRecv = cancel
	b.started = true
	b.mu.Unlock()

	b.mgr.SetRunEventHandler(b.onRunnerEvent)
	go b.recvLoop(recvCtx)
}

// Stop cancels the receive loop and unblocks every pending input waiter
// and RPC call, matching UIServer.stop.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	cancel := b.cancelRecv
	waiters := b.inputWaiters
	b.inputWaiters = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, w := range waiters {
		close(w)
	}
	b.rpc.CancelAll()
}

func (b *Bridge) recvLoop(ctx context.Context) {
	for {
		env, err := b.endpoint.Recv(ctx)
		if err != nil {
			return
		}
		if _, err := b.router.Handle(ctx, env); err != nil {
			log.Error("uibridge: handling packet kind=%s: %v", env.Payload.PacketKind(), err)
		}
	}
}

func (b *Bridge) pushInputWaiter() chan *state.Message {
	ch := make(chan *state.Message, 1)
	b.mu.Lock()
	b.inputWaiters = append(b.inputWaiters, ch)
	b.mu.Unlock()
	return ch
}

// popInputWaiter pops the most recently pushed waiter (LIFO, matching
// _pop_input_waiter's list.pop()).
func (b *Bridge) popInputWaiter() chan *state.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.inputWaiters)
	if n == 0 {
		return nil
	}
	w := b.inputWaiters[n-1]
	b.inputWaiters = b.inputWaiters[:n-1]
	return w
}

// onUserInput handles an incoming chat line: slash commands are
// dispatched through b.cmds, otherwise it either resolves the most
// recently pushed input waiter or, if the current runner is stopped, edits its
// history in place, matching UIServer._on_user_input_packet.
func (b *Bridge) onUserInput(ctx context.Context, env Envelope) (Packet, error) {
	p, ok := env.Payload.(UserInputPacket)
	if !ok {
		return nil, nil
	}
	text := p.Text

	if len(text) > 1 && text[0] == '/' {
		handled, err := commands.Execute(ctx, b.cmds, b, text)
		if err != nil {
			return nil, err
		}
		if !handled {
			if err := b.SendText(fmt.Sprintf("Unknown command: %s", text)); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	if waiter := b.popInputWaiter(); waiter != nil {
		msg := state.NewMessage(state.RoleUser, text)
		waiter <- &msg
		close(waiter)
		return nil, b.sendPacket(InputPromptPacket{})
	}

	if r := b.mgr.CurrentRunner(); r != nil && r.Status() == state.RunnerStopped {
		edited, err := b.mgr.EditHistoryWithText(ctx, text)
		if err != nil {
			return nil, err
		}
		if !edited {
			return nil, b.SendText("Unable to edit history: no previous user input to replace.")
		}
	}
	return nil, nil
}

func (b *Bridge) onAutocompleteReq(ctx context.Context, env Envelope) (Packet, error) {
	p, ok := env.Payload.(AutocompleteReqPacket)
	if !ok {
		return nil, nil
	}
	items, err := b.completer.Complete(ctx, b.cmds, b.mgr, p.Text, p.Row, p.Col)
	if err != nil {
		return nil, err
	}
	return AutocompleteRespPacket{Items: items}, nil
}

func (b *Bridge) onStopReq(ctx context.Context, env Envelope) (Packet, error) {
	b.mgr.StopCurrentRunner()
	return nil, nil
}

func (b *Bridge) onLogReq(ctx context.Context, env Envelope) (Packet, error) {
	p, ok := env.Payload.(LogReqPacket)
	if !ok {
		return nil, nil
	}
	if b.logs == nil {
		return LogRespPacket{Offset: p.Offset, Total: 0}, nil
	}
	entries, total := b.logs.Page(p.Offset, p.Limit)
	return LogRespPacket{Offset: p.Offset, Total: total, Entries: entries}, nil
}

// onRunnerEvent is installed as the manager's OnRunEventFunc: it pushes a
// RunnerReqPacket for the step, derives whether (and how) input is
// required, and — when it is — blocks for the UI's answer, translating it
// into the runner's reply type. Matches
// UIServer._handle_runner_step_event.
func (b *Bridge) onRunnerEvent(ctx context.Context, frame *manager.RunnerFrame, event runner.RunEvent) runner.RunEventResp {
	step := event.Step
	if step == nil {
		return runner.RunEventResp{RespType: runner.RespNoop}
	}

	var display *DisplayOpts
	node := nodeForStep(frame, step)
	if node != nil && (node.Collapse != nil || node.CollapseLines != nil || !node.Visible || node.ToolCollapse != nil) {
		display = &DisplayOpts{
			Collapse:      node.Collapse,
			CollapseLines: node.CollapseLines,
			Visible:       node.Visible,
			ToolCollapse:  node.ToolCollapse,
		}
	}

	needsConfirmation := false
	if step.Type == state.StepToolRequest && step.Message != nil {
		for _, req := range step.Message.ToolCallRequests {
			if req.Status == state.ToolCallReqRequiresConfirmation {
				needsConfirmation = true
				break
			}
		}
	}

	inputRequired := false
	inputTitle := ""
	inputSubtitle := ""
	switch {
	case step.Type == state.StepPrompt:
		inputRequired = true
		inputTitle = "Input"
	case step.Type == state.StepPromptConfirm:
		inputRequired = true
		inputTitle = "Press enter to confirm or provide a reply"
	case step.Type == state.StepToolRequest && needsConfirmation:
		inputRequired = true
		inputTitle = "Please confirm the tool call"
		inputSubtitle = "Empty line confirms, any text to reject with a message"
	}

	packet := RunnerReqPacket{
		WorkflowID:          frame.WorkflowName,
		WorkflowName:        frame.Runner.Execution.WorkflowName,
		WorkflowExecutionID: frame.Runner.Execution.ID,
		Step:                step,
		InputRequired:       inputRequired,
		Display:             display,
	}
	if err := b.sendPacket(packet); err != nil {
		log.Error("uibridge: send runner_req: %v", err)
	}
	b.broadcastState()

	if !inputRequired {
		return runner.RunEventResp{RespType: runner.RespNoop}
	}

	if err := b.sendPacket(InputPromptPacket{Title: inputTitle, Subtitle: inputSubtitle}); err != nil {
		log.Error("uibridge: send input_prompt: %v", err)
	}

	waiter := b.pushInputWaiter()
	var reply *state.Message
	select {
	case reply = <-waiter:
	case <-ctx.Done():
		return runner.RunEventResp{RespType: runner.RespNoop}
	}

	switch step.Type {
	case state.StepPrompt:
		return runner.RunEventResp{RespType: runner.RespMessage, Message: reply}
	case state.StepPromptConfirm:
		if reply != nil && reply.Text != "" {
			return runner.RunEventResp{RespType: runner.RespMessage, Message: reply}
		}
		return runner.RunEventResp{RespType: runner.RespNoop}
	case state.StepToolRequest:
		if reply != nil && reply.Text != "" {
			return runner.RunEventResp{RespType: runner.RespDecline, Message: reply}
		}
		return runner.RunEventResp{RespType: runner.RespNoop}
	default:
		return runner.RunEventResp{RespType: runner.RespNoop}
	}
}

// broadcastState sends a UIServerStatePacket summarizing the whole runner
// stack, matching _handle_runner_status_event's stack-summary half (this
// runtime has no distinct STATUS event, so the summary rides along with
// every step packet instead).
func (b *Bridge) broadcastState() {
	frames := b.mgr.RunnerStack()
	status := "idle"
	if len(frames) > 0 {
		status = "running"
	}

	stack := make([]RunnerStackFrame, 0, len(frames))
	var activeExec *state.WorkflowExecution
	for _, f := range frames {
		exec := f.Runner.Execution
		nodeName := ""
		nodeExecID := ""
		if len(exec.Steps) > 0 {
			last := exec.Steps[len(exec.Steps)-1]
			if ne, ok := exec.NodeExecutions[last.ExecutionID]; ok {
				nodeName = ne.Node
				nodeExecID = ne.ID
			}
		}
		stack = append(stack, RunnerStackFrame{
			WorkflowName:        exec.WorkflowName,
			WorkflowExecutionID: exec.ID,
			NodeName:            nodeName,
			NodeExecutionID:     nodeExecID,
			Status:              f.Runner.Status(),
		})
		activeExec = exec
	}

	packet := UIServerStatePacket{
		Status:  status,
		Runners: stack,
	}
	if activeExec != nil {
		packet.LastUserInputAt = activeExec.LastUserInputAt
		packet.LastStepLLMUsage = activeExec.LastStepUsage
		usage := activeExec.LLMUsage
		packet.ActiveWorkflowLLMUsage = &usage
	}

	if err := b.sendPacket(packet); err != nil {
		log.Error("uibridge: send ui_state: %v", err)
	}
}

// nodeForStep resolves the graph node that owns step, via the
// NodeExecution step.ExecutionID belongs to.
func nodeForStep(frame *manager.RunnerFrame, step *state.Step) *graphmodel.Node {
	ne, ok := frame.Runner.Execution.NodeExecutions[step.ExecutionID]
	if !ok {
		return nil
	}
	node, ok := frame.Runner.Graph().NodeByName()[ne.Node]
	if !ok {
		return nil
	}
	return node
}
