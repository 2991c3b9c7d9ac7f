// Package manager owns the LIFO stack of running workflows (a top-level
// run plus any nested sub-workflows started via run_agent/START_WORKFLOW),
// drives each one's event stream, and exposes the start/stop/restart
// operations a UI bridge or HTTP surface calls into.
//
// Grounded on original manager/base.py's BaseManager: the runner stack,
// start_workflow/stop_current_runner/restart_current_runner, and the
// per-runner driving loop (_run_runner_task/_find_frame/_on_runner_finished)
// translated from an asyncio task + async-generator send/asend protocol
// into a goroutine reading internal/wf/runner.Runner's event/reply
// channels.
package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/pocketomega/pocket-omega/internal/wf/executor"
	"github.com/pocketomega/pocket-omega/internal/wf/graphmodel"
	"github.com/pocketomega/pocket-omega/internal/wf/logging"
	"github.com/pocketomega/pocket-omega/internal/wf/persist"
	"github.com/pocketomega/pocket-omega/internal/wf/runner"
	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
	"github.com/pocketomega/pocket-omega/internal/wf/settings"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
)

var log = logging.New("manager")

// Workflow is a named, already-validated graph ready to run.
type Workflow struct {
	name  string
	graph *graphmodel.Graph
}

func (w *Workflow) Name() string            { return w.name }
func (w *Workflow) Graph() *graphmodel.Graph { return w.graph }

// RunnerFrame is one entry of the manager's runner stack: a running
// workflow, the task driving it, and enough to restart it identically.
type RunnerFrame struct {
	WorkflowName   string
	Runner         *runner.Runner
	InitialMessage *state.Message

	done chan struct{}
}

// Wait blocks until this frame's drive loop has finished.
func (f *RunnerFrame) Wait() { <-f.done }

// OnRunEventFunc handles one step emitted by a running workflow and
// returns the reply to send back to the runner (confirm/decline/message),
// mirroring BaseManager.on_run_event. The default handler (used when none
// is set) always replies noop, same as the original base class.
type OnRunEventFunc func(ctx context.Context, frame *RunnerFrame, event runner.RunEvent) runner.RunEventResp

// Manager drives the runner stack for one project.
type Manager struct {
	project  *runtime.Project
	settings *settings.Settings
	factory  *executor.Factory

	mu      sync.Mutex
	stack   []*RunnerFrame
	started bool

	onRunEvent OnRunEventFunc
	state      persist.StateManager
}

// New constructs a Manager for project, using settings for workflow graph
// lookup and factory to build node executors. Persistence is off
// (persist.NullStateManager) until SetStateManager installs one.
func New(project *runtime.Project, st *settings.Settings, factory *executor.Factory) *Manager {
	m := &Manager{project: project, settings: st, factory: factory, state: persist.NullStateManager{}}
	project.RunAgent = m.runNestedWorkflow
	return m
}

// SetStateManager installs the persistence backend used to track and flush
// every workflow execution this manager runs. Must be set before the first
// StartWorkflow call to cover that run from its first step.
func (m *Manager) SetStateManager(sm persist.StateManager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = sm
}

// Settings returns the project settings this manager resolves workflow
// graphs from.
func (m *Manager) Settings() *settings.Settings { return m.settings }

// Project returns the runtime project this manager drives workflows for.
func (m *Manager) Project() *runtime.Project { return m.project }

// SetRunEventHandler installs the callback invoked for every step a running
// workflow emits; the UI bridge is the typical installer. Must be set
// before the first StartWorkflow call to take effect for that run.
func (m *Manager) SetRunEventHandler(fn OnRunEventFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRunEvent = fn
}

// RunnerStack returns a snapshot of the current stack, bottom to top.
func (m *Manager) RunnerStack() []*RunnerFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*RunnerFrame, len(m.stack))
	copy(out, m.stack)
	return out
}

// CurrentRunner returns the top-of-stack runner, or nil if nothing is
// running.
func (m *Manager) CurrentRunner() *runner.Runner {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.stack) == 0 {
		return nil
	}
	return m.stack[len(m.stack)-1].Runner
}

// CurrentWorkflowName returns the top-of-stack workflow's name, or "" if
// nothing is running.
func (m *Manager) CurrentWorkflowName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.stack) == 0 {
		return ""
	}
	return m.stack[len(m.stack)-1].WorkflowName
}

// Stop halts every running workflow on the stack (bottom to top, though
// they all receive the stop signal concurrently) and waits for each drive
// loop to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	frames := make([]*RunnerFrame, len(m.stack))
	copy(frames, m.stack)
	m.mu.Unlock()

	for _, f := range frames {
		f.Runner.Stop()
	}
	for _, f := range frames {
		f.Wait()
	}

	m.mu.Lock()
	m.stack = nil
	m.started = false
	m.mu.Unlock()
}

// StartWorkflow builds the named workflow's graph from settings, starts a
// Runner for it, pushes a frame onto the stack, and returns the Runner.
// Starting a workflow while another is running nests it (e.g. run_agent's
// START_WORKFLOW tool response) rather than replacing it.
func (m *Manager) StartWorkflow(ctx context.Context, workflowName string, initialMessage *state.Message) (*runner.Runner, error) {
	frame, err := m.startWorkflowFrame(ctx, workflowName, initialMessage)
	if err != nil {
		return nil, err
	}
	return frame.Runner, nil
}

// startWorkflowFrame is StartWorkflow's implementation, returning the frame
// itself (rather than just its Runner) so runNestedWorkflow can block on
// frame.Wait() for a child workflow started on the parent's behalf.
func (m *Manager) startWorkflowFrame(ctx context.Context, workflowName string, initialMessage *state.Message) (*RunnerFrame, error) {
	wf, err := m.buildWorkflow(workflowName)
	if err != nil {
		return nil, err
	}

	r := runner.New(wf, m.project, m.factory, initialMessage)
	frame := &RunnerFrame{
		WorkflowName:   workflowName,
		Runner:         r,
		InitialMessage: initialMessage,
		done:           make(chan struct{}),
	}

	m.mu.Lock()
	m.stack = append(m.stack, frame)
	sm := m.state
	m.mu.Unlock()

	sm.Track(r.Execution)

	go m.driveRunnerTask(ctx, frame)

	return frame, nil
}

// runNestedWorkflow is the runtime.Project.RunAgent hook installed in New:
// it starts workflowName as a nested frame on the stack, blocks until that
// frame's drive loop finishes, and returns the child's last final assistant
// message for the runner to package into a workflow_result step on the
// parent node — spec.md §4.3/§8 Scenario 6. Unlike the original's
// _handle_runner_start_workflow_event (manager/server.py), which starts the
// child and immediately replies NOOP without waiting or feeding anything
// back to the parent, this synchronously blocks the parent's drive
// goroutine for the child's entire run, per spec.md's explicit "parent
// driver pauses; the child runs to completion" requirement.
func (m *Manager) runNestedWorkflow(ctx context.Context, workflowName string, initialMessage *state.Message) (*state.Message, error) {
	frame, err := m.startWorkflowFrame(ctx, workflowName, initialMessage)
	if err != nil {
		return nil, err
	}
	frame.Wait()
	return lastFinalMessage(frame.Runner.Execution), nil
}

// lastFinalMessage returns the message of the most recently created
// is_final step across w, or nil if the execution never reached one (e.g.
// it was stopped mid-flight).
func lastFinalMessage(w *state.WorkflowExecution) *state.Message {
	var best *state.Step
	for i := range w.Steps {
		s := &w.Steps[i]
		if s.IsFinal && s.Message != nil && (best == nil || s.CreatedAt.After(best.CreatedAt)) {
			best = s
		}
	}
	if best == nil {
		return nil
	}
	return best.Message
}

// StopCurrentRunner stops the top-of-stack runner and waits for its drive
// loop to finish (which pops it off the stack).
func (m *Manager) StopCurrentRunner() {
	m.mu.Lock()
	if len(m.stack) == 0 {
		m.mu.Unlock()
		return
	}
	frame := m.stack[len(m.stack)-1]
	m.mu.Unlock()

	frame.Runner.Stop()
	frame.Wait()
}

// RestartCurrentRunner stops the top-of-stack runner and starts a fresh one
// for the same workflow, reusing its initial message unless overridden.
func (m *Manager) RestartCurrentRunner(ctx context.Context, initialMessage *state.Message) (*runner.Runner, error) {
	m.mu.Lock()
	if len(m.stack) == 0 {
		m.mu.Unlock()
		return nil, fmt.Errorf("manager: no active runner to restart")
	}
	frame := m.stack[len(m.stack)-1]
	workflowName := frame.WorkflowName
	msg := initialMessage
	if msg == nil {
		msg = frame.InitialMessage
	}
	m.mu.Unlock()

	m.StopCurrentRunner()
	return m.StartWorkflow(ctx, workflowName, msg)
}

// EditHistoryWithText replaces the current workflow's last user
// input_message step with text and restarts the workflow from that edited
// message, discarding everything that ran after it — the "edit a previous
// prompt and re-run" operation original server.py's _handle_edit_command
// calls into. Returns false if there is no previous user input to replace.
func (m *Manager) EditHistoryWithText(ctx context.Context, text string) (bool, error) {
	m.mu.Lock()
	if len(m.stack) == 0 {
		m.mu.Unlock()
		return false, nil
	}
	frame := m.stack[len(m.stack)-1]
	m.mu.Unlock()

	var found bool
	for i := len(frame.Runner.Execution.Steps) - 1; i >= 0; i-- {
		step := frame.Runner.Execution.Steps[i]
		if step.Type == state.StepInputMessage && step.Message != nil && step.Message.Role == state.RoleUser {
			found = true
			break
		}
	}
	if !found {
		return false, nil
	}

	edited := state.NewMessage(state.RoleUser, text)
	if _, err := m.RestartCurrentRunner(ctx, &edited); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) buildWorkflow(workflowName string) (*Workflow, error) {
	if m.settings == nil {
		return nil, fmt.Errorf("manager: settings not loaded")
	}
	wfCfg, ok := m.settings.Workflows[workflowName]
	if !ok {
		return nil, fmt.Errorf("manager: unknown workflow %q", workflowName)
	}
	graph, err := settings.BuildGraph(wfCfg)
	if err != nil {
		return nil, fmt.Errorf("manager: build graph for %q: %w", workflowName, err)
	}
	return &Workflow{name: workflowName, graph: graph}, nil
}

// driveRunnerTask runs one RunnerFrame's runner to completion, forwarding
// every emitted step to the installed OnRunEventFunc (or a noop default)
// and feeding its reply back, exactly mirroring the original's
// _run_runner_task send/asend loop over Run's channel pair. On exit it
// pops the frame off the stack (_on_runner_finished).
func (m *Manager) driveRunnerTask(ctx context.Context, frame *RunnerFrame) {
	defer close(frame.done)
	defer m.onRunnerFinished(frame)

	events, replies := frame.Runner.Run(ctx)
	handler := m.runEventHandler()

	m.mu.Lock()
	sm := m.state
	m.mu.Unlock()

	for event := range events {
		sm.NotifyChanged(frame.Runner.Execution)
		resp := handler(ctx, frame, event)
		select {
		case replies <- resp:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) runEventHandler() OnRunEventFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onRunEvent != nil {
		return m.onRunEvent
	}
	return defaultOnRunEvent
}

func defaultOnRunEvent(ctx context.Context, frame *RunnerFrame, event runner.RunEvent) runner.RunEventResp {
	return runner.RunEventResp{RespType: runner.RespNoop}
}

func (m *Manager) onRunnerFinished(frame *RunnerFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.stack[:0]
	for _, f := range m.stack {
		if f != frame {
			out = append(out, f)
		}
	}
	m.stack = out
	if len(m.stack) == 0 {
		log.Info("workflow %q finished, stack empty", frame.WorkflowName)
	} else {
		log.Info("workflow %q finished, resuming %q", frame.WorkflowName, m.stack[len(m.stack)-1].WorkflowName)
	}
}
