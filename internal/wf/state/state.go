// Package state defines the in-memory data model shared by every
// workflow-runtime component: messages, steps, node executions and
// workflow executions, plus the mutation operations the runner and
// manager need (touch/delete/trim).
package state

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who (or what) authored a Message.
type Role string

const (
	RoleDeveloper Role = "developer"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// RunnerStatus is the Runner's state-machine position.
type RunnerStatus string

const (
	RunnerIdle         RunnerStatus = "idle"
	RunnerRunning      RunnerStatus = "running"
	RunnerWaitingInput RunnerStatus = "waiting_input"
	RunnerStopped      RunnerStatus = "stopped"
	RunnerFinished     RunnerStatus = "finished"
)

// ToolCallReqStatus tracks one tool-call request through its lifecycle.
type ToolCallReqStatus string

const (
	ToolCallReqRequiresConfirmation ToolCallReqStatus = "requires_confirmation"
	ToolCallReqPendingExecution     ToolCallReqStatus = "pending_execution"
	ToolCallReqExecuting            ToolCallReqStatus = "executing"
	ToolCallReqRejected             ToolCallReqStatus = "rejected"
	ToolCallReqComplete             ToolCallReqStatus = "complete"
)

// ToolCallRespStatus is the outcome of executing a tool call.
type ToolCallRespStatus string

const (
	ToolCallRespCreated   ToolCallRespStatus = "created"
	ToolCallRespCompleted ToolCallRespStatus = "completed"
	ToolCallRespRejected  ToolCallRespStatus = "rejected"
	ToolCallRespFailed    ToolCallRespStatus = "failed"
)

// RunStatus is the terminal/non-terminal status of a NodeExecution.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusFinished RunStatus = "finished"
	RunStatusCanceled RunStatus = "canceled"
)

// StepType enumerates every kind of progress unit an executor may emit.
type StepType string

const (
	StepOutputMessage   StepType = "output_message"
	StepInputMessage    StepType = "input_message"
	StepApproval        StepType = "approval"
	StepRejection       StepType = "rejection"
	StepPrompt          StepType = "prompt"
	StepPromptConfirm   StepType = "prompt_confirm"
	StepToolRequest     StepType = "tool_request"
	StepToolResult      StepType = "tool_result"
	StepWorkflowRequest StepType = "workflow_request"
	StepWorkflowResult  StepType = "workflow_result"
)

// OutputMode mirrors graphmodel.OutputMode; duplicated here (as a plain
// string) so state has no import dependency on graphmodel.
type OutputMode string

const (
	OutputShow       OutputMode = "show"
	OutputHideAll    OutputMode = "hide_all"
	OutputHideFinal  OutputMode = "hide_final"
)

// LLMUsageStats aggregates token/cost accounting for one LLM round or for
// a whole workflow execution.
type LLMUsageStats struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostDollars      float64 `json:"cost_dollars"`
	InputTokenLimit  int     `json:"input_token_limit,omitempty"`
}

// Add accumulates another usage sample into the receiver (used for the
// per-workflow-execution running total).
func (u *LLMUsageStats) Add(other LLMUsageStats) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.CostDollars += other.CostDollars
}

// ToolSpec is the effective (merged) tool configuration passed to a tool
// invocation; see internal/wf/tool for the merge algorithm.
type ToolSpec struct {
	Name             string         `json:"name"`
	Enabled          bool           `json:"enabled"`
	AutoApprove      bool           `json:"auto_approve"`
	AutoApproveRules []string       `json:"auto_approve_rules,omitempty"`
	Config           map[string]any `json:"config,omitempty"`
}

// ToolCallReq is a single tool call requested by an assistant message.
type ToolCallReq struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Args     map[string]any    `json:"arguments"`
	ToolSpec *ToolSpec         `json:"tool_spec,omitempty"`
	Status   ToolCallReqStatus `json:"status"`
	// ProviderState is opaque provider-side state (e.g. OpenAI's
	// provider_specific_fields) round-tripped verbatim.
	ProviderState map[string]any `json:"provider_state,omitempty"`
}

// ToolCallResp is the result of executing a ToolCallReq.
type ToolCallResp struct {
	ID     string             `json:"id"`
	Status ToolCallRespStatus `json:"status"`
	Name   string             `json:"name"`
	// Result holds either a map or a list of maps, matching the original's
	// "mapping or list of mappings" contract.
	Result any `json:"result,omitempty"`
}

// Message is one turn in a conversation: an author role, text, optional
// thinking content, and any tool-call requests/responses it carries.
type Message struct {
	ID                  string         `json:"id"`
	Role                Role           `json:"role"`
	Text                string         `json:"text"`
	Thinking            string         `json:"thinking,omitempty"`
	ToolCallRequests    []ToolCallReq  `json:"tool_call_requests,omitempty"`
	ToolCallResponses   []ToolCallResp `json:"tool_call_responses,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
}

// NewMessage builds a Message with a fresh id and timestamp.
func NewMessage(role Role, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// Step is the atomic unit of progress inside a NodeExecution.
type Step struct {
	ID          string     `json:"id"`
	ExecutionID string     `json:"execution_id"`
	Type        StepType   `json:"type"`
	Message     *Message   `json:"message,omitempty"`
	OutcomeName string     `json:"outcome_name,omitempty"`
	// ExecutorState is the opaque per-executor state snapshot, wrapped at
	// the persistence boundary as {model: "...", data: ...} (see
	// internal/wf/persist); in memory it is just whatever the executor put
	// there.
	ExecutorState any            `json:"executor_state,omitempty"`
	LLMUsage      *LLMUsageStats `json:"llm_usage,omitempty"`
	IsComplete    bool           `json:"is_complete"`
	IsFinal       bool           `json:"is_final"`
	OutputMode    OutputMode     `json:"output_mode,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// NewStep creates a step bound to the given execution id.
func NewStep(executionID string, typ StepType) Step {
	return Step{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		Type:        typ,
		CreatedAt:   time.Now(),
	}
}

// NodeExecution is one concrete invocation of a node within a workflow
// execution. Previous points at the prior execution of the same node (by
// id, resolved through WorkflowExecution.NodeExecutions) — see §9's
// "arena-style" ownership note: NodeExecutions live only in the
// WorkflowExecution's map, and this field is a non-owning reference.
type NodeExecution struct {
	ID            string    `json:"id"`
	Node          string    `json:"node"`
	PreviousID    string    `json:"previous_id,omitempty"`
	InputMessages []Message `json:"input_messages"`
	Steps         []Step    `json:"steps"`
	Status        RunStatus `json:"status"`
	CreatedAt     time.Time `json:"created_at"`

	// owner is the WorkflowExecution ne was registered with (set by
	// AddNodeExecution); it is not part of the JSON DTO.
	owner *WorkflowExecution `json:"-"`
}

// NewNodeExecution creates a fresh NodeExecution for the given node name,
// optionally chained after a prior execution.
func NewNodeExecution(node string, previous *NodeExecution) *NodeExecution {
	ne := &NodeExecution{
		ID:        uuid.NewString(),
		Node:      node,
		Status:    RunStatusRunning,
		CreatedAt: time.Now(),
	}
	if previous != nil {
		ne.PreviousID = previous.ID
	}
	return ne
}

// WorkflowExecution is the top-level execution record: every NodeExecution
// by id, the flat step list in real-time order, and aggregate usage.
type WorkflowExecution struct {
	ID              string                    `json:"id"`
	WorkflowName    string                    `json:"workflow_name"`
	NodeExecutions  map[string]*NodeExecution `json:"node_executions"`
	Steps           []Step                    `json:"steps"`
	LLMUsage        LLMUsageStats             `json:"llm_usage"`
	LastStepUsage   *LLMUsageStats            `json:"last_step_llm_usage,omitempty"`
	LastUserInputAt *time.Time                `json:"last_user_input_at,omitempty"`
	CreatedAt       time.Time                 `json:"created_at"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

// NewWorkflowExecution creates an empty WorkflowExecution.
func NewWorkflowExecution(workflowName string) *WorkflowExecution {
	now := time.Now()
	return &WorkflowExecution{
		ID:             uuid.NewString(),
		WorkflowName:   workflowName,
		NodeExecutions: make(map[string]*NodeExecution),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Touch bumps UpdatedAt; callers must invoke this on any mutation that
// adds or removes steps (invariant from spec §3/§8.3: UpdatedAt never
// moves backward and is always >= the newest step's CreatedAt).
func (w *WorkflowExecution) Touch() {
	now := time.Now()
	if now.After(w.UpdatedAt) {
		w.UpdatedAt = now
	}
}

// AddNodeExecution registers ne under the workflow (the map Previous()
// resolves the back-link chain through) and records w as its owner.
func (w *WorkflowExecution) AddNodeExecution(ne *NodeExecution) {
	ne.owner = w
	w.NodeExecutions[ne.ID] = ne
}

// Previous resolves ne.PreviousID into the prior NodeExecution, or nil.
func (w *WorkflowExecution) Previous(ne *NodeExecution) *NodeExecution {
	if ne.PreviousID == "" {
		return nil
	}
	return w.NodeExecutions[ne.PreviousID]
}

// AppendStep appends a step to both the flat list and its owning
// NodeExecution's step list, or replaces an existing step with the same
// id in place if one exists (the "incremental step" protocol from §4.1).
func (w *WorkflowExecution) AppendStep(ne *NodeExecution, step Step) {
	for i := range w.Steps {
		if w.Steps[i].ID == step.ID {
			w.Steps[i] = step
			for j := range ne.Steps {
				if ne.Steps[j].ID == step.ID {
					ne.Steps[j] = step
					break
				}
			}
			w.Touch()
			return
		}
	}
	w.Steps = append(w.Steps, step)
	ne.Steps = append(ne.Steps, step)
	w.Touch()
}

// DeleteStep removes a single step (by id) from the flat list and from
// whichever NodeExecution owns it.
func (w *WorkflowExecution) DeleteStep(stepID string) {
	w.DeleteSteps([]string{stepID})
}

// DeleteSteps removes a set of steps from the flat list and from every
// NodeExecution's own step list in one pass, grouping ids by owning
// execution exactly as the original's delete_steps does (ported from
// original state.py's executions_step_ids grouping).
func (w *WorkflowExecution) DeleteSteps(ids []string) {
	if len(ids) == 0 {
		return
	}
	toDelete := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		toDelete[id] = struct{}{}
	}

	executionStepIDs := make(map[string]map[string]struct{})
	for _, step := range w.Steps {
		if _, ok := toDelete[step.ID]; !ok {
			continue
		}
		set, ok := executionStepIDs[step.ExecutionID]
		if !ok {
			set = make(map[string]struct{})
			executionStepIDs[step.ExecutionID] = set
		}
		set[step.ID] = struct{}{}
	}

	filtered := w.Steps[:0:0]
	for _, step := range w.Steps {
		if _, ok := toDelete[step.ID]; !ok {
			filtered = append(filtered, step)
		}
	}
	w.Steps = filtered

	for execID, stepIDs := range executionStepIDs {
		ne, ok := w.NodeExecutions[execID]
		if !ok {
			continue
		}
		kept := ne.Steps[:0:0]
		for _, step := range ne.Steps {
			if _, drop := stepIDs[step.ID]; !drop {
				kept = append(kept, step)
			}
		}
		ne.Steps = kept
	}
	w.Touch()
}

// DeleteNodeExecution removes a NodeExecution and all of its steps from
// the workflow.
func (w *WorkflowExecution) DeleteNodeExecution(id string) {
	ne, ok := w.NodeExecutions[id]
	if !ok {
		return
	}
	ids := make([]string, len(ne.Steps))
	for i, s := range ne.Steps {
		ids[i] = s.ID
	}
	w.DeleteSteps(ids)
	delete(w.NodeExecutions, id)
}

// TrimEmptyNodeExecutions removes NodeExecutions that have no steps and no
// input messages, which can accumulate e.g. after edit-history rewrites.
func (w *WorkflowExecution) TrimEmptyNodeExecutions() {
	for id, ne := range w.NodeExecutions {
		if len(ne.Steps) == 0 && len(ne.InputMessages) == 0 {
			delete(w.NodeExecutions, id)
		}
	}
}

// LastFinalStep returns the unique is_final=true step of ne, if any
// (invariant: at most one such step exists per NodeExecution).
func (ne *NodeExecution) LastFinalStep() *Step {
	for i := len(ne.Steps) - 1; i >= 0; i-- {
		if ne.Steps[i].IsFinal {
			return &ne.Steps[i]
		}
	}
	return nil
}

// LastStep returns the most recently appended step, or nil if empty.
func (ne *NodeExecution) LastStep() *Step {
	if len(ne.Steps) == 0 {
		return nil
	}
	return &ne.Steps[len(ne.Steps)-1]
}

// ExecutionMessage pairs a Message with the Step that produced it, or a
// nil Step for the execution's raw InputMessages.
type ExecutionMessage struct {
	Message Message
	Step    *Step
}

// IterExecutionMessages reverse-walks the Previous chain starting at ne
// and yields every message in oldest-to-newest order: ported from
// original runner/base.py's iter_execution_messages, used by the llm
// executor to reconstruct the full conversation across reset/keep
// transitions.
func IterExecutionMessages(w *WorkflowExecution, ne *NodeExecution) []ExecutionMessage {
	var chain []*NodeExecution
	current := ne
	for current != nil {
		chain = append(chain, current)
		current = w.Previous(current)
	}

	var out []ExecutionMessage
	for i := len(chain) - 1; i >= 0; i-- {
		exec := chain[i]
		for _, msg := range exec.InputMessages {
			out = append(out, ExecutionMessage{Message: msg})
		}
		for j := range exec.Steps {
			step := exec.Steps[j]
			if step.Message == nil {
				continue
			}
			out = append(out, ExecutionMessage{Message: *step.Message, Step: &exec.Steps[j]})
		}
	}
	return out
}
