// Package runtime holds the Project: the shared context every executor and
// tool runs against, generalizing vocode's project.py Project object (LLM
// provider, shell manager, tool registry, graph map, base path, ad-hoc
// keyed state for things like the http-input queues) into one Go struct
// passed by pointer.
package runtime

import (
	"context"
	"sync"

	"github.com/pocketomega/pocket-omega/internal/wf/graphmodel"
	"github.com/pocketomega/pocket-omega/internal/wf/llm"
	"github.com/pocketomega/pocket-omega/internal/wf/proc"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
	"github.com/pocketomega/pocket-omega/internal/wf/tool"
)

// FileChangeType mirrors project.py's FileChangeType enum, used by the
// apply_patch executor to report what it touched on disk so the project
// can refresh any dependent state (e.g. a file-tree cache).
type FileChangeType string

const (
	FileCreated FileChangeType = "created"
	FileUpdated FileChangeType = "updated"
	FileDeleted FileChangeType = "deleted"
)

// FileChange is one file touched by a patch application.
type FileChange struct {
	Type             FileChangeType
	RelativeFilename string
}

// RefreshFunc is invoked (async, fire-and-forget — mirroring the original's
// asyncio.create_task(project.refresh(...))) after a patch touches files.
type RefreshFunc func(ctx context.Context, changes []FileChange)

// RunAgentFunc starts workflowName as a nested workflow, blocks until it
// reaches a final step, and returns its last final assistant message (or an
// error if the workflow could not be started). The manager installs this
// hook so the run_agent tool's StartWorkflow directive can be driven to
// completion synchronously by the runner, without runner importing manager
// (manager already imports runner, so the reverse would cycle) — see
// spec.md §4.3: "the parent driver pauses; the child runs to completion;
// the child's last_final_message is packaged into a workflow_result step on
// the parent".
type RunAgentFunc func(ctx context.Context, workflowName string, initialMessage *state.Message) (*state.Message, error)

// KeyedState is a small synchronized map used by executors (currently only
// http-input) that need to stash per-node state across Runner restarts
// within the same Project lifetime — ported from project.py's
// project_state.get/set used for the http-input queue.
type KeyedState struct {
	mu sync.Mutex
	m  map[string]any
}

func NewKeyedState() *KeyedState { return &KeyedState{m: make(map[string]any)} }

func (k *KeyedState) Get(key string) (any, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.m[key]
	return v, ok
}

func (k *KeyedState) Set(key string, v any) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.m[key] = v
}

func (k *KeyedState) GetOrSet(key string, make func() any) any {
	k.mu.Lock()
	defer k.mu.Unlock()
	if v, ok := k.m[key]; ok {
		return v
	}
	v := make()
	k.m[key] = v
	return v
}

// Project bundles everything an executor or tool needs to act.
type Project struct {
	BasePath string

	LLM    llm.Provider
	Shells proc.ShellManager
	Tools  *tool.Registry

	Graphs map[string]*graphmodel.Graph

	// GlobalToolSpecs is the project-level tool configuration overlay (see
	// tool.MergeSpec), keyed by tool name.
	GlobalToolSpecs map[string]tool.GlobalSpec

	// AgentWorkflows is the allow-list of workflow names the run_agent tool
	// may start as a nested sub-workflow (spec.md §4.3's "Non-goals don't
	// exclude nested workflows, but they must be explicitly declared").
	AgentWorkflows []string

	State   *KeyedState
	Refresh RefreshFunc

	// RunAgent is installed by the manager that owns this project; nil
	// until a manager wires it in, in which case run_agent tool calls fail
	// with an explicit error rather than silently no-oping.
	RunAgent RunAgentFunc
}

// NewProject constructs an empty Project with initialized collections.
func NewProject(basePath string) *Project {
	return &Project{
		BasePath:        basePath,
		Graphs:          make(map[string]*graphmodel.Graph),
		GlobalToolSpecs: make(map[string]tool.GlobalSpec),
		State:           NewKeyedState(),
	}
}
