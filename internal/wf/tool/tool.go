// Package tool defines the tool contract exposed to the LLM executor
// (spec.md §4.6) and a registry of tool instances, generalizing the
// teacher's internal/tool.Registry parent/view delegation pattern to the
// spec's {openapi_spec, run} tool contract.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pocketomega/pocket-omega/internal/wf/state"
)

// ResponseType discriminates the ToolResponse tagged union.
type ResponseType string

const (
	ResponseText          ResponseType = "text"
	ResponseStartWorkflow ResponseType = "start_workflow"
)

// Response is returned by a tool's Run method: either plain text or a
// directive to start a nested workflow (spec.md §4.3/§4.6).
type Response struct {
	Type           ResponseType
	Text           string
	Workflow       string
	InitialText    string
	InitialMessage *state.Message
}

// Req bundles the arguments a tool needs at call time.
type Req struct {
	Execution *state.WorkflowExecution
	Spec      state.ToolSpec
}

// BaseTool is the polymorphic tool surface: OpenAPISpec describes its
// parameters as JSON Schema (used both for the LLM function definition and
// for argument validation before dispatch); Run executes it.
type BaseTool interface {
	Name() string
	OpenAPISpec(spec state.ToolSpec) (map[string]any, error)
	Run(ctx context.Context, req Req, args map[string]any) (*Response, error)
}

// Registry manages tool instances with parent/view delegation, mirroring
// the teacher's internal/tool.Registry WithExtra pattern: a view overlays
// extra tools on top of a parent without mutating it, so per-request tools
// (e.g. a session-scoped update_plan) can be added without touching the
// root registry other call sites still see.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]BaseTool
	parent *Registry
}

// NewRegistry creates an empty root registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]BaseTool)}
}

func (r *Registry) Register(t BaseTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

func (r *Registry) Get(name string) (BaseTool, bool) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if ok {
		return t, true
	}
	if r.parent != nil {
		return r.parent.Get(name)
	}
	return nil, false
}

func (r *Registry) List() []BaseTool {
	if r.parent != nil {
		return r.listView()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]BaseTool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (r *Registry) listView() []BaseTool {
	parentTools := r.parent.List()
	r.mu.RLock()
	extras := make(map[string]BaseTool, len(r.tools))
	for k, v := range r.tools {
		extras[k] = v
	}
	r.mu.RUnlock()

	out := make([]BaseTool, 0, len(parentTools)+len(extras))
	for _, t := range parentTools {
		if _, overridden := extras[t.Name()]; !overridden {
			out = append(out, t)
		}
	}
	for _, t := range extras {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// WithExtra returns a view of the registry with additional tools
// overlaid; extras take precedence over parent tools with the same name.
func (r *Registry) WithExtra(extras ...BaseTool) *Registry {
	m := make(map[string]BaseTool, len(extras))
	for _, t := range extras {
		m[t.Name()] = t
	}
	return &Registry{parent: r, tools: m}
}

// GlobalSpec is the project-level override for one tool, merged with a
// node-level state.ToolSpec per the precedence rules in spec.md §4.6:
// enabled/auto_approve (global wins when set), auto_approve_rules
// (concatenated), config (merged, global wins on key conflict).
type GlobalSpec struct {
	Enabled          *bool
	AutoApprove      *bool
	AutoApproveRules []string
	Config           map[string]any
}

// MergeSpec computes the effective ToolSpec for one LLM call.
func MergeSpec(name string, node state.ToolSpec, global GlobalSpec) state.ToolSpec {
	eff := state.ToolSpec{
		Name:             name,
		Enabled:          node.Enabled,
		AutoApprove:      node.AutoApprove,
		AutoApproveRules: append([]string{}, node.AutoApproveRules...),
		Config:           map[string]any{},
	}
	for k, v := range node.Config {
		eff.Config[k] = v
	}
	if global.Enabled != nil {
		eff.Enabled = *global.Enabled
	}
	if global.AutoApprove != nil {
		eff.AutoApprove = *global.AutoApprove
	}
	eff.AutoApproveRules = append(eff.AutoApproveRules, global.AutoApproveRules...)
	for k, v := range global.Config {
		eff.Config[k] = v
	}
	return eff
}

// ValidateArgs checks decoded call arguments against a tool's declared
// JSON Schema (spec.md §7's Tool-error taxonomy: a schema violation is a
// tool error surfaced as a tool_result with an error field, not a crash).
func ValidateArgs(schemaDoc map[string]any, args map[string]any) error {
	if schemaDoc == nil {
		return nil
	}
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", mustReader(raw)); err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	if err := schema.ValidateInterface(toJSONValue(args)); err != nil {
		return fmt.Errorf("argument validation failed: %w", err)
	}
	return nil
}

func toJSONValue(args map[string]any) any {
	raw, _ := json.Marshal(args)
	var v any
	_ = json.Unmarshal(raw, &v)
	return v
}
