// Package settings decodes a project's merged configuration document (the
// output of internal/wf/config's YAML/JSON5 decode, after internal/wf/vars
// interpolation) into typed settings, and builds the internal/wf/graphmodel
// graphs its `workflows` block describes.
//
// Grounded on original settings/models.py's Settings/WorkflowConfig/ToolSpec/
// ProcessSettings/PersistenceSettings/LoggingSettings/InternalHTTPSettings,
// and models.py's Node/Edge/OutcomeSlot (the workflow graph's own wire
// format, validated and converted here into internal/wf/graphmodel types).
package settings

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/pocketomega/pocket-omega/internal/wf/graphmodel"
	"github.com/pocketomega/pocket-omega/internal/wf/tool"
)

// LogLevel mirrors the original's LogLevel enum.
type LogLevel string

const (
	LogLevelDebug    LogLevel = "debug"
	LogLevelInfo     LogLevel = "info"
	LogLevelWarning  LogLevel = "warning"
	LogLevelError    LogLevel = "error"
	LogLevelCritical LogLevel = "critical"
)

// ToolAutoApproveRule auto-approves a tool call whose JSON arguments match a
// regex at a dotted key path.
type ToolAutoApproveRule struct {
	Key     string
	Pattern string
}

// ToolSpec is one entry of Settings.Tools or WorkflowConfig node-level tool
// lists, before being merged into an effective state.ToolSpec.
type ToolSpec struct {
	Name             string
	Enabled          bool
	AutoApprove      *bool
	AutoApproveRules []ToolAutoApproveRule
	Config           map[string]any
}

// ToolCallFormatter configures how a tool call renders in a UI transcript.
type ToolCallFormatter struct {
	Title      string
	Formatter  string
	ShowOutput bool
	Options    map[string]any
}

// TUIOptions are terminal-rendering preferences, passed through untouched to
// any UI bridge that cares.
type TUIOptions struct {
	Unicode      bool
	ASCIIFallback bool
}

// LoggingSettings configures internal/wf/logging's default level and any
// per-logger overrides.
type LoggingSettings struct {
	DefaultLevel   LogLevel
	EnabledLoggers map[string]LogLevel
}

// ShellMode selects direct-subprocess vs persistent-shell execution; see
// internal/wf/proc.Mode.
type ShellMode string

const (
	ShellModeDirect ShellMode = "direct"
	ShellModeShell  ShellMode = "shell"
)

// ShellSettings configures internal/wf/proc's ShellManager.
type ShellSettings struct {
	Mode            ShellMode
	Program         string
	Args            []string
	DefaultTimeoutS int
}

// ProcessEnvSettings controls which environment variables a spawned
// subprocess inherits.
type ProcessEnvSettings struct {
	InheritParent bool
	Allowlist     []string
	Denylist      []string
	Defaults      map[string]string
}

// ProcessSettings bundles subprocess environment and shell configuration.
type ProcessSettings struct {
	Env   ProcessEnvSettings
	Shell ShellSettings
}

// ExecToolSettings holds the decoded `tool_settings.exec_tool` block (an
// output-size cap and a default timeout). The `exec` tool does not read it:
// it takes `timeout_s`/`max_output_chars` from its tool-spec config and
// otherwise uses its own built-in defaults.
type ExecToolSettings struct {
	MaxOutputChars int
	TimeoutS       *float64
}

// ToolSettings bundles per-tool project-level settings blocks.
type ToolSettings struct {
	ExecTool *ExecToolSettings
}

// PersistenceSettings configures internal/wf/persist's flush cadence and log
// retention budget.
type PersistenceSettings struct {
	SaveIntervalS   float64
	MaxTotalLogBytes int64
}

// InternalHTTPSettings configures internal/wf/httpd's loopback listener.
type InternalHTTPSettings struct {
	Host      string
	Port      *int
	SecretKey string
}

// OutcomeSlot is one raw outcome declaration on a workflow node.
type OutcomeSlot struct {
	Name        string
	Description string
}

// Node is a workflow graph node as declared in the configuration document,
// before validation into graphmodel.Node.
type Node struct {
	Name            string
	Type            string
	Description     string
	Outcomes        []OutcomeSlot
	Skip            bool
	MaxRuns         *int
	MessageMode     string
	OutputMode      string
	Confirmation    string
	ResetPolicy     string
	OutcomeStrategy string
	Config          map[string]any
	Collapse        *bool
	CollapseLines   *int
	Visible         *bool
	ToolCollapse    *bool
}

// Edge is a workflow graph edge, before validation into graphmodel.Edge.
// Accepts either the mapping form or the original's shorthand string form
// "source.outcome -> target[:reset_policy]".
type Edge struct {
	SourceNode    string
	SourceOutcome string
	TargetNode    string
	ResetPolicy   *string
}

// WorkflowConfig is one named entry of Settings.Workflows.
type WorkflowConfig struct {
	Name            string
	Description     string
	NeedInput       bool
	NeedInputPrompt string
	Config          map[string]any
	Nodes           []Node
	Edges           []Edge
	AgentWorkflows  []string
}

// Settings is the fully decoded project configuration document.
type Settings struct {
	Workflows          map[string]*WorkflowConfig
	DefaultWorkflow    string
	Tools              []ToolSpec
	ToolSettings       *ToolSettings
	ToolCallFormatters map[string]ToolCallFormatter
	Process            *ProcessSettings
	Logging            *LoggingSettings
	Persistence        *PersistenceSettings
	TUI                *TUIOptions
	InternalHTTP       *InternalHTTPSettings
}

// GlobalToolSpecs converts Settings.Tools into the map runtime.Project.
// GlobalToolSpecs wants, keyed by tool name.
func (s *Settings) GlobalToolSpecs() map[string]tool.GlobalSpec {
	out := make(map[string]tool.GlobalSpec, len(s.Tools))
	for _, t := range s.Tools {
		enabled := t.Enabled
		rules := make([]string, 0, len(t.AutoApproveRules))
		for _, r := range t.AutoApproveRules {
			rules = append(rules, r.Key+"="+r.Pattern)
		}
		out[t.Name] = tool.GlobalSpec{
			Enabled:          &enabled,
			AutoApprove:      t.AutoApprove,
			AutoApproveRules: rules,
			Config:           t.Config,
		}
	}
	return out
}

// Graphs builds a graphmodel.Graph for every configured workflow, keyed by
// workflow name, validating each one.
func (s *Settings) Graphs() (map[string]*graphmodel.Graph, error) {
	out := make(map[string]*graphmodel.Graph, len(s.Workflows))
	names := make([]string, 0, len(s.Workflows))
	for name := range s.Workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		g, err := BuildGraph(s.Workflows[name])
		if err != nil {
			return nil, fmt.Errorf("settings: workflow %q: %w", name, err)
		}
		out[name] = g
	}
	return out, nil
}

// AgentWorkflowNames returns the union of every workflow's agent_workflows
// allow-list, which is what runtime.Project.AgentWorkflows expects: a flat
// set of workflow names the `run_agent` tool is permitted to start.
func (s *Settings) AgentWorkflowNames() []string {
	seen := map[string]bool{}
	var out []string
	for _, wf := range s.Workflows {
		for _, name := range wf.AgentWorkflows {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	sort.Strings(out)
	return out
}

var edgeAltSyntax = regexp.MustCompile(`^\s*([A-Za-z0-9_\-]+)\.([A-Za-z0-9_\-]+)\s*->\s*([A-Za-z0-9_\-]+)(?::([A-Za-z0-9_\-]+))?\s*$`)

// BuildGraph converts one WorkflowConfig's raw nodes/edges into a validated
// graphmodel.Graph.
func BuildGraph(wf *WorkflowConfig) (*graphmodel.Graph, error) {
	g := &graphmodel.Graph{
		Nodes: make([]graphmodel.Node, 0, len(wf.Nodes)),
		Edges: make([]graphmodel.Edge, 0, len(wf.Edges)),
	}
	for _, n := range wf.Nodes {
		gn, err := n.toGraphNode()
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.Name, err)
		}
		g.Nodes = append(g.Nodes, gn)
	}
	for i, e := range wf.Edges {
		ge, err := e.toGraphEdge()
		if err != nil {
			return nil, fmt.Errorf("edge #%d: %w", i, err)
		}
		g.Edges = append(g.Edges, ge)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (n Node) toGraphNode() (graphmodel.Node, error) {
	outcomes := make([]graphmodel.OutcomeSlot, 0, len(n.Outcomes))
	for _, o := range n.Outcomes {
		outcomes = append(outcomes, graphmodel.OutcomeSlot{Name: o.Name, Description: o.Description})
	}

	messageMode := graphmodel.ResultMode(n.MessageMode)
	if messageMode == "" {
		messageMode = graphmodel.ResultFinalResponse
	}
	outputMode := graphmodel.OutputMode(n.OutputMode)
	if outputMode == "" {
		outputMode = graphmodel.OutputShow
	}
	confirmation := graphmodel.Confirmation(n.Confirmation)
	if confirmation == "" {
		confirmation = graphmodel.ConfirmationManual
	}
	resetPolicy := graphmodel.StateResetPolicy(n.ResetPolicy)
	if resetPolicy == "" {
		resetPolicy = graphmodel.ResetPolicyReset
	}
	outcomeStrategy := graphmodel.OutcomeStrategy(n.OutcomeStrategy)
	if outcomeStrategy == "" {
		outcomeStrategy = graphmodel.OutcomeStrategyTag
	}

	visible := true
	if n.Visible != nil {
		visible = *n.Visible
	}

	config := n.Config
	if config == nil {
		config = map[string]any{}
	}

	return graphmodel.Node{
		Name:            n.Name,
		Type:            n.Type,
		Description:     n.Description,
		Outcomes:        outcomes,
		Skip:            n.Skip,
		MaxRuns:         n.MaxRuns,
		MessageMode:     messageMode,
		OutputMode:      outputMode,
		Confirmation:    confirmation,
		ResetPolicy:     resetPolicy,
		OutcomeStrategy: outcomeStrategy,
		Config:          config,
		Collapse:        n.Collapse,
		CollapseLines:   n.CollapseLines,
		Visible:         visible,
		ToolCollapse:    n.ToolCollapse,
	}, nil
}

func (e Edge) toGraphEdge() (graphmodel.Edge, error) {
	var rp *graphmodel.StateResetPolicy
	if e.ResetPolicy != nil {
		v := graphmodel.StateResetPolicy(*e.ResetPolicy)
		rp = &v
	}
	return graphmodel.Edge{
		SourceNode:    e.SourceNode,
		SourceOutcome: e.SourceOutcome,
		TargetNode:    e.TargetNode,
		ResetPolicy:   rp,
	}, nil
}

// ParseEdgeShorthand parses the "source.outcome -> target[:reset_policy]"
// string form into an Edge, per the original's EDGE_ALT_SYNTAX_RE.
func ParseEdgeShorthand(s string) (Edge, error) {
	m := edgeAltSyntax.FindStringSubmatch(s)
	if m == nil {
		return Edge{}, fmt.Errorf("settings: edge string must be '<source>.<outcome> -> <target>[:<reset_policy>]', got %q", s)
	}
	e := Edge{SourceNode: m[1], SourceOutcome: m[2], TargetNode: m[3]}
	if m[4] != "" {
		rp := m[4]
		e.ResetPolicy = &rp
	}
	return e, nil
}
