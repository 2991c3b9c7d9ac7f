// Package graphmodel holds the typed Graph/Node/Edge/OutcomeSlot shapes and
// their construction-time invariant validation (spec.md §3).
package graphmodel

import (
	"fmt"
	"sort"
)

// Confirmation controls whether a node's tool requests/prompts require a
// manual UI confirmation or are auto-approved.
type Confirmation string

const (
	ConfirmationManual Confirmation = "manual"
	ConfirmationAuto   Confirmation = "auto"
)

// StateResetPolicy decides whether re-entering a node reuses the previous
// NodeExecution's state (keep) or starts fresh (reset).
type StateResetPolicy string

const (
	ResetPolicyReset StateResetPolicy = "reset"
	ResetPolicyKeep  StateResetPolicy = "keep"
)

// ResultMode controls what a successor node receives as input messages.
type ResultMode string

const (
	ResultFinalResponse   ResultMode = "final_response"
	ResultAllMessages     ResultMode = "all_messages"
	ResultConcatenateFinal ResultMode = "concatenate_final"
)

// OutputMode controls how a node's messages are shown in the UI.
type OutputMode string

const (
	OutputShow      OutputMode = "show"
	OutputHideAll   OutputMode = "hide_all"
	OutputHideFinal OutputMode = "hide_final"
)

// OutcomeStrategy selects how the LLM executor signals its chosen outcome.
type OutcomeStrategy string

const (
	OutcomeStrategyTag      OutcomeStrategy = "tag"
	OutcomeStrategyFunction OutcomeStrategy = "function"
)

// OutcomeSlot is a named exit point on a node.
type OutcomeSlot struct {
	Name        string
	Description string
}

// Node is a vertex in the workflow graph. Type-specific configuration
// (model name, command, route path, ...) lives in the Config map and is
// decoded by the matching executor constructor.
type Node struct {
	Name            string
	Type            string
	Description     string
	Outcomes        []OutcomeSlot
	Skip            bool
	MaxRuns         *int
	MessageMode     ResultMode
	OutputMode      OutputMode
	Confirmation    Confirmation
	ResetPolicy     StateResetPolicy
	OutcomeStrategy OutcomeStrategy
	Config          map[string]any

	// Display hints consumed by the UI bridge only (spec.md §4.4).
	Collapse      *bool
	CollapseLines *int
	Visible       bool
	ToolCollapse  *bool
}

// Edge connects a node's outcome slot to another node.
type Edge struct {
	SourceNode    string
	SourceOutcome string
	TargetNode    string
	ResetPolicy   *StateResetPolicy
}

// Graph is a validated set of nodes and edges.
type Graph struct {
	Nodes []Node
	Edges []Edge
}

// NodeByName indexes Nodes by name.
func (g *Graph) NodeByName() map[string]*Node {
	out := make(map[string]*Node, len(g.Nodes))
	for i := range g.Nodes {
		out[g.Nodes[i].Name] = &g.Nodes[i]
	}
	return out
}

type outcomeKey struct{ node, outcome string }

// EdgeBySource indexes Edges by (source_node, source_outcome): the
// invariant in spec.md §3 guarantees this map is exactly one edge per key.
func (g *Graph) EdgeBySource() map[outcomeKey]*Edge {
	out := make(map[outcomeKey]*Edge, len(g.Edges))
	for i := range g.Edges {
		out[outcomeKey{g.Edges[i].SourceNode, g.Edges[i].SourceOutcome}] = &g.Edges[i]
	}
	return out
}

// EdgeFor looks up the (at most one, by invariant) edge leaving node's
// outcome slot — the lookup the runner needs without exposing the
// unexported outcomeKey type across the package boundary.
func (g *Graph) EdgeFor(node, outcome string) (*Edge, bool) {
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.SourceNode == node && e.SourceOutcome == outcome {
			return e, true
		}
	}
	return nil, false
}

// EntryNode returns the graph's start node: the first node with no
// incoming edge, or g.Nodes[0] if every node has one (e.g. a single
// self-looping node).
func (g *Graph) EntryNode() *Node {
	if len(g.Nodes) == 0 {
		return nil
	}
	hasIncoming := make(map[string]bool, len(g.Nodes))
	for _, e := range g.Edges {
		hasIncoming[e.TargetNode] = true
	}
	for i := range g.Nodes {
		if !hasIncoming[g.Nodes[i].Name] {
			return &g.Nodes[i]
		}
	}
	return &g.Nodes[0]
}

// Validate checks the five invariants from spec.md §3: unique node names,
// edge endpoints exist, edge source_outcome is declared, declared outcome
// slots have exactly one outgoing edge, and no two edges share a
// (source_node, source_outcome) key. Ported from original models.py's
// Graph._validate_graph, including its missing-vs-extra error distinction.
func (g *Graph) Validate() error {
	byName := make(map[string]*Node, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if _, dup := byName[n.Name]; dup {
			return fmt.Errorf("duplicate node names detected in graph.nodes: %q", n.Name)
		}
		byName[n.Name] = n
	}

	declared := make(map[outcomeKey]struct{})
	for i := range g.Nodes {
		n := &g.Nodes[i]
		for _, slot := range n.Outcomes {
			declared[outcomeKey{n.Name, slot.Name}] = struct{}{}
		}
	}

	edgesBySource := make(map[outcomeKey]*Edge, len(g.Edges))
	for i := range g.Edges {
		e := &g.Edges[i]
		src, ok := byName[e.SourceNode]
		if !ok {
			return fmt.Errorf("edge source_node %q does not exist in graph.nodes", e.SourceNode)
		}
		if _, ok := byName[e.TargetNode]; !ok {
			return fmt.Errorf("edge target_node %q does not exist in graph.nodes", e.TargetNode)
		}

		found := false
		for _, slot := range src.Outcomes {
			if slot.Name == e.SourceOutcome {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("edge references unknown source_outcome %q on node %q", e.SourceOutcome, e.SourceNode)
		}

		key := outcomeKey{e.SourceNode, e.SourceOutcome}
		if _, dup := edgesBySource[key]; dup {
			return fmt.Errorf("multiple edges found from the same outcome slot: node=%q slot=%q", e.SourceNode, e.SourceOutcome)
		}
		edgesBySource[key] = e
	}

	var missing, extra []outcomeKey
	for key := range declared {
		if _, ok := edgesBySource[key]; !ok {
			missing = append(missing, key)
		}
	}
	for key := range edgesBySource {
		if _, ok := declared[key]; !ok {
			extra = append(extra, key)
		}
	}

	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}

	sortKeys := func(keys []outcomeKey) []outcomeKey {
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].node != keys[j].node {
				return keys[i].node < keys[j].node
			}
			return keys[i].outcome < keys[j].outcome
		})
		return keys
	}

	msg := ""
	if len(missing) > 0 {
		msg += "missing edges for declared outcome slots: " + joinKeys(sortKeys(missing))
	}
	if len(extra) > 0 {
		if msg != "" {
			msg += "; "
		}
		msg += "edges originate from undeclared outcome slots: " + joinKeys(sortKeys(extra))
	}
	return fmt.Errorf("%s", msg)
}

func joinKeys(keys []outcomeKey) string {
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s:%s", k.node, k.outcome)
	}
	return out
}
