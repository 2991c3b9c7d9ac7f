package graphmodel

import "testing"

func linear() Graph {
	return Graph{
		Nodes: []Node{
			{Name: "n1", Type: "fake", Outcomes: []OutcomeSlot{{Name: "branch"}}},
			{Name: "n2", Type: "fake", Outcomes: []OutcomeSlot{{Name: "go"}, {Name: "stop"}}},
			{Name: "n3", Type: "fake"},
		},
		Edges: []Edge{
			{SourceNode: "n1", SourceOutcome: "branch", TargetNode: "n2"},
			{SourceNode: "n2", SourceOutcome: "go", TargetNode: "n3"},
			{SourceNode: "n2", SourceOutcome: "stop", TargetNode: "n3"},
		},
	}
}

func TestValidateAcceptsWellFormedGraph(t *testing.T) {
	g := linear()
	if err := g.Validate(); err != nil {
		t.Fatalf("expected valid graph, got %v", err)
	}
}

func TestValidateRejectsDuplicateNodeNames(t *testing.T) {
	g := linear()
	g.Nodes = append(g.Nodes, Node{Name: "n1", Type: "fake"})
	if err := g.Validate(); err == nil {
		t.Fatalf("expected error for duplicate node name")
	}
}

func TestValidateRejectsMissingEdgeForOutcome(t *testing.T) {
	g := linear()
	g.Edges = g.Edges[:2] // drop n2.stop -> n3
	if err := g.Validate(); err == nil {
		t.Fatalf("expected error for missing edge covering n2.stop")
	}
}

func TestValidateRejectsEdgeFromUndeclaredOutcome(t *testing.T) {
	g := linear()
	g.Edges = append(g.Edges, Edge{SourceNode: "n3", SourceOutcome: "ghost", TargetNode: "n1"})
	if err := g.Validate(); err == nil {
		t.Fatalf("expected error for edge from undeclared outcome")
	}
}

func TestValidateRejectsDuplicateEdgeKey(t *testing.T) {
	g := linear()
	g.Edges = append(g.Edges, Edge{SourceNode: "n1", SourceOutcome: "branch", TargetNode: "n3"})
	if err := g.Validate(); err == nil {
		t.Fatalf("expected error for duplicate (source,outcome) edge key")
	}
}

func TestValidateRejectsUnknownEdgeEndpoints(t *testing.T) {
	g := linear()
	g.Edges = append(g.Edges, Edge{SourceNode: "missing", SourceOutcome: "x", TargetNode: "n1"})
	if err := g.Validate(); err == nil {
		t.Fatalf("expected error for unknown edge source_node")
	}
}
