package autocomplete

import (
	"context"
	"testing"

	"github.com/pocketomega/pocket-omega/internal/wf/executor"
	"github.com/pocketomega/pocket-omega/internal/wf/graphmodel"
	"github.com/pocketomega/pocket-omega/internal/wf/manager"
	"github.com/pocketomega/pocket-omega/internal/wf/manager/commands"
	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
	wfsettings "github.com/pocketomega/pocket-omega/internal/wf/settings"
)

type noopExecutor struct{}

func (noopExecutor) Run(ctx context.Context, in executor.Input, replies <-chan executor.Reply) <-chan executor.Event {
	out := make(chan executor.Event)
	close(out)
	return out
}

func testManager(t *testing.T) *manager.Manager {
	t.Helper()
	f := executor.NewFactory()
	f.Register("fake", func(node *graphmodel.Node, project *runtime.Project) (executor.Executor, error) {
		return noopExecutor{}, nil
	})
	st := &wfsettings.Settings{
		Workflows: map[string]*wfsettings.WorkflowConfig{
			"build":  {Name: "build", Nodes: []wfsettings.Node{{Name: "only", Type: "fake"}}},
			"deploy": {Name: "deploy", Nodes: []wfsettings.Node{{Name: "only", Type: "fake"}}},
		},
	}
	return manager.New(runtime.NewProject(t.TempDir()), st, f)
}

func TestCommandProviderSuggestsMatchingNames(t *testing.T) {
	mgr := testManager(t)
	cmds := commands.NewRegistry()
	items, err := CommandProvider(context.Background(), cmds, mgr, "/ru", 0, 3)
	if err != nil {
		t.Fatalf("CommandProvider: %v", err)
	}
	found := false
	for _, item := range items {
		if item.InsertText == "/run " {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected /run suggestion, got %+v", items)
	}
}

func TestCommandProviderIgnoresNonFirstRow(t *testing.T) {
	mgr := testManager(t)
	cmds := commands.NewRegistry()
	items, err := CommandProvider(context.Background(), cmds, mgr, "/ru", 1, 3)
	if err != nil {
		t.Fatalf("CommandProvider: %v", err)
	}
	if items != nil {
		t.Fatalf("expected no suggestions on non-first row, got %+v", items)
	}
}

func TestRunWorkflowProviderFiltersByNeedle(t *testing.T) {
	mgr := testManager(t)
	items, err := RunWorkflowProvider(context.Background(), nil, mgr, "/run de", 0, 7)
	if err != nil {
		t.Fatalf("RunWorkflowProvider: %v", err)
	}
	if len(items) != 1 || items[0].InsertText != "/run deploy" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestRunWorkflowProviderListsAllWithBarePrefix(t *testing.T) {
	mgr := testManager(t)
	items, err := RunWorkflowProvider(context.Background(), nil, mgr, "/run ", 0, 5)
	if err != nil {
		t.Fatalf("RunWorkflowProvider: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 workflows, got %+v", items)
	}
}

func TestRunWorkflowProviderIgnoresUnrelatedText(t *testing.T) {
	mgr := testManager(t)
	items, err := RunWorkflowProvider(context.Background(), nil, mgr, "hello", 0, 5)
	if err != nil {
		t.Fatalf("RunWorkflowProvider: %v", err)
	}
	if items != nil {
		t.Fatalf("expected nil, got %+v", items)
	}
}

func TestCompleterCombinesProviders(t *testing.T) {
	mgr := testManager(t)
	cmds := commands.NewRegistry()
	c := NewCompleter()
	items, err := c.Complete(context.Background(), cmds, mgr, "/run", 0, 4)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("expected some suggestions")
	}
}
