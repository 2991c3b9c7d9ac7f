package commands

import (
	"context"
	"strings"
	"testing"

	"github.com/pocketomega/pocket-omega/internal/wf/executor"
	"github.com/pocketomega/pocket-omega/internal/wf/graphmodel"
	"github.com/pocketomega/pocket-omega/internal/wf/manager"
	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
	wfsettings "github.com/pocketomega/pocket-omega/internal/wf/settings"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
)

type fakeExecutor struct{}

func (fakeExecutor) Run(ctx context.Context, in executor.Input, replies <-chan executor.Reply) <-chan executor.Event {
	out := make(chan executor.Event, 1)
	step := state.NewStep(in.Execution.ID, state.StepOutputMessage)
	step.IsComplete = true
	step.IsFinal = true
	step.Message = &state.Message{Role: state.RoleAssistant, Text: "done"}
	out <- executor.Event{Step: &step}
	close(out)
	return out
}

func testManager(t *testing.T) *manager.Manager {
	t.Helper()
	f := executor.NewFactory()
	f.Register("fake", func(node *graphmodel.Node, project *runtime.Project) (executor.Executor, error) {
		return fakeExecutor{}, nil
	})
	st := &wfsettings.Settings{
		Workflows: map[string]*wfsettings.WorkflowConfig{
			"main": {Name: "main", Nodes: []wfsettings.Node{{Name: "only", Type: "fake"}}},
		},
	}
	return manager.New(runtime.NewProject(t.TempDir()), st, f)
}

type fakeHost struct {
	mgr  *manager.Manager
	sent []string
}

func (h *fakeHost) SendText(text string) error {
	h.sent = append(h.sent, text)
	return nil
}
func (h *fakeHost) Manager() *manager.Manager { return h.mgr }

func TestExecuteNonCommandFallsThrough(t *testing.T) {
	r := NewRegistry()
	host := &fakeHost{mgr: testManager(t)}
	handled, err := Execute(context.Background(), r, host, "just chatting")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if handled {
		t.Fatal("expected non-command text to fall through")
	}
}

func TestExecuteUnknownCommand(t *testing.T) {
	r := NewRegistry()
	host := &fakeHost{mgr: testManager(t)}
	handled, err := Execute(context.Background(), r, host, "/nope")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !handled {
		t.Fatal("expected command line to be handled")
	}
	if len(host.sent) != 1 || !strings.Contains(host.sent[0], "Unknown command") {
		t.Fatalf("unexpected reply: %v", host.sent)
	}
}

func TestExecuteListWorkflows(t *testing.T) {
	r := NewRegistry()
	host := &fakeHost{mgr: testManager(t)}
	handled, err := Execute(context.Background(), r, host, "/workflows")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !handled || len(host.sent) != 1 || !strings.Contains(host.sent[0], "main") {
		t.Fatalf("unexpected result: handled=%v sent=%v", handled, host.sent)
	}
}

func TestExecuteRunUnknownWorkflowIsCommandError(t *testing.T) {
	r := NewRegistry()
	host := &fakeHost{mgr: testManager(t)}
	if _, err := Execute(context.Background(), r, host, "/run nope"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(host.sent) != 1 || !strings.Contains(host.sent[0], "Unknown workflow") {
		t.Fatalf("unexpected reply: %v", host.sent)
	}
}

func TestExecuteRunStartsWorkflow(t *testing.T) {
	r := NewRegistry()
	host := &fakeHost{mgr: testManager(t)}
	if _, err := Execute(context.Background(), r, host, "/run main"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(host.sent) != 0 {
		t.Fatalf("unexpected error reply: %v", host.sent)
	}
}

func TestExecuteHelpListsCommands(t *testing.T) {
	r := NewRegistry()
	host := &fakeHost{mgr: testManager(t)}
	if _, err := Execute(context.Background(), r, host, "/help"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(host.sent) != 1 || !strings.Contains(host.sent[0], "/workflows") {
		t.Fatalf("unexpected help output: %v", host.sent)
	}
}
