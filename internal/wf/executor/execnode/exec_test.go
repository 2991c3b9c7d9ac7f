package execnode

import (
	"context"
	"testing"
	"time"

	"github.com/pocketomega/pocket-omega/internal/wf/executor"
	"github.com/pocketomega/pocket-omega/internal/wf/graphmodel"
	"github.com/pocketomega/pocket-omega/internal/wf/proc"
	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
)

func projectWithShell(t *testing.T) *runtime.Project {
	t.Helper()
	prj := runtime.NewProject(t.TempDir())
	prj.Shells = proc.New(proc.Settings{Mode: proc.ModeDirect})
	return prj
}

func drainExecNode(t *testing.T, ch <-chan executor.Event) []state.Step {
	t.Helper()
	var out []state.Step
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			if ev.Err != nil {
				t.Fatalf("executor error: %v", ev.Err)
			}
			out = append(out, *ev.Step)
		case <-timeout:
			t.Fatal("timed out waiting for exec node events")
		}
	}
}

func TestDecodeConfigRequiresCommand(t *testing.T) {
	n := &graphmodel.Node{Name: "n", Config: map[string]any{}}
	if _, err := DecodeConfig(n); err == nil {
		t.Fatal("expected an error when command is missing")
	}
}

func TestDecodeConfigValidatesExpectedReturnCodeOutcomes(t *testing.T) {
	code := 0.0
	n := &graphmodel.Node{
		Name:   "n",
		Config: map[string]any{"command": "true", "expected_return_code": code},
		Outcomes: []graphmodel.OutcomeSlot{{Name: "done"}},
	}
	if _, err := DecodeConfig(n); err == nil {
		t.Fatal("expected an error when outcomes aren't exactly {success, fail}")
	}
}

func TestRunSingleOutcomeEmitsFinalStep(t *testing.T) {
	n := &graphmodel.Node{
		Name:     "n",
		Config:   map[string]any{"command": "echo hello"},
		Outcomes: []graphmodel.OutcomeSlot{{Name: "done"}},
	}
	prj := projectWithShell(t)
	ex, err := New(n, prj)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	run := state.NewWorkflowExecution("wf")
	ne := state.NewNodeExecution("n", nil)
	run.AddNodeExecution(ne)

	ch := ex.Run(context.Background(), executor.Input{Execution: ne, Run: run}, nil)
	steps := drainExecNode(t, ch)
	if len(steps) == 0 {
		t.Fatal("no steps emitted")
	}
	last := steps[len(steps)-1]
	if !last.IsFinal || last.OutcomeName != "done" {
		t.Fatalf("last step = %+v, want final with outcome 'done'", last)
	}
	if last.Message == nil || !contains(last.Message.Text, "hello") {
		t.Fatalf("final message missing command output: %+v", last.Message)
	}
}

func TestRunExpectedReturnCodeSelectsSuccessOrFail(t *testing.T) {
	code := 0.0
	n := &graphmodel.Node{
		Name:     "n",
		Config:   map[string]any{"command": "exit 1", "expected_return_code": code},
		Outcomes: []graphmodel.OutcomeSlot{{Name: "success"}, {Name: "fail"}},
	}
	prj := projectWithShell(t)
	ex, err := New(n, prj)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	run := state.NewWorkflowExecution("wf")
	ne := state.NewNodeExecution("n", nil)
	run.AddNodeExecution(ne)

	ch := ex.Run(context.Background(), executor.Input{Execution: ne, Run: run}, nil)
	steps := drainExecNode(t, ch)
	last := steps[len(steps)-1]
	if last.OutcomeName != "fail" {
		t.Fatalf("outcome = %q, want fail (exit code 1 != expected 0)", last.OutcomeName)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
