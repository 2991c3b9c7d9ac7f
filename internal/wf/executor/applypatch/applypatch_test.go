package applypatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pocketomega/pocket-omega/internal/wf/executor"
	"github.com/pocketomega/pocket-omega/internal/wf/graphmodel"
	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
)

func drainApplyPatch(t *testing.T, ch <-chan executor.Event) state.Step {
	t.Helper()
	var last state.Step
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return last
			}
			if ev.Err != nil {
				t.Fatalf("executor error: %v", ev.Err)
			}
			last = *ev.Step
		case <-timeout:
			t.Fatal("timed out waiting for apply_patch events")
		}
	}
}

func TestDecodeConfigRequiresResetPolicy(t *testing.T) {
	n := &graphmodel.Node{Name: "n", Config: map[string]any{}, ResetPolicy: graphmodel.ResetPolicyKeep}
	if _, err := DecodeConfig(n); err == nil {
		t.Fatal("expected an error when reset_policy isn't 'reset'")
	}
}

func TestRunAppliesV4APatchToWorkspace(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\ntwo\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	n := &graphmodel.Node{
		Name:        "n",
		Config:      map[string]any{"format": "v4a"},
		ResetPolicy: graphmodel.ResetPolicyReset,
		Outcomes:    []graphmodel.OutcomeSlot{{Name: "ok"}, {Name: "fail"}},
	}
	prj := runtime.NewProject(dir)
	ex, err := New(n, prj)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	patchText := "*** Begin Patch\n" +
		"*** Update File: a.txt\n" +
		"@@\n" +
		"-two\n" +
		"+TWO\n" +
		"*** End Patch\n"

	run := state.NewWorkflowExecution("wf")
	ne := state.NewNodeExecution("n", nil)
	ne.InputMessages = append(ne.InputMessages, state.NewMessage(state.RoleUser, patchText))
	run.AddNodeExecution(ne)

	ch := ex.Run(context.Background(), executor.Input{Execution: ne, Run: run}, nil)
	last := drainApplyPatch(t, ch)
	if !last.IsFinal {
		t.Fatalf("expected a final step, got %+v", last)
	}

	got, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "one\nTWO\n" {
		t.Fatalf("content = %q, want %q", got, "one\nTWO\n")
	}
}

func TestRunRejectsUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	n := &graphmodel.Node{
		Name:        "n",
		Config:      map[string]any{"format": "nonsense"},
		ResetPolicy: graphmodel.ResetPolicyReset,
	}
	prj := runtime.NewProject(dir)
	ex, err := New(n, prj)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	run := state.NewWorkflowExecution("wf")
	ne := state.NewNodeExecution("n", nil)
	ne.InputMessages = append(ne.InputMessages, state.NewMessage(state.RoleUser, "anything"))
	run.AddNodeExecution(ne)

	ch := ex.Run(context.Background(), executor.Input{Execution: ne, Run: run}, nil)
	last := drainApplyPatch(t, ch)
	if last.OutcomeName != "fail" {
		t.Fatalf("outcome = %q, want fail", last.OutcomeName)
	}
}

func TestRunFailsOnEmptyPatchText(t *testing.T) {
	dir := t.TempDir()
	n := &graphmodel.Node{
		Name:        "n",
		Config:      map[string]any{"format": "v4a"},
		ResetPolicy: graphmodel.ResetPolicyReset,
	}
	prj := runtime.NewProject(dir)
	ex, err := New(n, prj)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	run := state.NewWorkflowExecution("wf")
	ne := state.NewNodeExecution("n", nil)
	run.AddNodeExecution(ne)

	ch := ex.Run(context.Background(), executor.Input{Execution: ne, Run: run}, nil)
	last := drainApplyPatch(t, ch)
	if last.OutcomeName != "fail" {
		t.Fatalf("outcome = %q, want fail for missing patch text", last.OutcomeName)
	}
}
