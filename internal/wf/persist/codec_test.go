package persist

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pocketomega/pocket-omega/internal/wf/state"
)

func sampleExecution() *state.WorkflowExecution {
	exec := state.NewWorkflowExecution("demo")
	ne := state.NewNodeExecution("start", nil)
	msg := state.NewMessage(state.RoleUser, "hello")
	ne.InputMessages = append(ne.InputMessages, msg)
	step := state.NewStep(ne.ID, state.StepOutputMessage)
	step.Message = &msg
	step.IsComplete = true
	step.IsFinal = true
	ne.Steps = append(ne.Steps, step)
	exec.NodeExecutions[ne.ID] = ne
	exec.Steps = append(exec.Steps, step)
	return exec
}

func TestMarshalGzipRoundTrip(t *testing.T) {
	exec := sampleExecution()
	data, err := MarshalGzip(exec)
	if err != nil {
		t.Fatalf("MarshalGzip: %v", err)
	}
	got, err := UnmarshalGzip(data)
	if err != nil {
		t.Fatalf("UnmarshalGzip: %v", err)
	}
	if got.ID != exec.ID || got.WorkflowName != exec.WorkflowName {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Steps) != 1 || got.Steps[0].Message == nil || got.Steps[0].Message.Text != "hello" {
		t.Fatalf("unexpected steps after round trip: %+v", got.Steps)
	}
}

func TestSaveAndLoadFromPath(t *testing.T) {
	exec := sampleExecution()
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", exec.ID+".json.gz")

	if err := SaveToPath(path, exec); err != nil {
		t.Fatalf("SaveToPath: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected final file to exist without .tmp suffix: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected .tmp file to be renamed away, stat err: %v", err)
	}

	got, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if got.ID != exec.ID {
		t.Fatalf("loaded execution id mismatch: got %s want %s", got.ID, exec.ID)
	}
}

func TestSaveToPathOverwritesAtomically(t *testing.T) {
	exec := sampleExecution()
	dir := t.TempDir()
	path := filepath.Join(dir, exec.ID+".json.gz")

	if err := SaveToPath(path, exec); err != nil {
		t.Fatalf("first SaveToPath: %v", err)
	}
	exec.UpdatedAt = exec.UpdatedAt.Add(time.Second)
	exec.Steps[0].OutcomeName = "changed"
	if err := SaveToPath(path, exec); err != nil {
		t.Fatalf("second SaveToPath: %v", err)
	}

	got, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if got.Steps[0].OutcomeName != "changed" {
		t.Fatalf("expected overwritten content, got %+v", got.Steps[0])
	}
}
