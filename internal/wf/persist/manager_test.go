package persist

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWorkflowStateManagerFlushDirtyWritesOnlyDirty(t *testing.T) {
	dir := t.TempDir()
	mgr := NewWorkflowStateManager(Options{BasePath: dir, SessionID: "sess-a", SaveInterval: time.Hour})

	execA := sampleExecution()
	execB := sampleExecution()
	mgr.Track(execA)
	mgr.Track(execB)
	mgr.NotifyChanged(execA)

	mgr.FlushDirty()

	sessionDir := mgr.SessionDir()
	if _, err := os.Stat(filepath.Join(sessionDir, execA.ID+".json.gz")); err != nil {
		t.Fatalf("expected dirty execution to be flushed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(sessionDir, execB.ID+".json.gz")); !os.IsNotExist(err) {
		t.Fatalf("expected untouched execution to remain unflushed, stat err: %v", err)
	}
}

func TestWorkflowStateManagerFlushAllWritesEverything(t *testing.T) {
	dir := t.TempDir()
	mgr := NewWorkflowStateManager(Options{BasePath: dir, SessionID: "sess-b", SaveInterval: time.Hour})

	execA := sampleExecution()
	execB := sampleExecution()
	mgr.Track(execA)
	mgr.Track(execB)

	mgr.FlushAll()

	sessionDir := mgr.SessionDir()
	for _, id := range []string{execA.ID, execB.ID} {
		if _, err := os.Stat(filepath.Join(sessionDir, id+".json.gz")); err != nil {
			t.Fatalf("expected execution %s flushed: %v", id, err)
		}
	}
}

func TestWorkflowStateManagerNotifyChangedFiresListeners(t *testing.T) {
	dir := t.TempDir()
	mgr := NewWorkflowStateManager(Options{BasePath: dir, SessionID: "sess-c"})

	var seen []string
	mgr.Subscribe(func(executionID string) { seen = append(seen, executionID) })

	exec := sampleExecution()
	mgr.NotifyChanged(exec)

	if len(seen) != 1 || seen[0] != exec.ID {
		t.Fatalf("expected listener to see %s, got %v", exec.ID, seen)
	}
}

func TestWorkflowStateManagerSessionDirIncrementsSequence(t *testing.T) {
	dir := t.TempDir()
	mgr1 := NewWorkflowStateManager(Options{BasePath: dir, SessionID: "first"})
	name1 := filepath.Base(mgr1.SessionDir())
	if err := os.MkdirAll(mgr1.SessionDir(), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	mgr2 := NewWorkflowStateManager(Options{BasePath: dir, SessionID: "second"})
	name2 := filepath.Base(mgr2.SessionDir())

	if name1 == name2 {
		t.Fatalf("expected distinct session dir names, both got %s", name1)
	}
}

func TestWorkflowStateManagerStartAndShutdownFlushesOnExit(t *testing.T) {
	dir := t.TempDir()
	mgr := NewWorkflowStateManager(Options{BasePath: dir, SessionID: "sess-d", SaveInterval: time.Hour})

	exec := sampleExecution()
	mgr.Track(exec)

	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if _, err := os.Stat(filepath.Join(mgr.SessionDir(), exec.ID+".json.gz")); err != nil {
		t.Fatalf("expected final flush on shutdown: %v", err)
	}
}

func TestWorkflowStateManagerEnforceRetentionDeletesOldestOtherSessions(t *testing.T) {
	dir := t.TempDir()
	mgr := NewWorkflowStateManager(Options{BasePath: dir, SessionID: "keep-me", MaxTotalLogBytes: 1})

	// Seed an old, unrelated session directory with some bytes.
	oldDir := filepath.Join(mgr.SessionsRoot(), "2000_01_01_1_old-session")
	if err := os.MkdirAll(oldDir, 0o755); err != nil {
		t.Fatalf("mkdir old session: %v", err)
	}
	if err := os.WriteFile(filepath.Join(oldDir, "x.json.gz"), []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("seed old session file: %v", err)
	}
	old := time.Now().Add(-24 * time.Hour)
	if err := os.Chtimes(oldDir, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	exec := sampleExecution()
	mgr.Track(exec)
	mgr.FlushAll()

	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Fatalf("expected old session directory to be pruned, stat err: %v", err)
	}
	if _, err := os.Stat(filepath.Join(mgr.SessionDir(), exec.ID+".json.gz")); err != nil {
		t.Fatalf("expected current session to survive retention: %v", err)
	}
}
