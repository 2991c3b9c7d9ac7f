package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pocketomega/pocket-omega/internal/wf/persist"
	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
)

func TestSetStateManagerTracksAndFlushesExecution(t *testing.T) {
	base := t.TempDir()
	prj := runtime.NewProject(t.TempDir())
	m := New(prj, testSettings(), testFactory())

	sm := persist.NewWorkflowStateManager(persist.Options{
		BasePath:     base,
		SessionID:    "test-session",
		SaveInterval: time.Hour,
	})
	m.SetStateManager(sm)

	r, err := m.StartWorkflow(context.Background(), "main", nil)
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for workflow to finish")
		default:
		}
		if m.CurrentRunner() == nil {
			break
		}
		time.Sleep(time.Millisecond)
	}

	sm.FlushAll()

	path := filepath.Join(sm.SessionDir(), r.Execution.ID+".json.gz")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected execution snapshot on disk: %v", err)
	}
}
