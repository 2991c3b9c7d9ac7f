package httpinput

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/pocketomega/pocket-omega/internal/wf/executor"
	"github.com/pocketomega/pocket-omega/internal/wf/graphmodel"
	"github.com/pocketomega/pocket-omega/internal/wf/httpd"
	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
)

func freePort() int {
	return 19080 + int(time.Now().UnixNano()%1000)
}

func waitForListener(t *testing.T, port int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/__nonexistent__")
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRunWaitsThenCompletesOnPostedMessage(t *testing.T) {
	port := freePort()
	server := httpd.New(httpd.Settings{Host: "127.0.0.1", Port: port, SecretKey: "topsecret"})

	n := &graphmodel.Node{
		Name:     "n",
		Config:   map[string]any{"path": "/in", "message": "waiting"},
		Outcomes: []graphmodel.OutcomeSlot{{Name: "done"}},
	}
	prj := runtime.NewProject(t.TempDir())
	ex, err := New(n, prj, server)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	run := state.NewWorkflowExecution("wf")
	ne := state.NewNodeExecution("n", nil)
	run.AddNodeExecution(ne)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := ex.Run(ctx, executor.Input{Execution: ne, Run: run}, nil)

	waiting := <-ch
	if waiting.Err != nil || waiting.Step.Message.Text != "waiting" {
		t.Fatalf("unexpected waiting step: %+v", waiting)
	}

	waitForListener(t, port)

	req, _ := http.NewRequest(http.MethodPost, "http://127.0.0.1:"+strconv.Itoa(port)+"/in", bytes.NewBufferString(`{"text":"hello there"}`))
	req.Header.Set("Authorization", "Bearer topsecret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /in: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	final := <-ch
	if final.Err != nil {
		t.Fatalf("unexpected error: %v", final.Err)
	}
	if !final.Step.IsFinal || final.Step.OutcomeName != "done" {
		t.Fatalf("unexpected final step: %+v", final.Step)
	}
	if final.Step.Message.Text != "```\nhello there\n```" {
		t.Fatalf("message = %q, want fenced plain text", final.Step.Message.Text)
	}
}

func TestRunRejectsPostWithoutBearerAuth(t *testing.T) {
	port := freePort() + 1
	server := httpd.New(httpd.Settings{Host: "127.0.0.1", Port: port, SecretKey: "topsecret"})

	n := &graphmodel.Node{Name: "n", Config: map[string]any{"path": "/in"}}
	prj := runtime.NewProject(t.TempDir())
	ex, err := New(n, prj, server)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	run := state.NewWorkflowExecution("wf")
	ne := state.NewNodeExecution("n", nil)
	run.AddNodeExecution(ne)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := ex.Run(ctx, executor.Input{Execution: ne, Run: run}, nil)
	<-ch // waiting step

	waitForListener(t, port)

	resp, err := http.Post("http://127.0.0.1:"+strconv.Itoa(port)+"/in", "application/json", bytes.NewBufferString(`{"text":"x"}`))
	if err != nil {
		t.Fatalf("POST without auth: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}
