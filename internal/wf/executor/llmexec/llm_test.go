package llmexec

import (
	"context"
	"testing"
	"time"

	"github.com/pocketomega/pocket-omega/internal/wf/executor"
	"github.com/pocketomega/pocket-omega/internal/wf/executor/llm/preprocess"
	"github.com/pocketomega/pocket-omega/internal/wf/graphmodel"
	"github.com/pocketomega/pocket-omega/internal/wf/llm"
	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
)

type fakeProvider struct {
	resp *llm.Response
	err  error
	sawReq llm.Request
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) StreamComplete(ctx context.Context, req llm.Request, onDelta llm.OnDelta) (*llm.Response, error) {
	f.sawReq = req
	if f.err != nil {
		return nil, f.err
	}
	if onDelta != nil && f.resp != nil {
		onDelta(f.resp.Content)
	}
	return f.resp, nil
}

func node(cfg map[string]any) *graphmodel.Node {
	return &graphmodel.Node{
		Name:            "n",
		Type:            "llm",
		Outcomes:        []graphmodel.OutcomeSlot{{Name: "done"}},
		OutcomeStrategy: graphmodel.OutcomeStrategyTag,
		Config:          cfg,
	}
}

func runExecutor(t *testing.T, ex executor.Executor, ne *state.NodeExecution, run *state.WorkflowExecution) []state.Step {
	t.Helper()
	ch := ex.Run(context.Background(), executor.Input{Execution: ne, Run: run}, nil)
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
			t.Fatal("timed out waiting for executor events")
		}
	}
}

func TestDecodeConfigParsesPreprocessors(t *testing.T) {
	n := node(map[string]any{
		"model":         "gpt-test",
		"preprocessors": []any{"workspace_tree", map[string]any{"name": "workspace_tree", "mode": "user"}},
	})
	cfg, err := DecodeConfig(n)
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if len(cfg.Preprocessors) != 2 {
		t.Fatalf("got %d preprocessors, want 2", len(cfg.Preprocessors))
	}
	if cfg.Preprocessors[0].Mode != preprocess.ModeSystem {
		t.Fatalf("preprocessors[0].Mode = %v, want system default", cfg.Preprocessors[0].Mode)
	}
	if cfg.Preprocessors[1].Mode != preprocess.ModeUser {
		t.Fatalf("preprocessors[1].Mode = %v, want user", cfg.Preprocessors[1].Mode)
	}
}

func TestDecodeConfigRequiresModel(t *testing.T) {
	if _, err := DecodeConfig(node(map[string]any{})); err == nil {
		t.Fatal("expected an error when model is missing")
	}
}

func TestRunEmitsFinalOutcomeFromTaggedText(t *testing.T) {
	provider := &fakeProvider{resp: &llm.Response{Content: "all good\nOUTCOME: done"}}
	prj := runtime.NewProject(t.TempDir())
	prj.LLM = provider

	n := node(map[string]any{"model": "gpt-test", "system": "be terse"})
	ex, err := New(n, prj)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	run := state.NewWorkflowExecution("wf")
	ne := state.NewNodeExecution("n", nil)
	run.AddNodeExecution(ne)

	steps := runExecutor(t, ex, ne, run)
	if len(steps) == 0 {
		t.Fatal("no steps emitted")
	}
	last := steps[len(steps)-1]
	if !last.IsFinal || last.OutcomeName != "done" {
		t.Fatalf("last step = %+v, want final with outcome 'done'", last)
	}
}

func TestBuildRequestAppliesRegisteredPreprocessor(t *testing.T) {
	name := "test_llmexec_preprocessor"
	if err := preprocess.Register(name, "", func(prj *runtime.Project, spec preprocess.Spec, text string) (string, error) {
		return "INJECTED", nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer preprocess.Unregister(name)

	provider := &fakeProvider{resp: &llm.Response{Content: "OUTCOME: done"}}
	prj := runtime.NewProject(t.TempDir())
	prj.LLM = provider

	n := node(map[string]any{
		"model":         "gpt-test",
		"system":        "base system",
		"preprocessors": []any{name},
	})
	ex, err := New(n, prj)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	run := state.NewWorkflowExecution("wf")
	ne := state.NewNodeExecution("n", nil)
	run.AddNodeExecution(ne)

	runExecutor(t, ex, ne, run)

	found := false
	for _, m := range provider.sawReq.Messages {
		if m.Role == llm.RoleSystem && containsSubstr(m.Content, "INJECTED") {
			found = true
		}
	}
	if !found {
		t.Fatalf("system message did not include preprocessor output: %+v", provider.sawReq.Messages)
	}
}

func containsSubstr(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
