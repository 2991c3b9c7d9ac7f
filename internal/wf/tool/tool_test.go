package tool

import (
	"testing"

	"github.com/pocketomega/pocket-omega/internal/wf/state"
)

func TestMergeSpecGlobalOverridesNode(t *testing.T) {
	nodeSpec := state.ToolSpec{
		Enabled:          false,
		AutoApprove:      false,
		AutoApproveRules: []string{"node-rule"},
		Config:           map[string]any{"a": 1, "b": 2},
	}
	enabled := true
	autoApprove := true
	global := GlobalSpec{
		Enabled:          &enabled,
		AutoApprove:      &autoApprove,
		AutoApproveRules: []string{"global-rule"},
		Config:           map[string]any{"b": 99},
	}

	eff := MergeSpec("exec", nodeSpec, global)

	if !eff.Enabled || !eff.AutoApprove {
		t.Fatalf("expected global enabled/auto_approve to win, got %+v", eff)
	}
	if len(eff.AutoApproveRules) != 2 {
		t.Fatalf("expected rules concatenated, got %v", eff.AutoApproveRules)
	}
	if eff.Config["a"] != 1 {
		t.Fatalf("expected node-only config key preserved, got %v", eff.Config["a"])
	}
	if eff.Config["b"] != 99 {
		t.Fatalf("expected global config to win on conflict, got %v", eff.Config["b"])
	}
}

func TestValidateArgsRejectsMissingRequired(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"todos": map[string]any{"type": "array"}},
		"required":   []any{"todos"},
	}
	if err := ValidateArgs(schema, map[string]any{}); err == nil {
		t.Fatalf("expected validation error for missing required field")
	}
	if err := ValidateArgs(schema, map[string]any{"todos": []any{}}); err != nil {
		t.Fatalf("expected valid args to pass, got %v", err)
	}
}
