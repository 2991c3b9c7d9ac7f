package preprocess

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
)

func TestDecodeSpecStringShorthand(t *testing.T) {
	spec, err := DecodeSpec("workspace_tree")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Name != "workspace_tree" || spec.Mode != ModeSystem || spec.Prepend {
		t.Fatalf("unexpected spec: %+v", spec)
	}
}

func TestDecodeSpecMapping(t *testing.T) {
	raw := map[string]any{
		"name":    "workspace_tree",
		"mode":    "user",
		"prepend": true,
		"options": map[string]any{"path": "src"},
	}
	spec, err := DecodeSpec(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Mode != ModeUser || !spec.Prepend || spec.Options["path"] != "src" {
		t.Fatalf("unexpected spec: %+v", spec)
	}
}

func TestDecodeSpecRejectsEmptyName(t *testing.T) {
	if _, err := DecodeSpec(""); err == nil {
		t.Fatal("expected error for empty string spec")
	}
	if _, err := DecodeSpec(map[string]any{}); err == nil {
		t.Fatal("expected error for mapping with no name")
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	name := "test_preprocessor_dup"
	fn := func(prj *runtime.Project, spec Spec, text string) (string, error) { return text, nil }
	if err := Register(name, "", fn); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	defer Unregister(name)
	if err := Register(name, "", fn); err == nil {
		t.Fatal("expected an error re-registering the same name")
	}
}

func TestApplySkipsUnregisteredAndAppliesRegistered(t *testing.T) {
	name := "test_preprocessor_apply"
	if err := Register(name, "", func(prj *runtime.Project, spec Spec, text string) (string, error) {
		return "extra", nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer Unregister(name)

	specs := []Spec{
		{Name: "does_not_exist"},
		{Name: name, Mode: ModeSystem},
	}
	system, user, err := Apply(specs, nil, "base", "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if system != "base\n\nextra" {
		t.Fatalf("system = %q, want %q", system, "base\n\nextra")
	}
	if user != "" {
		t.Fatalf("user = %q, want empty", user)
	}
}

func TestApplyPrependJoinsBeforeExistingText(t *testing.T) {
	name := "test_preprocessor_prepend"
	if err := Register(name, "", func(prj *runtime.Project, spec Spec, text string) (string, error) {
		return "PREFIX", nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer Unregister(name)

	system, _, err := Apply([]Spec{{Name: name, Mode: ModeSystem, Prepend: true}}, nil, "base", "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if system != "PREFIX\n\nbase" {
		t.Fatalf("system = %q, want %q", system, "PREFIX\n\nbase")
	}
}

func TestWorkspaceTreeListsFiles(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "a.txt")
	writeTemp(t, dir, "sub/b.txt")

	prj := runtime.NewProject(dir)
	out, err := workspaceTree(prj, Spec{Options: map[string]any{}}, "")
	if err != nil {
		t.Fatalf("workspaceTree: %v", err)
	}
	if !strings.Contains(out, "a.txt") || !strings.Contains(out, "sub/b.txt") {
		t.Fatalf("workspace_tree output missing expected entries: %q", out)
	}
}

func TestWorkspaceTreeRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	prj := runtime.NewProject(dir)
	if _, err := workspaceTree(prj, Spec{Options: map[string]any{"path": "../../etc"}}, ""); err == nil {
		t.Fatal("expected an error for a path escaping the workspace")
	}
}

func writeTemp(t *testing.T, dir, rel string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}
