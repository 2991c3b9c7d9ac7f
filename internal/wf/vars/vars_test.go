package vars

import (
	"os"
	"testing"
)

func TestInterpolateFullMatchPreservesType(t *testing.T) {
	env := NewEnv(map[string]any{"port": 8080})
	val, err := env.Resolve("port")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if val != 8080 {
		t.Fatalf("expected 8080, got %v (%T)", val, val)
	}
}

func TestInterpolateStringSubstitution(t *testing.T) {
	env := NewEnv(map[string]any{"host": "localhost", "port": 8080})
	out, err := env.Interpolate("http://${host}:${port}/")
	if err != nil {
		t.Fatalf("interpolate: %v", err)
	}
	if out != "http://localhost:8080/" {
		t.Fatalf("got %q", out)
	}
}

func TestInterpolateEnvVar(t *testing.T) {
	os.Setenv("VARS_TEST_X", "abc")
	defer os.Unsetenv("VARS_TEST_X")
	env := NewEnv(nil)
	out, err := env.Interpolate("${env:VARS_TEST_X}")
	if err != nil {
		t.Fatalf("interpolate: %v", err)
	}
	if out != "abc" {
		t.Fatalf("got %q", out)
	}
}

func TestInterpolateEscape(t *testing.T) {
	env := NewEnv(map[string]any{"name": "bob"})
	out, err := env.Interpolate("literal $${name} but interpolated ${name}")
	if err != nil {
		t.Fatalf("interpolate: %v", err)
	}
	if out != "literal ${name} but interpolated bob" {
		t.Fatalf("got %q", out)
	}
}

func TestInterpolateUnknownVarLeftAsIs(t *testing.T) {
	env := NewEnv(nil)
	out, err := env.Interpolate("${missing}")
	if err != nil {
		t.Fatalf("interpolate: %v", err)
	}
	if out != "${missing}" {
		t.Fatalf("got %q", out)
	}
}

func TestVarChainResolvesTransitively(t *testing.T) {
	env := NewEnv(map[string]any{"a": "${b}", "b": "${c}", "c": 42})
	val, err := env.Resolve("a")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if val != 42 {
		t.Fatalf("expected 42, got %v", val)
	}
}

func TestVarCycleDetected(t *testing.T) {
	env := NewEnv(map[string]any{"a": "${b}", "b": "${a}"})
	if _, err := env.Resolve("a"); err == nil {
		t.Fatal("expected cycle error, got nil")
	}
}

func TestResolveAllDetectsCycleAcrossSet(t *testing.T) {
	env := NewEnv(map[string]any{"a": "${b}", "b": "${a}", "c": "fine"})
	if _, err := env.ResolveAll(); err == nil {
		t.Fatal("expected cycle error from ResolveAll")
	}
}

func TestInterpolateDocumentPreservesTypeOnFullMatch(t *testing.T) {
	env := NewEnv(map[string]any{"port": 8080, "enabled": true})
	doc := map[string]any{
		"server": map[string]any{
			"port":    "${port}",
			"enabled": "${enabled}",
		},
	}
	out, err := InterpolateDocument(doc, env)
	if err != nil {
		t.Fatalf("InterpolateDocument: %v", err)
	}
	server := out["server"].(map[string]any)
	if server["port"] != 8080 {
		t.Fatalf("expected typed int 8080, got %#v", server["port"])
	}
	if server["enabled"] != true {
		t.Fatalf("expected typed bool true, got %#v", server["enabled"])
	}
}

func TestInterpolateDocumentStringifiesPartialMatchAndRecursesSlices(t *testing.T) {
	env := NewEnv(map[string]any{"name": "omega"})
	doc := map[string]any{
		"greeting": "hello ${name}!",
		"items":    []any{"a-${name}", map[string]any{"k": "${name}"}},
	}
	out, err := InterpolateDocument(doc, env)
	if err != nil {
		t.Fatalf("InterpolateDocument: %v", err)
	}
	if out["greeting"] != "hello omega!" {
		t.Fatalf("got %#v", out["greeting"])
	}
	items := out["items"].([]any)
	if items[0] != "a-omega" {
		t.Fatalf("got %#v", items[0])
	}
	if items[1].(map[string]any)["k"] != "omega" {
		t.Fatalf("got %#v", items[1])
	}
}
