// Package vars implements the variable-interpolation algorithm spec.md
// §8.7 requires of the (out-of-scope) configuration loader: `${NAME}` and
// `${env:NAME}` placeholders, a `$${NAME}` escape, full-match vs
// string-interpolation substitution, and cycle detection across
// variable-to-variable references — ported from original vars.py's
// VarEnv/VarRef/VarInterpolated.
package vars

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// varPattern matches `${name}` or `${env:name}`, but not the `$${name}`
// escape (the negative lookbehind in the original regex — Go's RE2 has no
// lookbehind, so escaped occurrences are masked out before matching; see
// maskEscapes/unmaskEscapes below).
var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*(?::[A-Za-z_][A-Za-z0-9_]*)?)\}`)

// fullMatchPattern recognizes a template that is *exactly* one placeholder
// (e.g. "${port}"), in which case interpolation yields the variable's raw
// typed value instead of its stringified form.
var fullMatchPattern = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*(?::[A-Za-z_][A-Za-z0-9_]*)?)\}$`)

// escapeMarker stands in for an escaped "$${" while pattern matching runs,
// so `$${NAME}` is never mistaken for a live placeholder; unmasked back to
// a literal "${" once matching is done.
const escapeMarker = "\x00vars-escaped\x00"

func maskEscapes(s string) string   { return strings.ReplaceAll(s, "$${", escapeMarker+"{") }
func unmaskEscapes(s string) string { return strings.ReplaceAll(s, escapeMarker+"{", "${") }

// Env holds the raw (pre-resolution) variable map a document declares.
type Env struct {
	vars map[string]any
}

// NewEnv wraps a raw variables map (as decoded from a config document's
// top-level `variables` block).
func NewEnv(vars map[string]any) *Env {
	if vars == nil {
		vars = map[string]any{}
	}
	return &Env{vars: vars}
}

// lookupRaw returns a variable's unresolved value: `env:NAME` reads the
// process environment, otherwise the name is looked up in the vars map.
func (e *Env) lookupRaw(name string) (any, bool) {
	if strings.HasPrefix(name, "env:") {
		envName := strings.TrimPrefix(name, "env:")
		if envName == "" {
			return nil, false
		}
		val, ok := os.LookupEnv(envName)
		if !ok {
			return nil, false
		}
		return val, true
	}
	val, ok := e.vars[name]
	return val, ok
}

// stringify renders a resolved value for substitution into a larger
// string: nil becomes "", maps/slices are JSON-encoded, everything else
// uses its default string form.
func stringify(val any) string {
	if val == nil {
		return ""
	}
	switch val.(type) {
	case map[string]any, []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(raw)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Resolve fully resolves a single variable by name, following chained
// `${OTHER}` references, and returns a configuration error on a cycle —
// spec.md §8.7's "if variable A references B via ${B}, and B resolves to
// value V, then A resolves to V; a cycle yields a configuration error."
func (e *Env) Resolve(name string) (any, error) {
	return e.resolve(name, map[string]bool{})
}

func (e *Env) resolve(name string, visiting map[string]bool) (any, error) {
	if visiting[name] {
		return nil, fmt.Errorf("vars: cycle detected resolving %q", name)
	}
	raw, ok := e.lookupRaw(name)
	if !ok {
		return "${" + name + "}", nil
	}

	s, isString := raw.(string)
	if !isString {
		return raw, nil
	}

	masked := maskEscapes(s)
	if m := fullMatchPattern.FindStringSubmatch(masked); m != nil {
		visiting[name] = true
		val, err := e.resolve(m[1], visiting)
		delete(visiting, name)
		if err != nil {
			return nil, err
		}
		return val, nil
	}

	if varPattern.MatchString(masked) {
		visiting[name] = true
		out, err := e.interpolate(s, visiting)
		delete(visiting, name)
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	return unmaskEscapes(masked), nil
}

// ResolvePlaceholder resolves one `${name}` occurrence to its stringified
// form for use inside a larger template (the non-full-match path).
func (e *Env) ResolvePlaceholder(name string) (string, error) {
	val, err := e.resolve(name, map[string]bool{})
	if err != nil {
		return "", err
	}
	return stringify(val), nil
}

// Interpolate substitutes every `${NAME}`/`${env:NAME}` placeholder in
// template with its resolved, stringified value, then unescapes any
// `$${NAME}` sequences back to a literal `${NAME}`.
func (e *Env) Interpolate(template string) (string, error) {
	return e.interpolate(template, map[string]bool{})
}

func (e *Env) interpolate(template string, visiting map[string]bool) (string, error) {
	masked := maskEscapes(template)
	var firstErr error
	out := varPattern.ReplaceAllStringFunc(masked, func(match string) string {
		if firstErr != nil {
			return match
		}
		name := varPattern.FindStringSubmatch(match)[1]
		val, err := e.resolve(name, visiting)
		if err != nil {
			firstErr = err
			return match
		}
		return stringify(val)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return unmaskEscapes(out), nil
}

// ResolveAll resolves every declared variable and returns the fully
// resolved map, detecting cycles across the whole set. cmd/omegad's config
// loading does not call it: InterpolateDocument resolves each referenced
// variable on demand against the raw Env.
func (e *Env) ResolveAll() (map[string]any, error) {
	out := make(map[string]any, len(e.vars))
	for name := range e.vars {
		val, err := e.Resolve(name)
		if err != nil {
			return nil, err
		}
		out[name] = val
	}
	return out, nil
}

// InterpolateValue walks v (the decoded output of internal/wf/config's
// loader) and resolves every `${NAME}`/`${env:NAME}` placeholder it finds
// in a string leaf, recursing into maps and slices. A leaf that is
// exactly one placeholder (e.g. "port: ${port}") resolves to the
// variable's raw typed value (an int, bool, nested map, ...); any other
// string resolves each placeholder and stringifies it into the
// surrounding text — the same full-match-vs-partial distinction the
// original's VarRef/VarInterpolated split enforces via lazy pydantic
// descriptors (see vars.py), done here as one eager document walk since
// Go has no attribute-access hook to defer it through.
func (e *Env) InterpolateValue(v any) (any, error) {
	switch val := v.(type) {
	case string:
		masked := maskEscapes(val)
		if m := fullMatchPattern.FindStringSubmatch(masked); m != nil {
			return e.resolve(m[1], map[string]bool{})
		}
		return e.Interpolate(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := e.InterpolateValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := e.InterpolateValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// InterpolateDocument applies InterpolateValue to every entry of a decoded
// configuration document (config.ExtLoader's output), returning a new map
// with every placeholder resolved.
func InterpolateDocument(doc map[string]any, env *Env) (map[string]any, error) {
	resolved, err := env.InterpolateValue(doc)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}
