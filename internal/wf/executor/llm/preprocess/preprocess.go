// Package preprocess implements the small named-registry "preprocessor"
// mechanism the llm executor's system/user prompt assembly runs through
// before a request is sent to the model — ported from original
// runner/executors/llm/preprocessors/base.py's PreprocessorFactory and
// apply_preprocessors, and models.py's PreprocessorSpec coercion rules.
// spec.md §3/§4.1 names "preprocessor outputs" feeding the LLM system
// prompt without specifying the mechanism; this fills that in.
package preprocess

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
)

// Mode selects which side of the conversation a preprocessor's output is
// folded into, mirroring PreprocessorSpec.mode's Role values (only System
// and User are meaningful targets here).
type Mode string

const (
	ModeSystem Mode = "system"
	ModeUser   Mode = "user"
)

// Spec is one entry of an llm node's `preprocessors` config list.
type Spec struct {
	Name    string
	Options map[string]any
	Mode    Mode
	Prepend bool
}

// DecodeSpec coerces one raw config entry into a Spec, mirroring
// PreprocessorSpec's `_coerce` model validator: a bare string shorthand
// defaults to {mode: system, prepend: false, options: {}}; a mapping reads
// name/options/mode/prepend with the same defaults.
func DecodeSpec(raw any) (Spec, error) {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return Spec{}, fmt.Errorf("preprocessor name must be a non-empty string")
		}
		return Spec{Name: v, Options: map[string]any{}, Mode: ModeSystem}, nil
	case map[string]any:
		name, _ := v["name"].(string)
		if name == "" {
			return Spec{}, fmt.Errorf("preprocessor spec mapping must include non-empty 'name'")
		}
		spec := Spec{Name: name, Options: map[string]any{}, Mode: ModeSystem}
		if opts, ok := v["options"].(map[string]any); ok {
			spec.Options = opts
		}
		if m, ok := v["mode"].(string); ok && m != "" {
			spec.Mode = Mode(m)
		}
		if p, ok := v["prepend"].(bool); ok {
			spec.Prepend = p
		}
		return spec, nil
	default:
		return Spec{}, fmt.Errorf("preprocessor spec must be a string or a mapping, got %T", raw)
	}
}

// DecodeSpecs decodes an llm node config's `preprocessors` list value.
func DecodeSpecs(raw []any) ([]Spec, error) {
	specs := make([]Spec, 0, len(raw))
	for i, r := range raw {
		spec, err := DecodeSpec(r)
		if err != nil {
			return nil, fmt.Errorf("preprocessors[%d]: %w", i, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Func transforms text (the system prompt, or the latest user message's
// text, per the owning Spec's Mode) into the preprocessor's output, which
// Apply then prepends or appends to that text per Spec.Prepend.
type Func func(prj *runtime.Project, spec Spec, text string) (string, error)

type entry struct {
	description string
	fn          Func
}

var (
	mu       sync.Mutex
	registry = map[string]entry{}
)

// Register adds a named preprocessor to the process-wide registry — ported
// from PreprocessorFactory.register, which also rejects re-registering an
// existing name (a registry is built once at startup, not mutated live).
func Register(name, description string, fn Func) error {
	mu.Lock()
	defer mu.Unlock()
	if name == "" {
		return fmt.Errorf("preprocessor name must be a non-empty string")
	}
	if _, exists := registry[name]; exists {
		return fmt.Errorf("preprocessor with name %q already registered", name)
	}
	registry[name] = entry{description: description, fn: fn}
	return nil
}

// Unregister removes name from the registry, reporting whether it was present.
func Unregister(name string) bool {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := registry[name]; !ok {
		return false
	}
	delete(registry, name)
	return true
}

// Get looks up a registered preprocessor by name.
func Get(name string) (Func, bool) {
	mu.Lock()
	defer mu.Unlock()
	e, ok := registry[name]
	if !ok {
		return nil, false
	}
	return e.fn, true
}

// Apply runs specs in declared order against systemText/userText, routing
// each spec's Mode to the text it targets and threading the result through
// to the next preprocessor — mirroring apply_preprocessors' sequential
// fold over current_messages. A spec naming an unregistered preprocessor is
// skipped rather than treated as an error, same as the original's `if
// preprocessor := PreprocessorFactory.get(spec.name):` guard.
func Apply(specs []Spec, prj *runtime.Project, systemText, userText string) (string, string, error) {
	for _, spec := range specs {
		fn, ok := Get(spec.Name)
		if !ok {
			continue
		}
		switch spec.Mode {
		case ModeUser:
			out, err := fn(prj, spec, userText)
			if err != nil {
				return "", "", fmt.Errorf("preprocessor %q: %w", spec.Name, err)
			}
			userText = combine(userText, out, spec.Prepend)
		default:
			out, err := fn(prj, spec, systemText)
			if err != nil {
				return "", "", fmt.Errorf("preprocessor %q: %w", spec.Name, err)
			}
			systemText = combine(systemText, out, spec.Prepend)
		}
	}
	return systemText, userText, nil
}

func combine(existing, produced string, prepend bool) string {
	existing = strings.TrimRight(existing, "\n")
	produced = strings.TrimRight(produced, "\n")
	switch {
	case existing == "":
		return produced
	case produced == "":
		return existing
	case prepend:
		return produced + "\n\n" + existing
	default:
		return existing + "\n\n" + produced
	}
}
