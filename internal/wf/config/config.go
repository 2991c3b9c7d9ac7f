// Package config is the minimal decode contract spec.md §1 carves out of
// the (explicitly out-of-scope) configuration loader: turning one YAML or
// JSON5 document into a raw map[string]any. It deliberately does not
// resolve `$include` globs or `${NAME}` interpolation — those are the
// loader's job (include expansion) and internal/wf/vars's job
// (interpolation), both referenced-only per spec.md §1.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// Loader decodes a single configuration document into a raw map, format
// selection left to the implementation (by file extension, content
// sniffing, etc).
type Loader interface {
	Load(path string) (map[string]any, error)
}

// ExtLoader picks YAML or JSON5 decoding by the path's file extension.
type ExtLoader struct{}

// Decode parses data as YAML unless ext is ".json" or ".json5", in which
// case it parses as JSON5 (a superset of JSON: trailing commas, comments,
// unquoted keys).
func Decode(data []byte, ext string) (map[string]any, error) {
	ext = strings.ToLower(ext)
	if ext == ".json" || ext == ".json5" {
		var raw map[string]any
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("config: decode json5: %w", err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
		return raw, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		if err == io.EOF {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := dec.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("config: expected a single YAML document")
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// Load reads path and decodes it per Decode, using path's own extension
// to pick the format.
func (ExtLoader) Load(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return Decode(data, filepath.Ext(path))
}
