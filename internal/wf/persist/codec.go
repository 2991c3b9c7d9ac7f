// Package persist saves and restores state.WorkflowExecution snapshots as
// gzip-compressed JSON files, and manages the per-session directory they
// live in — a Go-native rendering of the original's persistence/codec.py +
// persistence/state_manager.py. Unlike the original, Go's state package has
// no separate pydantic-model layer to bridge: state.WorkflowExecution (and
// everything it embeds) already carries the json tags it needs, so there is
// no parallel DTO type here — spec.md §1 calls persistence out as
// "internals referenced only", so this package builds just the save/load
// contract the original exposes, not its upgrade-tolerance machinery.
package persist

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pocketomega/pocket-omega/internal/wf/state"
)

// MarshalGzip serializes a WorkflowExecution to gzip-compressed JSON.
func MarshalGzip(execution *state.WorkflowExecution) ([]byte, error) {
	raw, err := json.Marshal(execution)
	if err != nil {
		return nil, fmt.Errorf("persist: marshal execution: %w", err)
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		return nil, fmt.Errorf("persist: gzip write: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("persist: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalGzip is the inverse of MarshalGzip.
func UnmarshalGzip(data []byte) (*state.WorkflowExecution, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("persist: gzip reader: %w", err)
	}
	defer gr.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(gr); err != nil {
		return nil, fmt.Errorf("persist: gzip read: %w", err)
	}
	var execution state.WorkflowExecution
	if err := json.Unmarshal(buf.Bytes(), &execution); err != nil {
		return nil, fmt.Errorf("persist: unmarshal execution: %w", err)
	}
	return &execution, nil
}

// SaveToPath writes execution to path as gzip-compressed JSON, via a
// write-to-temp-then-rename so a reader never observes a partial file.
func SaveToPath(path string, execution *state.WorkflowExecution) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("persist: mkdir: %w", err)
	}
	data, err := MarshalGzip(execution)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("persist: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("persist: rename temp file: %w", err)
	}
	return nil
}

// LoadFromPath reads and decodes a WorkflowExecution previously written by
// SaveToPath.
func LoadFromPath(path string) (*state.WorkflowExecution, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persist: read file: %w", err)
	}
	return UnmarshalGzip(data)
}
