package preprocess

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
)

// RegisterBuiltins registers the preprocessors shipped with the runtime.
// The original ships no concrete preprocessor beyond the registry itself
// (preprocessors/base.py only defines PreprocessorFactory); these are
// supplemented so `preprocessors: [...]` in a workflow config has
// something real to name, grounded on the same BasePath/workspace-relative
// conventions internal/wf/tool/builtin and internal/wf/executor/applypatch
// already use to stay inside the project root.
func RegisterBuiltins() error {
	if err := Register("workspace_tree", "Lists workspace-relative file paths under a directory", workspaceTree); err != nil {
		return err
	}
	return nil
}

// workspaceTree renders a bounded, sorted listing of files under
// spec.Options["path"] (default ".", relative to prj.BasePath), skipping
// dot-directories and dot-files (.git, .venv, ...), capped at
// spec.Options["max_entries"] (default 200) to keep the injected prompt
// text bounded regardless of workspace size.
func workspaceTree(prj *runtime.Project, spec Spec, text string) (string, error) {
	if prj == nil {
		return text, nil
	}
	sub, _ := spec.Options["path"].(string)
	if sub == "" {
		sub = "."
	}
	maxEntries := 200
	if v, ok := spec.Options["max_entries"].(float64); ok && v > 0 {
		maxEntries = int(v)
	}

	root, err := resolveUnder(prj.BasePath, sub)
	if err != nil {
		return "", err
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		name := d.Name()
		if d.IsDir() {
			if name != "." && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		rel, relErr := filepath.Rel(prj.BasePath, path)
		if relErr != nil {
			rel = path
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("workspace_tree: %w", err)
	}

	sort.Strings(paths)
	truncated := false
	if len(paths) > maxEntries {
		paths = paths[:maxEntries]
		truncated = true
	}

	var b strings.Builder
	b.WriteString("Workspace files:\n")
	for _, p := range paths {
		b.WriteString("- ")
		b.WriteString(p)
		b.WriteByte('\n')
	}
	if truncated {
		b.WriteString("... (truncated)\n")
	}
	return b.String(), nil
}

// resolveUnder joins base and sub, rejecting any result that escapes base —
// the same "no path traversal out of the workspace" invariant
// internal/wf/tool/builtin.applyPatchTool and internal/wf/executor/applypatch
// enforce around file writes, applied here to a read-only directory walk.
func resolveUnder(base, sub string) (string, error) {
	joined := filepath.Join(base, sub)
	cleanBase := filepath.Clean(base)
	cleanJoined := filepath.Clean(joined)
	if cleanJoined != cleanBase && !strings.HasPrefix(cleanJoined, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes workspace", sub)
	}
	return cleanJoined, nil
}
