// Package searchreplace implements the fenced SEARCH/REPLACE patch format
// (spec.md §4.5 Format B): one fenced code block per file, first line the
// relative path, then a <<<<<<< SEARCH / ======= / >>>>>>> REPLACE triad
// matched exactly against the current file content. Grounded on vocode's
// patch/patch.py (the non-structural sibling to v4a.py).
package searchreplace

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pocketomega/pocket-omega/internal/wf/patch"
)

func init() {
	patch.Register(&Format{})
}

type Format struct{}

func (Format) Name() string { return "patch" }

var fenceRE = regexp.MustCompile("(?s)```[^\\n]*\\n(.*?)```")

type block struct {
	path    string
	search  string
	replace string
}

func (f Format) Apply(patchText string, ops patch.FileOps) (map[string]patch.FileApplyStatus, []patch.PatchError) {
	blocks, errs := parseBlocks(patchText)
	statuses := map[string]patch.FileApplyStatus{}

	byPath := map[string][]block{}
	order := []string{}
	for _, b := range blocks {
		if _, seen := byPath[b.path]; !seen {
			order = append(order, b.path)
		}
		byPath[b.path] = append(byPath[b.path], b)
	}

	for _, path := range order {
		status, fileErrs := applyBlocksToFile(path, byPath[path], ops)
		errs = append(errs, fileErrs...)
		if status != "" {
			statuses[path] = status
		}
	}
	return statuses, errs
}

func parseBlocks(text string) ([]block, []patch.PatchError) {
	var blocks []block
	var errs []patch.PatchError

	for _, m := range fenceRE.FindAllStringSubmatch(text, -1) {
		inner := m[1]
		lines := strings.Split(inner, "\n")
		if len(lines) == 0 {
			continue
		}
		path := strings.TrimSpace(lines[0])
		if path == "" {
			continue
		}
		rest := strings.Join(lines[1:], "\n")

		searchIdx := strings.Index(rest, "<<<<<<< SEARCH")
		sepIdx := strings.Index(rest, "=======")
		replaceIdx := strings.Index(rest, ">>>>>>> REPLACE")
		if searchIdx == -1 || sepIdx == -1 || replaceIdx == -1 || sepIdx < searchIdx || replaceIdx < sepIdx {
			errs = append(errs, patch.PatchError{File: path, Hint: "malformed SEARCH/REPLACE block (missing markers)"})
			continue
		}

		search := strings.Trim(rest[searchIdx+len("<<<<<<< SEARCH"):sepIdx], "\n")
		replace := strings.Trim(rest[sepIdx+len("======="):replaceIdx], "\n")

		blocks = append(blocks, block{path: path, search: search, replace: replace})
	}
	return blocks, errs
}

func applyBlocksToFile(path string, blocks []block, ops patch.FileOps) (patch.FileApplyStatus, []patch.PatchError) {
	var errs []patch.PatchError

	// Empty search + non-empty replace on a file with no prior blocks is a
	// create; otherwise read the current content.
	existing, openErr := ops.Open(path)
	exists := openErr == nil

	content := existing
	created := false
	anyApplied := false

	for i, b := range blocks {
		switch {
		case b.search == "" && b.replace != "":
			if exists && content != "" {
				errs = append(errs, patch.PatchError{
					File: path, Hint: "empty SEARCH against a non-empty existing file",
					Location: fmt.Sprintf("block #%d", i+1),
				})
				continue
			}
			content = b.replace
			created = true
			anyApplied = true

		case b.search != "" && b.replace == "":
			if !strings.Contains(content, b.search) {
				errs = append(errs, patch.PatchError{
					File: path, Hint: "SEARCH text not found for delete",
					Location: fmt.Sprintf("block #%d", i+1),
				})
				continue
			}
			content = strings.Replace(content, b.search, "", 1)
			anyApplied = true

		default:
			if !strings.Contains(content, b.search) {
				errs = append(errs, patch.PatchError{
					File: path, Hint: "SEARCH text not found",
					Location: fmt.Sprintf("block #%d", i+1),
				})
				continue
			}
			content = strings.Replace(content, b.search, b.replace, 1)
			anyApplied = true
		}
	}

	if !anyApplied {
		return "", errs
	}

	if err := ops.Write(path, content); err != nil {
		return "", append(errs, patch.PatchError{File: path, Hint: fmt.Sprintf("write failed: %v", err)})
	}

	switch {
	case created && !exists:
		if len(errs) > 0 {
			return patch.StatusPartialUpdate, errs
		}
		return patch.StatusCreate, errs
	case content == "":
		return patch.StatusDelete, errs
	case len(errs) > 0:
		return patch.StatusPartialUpdate, errs
	default:
		return patch.StatusUpdate, errs
	}
}
