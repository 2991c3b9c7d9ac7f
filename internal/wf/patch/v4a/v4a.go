// Package v4a implements the OpenAI-style structural patch format
// (spec.md §4.5 Format A): `*** Begin Patch` / `*** End Patch` envelopes
// containing per-file Add/Update/Delete sections, with fuzzy blank-line
// matching for update chunks. Grounded on vocode's patch/v4a.py.
package v4a

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pocketomega/pocket-omega/internal/wf/patch"
)

func init() {
	patch.Register(&Format{})
}

// Format implements patch.Format for the V4A dialect.
type Format struct{}

func (Format) Name() string { return "v4a" }

// LineKind discriminates one line within an update chunk.
type LineKind int

const (
	Context LineKind = iota
	Delete
	Add
)

// PatchLine is one line of an update chunk's body.
type PatchLine struct {
	Kind LineKind
	Text string
}

type chunk struct {
	anchor string
	lines  []PatchLine
}

type fileSection struct {
	kind    string // "add", "update", "delete"
	path    string
	moveTo  string
	addBody []string
	chunks  []chunk
}

// Apply parses patchText and applies every file section through ops.
func (f Format) Apply(patchText string, ops patch.FileOps) (map[string]patch.FileApplyStatus, []patch.PatchError) {
	sections, errs := parseEnvelope(patchText)
	statuses := map[string]patch.FileApplyStatus{}

	for _, sec := range sections {
		switch sec.kind {
		case "add":
			body := strings.Join(sec.addBody, "\n")
			if err := ops.Write(sec.path, body); err != nil {
				errs = append(errs, patch.PatchError{File: sec.path, Hint: err.Error()})
				continue
			}
			statuses[sec.path] = patch.StatusCreate

		case "delete":
			if err := ops.Delete(sec.path); err != nil {
				errs = append(errs, patch.PatchError{File: sec.path, Hint: err.Error()})
				continue
			}
			statuses[sec.path] = patch.StatusDelete

		case "update":
			status, fileErrs := applyUpdate(sec, ops)
			errs = append(errs, fileErrs...)
			if status != "" {
				statuses[sec.path] = status
			}
		}
	}
	return statuses, errs
}

// parseEnvelope extracts the Begin/End-Patch-bounded file sections.
func parseEnvelope(text string) ([]fileSection, []patch.PatchError) {
	var errs []patch.PatchError
	lines := strings.Split(text, "\n")

	beginIdx, endIdx := -1, -1
	beginCount, endCount := 0, 0
	for i, ln := range lines {
		t := strings.TrimRight(ln, "\r")
		if t == "*** Begin Patch" {
			beginCount++
			if beginIdx == -1 {
				beginIdx = i
			}
		}
		if t == "*** End Patch" {
			endCount++
			if endIdx == -1 {
				endIdx = i
			}
		}
	}
	if beginCount == 0 || endIdx == -1 {
		errs = append(errs, patch.PatchError{Hint: "missing *** Begin Patch / *** End Patch envelope"})
		return nil, errs
	}
	if beginCount > 1 {
		errs = append(errs, patch.PatchError{Hint: "multiple *** Begin Patch markers found; only the first is honored"})
	}
	if endCount > 1 {
		errs = append(errs, patch.PatchError{Hint: "multiple *** End Patch markers found; only the first is honored"})
	}
	if endIdx <= beginIdx {
		errs = append(errs, patch.PatchError{Hint: "*** End Patch precedes *** Begin Patch"})
		return nil, errs
	}

	body := lines[beginIdx+1 : endIdx]
	sections, sErrs := parseSections(body)
	errs = append(errs, sErrs...)
	return sections, errs
}

func parseSections(lines []string) ([]fileSection, []patch.PatchError) {
	var sections []fileSection
	var errs []patch.PatchError
	seen := map[string][]string{} // path -> section kinds seen, for Add+Update/Delete+Update validation

	i := 0
	for i < len(lines) {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "*** Add File:"):
			path := strings.TrimSpace(strings.TrimPrefix(line, "*** Add File:"))
			sec := fileSection{kind: "add", path: path}
			i++
			for i < len(lines) && !isSectionHeader(lines[i]) {
				body := lines[i]
				if strings.HasPrefix(body, "+") {
					sec.addBody = append(sec.addBody, strings.TrimPrefix(body, "+"))
				}
				i++
			}
			if err := validatePath(path); err != nil {
				errs = append(errs, patch.PatchError{File: path, Hint: err.Error()})
			} else {
				if dupErr := checkDup(seen, path, "add"); dupErr != "" {
					errs = append(errs, patch.PatchError{File: path, Hint: dupErr})
				} else {
					sections = append(sections, sec)
				}
			}

		case strings.HasPrefix(line, "*** Delete File:"):
			path := strings.TrimSpace(strings.TrimPrefix(line, "*** Delete File:"))
			i++
			if err := validatePath(path); err != nil {
				errs = append(errs, patch.PatchError{File: path, Hint: err.Error()})
				continue
			}
			if dupErr := checkDup(seen, path, "delete"); dupErr != "" {
				errs = append(errs, patch.PatchError{File: path, Hint: dupErr})
				continue
			}
			sections = append(sections, fileSection{kind: "delete", path: path})

		case strings.HasPrefix(line, "*** Update File:"):
			path := strings.TrimSpace(strings.TrimPrefix(line, "*** Update File:"))
			i++
			sec := fileSection{kind: "update", path: path}
			if i < len(lines) && strings.HasPrefix(lines[i], "*** Move to:") {
				sec.moveTo = strings.TrimSpace(strings.TrimPrefix(lines[i], "*** Move to:"))
				i++
			}
			var cur *chunk
			for i < len(lines) && !isSectionHeader(lines[i]) {
				body := lines[i]
				if strings.HasPrefix(body, "@@") {
					label := strings.TrimSpace(strings.TrimPrefix(body, "@@"))
					sec.chunks = append(sec.chunks, chunk{anchor: label})
					cur = &sec.chunks[len(sec.chunks)-1]
					i++
					continue
				}
				if cur == nil {
					sec.chunks = append(sec.chunks, chunk{})
					cur = &sec.chunks[len(sec.chunks)-1]
				}
				cur.lines = append(cur.lines, parseBodyLine(body))
				i++
			}
			if err := validatePath(path); err != nil {
				errs = append(errs, patch.PatchError{File: path, Hint: err.Error()})
				continue
			}
			if dupErr := checkDup(seen, path, "update"); dupErr != "" {
				errs = append(errs, patch.PatchError{File: path, Hint: dupErr})
				continue
			}
			sections = append(sections, sec)

		default:
			i++ // noise outside a section header is ignored
		}
	}
	return sections, errs
}

func isSectionHeader(line string) bool {
	return strings.HasPrefix(line, "*** Add File:") ||
		strings.HasPrefix(line, "*** Update File:") ||
		strings.HasPrefix(line, "*** Delete File:")
}

func parseBodyLine(line string) PatchLine {
	switch {
	case line == "":
		return PatchLine{Kind: Context, Text: ""}
	case strings.HasPrefix(line, "+"):
		return PatchLine{Kind: Add, Text: strings.TrimPrefix(line, "+")}
	case strings.HasPrefix(line, "-"):
		return PatchLine{Kind: Delete, Text: strings.TrimPrefix(line, "-")}
	case strings.HasPrefix(line, " "):
		return PatchLine{Kind: Context, Text: strings.TrimPrefix(line, " ")}
	default:
		return PatchLine{Kind: Context, Text: line}
	}
}

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if strings.HasPrefix(path, "/") {
		return fmt.Errorf("path must be relative: %q", path)
	}
	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return fmt.Errorf("path escapes project root: %q", path)
		}
	}
	return nil
}

// checkDup enforces "at most one Add or Delete per file; Add+Update and
// Delete+Update are rejected; Delete followed by Add is a valid replace".
func checkDup(seen map[string][]string, path, kind string) string {
	prior := seen[path]
	for _, p := range prior {
		switch {
		case p == "add" || p == "delete":
			if kind == "update" {
				return fmt.Sprintf("cannot combine %s and update for the same path", p)
			}
			if p == "add" && kind == "add" {
				return "duplicate Add File section for the same path"
			}
			if p == "delete" && kind == "delete" {
				return "duplicate Delete File section for the same path"
			}
			// delete followed by add: valid replace, fall through
		case p == "update" && (kind == "add" || kind == "delete"):
			return fmt.Sprintf("cannot combine update and %s for the same path", kind)
		}
	}
	seen[path] = append(seen[path], kind)
	return ""
}

// matchedChunk records one chunk's successful match location and the lines
// to splice in its place.
type matchedChunk struct {
	idx     int
	start   int
	end     int
	output  []string
}

func applyUpdate(sec fileSection, ops patch.FileOps) (patch.FileApplyStatus, []patch.PatchError) {
	var errs []patch.PatchError

	original, err := ops.Open(sec.path)
	if err != nil {
		return "", []patch.PatchError{{File: sec.path, Hint: fmt.Sprintf("cannot open for update: %v", err)}}
	}
	hadTrailingNewline := strings.HasSuffix(original, "\n")
	fileLines := strings.Split(strings.TrimSuffix(original, "\n"), "\n")
	if original == "" {
		fileLines = []string{}
	}

	var matched []matchedChunk
	lastEnd := 0
	for ci, ch := range sec.chunks {
		// First search unconstrained (start_min=0), same as the original's
		// find_chunk_linear: a chunk should match wherever its content
		// actually is. Only if that match precedes the previous chunk's end
		// do we retry constrained to lastEnd, to see whether a later,
		// in-order occurrence of the same content exists.
		start, consumed, output, ok := matchChunk(fileLines, ch, 0)
		if ok && start < lastEnd {
			if start2, consumed2, output2, ok2 := matchChunk(fileLines, ch, lastEnd); ok2 {
				start, consumed, output = start2, consumed2, output2
			} else {
				errs = append(errs, patch.PatchError{
					File:     sec.path,
					Hint:     "chunk matched out of order relative to the previous chunk",
					Location: fmt.Sprintf("chunk #%d (@@ %s)", ci+1, ch.anchor),
				})
				continue
			}
		}
		if !ok {
			errs = append(errs, patch.PatchError{
				File:     sec.path,
				Hint:     "chunk did not match any location in the file",
				Location: fmt.Sprintf("chunk #%d (@@ %s)", ci+1, ch.anchor),
			})
			continue
		}
		matched = append(matched, matchedChunk{idx: ci, start: start, end: start + consumed, output: output})
		lastEnd = start + consumed
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].start < matched[j].start })
	overlapped := false
	for i := 1; i < len(matched); i++ {
		if matched[i].start < matched[i-1].end {
			overlapped = true
			errs = append(errs, patch.PatchError{
				File:     sec.path,
				Hint:     "overlapping chunk matches",
				Location: fmt.Sprintf("chunk #%d overlaps chunk #%d", matched[i].idx+1, matched[i-1].idx+1),
			})
		}
	}

	if len(matched) == 0 || overlapped {
		return "", errs
	}

	var out []string
	cursor := 0
	for _, m := range matched {
		out = append(out, fileLines[cursor:m.start]...)
		out = append(out, m.output...)
		cursor = m.end
	}
	out = append(out, fileLines[cursor:]...)

	newContent := strings.Join(out, "\n")
	if hadTrailingNewline {
		newContent += "\n"
	}

	targetPath := sec.path
	if sec.moveTo != "" {
		targetPath = sec.moveTo
	}
	if err := ops.Write(targetPath, newContent); err != nil {
		return "", append(errs, patch.PatchError{File: sec.path, Hint: fmt.Sprintf("write failed: %v", err)})
	}
	if sec.moveTo != "" {
		if err := ops.Delete(sec.path); err != nil {
			errs = append(errs, patch.PatchError{File: sec.path, Hint: fmt.Sprintf("move: failed to delete old path: %v", err)})
		}
	}

	if len(errs) > 0 {
		return patch.StatusPartialUpdate, errs
	}
	return patch.StatusUpdate, errs
}

// matchChunk searches fileLines for ch's pattern starting at or after
// startMin, honoring any anchor label, applying one-blank-line fuzzy
// repair per mismatch. Returns the match start, the number of file lines
// consumed, and the lines to splice in its place.
func matchChunk(fileLines []string, ch chunk, startMin int) (start, consumed int, output []string, ok bool) {
	from := startMin
	if ch.anchor != "" {
		for i, l := range fileLines {
			if strings.Contains(l, ch.anchor) {
				if i > from {
					from = i
				}
				break
			}
		}
	}
	for s := from; s < len(fileLines); s++ {
		out, n, matched := tryMatch(fileLines, s, ch.lines)
		if matched {
			return s, n, out, true
		}
	}
	return 0, 0, nil, false
}

// tryMatch walks ch's lines against fileLines starting at start, repairing
// a single stray blank file line per pattern position (spec.md §4.5's
// "fuzzy blank-line insertion"), and builds the replacement buffer in the
// same pass: context lines copy through, delete lines are dropped, add
// lines are inserted verbatim at their original position in the chunk.
func tryMatch(fileLines []string, start int, lines []PatchLine) (output []string, consumed int, ok bool) {
	fi := start
	var out []string
	for _, l := range lines {
		if l.Kind == Add {
			out = append(out, l.Text)
			continue
		}
		if fi < len(fileLines) && fileLines[fi] == "" && l.Text != "" {
			if l.Kind == Context {
				out = append(out, "")
			}
			fi++
		}
		if fi >= len(fileLines) || fileLines[fi] != l.Text {
			return nil, 0, false
		}
		if l.Kind == Context {
			out = append(out, fileLines[fi])
		}
		fi++
	}
	return out, fi - start, true
}
