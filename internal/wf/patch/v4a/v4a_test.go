package v4a

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pocketomega/pocket-omega/internal/wf/patch"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestApplyAddUpdateDelete(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "existing.txt", "one\ntwo\nthree\n")
	writeFile(t, dir, "gone.txt", "bye\n")

	patchText := strings.Join([]string{
		"*** Begin Patch",
		"*** Add File: fresh.txt",
		"+hello",
		"+world",
		"*** Update File: existing.txt",
		"@@",
		" one",
		"-two",
		"+TWO",
		" three",
		"*** Delete File: gone.txt",
		"*** End Patch",
	}, "\n")

	ops := patch.NewDirFileOps(dir)
	statuses, errs := Format{}.Apply(patchText, ops)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if statuses["fresh.txt"] != patch.StatusCreate {
		t.Errorf("fresh.txt status = %v, want Create", statuses["fresh.txt"])
	}
	if statuses["existing.txt"] != patch.StatusUpdate {
		t.Errorf("existing.txt status = %v, want Update", statuses["existing.txt"])
	}
	if statuses["gone.txt"] != patch.StatusDelete {
		t.Errorf("gone.txt status = %v, want Delete", statuses["gone.txt"])
	}

	got, err := os.ReadFile(filepath.Join(dir, "existing.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "one\nTWO\nthree\n" {
		t.Errorf("existing.txt content = %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "gone.txt")); !os.IsNotExist(err) {
		t.Errorf("gone.txt should have been deleted")
	}
}

// TestOutOfOrderChunksRejected exercises the retry path added to
// applyUpdate: two chunks whose content both match earliest at the same
// location (duplicated lines) but are listed in an order that, against the
// first unconstrained match, would be out of order relative to each other.
func TestOutOfOrderChunksRejected(t *testing.T) {
	dir := t.TempDir()
	// "marker" appears twice; the second chunk's content also only matches
	// at the first occurrence once the first chunk has consumed it, so
	// forcing both chunks to claim the first occurrence triggers the
	// out-of-order path when the second chunk is listed first.
	writeFile(t, dir, "dup.txt", "marker\nfoo\nmarker\nbar\n")

	patchText := strings.Join([]string{
		"*** Begin Patch",
		"*** Update File: dup.txt",
		"@@",
		" marker",
		"-bar",
		"+BAR",
		"@@",
		" marker",
		"-foo",
		"+FOO",
		"*** End Patch",
	}, "\n")

	ops := patch.NewDirFileOps(dir)
	_, errs := Format{}.Apply(patchText, ops)
	if len(errs) == 0 {
		t.Fatal("expected an out-of-order or no-match error, got none")
	}
	found := false
	for _, e := range errs {
		if strings.Contains(e.Hint, "out of order") || strings.Contains(e.Hint, "did not match") {
			found = true
		}
	}
	if !found {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestMatchChunkUnconstrainedThenConstrainedRetry(t *testing.T) {
	fileLines := []string{"alpha", "beta", "alpha", "gamma"}
	ch := chunk{lines: []PatchLine{{Kind: Context, Text: "alpha"}}}

	start, _, _, ok := matchChunk(fileLines, ch, 0)
	if !ok || start != 0 {
		t.Fatalf("unconstrained match: start=%d ok=%v, want start=0", start, ok)
	}

	start2, _, _, ok2 := matchChunk(fileLines, ch, 1)
	if !ok2 || start2 != 2 {
		t.Fatalf("constrained match from 1: start=%d ok=%v, want start=2", start2, ok2)
	}
}

// TestOutOfOrderChunkCommitsMatchedChunkAsPartialUpdate: the first chunk
// matches the second "marker" block (lines 2-3); the second chunk's content
// only occurs before that, so it is reported out of order while the first
// chunk's change is still written and the file is marked PartialUpdate.
func TestOutOfOrderChunkCommitsMatchedChunkAsPartialUpdate(t *testing.T) {
	dir := t.TempDir()
	original := "marker\nfoo\nmarker\nbar\n"
	writeFile(t, dir, "dup.txt", original)

	patchText := strings.Join([]string{
		"*** Begin Patch",
		"*** Update File: dup.txt",
		"@@",
		" marker",
		"-bar",
		"+BAR",
		"@@",
		" marker",
		"-foo",
		"+FOO",
		"*** End Patch",
	}, "\n")

	ops := patch.NewDirFileOps(dir)
	statuses, errs := Format{}.Apply(patchText, ops)
	if len(errs) == 0 {
		t.Fatal("expected an out-of-order error for the second chunk")
	}
	if statuses["dup.txt"] != patch.StatusPartialUpdate {
		t.Fatalf("dup.txt status = %v, want PartialUpdate", statuses["dup.txt"])
	}

	got, err := os.ReadFile(filepath.Join(dir, "dup.txt"))
	if err != nil {
		t.Fatal(err)
	}
	want := "marker\nfoo\nmarker\nBAR\n"
	if string(got) != want {
		t.Fatalf("file content = %q, want %q", got, want)
	}
}

func TestApplyMissingEnvelope(t *testing.T) {
	dir := t.TempDir()
	ops := patch.NewDirFileOps(dir)
	_, errs := Format{}.Apply("not a patch", ops)
	if len(errs) != 1 || !strings.Contains(errs[0].Hint, "Begin Patch") {
		t.Fatalf("expected a missing-envelope error, got %v", errs)
	}
}
