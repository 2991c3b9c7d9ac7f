// Package autocomplete answers AUTOCOMPLETE_REQ packets with suggestion
// lists for the chat input box: command names (`/run`, `/help`, ...) and
// workflow names after `/run `.
//
// Grounded on original manager/autocomplete.py (AutocompleteManager,
// AutocompleteItem, filter_autocomplete_items_for_text) and
// manager/autocomplete_providers.py's command_autocomplete_provider and
// run_autocomplete_provider. file_autocomplete_provider (the `@path`
// provider) is dropped: it resolves matches through
// project.know.data.file.filename_complete, and Settings.know has no
// SPEC_FULL component (see DESIGN.md's Settings section) — there is no
// knowledge-base index left to query.
package autocomplete

import (
	"context"
	"sort"
	"strings"

	"github.com/pocketomega/pocket-omega/internal/wf/manager"
	"github.com/pocketomega/pocket-omega/internal/wf/manager/commands"
)

// Item is one suggestion: inserting InsertText in place of the span
// [ReplaceStart, ReplaceStart+len(ReplaceText)) of the original text.
type Item struct {
	Title        string
	ReplaceStart int
	ReplaceText  string
	InsertText   string
}

// Provider inspects the input box's text/cursor position and returns
// suggestions, or nil if it has nothing to offer for this input.
type Provider func(ctx context.Context, cmds *commands.Registry, mgr *manager.Manager, text string, row, col int) ([]Item, error)

// Completer fans a completion request out to every registered provider and
// concatenates the results, matching AutocompleteManager.get_completions.
type Completer struct {
	providers []Provider
}

// NewCompleter builds a Completer with the built-in providers registered.
func NewCompleter() *Completer {
	c := &Completer{}
	c.Register(CommandProvider)
	c.Register(RunWorkflowProvider)
	return c
}

// Register adds an additional provider.
func (c *Completer) Register(p Provider) {
	c.providers = append(c.providers, p)
}

// Complete runs every registered provider and returns their combined,
// self-match-filtered suggestions.
func (c *Completer) Complete(ctx context.Context, cmds *commands.Registry, mgr *manager.Manager, text string, row, col int) ([]Item, error) {
	var results []Item
	for _, p := range c.providers {
		items, err := p(ctx, cmds, mgr, text, row, col)
		if err != nil {
			return nil, err
		}
		filtered := filterForText(items, text)
		results = append(results, filtered...)
	}
	return results, nil
}

// filterForText drops any item whose InsertText is already exactly the
// current text, matching filter_autocomplete_items_for_text.
func filterForText(items []Item, text string) []Item {
	if len(items) == 0 {
		return nil
	}
	out := make([]Item, 0, len(items))
	for _, item := range items {
		if item.InsertText != text {
			out = append(out, item)
		}
	}
	return out
}

func clampCursor(text string, cursor int) int {
	if cursor < 0 {
		return 0
	}
	if r := []rune(text); cursor > len(r) {
		return len(r)
	}
	return cursor
}

// tokenSpan returns the [start, end) rune span of the whitespace-delimited
// token touching cursor, matching _token_span.
func tokenSpan(text string, cursor int) (int, int) {
	runes := []rune(text)
	cursor = clampCursor(text, cursor)
	start := cursor
	for start > 0 && !isSpace(runes[start-1]) {
		start--
	}
	end := cursor
	for end < len(runes) && !isSpace(runes[end]) {
		end++
	}
	return start, end
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// CommandProvider suggests command names for a leading-`/` token on the
// first row, grounded on command_autocomplete_provider.
func CommandProvider(ctx context.Context, cmds *commands.Registry, mgr *manager.Manager, text string, row, col int) ([]Item, error) {
	if text == "" || row != 0 || !strings.HasPrefix(text, "/") {
		return nil, nil
	}

	runes := []rune(text)
	startIdx, endIdx := tokenSpan(text, clampCursor(text, col))
	word := string(runes[startIdx:endIdx])
	if word == "" || !strings.HasPrefix(word, "/") {
		return nil, nil
	}
	needle := strings.TrimPrefix(word, "/")

	var items []Item
	for _, e := range cmds.HelpEntries() {
		if !strings.HasPrefix(e.Name, needle) {
			continue
		}
		signature := "/" + e.Name
		title := signature
		if e.Description != "" {
			title = signature + " - " + e.Description
		}
		insertText := signature
		if !strings.HasSuffix(insertText, " ") {
			insertText += " "
		}
		items = append(items, Item{
			Title:        title,
			ReplaceStart: startIdx,
			ReplaceText:  word,
			InsertText:   insertText,
		})
	}
	return items, nil
}

// RunWorkflowProvider suggests workflow names once the user has typed
// "/run " on the first row, grounded on run_autocomplete_provider.
func RunWorkflowProvider(ctx context.Context, cmds *commands.Registry, mgr *manager.Manager, text string, row, col int) ([]Item, error) {
	const prefix = "/run"
	if text == "" || row != 0 || !strings.HasPrefix(text, prefix) {
		return nil, nil
	}
	if text != prefix && !strings.HasPrefix(text, prefix+" ") {
		return nil, nil
	}

	needle := ""
	if strings.HasPrefix(text, prefix+" ") {
		needle = text[len(prefix)+1:]
	}

	st := mgr.Settings()
	if st == nil || len(st.Workflows) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(st.Workflows))
	for name := range st.Workflows {
		names = append(names, name)
	}
	sort.Strings(names)

	var items []Item
	for _, name := range names {
		if needle != "" && !strings.HasPrefix(name, needle) {
			continue
		}
		items = append(items, Item{
			Title:        "/run " + name + " - workflow",
			ReplaceStart: 0,
			ReplaceText:  text,
			InsertText:   "/run " + name,
		})
	}
	return items, nil
}
