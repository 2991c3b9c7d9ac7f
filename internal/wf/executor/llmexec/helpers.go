// Package llmexec implements the "llm" node type: builds the conversation
// from execution history, requests a streaming tool-aware completion, and
// resolves the chosen outcome either from a trailing "OUTCOME: <name>" tag
// or a synthetic __choose_outcome__ function call — grounded on vocode's
// runner/executors/llm/{llm.py,helpers.py,models.py}.
package llmexec

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pocketomega/pocket-omega/internal/wf/graphmodel"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
	"github.com/pocketomega/pocket-omega/internal/wf/tool"
)

const chooseOutcomeToolName = "__choose_outcome__"

var outcomeTagRE = regexp.MustCompile(`(?i)^\s*OUTCOME\s*:\s*([A-Za-z0-9_\-]+)\s*$`)
var outcomeLinePrefixRE = regexp.MustCompile(`(?i)^\s*OUTCOME\s*:\s*`)

// parseOutcomeFromText scans text's lines in reverse for a trailing
// "OUTCOME: <name>" tag naming one of validOutcomes.
func parseOutcomeFromText(text string, validOutcomes []string) string {
	valid := map[string]bool{}
	for _, o := range validOutcomes {
		valid[o] = true
	}
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		m := outcomeTagRE.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m != nil && valid[m[1]] {
			return m[1]
		}
	}
	return ""
}

// stripOutcomeLine removes any line matching the OUTCOME: prefix.
func stripOutcomeLine(text string) string {
	lines := strings.Split(text, "\n")
	var kept []string
	for _, l := range lines {
		if outcomeLinePrefixRE.MatchString(strings.TrimSpace(l)) {
			continue
		}
		kept = append(kept, l)
	}
	return strings.TrimRight(strings.Join(kept, "\n"), "\n")
}

func outcomeNames(node *graphmodel.Node) []string {
	names := make([]string, len(node.Outcomes))
	for i, o := range node.Outcomes {
		names[i] = o.Name
	}
	return names
}

func outcomeDescBullets(node *graphmodel.Node) string {
	var lines []string
	for _, o := range node.Outcomes {
		lines = append(lines, strings.TrimRight(fmt.Sprintf("- %s: %s", o.Name, o.Description), " "))
	}
	return strings.Join(lines, "\n")
}

func outcomeChoiceDesc(bullets string) string {
	if strings.TrimSpace(bullets) != "" {
		return "Choose exactly one of the following outcomes:\n" + bullets
	}
	return "Choose the appropriate outcome."
}

func buildTagSystemInstruction(names []string, bullets string) string {
	return fmt.Sprintf(
		"Consider the available outcomes and pick the best fit based on the conversation:\n%s\n\n"+
			"After producing your final answer, append a last line exactly as:\n"+
			"OUTCOME: <one of %v>\n"+
			"Only output the outcome name on that line and nothing else.",
		bullets, names)
}

func buildChooseOutcomeTool(names []string, bullets, choiceDesc string) tool.BaseTool {
	return &chooseOutcomeTool{names: names, bullets: bullets, choiceDesc: choiceDesc}
}

// chooseOutcomeTool is a synthetic, non-registered tool definition used only
// to let the model signal its chosen outcome via a function call when the
// node's outcome_strategy is "function" (spec.md §4.2's redesign of the
// original's tag-only outcome signaling, grounded on
// runner/executors/llm/helpers.py's outcome-tool construction).
type chooseOutcomeTool struct {
	names      []string
	bullets    string
	choiceDesc string
}

func (c *chooseOutcomeTool) Name() string { return chooseOutcomeToolName }

func (c *chooseOutcomeTool) OpenAPISpec(state.ToolSpec) (map[string]any, error) {
	return map[string]any{
		"type":        "object",
		"description": c.choiceDesc,
		"properties": map[string]any{
			"outcome": map[string]any{
				"type": "string",
				"enum": c.names,
			},
		},
		"required": []string{"outcome"},
	}, nil
}

func (c *chooseOutcomeTool) Run(_ context.Context, _ tool.Req, args map[string]any) (*tool.Response, error) {
	outcome, _ := args["outcome"].(string)
	return &tool.Response{Type: tool.ResponseText, Text: fmt.Sprintf("outcome selected: %s", outcome)}, nil
}
