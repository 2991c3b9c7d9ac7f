// Package llm defines the provider contract the LLM executor drives:
// streaming chat completion with function/tool calling, usage accounting
// and cost, generalized from the teacher's internal/llm.LLMProvider (which
// only carried plain text completion) to the tool-calling, round-based
// conversation loop that vocode's runner/executors/llm/llm.py drives.
package llm

import (
	"context"
	"encoding/json"
)

// Role constants, extended from the teacher's with RoleTool for function
// call results, needed to round-trip vocode's tool_call_responses.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is one function call the model requested.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON, parsed by the caller
}

// ToolDefinition describes a callable function in OpenAI "function" tool
// format; Parameters is a JSON Schema document.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Message is one turn of the conversation sent to the provider.
type Message struct {
	Role       string
	Content    string
	Name       string     // function name, set on tool-result messages
	ToolCallID string     // set on tool-result messages
	ToolCalls  []ToolCall // set on assistant messages that requested calls
}

// Usage mirrors state.LLMUsageStats minus cost, which is carried
// separately on Response.CostDollars (the openai Client leaves it at zero).
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Request is one completion call.
type Request struct {
	Model           string
	Messages        []Message
	Temperature     *float32
	MaxTokens       int
	ReasoningEffort string
	Tools           []ToolDefinition
	Extra           map[string]any
}

// Response is the fully assembled result of a streamed completion.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	Usage        Usage
	CostDollars  float64
	InputTokenLimit int
}

// OnDelta is invoked with each incremental content fragment as it streams
// in, so the executor can publish interim (is_complete=false) steps the way
// vocode's LLMExecutor.run does.
type OnDelta func(contentDelta string)

// Provider is the streaming chat-completion contract LLM executors use.
type Provider interface {
	StreamComplete(ctx context.Context, req Request, onDelta OnDelta) (*Response, error)
	Name() string
}

// ParseToolArguments decodes a ToolCall's raw JSON Arguments into the
// mapping the tool registry's Run/ValidateArgs expect, treating an empty
// string (some providers omit arguments entirely for no-arg calls) as an
// empty object rather than a parse error.
func ParseToolArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}
