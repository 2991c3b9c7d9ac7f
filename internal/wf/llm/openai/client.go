// Package openai adapts the teacher's internal/llm/openai.Client (plain
// text completion) into a streaming, tool-calling provider matching
// internal/wf/llm.Provider, grounded on the same retry/backoff and
// streaming style but extended to accumulate function-call deltas the way
// vocode's llm.py reconstructs a full response from streamed chunks via
// litellm.stream_chunk_builder.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	openailib "github.com/sashabaranov/go-openai"

	"github.com/pocketomega/pocket-omega/internal/wf/llm"
	"github.com/pocketomega/pocket-omega/internal/wf/logging"
)

var log = logging.New("llm.openai")

// Client implements llm.Provider over the OpenAI-compatible chat
// completions API (works against litellm, vLLM, Ollama, Azure, etc. with a
// BaseURL override).
type Client struct {
	client *openailib.Client
	config *Config
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	clientConfig := openailib.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: time.Duration(config.HTTPTimeout) * time.Second}
	return &Client{client: openailib.NewClientWithConfig(clientConfig), config: config}, nil
}

func NewClientFromEnv() (*Client, error) {
	cfg, err := NewConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load openai config: %w", err)
	}
	return NewClient(cfg)
}

func (c *Client) Name() string { return fmt.Sprintf("openai-compatible (%s)", c.config.Model) }

func toOpenAIMessages(msgs []llm.Message) []openailib.ChatCompletionMessage {
	out := make([]openailib.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		out[i] = openailib.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if len(m.ToolCalls) > 0 {
			tcs := make([]openailib.ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				tcs[j] = openailib.ToolCall{
					ID:   tc.ID,
					Type: openailib.ToolTypeFunction,
					Function: openailib.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
			out[i].ToolCalls = tcs
		}
	}
	return out
}

func toOpenAITools(defs []llm.ToolDefinition) []openailib.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openailib.Tool, len(defs))
	for i, d := range defs {
		out[i] = openailib.Tool{
			Type: openailib.ToolTypeFunction,
			Function: &openailib.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		}
	}
	return out
}

// StreamComplete streams assistant content deltas via onDelta and, once the
// stream ends, returns the fully assembled response including any tool
// calls accumulated across chunks. Retries on transient errors with
// exponential backoff, mirroring the teacher's CallLLM retry loop.
func (c *Client) StreamComplete(ctx context.Context, req llm.Request, onDelta llm.OnDelta) (*llm.Response, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}

	r := openailib.ChatCompletionRequest{
		Model:           req.Model,
		Messages:        toOpenAIMessages(req.Messages),
		Tools:           toOpenAITools(req.Tools),
		Stream:          true,
		ReasoningEffort: req.ReasoningEffort,
		StreamOptions:   &openailib.StreamOptions{IncludeUsage: true},
	}
	if req.Temperature != nil {
		r.Temperature = *req.Temperature
	}
	if req.MaxTokens > 0 {
		r.MaxTokens = req.MaxTokens
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		resp, err := c.streamOnce(ctx, r, onDelta)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !shouldRetry(err) || attempt >= c.config.MaxRetries {
			break
		}
		wait := time.Duration(1<<attempt) * 500 * time.Millisecond
		log.Warning("LLM stream retry %d/%d after %v: %v", attempt+1, c.config.MaxRetries, wait, err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("LLM call failed after %d retries: %w", c.config.MaxRetries, lastErr)
}

func (c *Client) streamOnce(ctx context.Context, r openailib.ChatCompletionRequest, onDelta llm.OnDelta) (*llm.Response, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, r)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var content strings.Builder
	calls := newToolCallAccumulator()
	var usage openailib.Usage

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if content.Len() > 0 {
				break
			}
			return nil, fmt.Errorf("stream recv: %w", err)
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if onDelta != nil {
				onDelta(delta.Content)
			}
		}
		calls.addDeltas(delta.ToolCalls)
	}

	return &llm.Response{
		Content:   content.String(),
		ToolCalls: calls.finish(),
		Usage: llm.Usage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
		},
	}, nil
}

func shouldRetry(err error) bool {
	var apiErr *openailib.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	// Network-level errors (timeouts, connection resets) are worth a retry.
	return true
}

// toolCallAccumulator reassembles function-call deltas, which the OpenAI
// streaming protocol sends as index-keyed fragments of id/name/arguments.
type toolCallAccumulator struct {
	byIndex map[int]*llm.ToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: map[int]*llm.ToolCall{}}
}

func (a *toolCallAccumulator) addDeltas(deltas []openailib.ToolCall) {
	for _, d := range deltas {
		idx := 0
		if d.Index != nil {
			idx = *d.Index
		}
		tc, ok := a.byIndex[idx]
		if !ok {
			tc = &llm.ToolCall{}
			a.byIndex[idx] = tc
		}
		if d.ID != "" {
			tc.ID = d.ID
		}
		if d.Function.Name != "" {
			tc.Name += d.Function.Name
		}
		tc.Arguments += d.Function.Arguments
	}
}

func (a *toolCallAccumulator) finish() []llm.ToolCall {
	if len(a.byIndex) == 0 {
		return nil
	}
	indices := make([]int, 0, len(a.byIndex))
	for i := range a.byIndex {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	out := make([]llm.ToolCall, 0, len(indices))
	for _, i := range indices {
		out = append(out, *a.byIndex[i])
	}
	return out
}

