// Package httpinput implements the "http-input" node type: registers an
// HTTP POST route guarded by bearer auth, queues incoming messages, and
// completes once one arrives — grounded on vocode's
// runner/executors/http_input.py and http/server.py.
package httpinput

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pocketomega/pocket-omega/internal/wf/executor"
	"github.com/pocketomega/pocket-omega/internal/wf/graphmodel"
	"github.com/pocketomega/pocket-omega/internal/wf/httpd"
	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
)

// Config is the "http-input" node's Config-map payload.
type Config struct {
	Path        string
	Message     string
	ContentType string
}

func DecodeConfig(node *graphmodel.Node) *Config {
	cfg := &Config{Path: "/input"}
	if v, ok := node.Config["path"].(string); ok && v != "" {
		cfg.Path = v
	}
	if v, ok := node.Config["message"].(string); ok {
		cfg.Message = v
	}
	if v, ok := node.Config["content_type"].(string); ok {
		cfg.ContentType = v
	}
	return cfg
}

type inboundBody struct {
	Text string `json:"text"`
	Role string `json:"role"`
}

// Executor registers its route at the start of every Run call and
// deregisters it when that run returns (a message was delivered or the run
// context was cancelled) — the Python version
// splits this into explicit init()/shutdown() lifecycle hooks driven by the
// runner; we fold both into Run's goroutine since Go has no separate
// executor lifecycle callback in this port.
type httpInputExecutor struct {
	node    *graphmodel.Node
	cfg     *Config
	project *runtime.Project
	server  *httpd.Server
}

// New constructs the http-input executor for the given node.
func New(node *graphmodel.Node, project *runtime.Project, server *httpd.Server) (executor.Executor, error) {
	return &httpInputExecutor{node: node, cfg: DecodeConfig(node), project: project, server: server}, nil
}

func (e *httpInputExecutor) queueKey() string { return "http-input:" + e.node.Name }

func (e *httpInputExecutor) queue() chan state.Message {
	v := e.project.State.GetOrSet(e.queueKey(), func() any {
		return make(chan state.Message, 16)
	})
	return v.(chan state.Message)
}

func (e *httpInputExecutor) handler(q chan state.Message) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body inboundBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_json"})
			return
		}
		if body.Text == "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "missing_text"})
			return
		}

		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			contentType = e.cfg.ContentType
		}
		isMarkdown := strings.Contains(strings.ToLower(contentType), "markdown")
		text := body.Text
		if !isMarkdown {
			text = "```\n" + text + "\n```"
		}

		role := state.RoleUser
		if body.Role != "" {
			role = state.Role(body.Role)
		}

		msg := state.NewMessage(role, text)
		q <- msg

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (e *httpInputExecutor) Run(ctx context.Context, in executor.Input, _ <-chan executor.Reply) <-chan executor.Event {
	ch := make(chan executor.Event, 2)
	go e.run(ctx, in, ch)
	return ch
}

func (e *httpInputExecutor) run(ctx context.Context, in executor.Input, ch chan<- executor.Event) {
	defer close(ch)

	q := e.queue()

	var handle httpd.RouteHandle
	if e.server != nil {
		h, err := e.server.AddRoute(http.MethodPost, e.cfg.Path, e.server.RequireBearerAuth(e.handler(q)))
		if err != nil {
			ch <- executor.Event{Err: fmt.Errorf("http-input node %q: %w", e.node.Name, err)}
			return
		}
		handle = h
		defer func() { _ = e.server.RemoveRoute(handle) }()
	}

	waitingText := e.cfg.Message
	if waitingText == "" {
		waitingText = "Waiting for HTTP input..."
	}
	waitingStep := state.NewStep(in.Execution.ID, state.StepOutputMessage)
	waitingMsg := state.NewMessage(state.RoleAssistant, waitingText)
	waitingStep.Message = &waitingMsg
	select {
	case ch <- executor.Event{Step: &waitingStep}:
	case <-ctx.Done():
		return
	}

	select {
	case msg := <-q:
		outStep := state.NewStep(in.Execution.ID, state.StepOutputMessage)
		outStep.Message = &msg
		outStep.IsComplete = true
		outStep.IsFinal = true
		if len(e.node.Outcomes) == 1 {
			outStep.OutcomeName = e.node.Outcomes[0].Name
		}
		select {
		case ch <- executor.Event{Step: &outStep}:
		case <-ctx.Done():
		}
	case <-ctx.Done():
	}
}
