// Package uibridge is the wire layer between a manager.Manager and a UI
// client: a packet envelope exchanged over an Endpoint (in-process for
// tests/embedding, websocket for a real UI), request/response matching,
// and the translation of runner events into UI-facing packets (display
// hints, input-required prompts, autocomplete, log paging).
//
// Grounded on original manager/helpers.py (BaseEndpoint, InMemoryEndpoint,
// RpcHelper, IncomingPacketRouter) and manager/proto.py (BasePacketKind,
// BasePacketEnvelope) for the envelope/RPC machinery, and
// manager/server.py's UIServer for the packet catalog and the runner-event
// translation logic (_handle_runner_step_event's display/input_required
// derivation, _on_autocomplete_packet, _on_log_req_packet's pagination).
package uibridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pocketomega/pocket-omega/internal/wf/manager/autocomplete"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
)

// Kind discriminates packet payloads, matching BasePacketKind.
type Kind string

const (
	KindAck              Kind = "ack"
	KindUserInput        Kind = "user_input"
	KindAutocompleteReq  Kind = "autocomplete_req"
	KindAutocompleteResp Kind = "autocomplete_resp"
	KindStopReq          Kind = "stop_req"
	KindLogReq           Kind = "log_req"
	KindLogResp          Kind = "log_resp"
	KindTextMessage      Kind = "text_message"
	KindRunnerReq        Kind = "runner_req"
	KindInputPrompt      Kind = "input_prompt"
	KindUIState          Kind = "ui_state"
)

// TextMessageFormat mirrors manager_proto.TextMessageFormat.
type TextMessageFormat string

const (
	TextFormatPlain    TextMessageFormat = "plain"
	TextFormatMarkdown TextMessageFormat = "markdown"
)

// Packet is any payload carried inside an Envelope.
type Packet interface {
	PacketKind() Kind
}

// AckPacket is the no-content acknowledgement RPC.Call treats as "no
// reply expected".
type AckPacket struct{}

func (AckPacket) PacketKind() Kind { return KindAck }

// UserInputPacket carries one line of chat input from the UI.
type UserInputPacket struct {
	Text string `json:"text"`
}

func (UserInputPacket) PacketKind() Kind { return KindUserInput }

// AutocompleteReqPacket asks for suggestions at a cursor position.
type AutocompleteReqPacket struct {
	Text string `json:"text"`
	Row  int    `json:"row"`
	Col  int    `json:"col"`
}

func (AutocompleteReqPacket) PacketKind() Kind { return KindAutocompleteReq }

// AutocompleteRespPacket answers an AutocompleteReqPacket.
type AutocompleteRespPacket struct {
	Items []autocomplete.Item `json:"items"`
}

func (AutocompleteRespPacket) PacketKind() Kind { return KindAutocompleteResp }

// StopReqPacket asks the bridge to stop the current runner.
type StopReqPacket struct{}

func (StopReqPacket) PacketKind() Kind { return KindStopReq }

// LogReqPacket pages through captured log entries.
type LogReqPacket struct {
	Offset int  `json:"offset"`
	Limit  *int `json:"limit,omitempty"`
}

func (LogReqPacket) PacketKind() Kind { return KindLogReq }

// LogEntry is one paged log line.
type LogEntry struct {
	Index      int       `json:"index"`
	LoggerName string    `json:"logger_name"`
	Level      string    `json:"level"`
	Message    string    `json:"message"`
	Created    time.Time `json:"created"`
}

// LogRespPacket answers a LogReqPacket.
type LogRespPacket struct {
	Offset  int        `json:"offset"`
	Total   int        `json:"total"`
	Entries []LogEntry `json:"entries"`
}

func (LogRespPacket) PacketKind() Kind { return KindLogResp }

// TextMessagePacket is a plain informational message pushed to the UI
// (command replies, error text).
type TextMessagePacket struct {
	Text   string            `json:"text"`
	Format TextMessageFormat `json:"format"`
}

func (TextMessagePacket) PacketKind() Kind { return KindTextMessage }

// DisplayOpts carries a node's display hints, sent only when at least one
// differs from its default, matching _handle_runner_step_event.
type DisplayOpts struct {
	Collapse      *bool `json:"collapse,omitempty"`
	CollapseLines *int  `json:"collapse_lines,omitempty"`
	Visible       bool  `json:"visible"`
	ToolCollapse  *bool `json:"tool_collapse,omitempty"`
}

// RunnerReqPacket pushes one step of a running workflow to the UI.
type RunnerReqPacket struct {
	WorkflowID          string       `json:"workflow_id"`
	WorkflowName        string       `json:"workflow_name"`
	WorkflowExecutionID string       `json:"workflow_execution_id"`
	Step                *state.Step  `json:"step"`
	InputRequired       bool         `json:"input_required"`
	Display             *DisplayOpts `json:"display,omitempty"`
}

func (RunnerReqPacket) PacketKind() Kind { return KindRunnerReq }

// InputPromptPacket tells the UI whether (and with what framing) it
// should currently be soliciting input; an empty packet clears the
// prompt.
type InputPromptPacket struct {
	Title    string `json:"title,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
}

func (InputPromptPacket) PacketKind() Kind { return KindInputPrompt }

// RunnerStackFrame is one entry of UIServerStatePacket.Runners, matching
// manager_proto.RunnerStackFrame.
type RunnerStackFrame struct {
	WorkflowName        string            `json:"workflow_name"`
	WorkflowExecutionID string            `json:"workflow_execution_id"`
	NodeName            string            `json:"node_name"`
	NodeExecutionID     string            `json:"node_execution_id,omitempty"`
	Status              state.RunnerStatus `json:"status"`
}

// UIServerStatePacket summarizes the whole runner stack plus usage
// accounting, matching _handle_runner_status_event's state_packet.
type UIServerStatePacket struct {
	Status                 string                `json:"status"`
	Runners                []RunnerStackFrame    `json:"runners"`
	ActiveNodeStartedAt    *time.Time            `json:"active_node_started_at,omitempty"`
	LastUserInputAt        *time.Time            `json:"last_user_input_at,omitempty"`
	ActiveWorkflowLLMUsage *state.LLMUsageStats  `json:"active_workflow_llm_usage,omitempty"`
	LastStepLLMUsage       *state.LLMUsageStats  `json:"last_step_llm_usage,omitempty"`
}

func (UIServerStatePacket) PacketKind() Kind { return KindUIState }

// Envelope pairs a Packet with the msg_id bookkeeping RPC needs to match
// requests to responses, matching BasePacketEnvelope.
type Envelope struct {
	MsgID       int    `json:"msg_id"`
	Payload     Packet `json:"payload"`
	SourceMsgID *int   `json:"source_msg_id,omitempty"`
}

type wireEnvelope struct {
	MsgID       int             `json:"msg_id"`
	Kind        Kind            `json:"-"`
	Payload     json.RawMessage `json:"payload"`
	SourceMsgID *int            `json:"source_msg_id,omitempty"`
}

type kindProbe struct {
	Kind Kind `json:"kind"`
}

// MarshalJSON embeds the payload's kind alongside its fields so the wire
// shape is a flat {"kind": ..., ...fields} object, matching pydantic's
// discriminated-union serialization.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("uibridge: envelope has nil payload")
	}
	payloadBytes, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(payloadBytes, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["kind"] = e.Payload.PacketKind()

	out := map[string]any{
		"msg_id":  e.MsgID,
		"payload": fields,
	}
	if e.SourceMsgID != nil {
		out["source_msg_id"] = *e.SourceMsgID
	}
	return json.Marshal(out)
}

// UnmarshalJSON dispatches payload decoding by its "kind" field.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw struct {
		MsgID       int             `json:"msg_id"`
		Payload     json.RawMessage `json:"payload"`
		SourceMsgID *int            `json:"source_msg_id,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var probe kindProbe
	if err := json.Unmarshal(raw.Payload, &probe); err != nil {
		return fmt.Errorf("uibridge: decode packet kind: %w", err)
	}

	payload, err := decodePacket(probe.Kind, raw.Payload)
	if err != nil {
		return err
	}

	e.MsgID = raw.MsgID
	e.Payload = payload
	e.SourceMsgID = raw.SourceMsgID
	return nil
}

func decodePacket(kind Kind, raw json.RawMessage) (Packet, error) {
	switch kind {
	case KindAck:
		return AckPacket{}, nil
	case KindUserInput:
		var p UserInputPacket
		return p, json.Unmarshal(raw, &p)
	case KindAutocompleteReq:
		var p AutocompleteReqPacket
		return p, json.Unmarshal(raw, &p)
	case KindAutocompleteResp:
		var p AutocompleteRespPacket
		return p, json.Unmarshal(raw, &p)
	case KindStopReq:
		return StopReqPacket{}, nil
	case KindLogReq:
		var p LogReqPacket
		return p, json.Unmarshal(raw, &p)
	case KindLogResp:
		var p LogRespPacket
		return p, json.Unmarshal(raw, &p)
	case KindTextMessage:
		var p TextMessagePacket
		return p, json.Unmarshal(raw, &p)
	case KindRunnerReq:
		var p RunnerReqPacket
		return p, json.Unmarshal(raw, &p)
	case KindInputPrompt:
		var p InputPromptPacket
		return p, json.Unmarshal(raw, &p)
	case KindUIState:
		var p UIServerStatePacket
		return p, json.Unmarshal(raw, &p)
	default:
		return nil, fmt.Errorf("uibridge: unknown packet kind %q", kind)
	}
}
