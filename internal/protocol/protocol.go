// Package protocol defines the event stream exchanged between a chat client
// and the assistant backend. Every frame is a JSON object of the form
// {"event": "<name>", "data": {...}}.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Rrens/langly/internal/domain"
)

// Event names
const (
	EventSend       = "chat:send"
	EventThinking   = "chat:thinking"
	EventToolStart  = "chat:tool_start"
	EventToolResult = "chat:tool_result"
	EventDone       = "chat:done"
	EventError      = "chat:error"
)

// Envelope is a single frame on the wire
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendPayload is the outbound user message. TurnID is optional; servers that
// understand it echo it back on every event of that turn.
type SendPayload struct {
	Message string `json:"message"`
	TurnID  string `json:"turnId,omitempty"`
}

// ThinkingPayload carries one reasoning line
type ThinkingPayload struct {
	Text   string `json:"text"`
	TurnID string `json:"turnId,omitempty"`
}

// ToolStartPayload announces a tool invocation
type ToolStartPayload struct {
	Tool   string `json:"tool"`
	Input  string `json:"input"`
	TurnID string `json:"turnId,omitempty"`
}

// ToolResultPayload carries the output of the most recent pending tool call
type ToolResultPayload struct {
	Output string `json:"output"`
	TurnID string `json:"turnId,omitempty"`
}

// DonePayload is the successful terminal event
type DonePayload struct {
	Response  string            `json:"response"`
	ToolCalls []domain.ToolCall `json:"toolCalls"`
	TurnID    string            `json:"turnId,omitempty"`
}

// ErrorPayload is the failed terminal event
type ErrorPayload struct {
	Error  string `json:"error"`
	TurnID string `json:"turnId,omitempty"`
}

// Encode wraps payload into an envelope and marshals it
func Encode(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
		}
		env.Data = data
	}

	frame, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return frame, nil
}

// Decode parses a frame into its envelope
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("envelope has no event name")
	}
	return env, nil
}
