package domain

import (
	"context"
	"time"
)

// MessageRole represents the sender of a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ToolCall is one tool invocation reported by the assistant.
// Output is nil until the matching tool result arrives.
type ToolCall struct {
	Tool   string  `json:"tool"`
	Input  string  `json:"input"`
	Output *string `json:"output,omitempty"`
}

// HasOutput reports whether the tool result has been attached.
func (t ToolCall) HasOutput() bool {
	return t.Output != nil
}

// ThinkingStep is an intermediate reasoning line. Timestamp is unix millis.
type ThinkingStep struct {
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Message represents a chat message. ID is generated by the client and is
// the idempotency key for persistence.
type Message struct {
	ID            string         `json:"id"`
	SessionID     int64          `json:"session_id"`
	Role          MessageRole    `json:"role"`
	Content       string         `json:"content"`
	ToolCalls     []ToolCall     `json:"tool_calls"`
	ThinkingSteps []ThinkingStep `json:"thinking_steps"`
	Streaming     bool           `json:"-"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Clone returns a deep copy so callers cannot mutate shared slices.
func (m Message) Clone() Message {
	out := m
	out.ToolCalls = CloneToolCalls(m.ToolCalls)
	if m.ThinkingSteps != nil {
		out.ThinkingSteps = make([]ThinkingStep, len(m.ThinkingSteps))
		copy(out.ThinkingSteps, m.ThinkingSteps)
	}
	return out
}

// CloneToolCalls copies a tool call list including the output pointers.
func CloneToolCalls(calls []ToolCall) []ToolCall {
	if calls == nil {
		return nil
	}
	out := make([]ToolCall, len(calls))
	for i, c := range calls {
		out[i] = c
		if c.Output != nil {
			v := *c.Output
			out[i].Output = &v
		}
	}
	return out
}

// MessageSave represents an incoming message save request
type MessageSave struct {
	ID            string         `json:"id" validate:"required,max=64"`
	Role          MessageRole    `json:"role" validate:"required,oneof=user assistant"`
	Content       string         `json:"content"`
	ToolCalls     []ToolCall     `json:"tool_calls"`
	ThinkingSteps []ThinkingStep `json:"thinking_steps"`
	CreatedAt     time.Time      `json:"created_at"`
}

// MessageRepository defines the interface for message storage
type MessageRepository interface {
	// Save inserts the message unless one with the same session and ID
	// already exists. created is false for the duplicate case.
	Save(ctx context.Context, message *Message) (created bool, err error)
	ListBySession(ctx context.Context, sessionID int64) ([]Message, error)
	DeleteBySession(ctx context.Context, sessionID int64) error
}
