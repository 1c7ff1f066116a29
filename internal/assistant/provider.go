package assistant

import (
	"context"

	"github.com/Rrens/langly/internal/domain"
)

// Request contains one user turn for the assistant
type Request struct {
	Message      string
	SystemPrompt string
}

// Sink receives the intermediate events of a turn in order. Terminal
// events are produced by the caller from Respond's return values.
type Sink interface {
	Thinking(text string) error
	ToolStart(tool, input string) error
	ToolResult(output string) error
}

// Result is the final answer of a turn
type Result struct {
	Response  string
	ToolCalls []domain.ToolCall
	Model     string
	LatencyMs int64
}

// Provider defines the interface for assistant backends
type Provider interface {
	// Name returns the provider identifier
	Name() string

	// AvailableModels returns list of supported models
	AvailableModels() []string

	// DefaultModel returns the default model
	DefaultModel() string

	// IsConfigured checks if provider has valid credentials
	IsConfigured() bool

	// Respond answers req, streaming intermediate events into sink
	Respond(ctx context.Context, req Request, sink Sink) (*Result, error)
}
