package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/langly/internal/api/response"
	"github.com/Rrens/langly/internal/assistant"
)

// AskRequest is the body of the non-streaming chat endpoint
type AskRequest struct {
	Message  string `json:"message" validate:"max=8000"`
	Provider string `json:"provider,omitempty"`
}

// ChatHandler answers a single message without streaming. Clients that
// cannot hold a socket open use it; nothing is persisted.
type ChatHandler struct {
	assistants   *assistant.Router
	timeout      time.Duration
	systemPrompt string
}

// NewChatHandler creates a chat handler
func NewChatHandler(assistants *assistant.Router, timeout time.Duration, systemPrompt string) *ChatHandler {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ChatHandler{
		assistants:   assistants,
		timeout:      timeout,
		systemPrompt: systemPrompt,
	}
}

// Ask runs one turn and returns the final answer
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var input AskRequest
	if !decodeAndValidate(w, r, &input) {
		return
	}
	message := strings.TrimSpace(input.Message)
	if message == "" {
		response.BadRequest(w, "No message provided")
		return
	}

	provider, err := h.assistants.GetProvider(input.Provider)
	if err != nil {
		if input.Provider == "" {
			response.Unavailable(w, err.Error())
			return
		}
		response.BadRequest(w, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := provider.Respond(ctx, assistant.Request{
		Message:      message,
		SystemPrompt: h.systemPrompt,
	}, discardSink{})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			response.Error(w, http.StatusGatewayTimeout, fmt.Sprintf("Agent timed out after %d seconds", int(h.timeout.Seconds())))
			return
		}
		log.Error().Err(err).Str("provider", provider.Name()).Msg("Assistant failed")
		response.InternalError(w, err.Error())
		return
	}

	response.OK(w, map[string]any{
		"response":   result.Response,
		"tool_calls": result.ToolCalls,
		"model":      result.Model,
	})
}

// discardSink drops intermediate events
type discardSink struct{}

func (discardSink) Thinking(string) error          { return nil }
func (discardSink) ToolStart(string, string) error { return nil }
func (discardSink) ToolResult(string) error        { return nil }
