package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Rrens/langly/internal/assistant"
	"github.com/Rrens/langly/internal/config"
	"github.com/Rrens/langly/internal/domain"
)

// maxToolRounds bounds the model/tool exchange of one turn
const maxToolRounds = 5

// Provider implements assistant.Provider for Ollama
type Provider struct {
	host         string
	defaultModel string
	tools        *assistant.Toolbox
	client       *http.Client
}

// NewProvider creates a new Ollama provider
func NewProvider(cfg config.OllamaConfig, tools *assistant.Toolbox) *Provider {
	model := cfg.DefaultModel
	if model == "" {
		model = "llama3.1"
	}
	return &Provider{
		host:         strings.TrimRight(cfg.Host, "/"),
		defaultModel: model,
		tools:        tools,
		// streaming responses are bounded by the request context
		client: &http.Client{},
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "ollama"
}

// AvailableModels returns list of supported models
func (p *Provider) AvailableModels() []string {
	return []string{
		"llama3.1",
		"llama3.2",
		"qwen3",
		"mistral",
		"deepseek-r1",
	}
}

// DefaultModel returns the default model
func (p *Provider) DefaultModel() string {
	return p.defaultModel
}

// IsConfigured checks if provider has a host
func (p *Provider) IsConfigured() bool {
	return p.host != ""
}

type chatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`
}

type toolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type toolSpec struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Tools    []toolSpec     `json:"tools,omitempty"`
	Stream   bool           `json:"stream"`
	Think    bool           `json:"think"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatChunk struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error"`
}

// Respond runs the chat loop, executing requested tools between rounds
func (p *Provider) Respond(ctx context.Context, req assistant.Request, sink assistant.Sink) (*assistant.Result, error) {
	if !p.IsConfigured() {
		return nil, fmt.Errorf("ollama provider is not configured (missing host)")
	}

	messages := []chatMessage{
		{Role: "system", Content: assistant.SystemPrompt(req)},
		{Role: "user", Content: strings.TrimSpace(req.Message)},
	}

	var specs []toolSpec
	for _, t := range p.tools.List() {
		specs = append(specs, toolSpec{
			Type: "function",
			Function: toolFunction{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}

	start := time.Now()
	var calls []domain.ToolCall

	for round := 0; round < maxToolRounds; round++ {
		reply, err := p.stream(ctx, chatRequest{
			Model:    p.defaultModel,
			Messages: messages,
			Tools:    specs,
			Stream:   true,
			Think:    true,
		}, sink)
		if err != nil {
			return nil, err
		}

		if len(reply.ToolCalls) == 0 {
			return &assistant.Result{
				Response:  reply.Content,
				ToolCalls: calls,
				Model:     p.defaultModel,
				LatencyMs: time.Since(start).Milliseconds(),
			}, nil
		}

		messages = append(messages, reply)
		for _, tc := range reply.ToolCalls {
			name := tc.Function.Name
			input := string(tc.Function.Arguments)
			if err := sink.ToolStart(name, input); err != nil {
				return nil, err
			}

			output := p.tools.Call(ctx, name, input)
			if err := sink.ToolResult(output); err != nil {
				return nil, err
			}

			out := output
			calls = append(calls, domain.ToolCall{Tool: name, Input: input, Output: &out})
			messages = append(messages, chatMessage{Role: "tool", Content: output, ToolName: name})
		}
	}

	return nil, fmt.Errorf("assistant exceeded %d tool rounds", maxToolRounds)
}

// stream posts one /api/chat request and folds the NDJSON chunks into a
// single assistant message. Thinking text is forwarded line by line.
func (p *Provider) stream(ctx context.Context, body chatRequest, sink assistant.Sink) (chatMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return chatMessage{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return chatMessage{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return chatMessage{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return chatMessage{}, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	reply := chatMessage{Role: "assistant"}
	var content strings.Builder
	var thinking assistant.LineBuffer

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return chatMessage{}, fmt.Errorf("failed to decode chunk: %w", err)
		}
		if chunk.Error != "" {
			return chatMessage{}, fmt.Errorf("ollama error: %s", chunk.Error)
		}

		for _, text := range thinking.Write(chunk.Message.Thinking) {
			if err := sink.Thinking(text); err != nil {
				return chatMessage{}, err
			}
		}
		content.WriteString(chunk.Message.Content)
		reply.ToolCalls = append(reply.ToolCalls, chunk.Message.ToolCalls...)

		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return chatMessage{}, fmt.Errorf("failed to read stream: %w", err)
	}

	for _, text := range thinking.Flush() {
		if err := sink.Thinking(text); err != nil {
			return chatMessage{}, err
		}
	}

	reply.Content = content.String()
	return reply, nil
}
