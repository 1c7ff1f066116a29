package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/Rrens/langly/internal/assistant"
	"github.com/Rrens/langly/internal/config"
	"github.com/Rrens/langly/internal/domain"
)

const maxToolRounds = 5

type Provider struct {
	apiKey string
	model  string
	tools  *assistant.Toolbox
}

func NewProvider(cfg config.GeminiConfig, tools *assistant.Toolbox) *Provider {
	return &Provider{
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		tools:  tools,
	}
}

func (p *Provider) Name() string {
	return "gemini"
}

func (p *Provider) AvailableModels() []string {
	return []string{
		"gemini-2.5-flash",
		"gemini-2.5-pro",
		"gemini-1.5-flash",
		"gemini-1.5-pro",
	}
}

func (p *Provider) DefaultModel() string {
	if p.model != "" {
		return p.model
	}
	return "gemini-2.5-flash"
}

func (p *Provider) IsConfigured() bool {
	return p.apiKey != ""
}

func (p *Provider) Respond(ctx context.Context, req assistant.Request, sink assistant.Sink) (*assistant.Result, error) {
	if !p.IsConfigured() {
		return nil, fmt.Errorf("gemini provider is not configured (missing API key)")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(p.DefaultModel())
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(assistant.SystemPrompt(req))}}
	if decls := declarations(p.tools); len(decls) > 0 {
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	cs := model.StartChat()
	parts := []genai.Part{genai.Text(strings.TrimSpace(req.Message))}

	start := time.Now()
	var calls []domain.ToolCall

	for round := 0; round < maxToolRounds; round++ {
		text, fcs, err := p.stream(ctx, cs, parts)
		if err != nil {
			return nil, err
		}

		if len(fcs) == 0 {
			return &assistant.Result{
				Response:  text,
				ToolCalls: calls,
				Model:     p.DefaultModel(),
				LatencyMs: time.Since(start).Milliseconds(),
			}, nil
		}

		parts = nil
		for _, fc := range fcs {
			args, err := json.Marshal(fc.Args)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal tool arguments: %w", err)
			}
			input := string(args)

			if err := sink.ToolStart(fc.Name, input); err != nil {
				return nil, err
			}
			output := p.tools.Call(ctx, fc.Name, input)
			if err := sink.ToolResult(output); err != nil {
				return nil, err
			}

			out := output
			calls = append(calls, domain.ToolCall{Tool: fc.Name, Input: input, Output: &out})
			parts = append(parts, genai.FunctionResponse{
				Name:     fc.Name,
				Response: map[string]any{"output": output},
			})
		}
	}

	return nil, fmt.Errorf("assistant exceeded %d tool rounds", maxToolRounds)
}

func (p *Provider) stream(ctx context.Context, cs *genai.ChatSession, parts []genai.Part) (string, []genai.FunctionCall, error) {
	iter := cs.SendMessageStream(ctx, parts...)

	var text strings.Builder
	var calls []genai.FunctionCall
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("gemini generation error: %w", err)
		}

		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				switch v := part.(type) {
				case genai.Text:
					text.WriteString(string(v))
				case genai.FunctionCall:
					calls = append(calls, v)
				}
			}
		}
	}
	return text.String(), calls, nil
}

func declarations(tb *assistant.Toolbox) []*genai.FunctionDeclaration {
	var decls []*genai.FunctionDeclaration
	for _, t := range tb.List() {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  schemaFrom(t.Parameters()),
		})
	}
	return decls
}

// schemaFrom converts a JSON schema map into the genai schema subset
func schemaFrom(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}

	s := &genai.Schema{}
	switch m["type"] {
	case "object":
		s.Type = genai.TypeObject
	case "array":
		s.Type = genai.TypeArray
	case "integer":
		s.Type = genai.TypeInteger
	case "number":
		s.Type = genai.TypeNumber
	case "boolean":
		s.Type = genai.TypeBoolean
	default:
		s.Type = genai.TypeString
	}

	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if pm, ok := raw.(map[string]any); ok {
				s.Properties[name] = schemaFrom(pm)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = schemaFrom(items)
	}
	if req, ok := m["required"].([]string); ok {
		s.Required = req
	}
	return s
}
