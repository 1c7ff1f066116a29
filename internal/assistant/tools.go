package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Tool is a function the assistant may call while answering
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON schema of the tool arguments
	Parameters() map[string]any
	Call(ctx context.Context, input string) (string, error)
}

// Toolbox is a registry of tools offered to providers
type Toolbox struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolbox creates a toolbox with the given tools
func NewToolbox(tools ...Tool) *Toolbox {
	tb := &Toolbox{tools: make(map[string]Tool)}
	for _, t := range tools {
		tb.Register(t)
	}
	return tb
}

// Register adds or replaces a tool
func (tb *Toolbox) Register(t Tool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.tools[t.Name()] = t
}

// List returns the registered tools sorted by name
func (tb *Toolbox) List() []Tool {
	if tb == nil {
		return nil
	}
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	names := make([]string, 0, len(tb.tools))
	for name := range tb.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, tb.tools[name])
	}
	return out
}

// Call runs the named tool. Tool failures are returned as output text so
// the model can see them.
func (tb *Toolbox) Call(ctx context.Context, name, input string) string {
	if tb == nil {
		return fmt.Sprintf("unknown tool: %s", name)
	}
	tb.mu.RLock()
	t, ok := tb.tools[name]
	tb.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("unknown tool: %s", name)
	}

	out, err := t.Call(ctx, input)
	if err != nil {
		return fmt.Sprintf("tool %s failed: %v", name, err)
	}
	return out
}

// ClockTool reports the current time, optionally in a named IANA zone
type ClockTool struct {
	Now func() time.Time
}

func (c ClockTool) Name() string { return "Clock" }

func (c ClockTool) Description() string {
	return "Returns the current date and time. Optional argument timezone is an IANA zone name."
}

func (c ClockTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA time zone, e.g. America/New_York",
			},
		},
	}
}

func (c ClockTool) Call(ctx context.Context, input string) (string, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	var args struct {
		Timezone string `json:"timezone"`
	}
	if input != "" {
		if err := json.Unmarshal([]byte(input), &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}

	t := now()
	if args.Timezone != "" {
		loc, err := time.LoadLocation(args.Timezone)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", args.Timezone)
		}
		t = t.In(loc)
	}
	return t.Format(time.RFC1123), nil
}
