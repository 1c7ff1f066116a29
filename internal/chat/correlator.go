package chat

import (
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/Rrens/langly/internal/domain"
	"github.com/Rrens/langly/internal/protocol"
)

// TurnState is the lifecycle position of a Turn
type TurnState int

const (
	StateIdle TurnState = iota
	StateAwaitingConnection
	StateStreaming
	StateFinalizing
	StateClosed
	StateErrored
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingConnection:
		return "awaiting_connection"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// Terminal reports whether no further events are accepted
func (s TurnState) Terminal() bool {
	return s == StateClosed || s == StateErrored
}

// Turn binds one outbound message to the assistant placeholder it is
// allowed to mutate. Fields are guarded by the Engine lock.
type Turn struct {
	ID                 string
	SessionID          int64
	AssistantMessageID string
	StartedAt          time.Time

	state     TurnState
	toolCalls []domain.ToolCall
	thinking  []domain.ThinkingStep
	persisted bool

	idle    *time.Timer
	idleGen int

	final domain.Message
	err   error
	done  chan struct{}
}

func newTurn(sessionID int64, assistantMessageID string, now time.Time) *Turn {
	return &Turn{
		ID:                 shortuuid.New(),
		SessionID:          sessionID,
		AssistantMessageID: assistantMessageID,
		StartedAt:          now,
		state:              StateAwaitingConnection,
		toolCalls:          []domain.ToolCall{},
		thinking:           []domain.ThinkingStep{},
		done:               make(chan struct{}),
	}
}

// State returns the current state
func (t *Turn) State() TurnState { return t.state }

func (t *Turn) addThinking(text string, now time.Time) Patch {
	t.thinking = append(t.thinking, domain.ThinkingStep{Text: text, Timestamp: now.UnixMilli()})
	return Patch{ThinkingSteps: t.thinking}
}

func (t *Turn) startTool(tool, input string) Patch {
	t.toolCalls = append(t.toolCalls, domain.ToolCall{Tool: tool, Input: input})
	return Patch{ToolCalls: t.toolCalls}
}

// attachResult fills the last tool call still lacking output. It reports
// false when no call is pending.
func (t *Turn) attachResult(output string) (Patch, bool) {
	for i := len(t.toolCalls) - 1; i >= 0; i-- {
		if !t.toolCalls[i].HasOutput() {
			out := output
			t.toolCalls[i].Output = &out
			return Patch{ToolCalls: t.toolCalls}, true
		}
	}
	return Patch{}, false
}

// finishPatch reconciles the buffers with the done payload. The backend's
// own tool call list wins when it is non-empty.
func (t *Turn) finishPatch(done protocol.DonePayload) Patch {
	t.state = StateFinalizing

	calls := t.toolCalls
	if len(done.ToolCalls) > 0 {
		calls = done.ToolCalls
	}
	t.toolCalls = domain.CloneToolCalls(calls)

	content := done.Response
	streaming := false
	return Patch{
		Content:       &content,
		ToolCalls:     t.toolCalls,
		ThinkingSteps: t.thinking,
		Streaming:     &streaming,
	}
}

func (t *Turn) failPatch(reason string) Patch {
	t.state = StateFinalizing

	content := "Error: " + reason
	streaming := false
	return Patch{
		Content:       &content,
		ToolCalls:     t.toolCalls,
		ThinkingSteps: t.thinking,
		Streaming:     &streaming,
	}
}

// shadow is the message the turn would have produced, used when the bound
// placeholder no longer exists
func (t *Turn) shadow(p Patch) domain.Message {
	m := domain.Message{
		ID:            t.AssistantMessageID,
		SessionID:     t.SessionID,
		Role:          domain.RoleAssistant,
		ToolCalls:     domain.CloneToolCalls(p.ToolCalls),
		ThinkingSteps: append([]domain.ThinkingStep{}, p.ThinkingSteps...),
		CreatedAt:     t.StartedAt,
	}
	if p.Content != nil {
		m.Content = *p.Content
	}
	return m
}

// Correlator tracks the open turns and routes inbound events to them.
// It is not safe for concurrent use; the Engine serializes access.
type Correlator struct {
	order     []*Turn
	byID      map[string]*Turn
	bySession map[int64]*Turn
}

// NewCorrelator creates an empty correlator
func NewCorrelator() *Correlator {
	return &Correlator{
		byID:      make(map[string]*Turn),
		bySession: make(map[int64]*Turn),
	}
}

// Open starts a turn for the session. Only one turn per session may be open.
func (c *Correlator) Open(sessionID int64, assistantMessageID string, now time.Time) (*Turn, error) {
	if _, busy := c.bySession[sessionID]; busy {
		return nil, ErrTurnInProgress
	}

	t := newTurn(sessionID, assistantMessageID, now)
	c.order = append(c.order, t)
	c.byID[t.ID] = t
	c.bySession[sessionID] = t
	return t, nil
}

// Busy reports whether the session has an open turn
func (c *Correlator) Busy(sessionID int64) bool {
	_, ok := c.bySession[sessionID]
	return ok
}

// Route picks the turn an event belongs to. Tagged events go to their own
// turn or nowhere; untagged events go to the oldest open turn.
func (c *Correlator) Route(turnID string) *Turn {
	if turnID != "" {
		return c.byID[turnID]
	}
	if len(c.order) == 0 {
		return nil
	}
	return c.order[0]
}

// Get returns an open turn by id
func (c *Correlator) Get(turnID string) *Turn {
	return c.byID[turnID]
}

// Close forgets a turn
func (c *Correlator) Close(t *Turn) {
	if c.byID[t.ID] != t {
		return
	}
	delete(c.byID, t.ID)
	if c.bySession[t.SessionID] == t {
		delete(c.bySession, t.SessionID)
	}
	for i, o := range c.order {
		if o == t {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// OpenTurns returns the open turns, oldest first
func (c *Correlator) OpenTurns() []*Turn {
	return append([]*Turn(nil), c.order...)
}
