package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/langly/internal/domain"
	"github.com/Rrens/langly/internal/protocol"
	"github.com/Rrens/langly/internal/transport"
)

type harness struct {
	engine  *Engine
	tr      *fakeTransport
	backend *mockBackend
	gateway *mockGateway
	creds   *fakeCreds
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	h := &harness{
		tr:      newFakeTransport(),
		backend: &mockBackend{},
		gateway: &mockGateway{},
		creds:   &fakeCreds{},
	}
	opts.Logger = zerolog.Nop()
	h.engine = New(h.backend, h.gateway, h.tr, h.creds, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.engine.Close(ctx)
	})
	return h
}

// withNewSession makes the lazily created session id 1
func (h *harness) withNewSession() {
	h.backend.On("CreateSession", mock.Anything, "").
		Return(&domain.ChatSession{ID: 1, Title: domain.DefaultSessionTitle}, nil).Once()
}

func (h *harness) acceptSaves() {
	h.gateway.On("SaveUserMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	h.gateway.On("SaveAssistantMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func (h *harness) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.engine.Flush(ctx))
}

func wait(t *testing.T, info TurnInfo) (domain.Message, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return info.Wait(ctx)
}

func TestSendMessage_ThinkingThenDone(t *testing.T) {
	h := newHarness(t, Options{})
	h.withNewSession()
	h.acceptSaves()

	info, err := h.engine.SendMessage(context.Background(), "  Hello  ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.SessionID)
	assert.Equal(t, StateStreaming, h.engine.TurnState(info.TurnID))

	sends := h.tr.sent()
	require.Len(t, sends, 1)
	assert.Equal(t, "Hello", sends[0].Message)
	assert.Equal(t, info.TurnID, sends[0].TurnID)

	h.tr.deliver(protocol.EventThinking, protocol.ThinkingPayload{Text: "Checking", TurnID: info.TurnID})
	h.tr.deliver(protocol.EventDone, protocol.DonePayload{Response: "Hi", TurnID: info.TurnID})

	final, err := wait(t, info)
	require.NoError(t, err)
	assert.Equal(t, "Hi", final.Content)
	assert.False(t, final.Streaming)
	require.Len(t, final.ThinkingSteps, 1)
	assert.Equal(t, "Checking", final.ThinkingSteps[0].Text)
	assert.Equal(t, StateIdle, h.engine.TurnState(info.TurnID))

	msgs := h.engine.ActiveMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, final.ID, msgs[1].ID)
	assert.True(t, msgs[1].CreatedAt.After(msgs[0].CreatedAt))

	h.flush(t)
	h.gateway.AssertNumberOfCalls(t, "SaveUserMessage", 1)
	h.gateway.AssertNumberOfCalls(t, "SaveAssistantMessage", 1)
	h.gateway.AssertCalled(t, "SaveAssistantMessage", mock.Anything, int64(1), mock.MatchedBy(func(m domain.Message) bool {
		return m.ID == info.AssistantMessageID && m.Content == "Hi" && !m.Streaming
	}))
}

func TestSendMessage_ToolCall(t *testing.T) {
	h := newHarness(t, Options{})
	h.withNewSession()
	h.acceptSaves()

	info, err := h.engine.SendMessage(context.Background(), "weather in Morristown?")
	require.NoError(t, err)

	h.tr.deliver(protocol.EventToolStart, protocol.ToolStartPayload{Tool: "Weather", Input: "Morristown", TurnID: info.TurnID})
	h.tr.deliver(protocol.EventToolResult, protocol.ToolResultPayload{Output: "72F sunny", TurnID: info.TurnID})
	h.tr.deliver(protocol.EventDone, protocol.DonePayload{Response: "It's 72°F and sunny.", TurnID: info.TurnID})

	final, err := wait(t, info)
	require.NoError(t, err)
	assert.Equal(t, "It's 72°F and sunny.", final.Content)
	require.Len(t, final.ToolCalls, 1)
	assert.Equal(t, "Weather", final.ToolCalls[0].Tool)
	assert.Equal(t, "Morristown", final.ToolCalls[0].Input)
	require.NotNil(t, final.ToolCalls[0].Output)
	assert.Equal(t, "72F sunny", *final.ToolCalls[0].Output)
	assert.False(t, final.Streaming)

	h.flush(t)
	h.gateway.AssertNumberOfCalls(t, "SaveAssistantMessage", 1)
}

func TestSendMessage_SwitchSessionMidStream(t *testing.T) {
	h := newHarness(t, Options{})
	h.acceptSaves()

	h.backend.On("ListSessions", mock.Anything).Return([]domain.ChatSession{
		{ID: 1, Title: "A"},
		{ID: 2, Title: "B"},
	}, nil)
	h.backend.On("ListMessages", mock.Anything, int64(1)).Return([]domain.Message{}, nil).Once()
	h.backend.On("ListMessages", mock.Anything, int64(2)).Return([]domain.Message{}, nil)

	_, err := h.engine.ListSessions(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.engine.SwitchSession(context.Background(), 1))

	info, err := h.engine.SendMessage(context.Background(), "question for A")
	require.NoError(t, err)
	h.tr.deliver(protocol.EventThinking, protocol.ThinkingPayload{Text: "thinking in A", TurnID: info.TurnID})

	require.NoError(t, h.engine.SwitchSession(context.Background(), 2))
	h.tr.deliver(protocol.EventDone, protocol.DonePayload{Response: "answer for A", TurnID: info.TurnID})

	_, err = wait(t, info)
	require.NoError(t, err)
	assert.Empty(t, h.engine.ActiveMessages(), "B must not see A's turn")

	userInA := h.engine.Messages(1)[0]
	h.backend.On("ListMessages", mock.Anything, int64(1)).Return([]domain.Message{userInA}, nil).Once()
	require.NoError(t, h.engine.SwitchSession(context.Background(), 1))

	msgs := h.engine.ActiveMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "question for A", msgs[0].Content)
	assert.Equal(t, "answer for A", msgs[1].Content)
	assert.False(t, msgs[1].Streaming)
}

func TestSendMessage_EmitFails(t *testing.T) {
	h := newHarness(t, Options{})
	h.withNewSession()
	h.acceptSaves()
	h.tr.setEmitErr(fmt.Errorf("%w: context deadline exceeded", transport.ErrNotConnected))

	info, err := h.engine.SendMessage(context.Background(), "hello?")
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.ErrorIs(t, err, transport.ErrNotConnected)

	final, werr := wait(t, info)
	assert.Equal(t, err, werr)
	assert.False(t, final.Streaming)
	assert.Contains(t, final.Content, "Error: ")

	msgs := h.engine.ActiveMessages()
	require.Len(t, msgs, 2)
	assert.False(t, msgs[1].Streaming, "no endless spinner")

	h.flush(t)
	h.gateway.AssertNotCalled(t, "SaveAssistantMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessage_BackendError(t *testing.T) {
	h := newHarness(t, Options{})
	h.withNewSession()
	h.acceptSaves()

	info, err := h.engine.SendMessage(context.Background(), "hi")
	require.NoError(t, err)

	h.tr.deliver(protocol.EventToolStart, protocol.ToolStartPayload{Tool: "Weather", Input: "x", TurnID: info.TurnID})
	h.tr.deliver(protocol.EventError, protocol.ErrorPayload{Error: "rate limited", TurnID: info.TurnID})

	final, err := wait(t, info)
	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "rate limited", be.Message)
	assert.Equal(t, "Error: rate limited", final.Content)
	assert.False(t, final.Streaming)
	assert.Len(t, final.ToolCalls, 1, "buffered tool calls stay visible")

	h.flush(t)
	h.gateway.AssertNumberOfCalls(t, "SaveUserMessage", 1)
	h.gateway.AssertNotCalled(t, "SaveAssistantMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessage_Empty(t *testing.T) {
	h := newHarness(t, Options{})

	_, err := h.engine.SendMessage(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	h.backend.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything)
	assert.Empty(t, h.tr.sent())
}

func TestSendMessage_RejectedWhileStreaming(t *testing.T) {
	h := newHarness(t, Options{})
	h.withNewSession()
	h.acceptSaves()

	info, err := h.engine.SendMessage(context.Background(), "first")
	require.NoError(t, err)

	_, err = h.engine.SendMessage(context.Background(), "second")
	assert.ErrorIs(t, err, ErrTurnInProgress)
	assert.Len(t, h.engine.ActiveMessages(), 2)

	h.tr.deliver(protocol.EventDone, protocol.DonePayload{Response: "ok", TurnID: info.TurnID})
	_, err = wait(t, info)
	require.NoError(t, err)

	_, err = h.engine.SendMessage(context.Background(), "second")
	require.NoError(t, err)
	assert.Len(t, h.engine.ActiveMessages(), 4)
}

func TestSendMessage_LazySessionCreatedOnce(t *testing.T) {
	h := newHarness(t, Options{})
	h.withNewSession()
	h.acceptSaves()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.engine.SendMessage(context.Background(), "hi")
		}(i)
	}
	wg.Wait()

	h.backend.AssertNumberOfCalls(t, "CreateSession", 1)

	// one send wins, the other sees the turn in progress
	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrTurnInProgress)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestStaleTurnIsolation(t *testing.T) {
	h := newHarness(t, Options{})
	h.acceptSaves()
	h.backend.On("CreateSession", mock.Anything, "").Return(&domain.ChatSession{ID: 1, Title: "A"}, nil).Once()
	h.backend.On("CreateSession", mock.Anything, "B").Return(&domain.ChatSession{ID: 2, Title: "B"}, nil).Once()

	t1, err := h.engine.SendMessage(context.Background(), "in A")
	require.NoError(t, err)

	_, err = h.engine.CreateSession(context.Background(), "B")
	require.NoError(t, err)
	t2, err := h.engine.SendMessage(context.Background(), "in B")
	require.NoError(t, err)

	// interleaved events for both turns
	h.tr.deliver(protocol.EventThinking, protocol.ThinkingPayload{Text: "A thinks", TurnID: t1.TurnID})
	h.tr.deliver(protocol.EventThinking, protocol.ThinkingPayload{Text: "B thinks", TurnID: t2.TurnID})
	h.tr.deliver(protocol.EventDone, protocol.DonePayload{Response: "A done", TurnID: t1.TurnID})

	// late events for a finished turn and for an unknown turn are dropped
	h.tr.deliver(protocol.EventThinking, protocol.ThinkingPayload{Text: "late", TurnID: t1.TurnID})
	h.tr.deliver(protocol.EventDone, protocol.DonePayload{Response: "ghost", TurnID: "nope"})

	h.tr.deliver(protocol.EventDone, protocol.DonePayload{Response: "B done", TurnID: t2.TurnID})

	a, err := wait(t, t1)
	require.NoError(t, err)
	b, err := wait(t, t2)
	require.NoError(t, err)

	assert.Equal(t, "A done", a.Content)
	require.Len(t, a.ThinkingSteps, 1)
	assert.Equal(t, "A thinks", a.ThinkingSteps[0].Text)

	assert.Equal(t, "B done", b.Content)
	require.Len(t, b.ThinkingSteps, 1)
	assert.Equal(t, "B thinks", b.ThinkingSteps[0].Text)

	for _, m := range h.engine.Messages(2) {
		assert.NotContains(t, m.Content, "A")
	}

	h.flush(t)
	h.gateway.AssertNumberOfCalls(t, "SaveAssistantMessage", 2)
}

func TestUntaggedEventsGoToOldestTurn(t *testing.T) {
	h := newHarness(t, Options{})
	h.withNewSession()
	h.acceptSaves()

	info, err := h.engine.SendMessage(context.Background(), "hi")
	require.NoError(t, err)

	h.tr.deliver(protocol.EventThinking, protocol.ThinkingPayload{Text: "no tag"})
	h.tr.deliver(protocol.EventDone, protocol.DonePayload{Response: "done"})

	final, err := wait(t, info)
	require.NoError(t, err)
	assert.Equal(t, "done", final.Content)
	assert.Len(t, final.ThinkingSteps, 1)
}

func TestToolBuffering(t *testing.T) {
	h := newHarness(t, Options{})
	h.withNewSession()
	h.acceptSaves()

	info, err := h.engine.SendMessage(context.Background(), "plan my trip")
	require.NoError(t, err)

	id := info.TurnID
	h.tr.deliver(protocol.EventToolResult, protocol.ToolResultPayload{Output: "orphan", TurnID: id})
	h.tr.deliver(protocol.EventToolStart, protocol.ToolStartPayload{Tool: "Weather", Input: "Paris", TurnID: id})
	h.tr.deliver(protocol.EventToolResult, protocol.ToolResultPayload{Output: "rain", TurnID: id})
	h.tr.deliver(protocol.EventToolStart, protocol.ToolStartPayload{Tool: "Flights", Input: "NYC-CDG", TurnID: id})
	h.tr.deliver(protocol.EventToolResult, protocol.ToolResultPayload{Output: "$600", TurnID: id})
	h.tr.deliver(protocol.EventToolStart, protocol.ToolStartPayload{Tool: "Hotels", Input: "Paris", TurnID: id})
	h.tr.deliver(protocol.EventDone, protocol.DonePayload{Response: "here is your plan", TurnID: id})

	final, err := wait(t, info)
	require.NoError(t, err)
	require.Len(t, final.ToolCalls, 3)

	assert.Equal(t, "Weather", final.ToolCalls[0].Tool)
	assert.Equal(t, "rain", *final.ToolCalls[0].Output)
	assert.Equal(t, "Flights", final.ToolCalls[1].Tool)
	assert.Equal(t, "$600", *final.ToolCalls[1].Output)
	assert.Equal(t, "Hotels", final.ToolCalls[2].Tool)
	assert.Nil(t, final.ToolCalls[2].Output)
}

func TestDoneToolCallsTakePrecedence(t *testing.T) {
	h := newHarness(t, Options{})
	h.withNewSession()
	h.acceptSaves()

	info, err := h.engine.SendMessage(context.Background(), "hi")
	require.NoError(t, err)

	out := "from backend"
	h.tr.deliver(protocol.EventToolStart, protocol.ToolStartPayload{Tool: "Buffered", Input: "x", TurnID: info.TurnID})
	h.tr.deliver(protocol.EventDone, protocol.DonePayload{
		Response:  "done",
		ToolCalls: []domain.ToolCall{{Tool: "Summary", Input: "y", Output: &out}},
		TurnID:    info.TurnID,
	})

	final, err := wait(t, info)
	require.NoError(t, err)
	require.Len(t, final.ToolCalls, 1)
	assert.Equal(t, "Summary", final.ToolCalls[0].Tool)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	h := newHarness(t, Options{})
	h.withNewSession()
	h.acceptSaves()

	info, err := h.engine.SendMessage(context.Background(), "hi")
	require.NoError(t, err)

	h.tr.deliver(protocol.EventDone, protocol.DonePayload{Response: "once", TurnID: info.TurnID})
	h.tr.deliver(protocol.EventDone, protocol.DonePayload{Response: "twice", TurnID: info.TurnID})

	final, err := wait(t, info)
	require.NoError(t, err)
	assert.Equal(t, "once", final.Content)

	// a retried finalize on the same turn does not queue another save
	h.engine.mu.Lock()
	assert.Nil(t, h.engine.finishLocked(info.turn, protocol.DonePayload{Response: "retry"}))
	assert.False(t, h.engine.persistAssistant(info.turn, final))
	h.engine.mu.Unlock()

	h.flush(t)
	h.gateway.AssertNumberOfCalls(t, "SaveAssistantMessage", 1)
}

func TestDisconnectFailsStreamingTurn(t *testing.T) {
	h := newHarness(t, Options{})
	h.withNewSession()
	h.acceptSaves()

	info, err := h.engine.SendMessage(context.Background(), "hi")
	require.NoError(t, err)
	h.tr.deliver(protocol.EventThinking, protocol.ThinkingPayload{Text: "working", TurnID: info.TurnID})

	h.tr.deliver(transport.EventDisconnect, nil)

	final, err := wait(t, info)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "Error: connection lost", final.Content)
	assert.False(t, final.Streaming)

	// the lost turn's events have nowhere to go
	h.tr.deliver(protocol.EventDone, protocol.DonePayload{Response: "too late", TurnID: info.TurnID})
	assert.Equal(t, "Error: connection lost", h.engine.ActiveMessages()[1].Content)
}

func TestDisconnectDuringEmitFailsTurn(t *testing.T) {
	h := newHarness(t, Options{})
	h.withNewSession()
	h.acceptSaves()
	h.tr.afterWrite = func() {
		h.tr.deliver(transport.EventDisconnect, nil)
	}

	info, err := h.engine.SendMessage(context.Background(), "hi")
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.ErrorIs(t, err, errConnectionLost)

	final, err := wait(t, info)
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "Error: connection lost", final.Content)
	assert.False(t, final.Streaming)
	assert.Equal(t, StateIdle, h.engine.TurnState(info.TurnID))

	msgs := h.engine.ActiveMessages()
	require.Len(t, msgs, 2)
	assert.False(t, msgs[1].Streaming)
}

func TestIdleTimeout(t *testing.T) {
	h := newHarness(t, Options{IdleTimeout: 30 * time.Millisecond})
	h.withNewSession()
	h.acceptSaves()

	info, err := h.engine.SendMessage(context.Background(), "hi")
	require.NoError(t, err)

	final, err := wait(t, info)
	assert.ErrorIs(t, err, errIdleTimeout)
	assert.Equal(t, "Error: timed out waiting for the assistant", final.Content)
	assert.False(t, final.Streaming)
}

func TestIdleTimerResetsOnEvents(t *testing.T) {
	h := newHarness(t, Options{IdleTimeout: 80 * time.Millisecond})
	h.withNewSession()
	h.acceptSaves()

	info, err := h.engine.SendMessage(context.Background(), "hi")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		time.Sleep(40 * time.Millisecond)
		h.tr.deliver(protocol.EventThinking, protocol.ThinkingPayload{Text: "still here", TurnID: info.TurnID})
	}
	h.tr.deliver(protocol.EventDone, protocol.DonePayload{Response: "made it", TurnID: info.TurnID})

	final, err := wait(t, info)
	require.NoError(t, err)
	assert.Equal(t, "made it", final.Content)
}

func TestAuthRejectedOnEmitClearsCredential(t *testing.T) {
	h := newHarness(t, Options{})
	h.withNewSession()
	h.acceptSaves()
	h.tr.setEmitErr(&transport.AuthError{Status: 401})

	_, err := h.engine.SendMessage(context.Background(), "hi")
	var ae *AuthError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, 1, h.creds.Cleared())
}

func TestAuthRejectedOnREST(t *testing.T) {
	h := newHarness(t, Options{})
	h.backend.On("CreateSession", mock.Anything, "").Return(nil, fmt.Errorf("api error 401: %w", domain.ErrUnauthorized))

	_, err := h.engine.SendMessage(context.Background(), "hi")
	var ae *AuthError
	require.True(t, errors.As(err, &ae))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, 1, h.creds.Cleared())
}

func TestAuthRejectedEventClearsCredential(t *testing.T) {
	h := newHarness(t, Options{})
	h.tr.deliver(transport.EventAuthRejected, nil)
	assert.Equal(t, 1, h.creds.Cleared())
}

func TestDeleteActiveSessionWhileStreaming(t *testing.T) {
	h := newHarness(t, Options{})
	h.withNewSession()
	h.acceptSaves()
	h.backend.On("DeleteSession", mock.Anything, int64(1)).Return(nil)

	info, err := h.engine.SendMessage(context.Background(), "hi")
	require.NoError(t, err)

	require.NoError(t, h.engine.DeleteSession(context.Background(), 1))
	_, active := h.engine.ActiveSession()
	assert.False(t, active)
	assert.Empty(t, h.engine.Sessions())

	assert.NotPanics(t, func() {
		h.tr.deliver(protocol.EventThinking, protocol.ThinkingPayload{Text: "orphan", TurnID: info.TurnID})
		h.tr.deliver(protocol.EventDone, protocol.DonePayload{Response: "orphan", TurnID: info.TurnID})
	})

	final, err := wait(t, info)
	require.NoError(t, err)
	assert.Equal(t, "orphan", final.Content)
	assert.Empty(t, h.engine.Messages(1))

	h.flush(t)
	h.gateway.AssertNotCalled(t, "SaveAssistantMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestStart(t *testing.T) {
	h := newHarness(t, Options{})
	stored := []domain.Message{{
		ID:            "m1",
		SessionID:     5,
		Role:          domain.RoleUser,
		Content:       "earlier",
		ToolCalls:     []domain.ToolCall{},
		ThinkingSteps: []domain.ThinkingStep{},
		CreatedAt:     time.UnixMilli(1700000000000).UTC(),
	}}
	h.backend.On("ListSessions", mock.Anything).Return([]domain.ChatSession{{ID: 5, Title: "Recent"}, {ID: 4, Title: "Older"}}, nil)
	h.backend.On("ListMessages", mock.Anything, int64(5)).Return(stored, nil)

	require.NoError(t, h.engine.Start(context.Background()))

	id, ok := h.engine.ActiveSession()
	require.True(t, ok)
	assert.Equal(t, int64(5), id)
	assert.Equal(t, stored, h.engine.ActiveMessages(), "loaded history renders unchanged")
	assert.True(t, h.tr.Connected())
}

func TestStart_ListFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, Options{})
	h.backend.On("ListSessions", mock.Anything).Return(nil, errors.New("boom"))

	require.NoError(t, h.engine.Start(context.Background()))
	assert.Empty(t, h.engine.Sessions())

	list, err := h.engine.ListSessions(context.Background())
	assert.Error(t, err)
	assert.Empty(t, list)
}

func TestCreateAndRenameSession(t *testing.T) {
	h := newHarness(t, Options{})
	h.backend.On("ListSessions", mock.Anything).Return([]domain.ChatSession{{ID: 1, Title: "Old"}}, nil)
	h.backend.On("CreateSession", mock.Anything, "Trip").Return(&domain.ChatSession{ID: 2, Title: "Trip"}, nil)
	h.backend.On("RenameSession", mock.Anything, int64(2), "Paris trip").Return(&domain.ChatSession{ID: 2, Title: "Paris trip"}, nil)

	_, err := h.engine.ListSessions(context.Background())
	require.NoError(t, err)

	_, err = h.engine.CreateSession(context.Background(), " Trip ")
	require.NoError(t, err)

	sessions := h.engine.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, int64(2), sessions[0].ID, "new session goes to the head")
	id, _ := h.engine.ActiveSession()
	assert.Equal(t, int64(2), id)

	_, err = h.engine.RenameSession(context.Background(), 2, "  ")
	assert.ErrorIs(t, err, ErrEmptyTitle)

	_, err = h.engine.RenameSession(context.Background(), 2, "Paris trip")
	require.NoError(t, err)
	assert.Equal(t, "Paris trip", h.engine.Sessions()[0].Title)
}

func TestSwitchUnknownSession(t *testing.T) {
	h := newHarness(t, Options{})
	assert.ErrorIs(t, h.engine.SwitchSession(context.Background(), 42), ErrNoSession)
}

func TestOnUpdate(t *testing.T) {
	var mu sync.Mutex
	var events []string

	h := newHarness(t, Options{OnUpdate: func(u Update) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, u.Event)
	}})
	h.withNewSession()
	h.acceptSaves()

	info, err := h.engine.SendMessage(context.Background(), "hi")
	require.NoError(t, err)
	h.tr.deliver(protocol.EventThinking, protocol.ThinkingPayload{Text: "t", TurnID: info.TurnID})
	h.tr.deliver(protocol.EventDone, protocol.DonePayload{Response: "d", TurnID: info.TurnID})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{protocol.EventSend, protocol.EventSend, protocol.EventThinking, protocol.EventDone}, events)
}

func TestCloseFailsOpenTurns(t *testing.T) {
	h := newHarness(t, Options{})
	h.withNewSession()
	h.acceptSaves()

	info, err := h.engine.SendMessage(context.Background(), "hi")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.engine.Close(ctx))

	_, err = wait(t, info)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = h.engine.SendMessage(context.Background(), "after close")
	assert.ErrorIs(t, err, ErrClosed)
	h.gateway.AssertNumberOfCalls(t, "SaveUserMessage", 1)
}
