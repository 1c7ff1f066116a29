// Package chat is the streaming chat session engine. It turns a typed
// message into a socket exchange with the assistant, binds every inbound
// event to the turn that caused it, and persists the finished exchange.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Rrens/langly/internal/domain"
	"github.com/Rrens/langly/internal/protocol"
	"github.com/Rrens/langly/internal/transport"
)

// ErrEmptyTitle is returned when renaming to a blank title
var ErrEmptyTitle = errors.New("title is required")

const saveQueueSize = 256

// Backend is the session and history API of the server
type Backend interface {
	ListSessions(ctx context.Context) ([]domain.ChatSession, error)
	CreateSession(ctx context.Context, title string) (*domain.ChatSession, error)
	RenameSession(ctx context.Context, id int64, title string) (*domain.ChatSession, error)
	DeleteSession(ctx context.Context, id int64) error
	ListMessages(ctx context.Context, sessionID int64) ([]domain.Message, error)
}

// Credentials is cleared whenever the backend rejects it
type Credentials interface {
	Clear()
}

// Update describes one visible change to a message
type Update struct {
	// Event is the protocol event that caused the change; chat:send marks
	// a new placeholder
	Event     string
	SessionID int64
	TurnID    string
	Message   domain.Message
	Err       error
}

// Options configures an Engine
type Options struct {
	// IdleTimeout fails a turn that receives no event for this long.
	// Zero disables it.
	IdleTimeout time.Duration
	SaveTimeout time.Duration
	Logger      zerolog.Logger
	Now         func() time.Time
	// OnUpdate is called after every applied change, outside the engine lock
	OnUpdate func(Update)
}

// TurnInfo identifies a turn started by SendMessage
type TurnInfo struct {
	TurnID             string
	SessionID          int64
	AssistantMessageID string

	turn *Turn
}

// Wait blocks until the turn is finished and returns the final assistant
// message and, for failed turns, the cause.
func (ti TurnInfo) Wait(ctx context.Context) (domain.Message, error) {
	if ti.turn == nil {
		return domain.Message{}, ErrNoSession
	}
	select {
	case <-ti.turn.done:
		return ti.turn.final, ti.turn.err
	case <-ctx.Done():
		return domain.Message{}, ctx.Err()
	}
}

type saveJob struct {
	sessionID int64
	msg       domain.Message
	barrier   chan struct{}
}

// Engine coordinates sessions, messages, turns and persistence
type Engine struct {
	backend   Backend
	gateway   PersistenceGateway
	transport transport.Transport
	creds     Credentials
	opts      Options
	log       zerolog.Logger

	sessions *SessionStore
	messages *MessageStore

	group singleflight.Group

	mu     sync.Mutex
	turns  *Correlator
	closed bool
	unsubs []func()
	// disconnects counts transport drops seen by onDisconnect
	disconnects uint64

	saveCh     chan saveJob
	workerDone chan struct{}
}

// New creates an engine and subscribes it to tr. creds may be nil.
func New(backend Backend, gateway PersistenceGateway, tr transport.Transport, creds Credentials, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = 30 * time.Second
	}

	e := &Engine{
		backend:    backend,
		gateway:    gateway,
		transport:  tr,
		creds:      creds,
		opts:       opts,
		log:        opts.Logger.With().Str("component", "chat").Logger(),
		sessions:   NewSessionStore(),
		messages:   NewMessageStore(opts.Now),
		turns:      NewCorrelator(),
		saveCh:     make(chan saveJob, saveQueueSize),
		workerDone: make(chan struct{}),
	}

	e.unsubs = []func(){
		tr.On(protocol.EventThinking, e.onThinking),
		tr.On(protocol.EventToolStart, e.onToolStart),
		tr.On(protocol.EventToolResult, e.onToolResult),
		tr.On(protocol.EventDone, e.onDone),
		tr.On(protocol.EventError, e.onError),
		tr.On(transport.EventConnect, e.onConnect),
		tr.On(transport.EventDisconnect, e.onDisconnect),
		tr.On(transport.EventAuthRejected, e.onAuthRejected),
	}

	go e.persistLoop()
	return e
}

// Start loads the session list, opens the newest session and connects.
// Only an authentication failure is returned; other failures are logged
// and retried lazily by the next send.
func (e *Engine) Start(ctx context.Context) error {
	var ae *AuthError

	sessions, err := e.ListSessions(ctx)
	if err != nil {
		if errors.As(err, &ae) {
			return err
		}
		e.log.Warn().Err(err).Msg("Failed to load sessions")
	}

	if len(sessions) > 0 {
		if err := e.SwitchSession(ctx, sessions[0].ID); err != nil {
			if errors.As(err, &ae) {
				return err
			}
			e.log.Warn().Err(err).Int64("session_id", sessions[0].ID).Msg("Failed to load history")
		}
	}

	if err := e.transport.Connect(ctx); err != nil {
		err = e.transportError("connect", err)
		if errors.As(err, &ae) {
			return err
		}
		e.log.Warn().Err(err).Msg("Assistant not reachable yet")
	}
	return nil
}

// Close fails open turns, disconnects, and waits for pending saves
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, off := range e.unsubs {
		off()
	}
	var updates []Update
	for _, t := range e.turns.OpenTurns() {
		updates = append(updates, e.failLocked(t, ErrClosed.Error(), ErrClosed)...)
	}
	e.mu.Unlock()
	e.notify(updates)

	e.transport.Disconnect()

	// no sends happen once closed is set
	close(e.saveCh)

	select {
	case <-e.workerDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to flush pending saves: %w", ctx.Err())
	}
}

// Flush waits until every save queued so far has been attempted
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	barrier := make(chan struct{})
	e.saveCh <- saveJob{barrier: barrier}
	e.mu.Unlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sessions returns the known sessions, newest first
func (e *Engine) Sessions() []domain.ChatSession {
	return e.sessions.List()
}

// ActiveSession returns the selected session id
func (e *Engine) ActiveSession() (int64, bool) {
	return e.sessions.Active()
}

// Messages returns the message list of a session
func (e *Engine) Messages(sessionID int64) []domain.Message {
	return e.messages.Messages(sessionID)
}

// ActiveMessages returns the list that should be rendered now
func (e *Engine) ActiveMessages() []domain.Message {
	id, ok := e.sessions.Active()
	if !ok {
		return []domain.Message{}
	}
	return e.messages.Messages(id)
}

// ListSessions refreshes the session list from the backend. On failure the
// returned list is empty and the local list is left as is.
func (e *Engine) ListSessions(ctx context.Context) ([]domain.ChatSession, error) {
	sessions, err := e.backend.ListSessions(ctx)
	if err != nil {
		return []domain.ChatSession{}, e.backendError("list sessions", err)
	}
	e.sessions.Replace(sessions)
	return e.sessions.List(), nil
}

// CreateSession creates a session, puts it at the head and activates it
func (e *Engine) CreateSession(ctx context.Context, title string) (*domain.ChatSession, error) {
	session, err := e.backend.CreateSession(ctx, strings.TrimSpace(title))
	if err != nil {
		return nil, e.backendError("create session", err)
	}
	e.sessions.Add(*session)
	e.sessions.SetActive(session.ID)
	return session, nil
}

// SwitchSession activates a session and merges its stored history. A turn
// still streaming elsewhere keeps writing into its own session's list.
func (e *Engine) SwitchSession(ctx context.Context, id int64) error {
	if _, ok := e.sessions.Get(id); !ok {
		return ErrNoSession
	}
	e.sessions.SetActive(id)

	history, err := e.backend.ListMessages(ctx, id)
	if err != nil {
		return e.backendError("load history", err)
	}
	e.messages.Merge(id, history)
	return nil
}

// RenameSession changes a session title
func (e *Engine) RenameSession(ctx context.Context, id int64, title string) (*domain.ChatSession, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}

	session, err := e.backend.RenameSession(ctx, id, title)
	if err != nil {
		return nil, e.backendError("rename session", err)
	}
	e.sessions.Update(*session)
	return session, nil
}

// DeleteSession removes a session. A turn streaming in it is not cancelled
// on the backend; its remaining events find no message and are ignored.
func (e *Engine) DeleteSession(ctx context.Context, id int64) error {
	if err := e.backend.DeleteSession(ctx, id); err != nil {
		return e.backendError("delete session", err)
	}

	e.mu.Lock()
	e.sessions.Remove(id)
	e.messages.Clear(id)
	e.mu.Unlock()
	return nil
}

// SendMessage appends the user message and a streaming placeholder to the
// active session (creating one if needed) and emits it to the assistant.
// When the emit fails the placeholder shows the error and the error is
// returned alongside the TurnInfo.
func (e *Engine) SendMessage(ctx context.Context, text string) (TurnInfo, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return TurnInfo{}, ErrEmptyMessage
	}

	sessionID, err := e.ensureSession(ctx)
	if err != nil {
		return TurnInfo{}, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return TurnInfo{}, ErrClosed
	}
	if e.turns.Busy(sessionID) {
		e.mu.Unlock()
		return TurnInfo{}, ErrTurnInProgress
	}

	user := e.messages.AppendUser(sessionID, text)
	placeholder := e.messages.AppendAssistantPlaceholder(sessionID)
	t, err := e.turns.Open(sessionID, placeholder.ID, e.opts.Now())
	if err != nil {
		e.mu.Unlock()
		return TurnInfo{}, err
	}
	e.armIdle(t)
	e.enqueue(saveJob{sessionID: sessionID, msg: user})
	disconnects := e.disconnects
	e.mu.Unlock()

	info := TurnInfo{
		TurnID:             t.ID,
		SessionID:          sessionID,
		AssistantMessageID: placeholder.ID,
		turn:               t,
	}
	e.notify([]Update{
		{Event: protocol.EventSend, SessionID: sessionID, TurnID: t.ID, Message: user},
		{Event: protocol.EventSend, SessionID: sessionID, TurnID: t.ID, Message: placeholder},
	})

	err = e.transport.Emit(ctx, protocol.EventSend, protocol.SendPayload{Message: text, TurnID: t.ID})

	e.mu.Lock()
	var updates []Update
	if err != nil {
		err = e.transportError("emit", err)
		if !t.state.Terminal() {
			updates = e.failLocked(t, err.Error(), err)
		}
	} else if e.disconnects != disconnects && !t.state.Terminal() {
		err = &TransportError{Op: "emit", Err: errConnectionLost}
		updates = e.failLocked(t, errConnectionLost.Error(), err)
	} else if t.state == StateAwaitingConnection {
		t.state = StateStreaming
	}
	e.mu.Unlock()
	e.notify(updates)

	return info, err
}

// TurnState returns the state of an open turn, or StateIdle when the turn
// is unknown or finished
func (e *Engine) TurnState(turnID string) TurnState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t := e.turns.Get(turnID); t != nil {
		return t.state
	}
	return StateIdle
}

func (e *Engine) ensureSession(ctx context.Context) (int64, error) {
	if id, ok := e.sessions.Active(); ok {
		return id, nil
	}

	v, err, _ := e.group.Do("create-session", func() (any, error) {
		if id, ok := e.sessions.Active(); ok {
			return id, nil
		}
		session, err := e.backend.CreateSession(ctx, "")
		if err != nil {
			return int64(0), err
		}
		e.sessions.Add(*session)
		e.sessions.SetActive(session.ID)
		return session.ID, nil
	})
	if err != nil {
		return 0, e.backendError("create session", err)
	}
	return v.(int64), nil
}

func (e *Engine) onThinking(data json.RawMessage) {
	var p protocol.ThinkingPayload
	if !e.decode(protocol.EventThinking, data, &p) {
		return
	}
	e.apply(protocol.EventThinking, p.TurnID, func(t *Turn) (Patch, bool) {
		return t.addThinking(p.Text, e.opts.Now()), true
	})
}

func (e *Engine) onToolStart(data json.RawMessage) {
	var p protocol.ToolStartPayload
	if !e.decode(protocol.EventToolStart, data, &p) {
		return
	}
	e.apply(protocol.EventToolStart, p.TurnID, func(t *Turn) (Patch, bool) {
		return t.startTool(p.Tool, p.Input), true
	})
}

func (e *Engine) onToolResult(data json.RawMessage) {
	var p protocol.ToolResultPayload
	if !e.decode(protocol.EventToolResult, data, &p) {
		return
	}
	e.apply(protocol.EventToolResult, p.TurnID, func(t *Turn) (Patch, bool) {
		patch, ok := t.attachResult(p.Output)
		if !ok {
			e.log.Debug().Str("turn_id", t.ID).Msg("Tool result without a pending tool call")
		}
		return patch, ok
	})
}

func (e *Engine) onDone(data json.RawMessage) {
	var p protocol.DonePayload
	if !e.decode(protocol.EventDone, data, &p) {
		return
	}

	e.mu.Lock()
	t := e.route(protocol.EventDone, p.TurnID)
	var updates []Update
	if t != nil {
		updates = e.finishLocked(t, p)
	}
	e.mu.Unlock()
	e.notify(updates)
}

func (e *Engine) onError(data json.RawMessage) {
	var p protocol.ErrorPayload
	if !e.decode(protocol.EventError, data, &p) {
		return
	}

	e.mu.Lock()
	t := e.route(protocol.EventError, p.TurnID)
	var updates []Update
	if t != nil {
		updates = e.failLocked(t, p.Error, &BackendError{Message: p.Error})
	}
	e.mu.Unlock()
	e.notify(updates)
}

func (e *Engine) onConnect(json.RawMessage) {
	e.log.Debug().Msg("Assistant connected")
}

// onDisconnect fails every turn that was already streaming. There is no
// resume protocol, so their remaining events are lost. Turns still inside
// Emit are failed by SendMessage once the emit returns.
func (e *Engine) onDisconnect(json.RawMessage) {
	e.mu.Lock()
	e.disconnects++
	var updates []Update
	for _, t := range e.turns.OpenTurns() {
		if t.state != StateStreaming {
			continue
		}
		err := &TransportError{Op: "stream", Err: errConnectionLost}
		updates = append(updates, e.failLocked(t, errConnectionLost.Error(), err)...)
	}
	e.mu.Unlock()

	if len(updates) > 0 {
		e.log.Warn().Int("turns", len(updates)).Msg("Connection lost while streaming")
	}
	e.notify(updates)
}

func (e *Engine) onAuthRejected(json.RawMessage) {
	e.log.Warn().Msg("Assistant rejected the credential")
	if e.creds != nil {
		e.creds.Clear()
	}
}

// apply routes an intermediate event and mirrors the turn's buffers into
// the bound message
func (e *Engine) apply(event, turnID string, fn func(*Turn) (Patch, bool)) {
	e.mu.Lock()
	t := e.route(event, turnID)
	if t == nil {
		e.mu.Unlock()
		return
	}

	e.armIdle(t)
	var updates []Update
	if patch, ok := fn(t); ok && e.messages.ApplyPatch(t.SessionID, t.AssistantMessageID, patch) {
		if msg, found := e.messages.Get(t.SessionID, t.AssistantMessageID); found {
			updates = append(updates, Update{Event: event, SessionID: t.SessionID, TurnID: t.ID, Message: msg})
		}
	}
	e.mu.Unlock()
	e.notify(updates)
}

// route must be called with e.mu held
func (e *Engine) route(event, turnID string) *Turn {
	t := e.turns.Route(turnID)
	if t == nil || t.state.Terminal() {
		e.log.Debug().Str("event", event).Str("turn_id", turnID).Msg("Dropping event with no open turn")
		return nil
	}
	if t.state == StateAwaitingConnection {
		t.state = StateStreaming
	}
	return t
}

func (e *Engine) finishLocked(t *Turn, done protocol.DonePayload) []Update {
	if t.state.Terminal() {
		return nil
	}

	patch := t.finishPatch(done)
	e.messages.ApplyPatch(t.SessionID, t.AssistantMessageID, patch)

	msg, ok := e.messages.Get(t.SessionID, t.AssistantMessageID)
	if ok {
		e.persistAssistant(t, msg)
	} else {
		msg = t.shadow(patch)
	}

	e.closeTurn(t, StateClosed, msg, nil)
	return []Update{{Event: protocol.EventDone, SessionID: t.SessionID, TurnID: t.ID, Message: msg}}
}

// failLocked finishes a turn with a visible error. Failed turns are not
// persisted.
func (e *Engine) failLocked(t *Turn, reason string, cause error) []Update {
	if t.state.Terminal() {
		return nil
	}

	patch := t.failPatch(reason)
	e.messages.ApplyPatch(t.SessionID, t.AssistantMessageID, patch)

	msg, ok := e.messages.Get(t.SessionID, t.AssistantMessageID)
	if !ok {
		msg = t.shadow(patch)
	}

	e.closeTurn(t, StateErrored, msg, cause)
	return []Update{{Event: protocol.EventError, SessionID: t.SessionID, TurnID: t.ID, Message: msg, Err: cause}}
}

func (e *Engine) closeTurn(t *Turn, state TurnState, final domain.Message, cause error) {
	t.state = state
	t.idleGen++
	if t.idle != nil {
		t.idle.Stop()
	}
	t.final = final
	t.err = cause
	e.turns.Close(t)
	close(t.done)
}

// persistAssistant queues the final message once per turn
func (e *Engine) persistAssistant(t *Turn, msg domain.Message) bool {
	if t.persisted {
		return false
	}
	t.persisted = true
	e.enqueue(saveJob{sessionID: t.SessionID, msg: msg})
	return true
}

func (e *Engine) armIdle(t *Turn) {
	if e.opts.IdleTimeout <= 0 {
		return
	}
	t.idleGen++
	gen := t.idleGen
	if t.idle != nil {
		t.idle.Stop()
	}
	t.idle = time.AfterFunc(e.opts.IdleTimeout, func() { e.expire(t, gen) })
}

func (e *Engine) expire(t *Turn, gen int) {
	e.mu.Lock()
	if t.state.Terminal() || t.idleGen != gen {
		e.mu.Unlock()
		return
	}
	e.log.Warn().Str("turn_id", t.ID).Dur("idle", e.opts.IdleTimeout).Msg("Turn timed out")
	updates := e.failLocked(t, errIdleTimeout.Error(), &TransportError{Op: "stream", Err: errIdleTimeout})
	e.mu.Unlock()
	e.notify(updates)
}

// enqueue must be called with e.mu held
func (e *Engine) enqueue(job saveJob) {
	if e.closed || e.gateway == nil {
		return
	}
	e.saveCh <- job
}

func (e *Engine) persistLoop() {
	defer close(e.workerDone)

	for job := range e.saveCh {
		if job.barrier != nil {
			close(job.barrier)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), e.opts.SaveTimeout)
		var err error
		if job.msg.Role == domain.RoleUser {
			err = e.gateway.SaveUserMessage(ctx, job.sessionID, job.msg)
		} else {
			err = e.gateway.SaveAssistantMessage(ctx, job.sessionID, job.msg)
		}
		cancel()

		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) && e.creds != nil {
				e.creds.Clear()
			}
			e.log.Warn().Err(err).Str("message_id", job.msg.ID).Int64("session_id", job.sessionID).Msg("Failed to persist message")
		}
	}
}

func (e *Engine) notify(updates []Update) {
	if e.opts.OnUpdate == nil {
		return
	}
	for _, u := range updates {
		e.opts.OnUpdate(u)
	}
}

func (e *Engine) decode(event string, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		e.log.Warn().Err(err).Str("event", event).Msg("Dropping malformed event")
		return false
	}
	return true
}

func (e *Engine) backendError(op string, err error) error {
	if errors.Is(err, domain.ErrUnauthorized) {
		if e.creds != nil {
			e.creds.Clear()
		}
		return &AuthError{Err: fmt.Errorf("%s: %w", op, err)}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func (e *Engine) transportError(op string, err error) error {
	if transport.IsAuthError(err) {
		if e.creds != nil {
			e.creds.Clear()
		}
		return &AuthError{Err: err}
	}
	return &TransportError{Op: op, Err: err}
}
