package chat

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/Rrens/langly/internal/domain"
	"github.com/Rrens/langly/internal/protocol"
	"github.com/Rrens/langly/internal/transport"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) ListSessions(ctx context.Context) ([]domain.ChatSession, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ChatSession), args.Error(1)
}

func (m *mockBackend) CreateSession(ctx context.Context, title string) (*domain.ChatSession, error) {
	args := m.Called(ctx, title)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ChatSession), args.Error(1)
}

func (m *mockBackend) RenameSession(ctx context.Context, id int64, title string) (*domain.ChatSession, error) {
	args := m.Called(ctx, id, title)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ChatSession), args.Error(1)
}

func (m *mockBackend) DeleteSession(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockBackend) ListMessages(ctx context.Context, sessionID int64) ([]domain.Message, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Message), args.Error(1)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) SaveUserMessage(ctx context.Context, sessionID int64, msg domain.Message) error {
	args := m.Called(ctx, sessionID, msg)
	return args.Error(0)
}

func (m *mockGateway) SaveAssistantMessage(ctx context.Context, sessionID int64, msg domain.Message) error {
	args := m.Called(ctx, sessionID, msg)
	return args.Error(0)
}

type fakeCreds struct {
	mu      sync.Mutex
	cleared int
}

func (c *fakeCreds) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared++
}

func (c *fakeCreds) Cleared() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleared
}

// fakeTransport records emits and lets tests deliver inbound events
// synchronously, the way the socket read loop does.
type fakeTransport struct {
	mu         sync.Mutex
	handlers   map[string]map[int]transport.Handler
	nextID     int
	connected  bool
	connectErr error
	emitErr    error
	sends      []protocol.SendPayload
	// afterWrite runs inside Emit once the frame is recorded
	afterWrite func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]map[int]transport.Handler)}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeTransport) Emit(ctx context.Context, event string, payload any) error {
	f.mu.Lock()
	if f.emitErr != nil {
		f.mu.Unlock()
		return f.emitErr
	}
	if send, ok := payload.(protocol.SendPayload); ok {
		f.sends = append(f.sends, send)
	}
	after := f.afterWrite
	f.mu.Unlock()

	if after != nil {
		after()
	}
	return nil
}

func (f *fakeTransport) On(event string, h transport.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	if f.handlers[event] == nil {
		f.handlers[event] = make(map[int]transport.Handler)
	}
	f.handlers[event][id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers[event], id)
	}
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) deliver(event string, payload any) {
	var data json.RawMessage
	if payload != nil {
		data, _ = json.Marshal(payload)
	}

	f.mu.Lock()
	hs := make([]transport.Handler, 0, len(f.handlers[event]))
	for _, h := range f.handlers[event] {
		hs = append(hs, h)
	}
	f.mu.Unlock()

	for _, h := range hs {
		h(data)
	}
}

func (f *fakeTransport) setEmitErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitErr = err
}

func (f *fakeTransport) sent() []protocol.SendPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.SendPayload(nil), f.sends...)
}
