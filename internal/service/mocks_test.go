package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Rrens/langly/internal/domain"
)

// MockMessageRepository mocks the MessageRepository interface
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Save(ctx context.Context, message *domain.Message) (bool, error) {
	args := m.Called(ctx, message)
	return args.Bool(0), args.Error(1)
}

func (m *MockMessageRepository) ListBySession(ctx context.Context, sessionID int64) ([]domain.Message, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).([]domain.Message), args.Error(1)
}

func (m *MockMessageRepository) DeleteBySession(ctx context.Context, sessionID int64) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

// MockSessionRepository mocks the SessionRepository interface
type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) Create(ctx context.Context, session *domain.ChatSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionRepository) Get(ctx context.Context, id int64) (*domain.ChatSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ChatSession), args.Error(1)
}

func (m *MockSessionRepository) List(ctx context.Context, limit int) ([]domain.ChatSession, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]domain.ChatSession), args.Error(1)
}

func (m *MockSessionRepository) Update(ctx context.Context, session *domain.ChatSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionRepository) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockHistoryCache mocks the HistoryCache interface
type MockHistoryCache struct {
	mock.Mock
}

func (m *MockHistoryCache) Get(ctx context.Context, sessionID int64) ([]domain.Message, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Message), args.Error(1)
}

func (m *MockHistoryCache) Set(ctx context.Context, sessionID int64, messages []domain.Message) error {
	args := m.Called(ctx, sessionID, messages)
	return args.Error(0)
}

func (m *MockHistoryCache) Invalidate(ctx context.Context, sessionID int64) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}
