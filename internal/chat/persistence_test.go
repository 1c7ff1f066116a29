package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/langly/internal/domain"
)

func TestRetryingGateway_RetriesTransient(t *testing.T) {
	next := &mockGateway{}
	next.On("SaveAssistantMessage", mock.Anything, int64(1), mock.Anything).Return(errors.New("conn reset")).Twice()
	next.On("SaveAssistantMessage", mock.Anything, int64(1), mock.Anything).Return(nil).Once()

	g := NewRetryingGateway(next, 3, time.Millisecond, zerolog.Nop())
	require.NoError(t, g.SaveAssistantMessage(context.Background(), 1, domain.Message{ID: "m1"}))
	next.AssertNumberOfCalls(t, "SaveAssistantMessage", 3)
}

func TestRetryingGateway_GivesUp(t *testing.T) {
	next := &mockGateway{}
	next.On("SaveUserMessage", mock.Anything, int64(1), mock.Anything).Return(errors.New("down"))

	g := NewRetryingGateway(next, 2, time.Millisecond, zerolog.Nop())
	err := g.SaveUserMessage(context.Background(), 1, domain.Message{ID: "m1"})

	var pe *PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "m1", pe.MessageID)
	assert.Equal(t, 2, pe.Attempts)
	next.AssertNumberOfCalls(t, "SaveUserMessage", 2)
}

func TestRetryingGateway_PermanentNotRetried(t *testing.T) {
	next := &mockGateway{}
	next.On("SaveUserMessage", mock.Anything, int64(1), mock.Anything).Return(domain.ErrNotFound)

	g := NewRetryingGateway(next, 5, time.Millisecond, zerolog.Nop())
	err := g.SaveUserMessage(context.Background(), 1, domain.Message{ID: "m1"})

	assert.ErrorIs(t, err, domain.ErrNotFound)
	next.AssertNumberOfCalls(t, "SaveUserMessage", 1)
}

func TestRetryingGateway_ContextCancelled(t *testing.T) {
	next := &mockGateway{}
	next.On("SaveUserMessage", mock.Anything, int64(1), mock.Anything).Return(errors.New("down"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := NewRetryingGateway(next, 5, time.Hour, zerolog.Nop())
	err := g.SaveUserMessage(ctx, 1, domain.Message{ID: "m1"})
	assert.ErrorIs(t, err, context.Canceled)
}
