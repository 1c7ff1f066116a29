package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rrens/langly/internal/domain"
)

// PersistenceGateway saves finished messages. Implementations must treat
// a repeated save of the same message id as a no-op.
type PersistenceGateway interface {
	SaveUserMessage(ctx context.Context, sessionID int64, msg domain.Message) error
	SaveAssistantMessage(ctx context.Context, sessionID int64, msg domain.Message) error
}

// RetryingGateway retries transient save failures with linear backoff
type RetryingGateway struct {
	next     PersistenceGateway
	attempts int
	backoff  time.Duration
	log      zerolog.Logger
}

// NewRetryingGateway wraps next. attempts below one means a single try.
func NewRetryingGateway(next PersistenceGateway, attempts int, backoff time.Duration, log zerolog.Logger) *RetryingGateway {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryingGateway{next: next, attempts: attempts, backoff: backoff, log: log}
}

func (g *RetryingGateway) SaveUserMessage(ctx context.Context, sessionID int64, msg domain.Message) error {
	return g.retry(ctx, msg.ID, func(ctx context.Context) error {
		return g.next.SaveUserMessage(ctx, sessionID, msg)
	})
}

func (g *RetryingGateway) SaveAssistantMessage(ctx context.Context, sessionID int64, msg domain.Message) error {
	return g.retry(ctx, msg.ID, func(ctx context.Context) error {
		return g.next.SaveAssistantMessage(ctx, sessionID, msg)
	})
}

func (g *RetryingGateway) retry(ctx context.Context, messageID string, save func(context.Context) error) error {
	var err error
	attempt := 0
	for attempt < g.attempts {
		attempt++
		if err = save(ctx); err == nil {
			return nil
		}
		if permanent(err) {
			break
		}

		g.log.Debug().Err(err).Str("message_id", messageID).Int("attempt", attempt).Msg("Save failed, retrying")
		if attempt == g.attempts {
			break
		}

		timer := time.NewTimer(g.backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return &PersistenceError{MessageID: messageID, Attempts: attempt, Err: ctx.Err()}
		case <-timer.C:
		}
	}
	return &PersistenceError{MessageID: messageID, Attempts: attempt, Err: err}
}

// permanent errors are not worth retrying
func permanent(err error) bool {
	return errors.Is(err, domain.ErrUnauthorized) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, context.Canceled)
}
