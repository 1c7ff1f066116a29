package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/langly/internal/domain"
)

const (
	sessionListLimit = 50
	autoTitleLength  = 60
)

// HistoryCache caches per-session message history
type HistoryCache interface {
	Get(ctx context.Context, sessionID int64) ([]domain.Message, error)
	Set(ctx context.Context, sessionID int64, messages []domain.Message) error
	Invalidate(ctx context.Context, sessionID int64) error
}

// ChatService handles chat session and message persistence
type ChatService struct {
	sessionRepo domain.SessionRepository
	messageRepo domain.MessageRepository
	cache       HistoryCache
	now         func() time.Time
}

// NewChatService creates a new chat service. cache may be nil.
func NewChatService(sessionRepo domain.SessionRepository, messageRepo domain.MessageRepository, cache HistoryCache) *ChatService {
	return &ChatService{
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		cache:       cache,
		now:         time.Now,
	}
}

// ListSessions returns the most recently updated sessions
func (s *ChatService) ListSessions(ctx context.Context) ([]domain.ChatSession, error) {
	sessions, err := s.sessionRepo.List(ctx, sessionListLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// CreateSession creates a new chat session
func (s *ChatService) CreateSession(ctx context.Context, title string) (*domain.ChatSession, error) {
	if strings.TrimSpace(title) == "" {
		title = domain.DefaultSessionTitle
	}

	now := s.now()
	session := &domain.ChatSession{
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// RenameSession changes a session title
func (s *ChatService) RenameSession(ctx context.Context, id int64, title string) (*domain.ChatSession, error) {
	session, err := s.sessionRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	session.Title = title
	session.UpdatedAt = s.now()
	if err := s.sessionRepo.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to rename session: %w", err)
	}
	return session, nil
}

// DeleteSession deletes a session and its messages
func (s *ChatService) DeleteSession(ctx context.Context, id int64) error {
	if err := s.sessionRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.invalidate(ctx, id)
	return nil
}

// GetSessionHistory returns the messages of a session, oldest first
func (s *ChatService) GetSessionHistory(ctx context.Context, sessionID int64) ([]domain.Message, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, sessionID)
		if err != nil {
			log.Warn().Err(err).Int64("session_id", sessionID).Msg("history cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	if _, err := s.sessionRepo.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	messages, err := s.messageRepo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session history: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, sessionID, messages); err != nil {
			log.Warn().Err(err).Int64("session_id", sessionID).Msg("history cache write failed")
		}
	}
	return messages, nil
}

// SaveMessage persists a message. Saving an id that already exists in the
// session returns created=false and leaves the stored row untouched.
func (s *ChatService) SaveMessage(ctx context.Context, sessionID int64, input domain.MessageSave) (bool, error) {
	session, err := s.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	msg := &domain.Message{
		ID:            input.ID,
		SessionID:     sessionID,
		Role:          input.Role,
		Content:       input.Content,
		ToolCalls:     input.ToolCalls,
		ThinkingSteps: input.ThinkingSteps,
		CreatedAt:     createdAt,
	}

	created, err := s.messageRepo.Save(ctx, msg)
	if err != nil {
		return false, fmt.Errorf("failed to save message: %w", err)
	}
	if !created {
		return false, nil
	}
	s.invalidate(ctx, sessionID)

	if msg.Role == domain.RoleUser {
		if session.Title == domain.DefaultSessionTitle {
			session.Title = TitleFromMessage(msg.Content)
		}
		session.UpdatedAt = s.now()
		if err := s.sessionRepo.Update(ctx, session); err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Int64("session_id", sessionID).Msg("failed to touch session")
		}
	}

	return true, nil
}

// TitleFromMessage derives a session title from the first user message
func TitleFromMessage(content string) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= autoTitleLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:autoTitleLength]) + "..."
}

func (s *ChatService) invalidate(ctx context.Context, sessionID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, sessionID); err != nil {
		log.Warn().Err(err).Int64("session_id", sessionID).Msg("history cache invalidation failed")
	}
}
