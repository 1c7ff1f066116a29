package domain

import (
	"context"
	"time"
)

// DefaultSessionTitle is assigned to sessions created without a title.
const DefaultSessionTitle = "New Chat"

// ChatSession represents a conversation thread with the assistant
type ChatSession struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionCreate represents session creation data
type SessionCreate struct {
	Title string `json:"title" validate:"max=255"`
}

// SessionUpdate represents session rename data
type SessionUpdate struct {
	Title string `json:"title" validate:"required,max=255"`
}

// SessionRepository defines the interface for session storage
type SessionRepository interface {
	Create(ctx context.Context, session *ChatSession) error
	Get(ctx context.Context, id int64) (*ChatSession, error)
	List(ctx context.Context, limit int) ([]ChatSession, error)
	Update(ctx context.Context, session *ChatSession) error
	Delete(ctx context.Context, id int64) error
}
