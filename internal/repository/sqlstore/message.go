package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Rrens/langly/internal/domain"
)

// MessageRepository implements domain.MessageRepository
type MessageRepository struct {
	db *DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Save inserts a message; a repeated client id within a session is a no-op
func (r *MessageRepository) Save(ctx context.Context, message *domain.Message) (bool, error) {
	toolCalls := message.ToolCalls
	if toolCalls == nil {
		toolCalls = []domain.ToolCall{}
	}
	thinking := message.ThinkingSteps
	if thinking == nil {
		thinking = []domain.ThinkingStep{}
	}

	toolJSON, err := json.Marshal(toolCalls)
	if err != nil {
		return false, fmt.Errorf("failed to marshal tool calls: %w", err)
	}
	thinkingJSON, err := json.Marshal(thinking)
	if err != nil {
		return false, fmt.Errorf("failed to marshal thinking steps: %w", err)
	}

	result, err := r.db.db.ExecContext(ctx, r.db.dialect.insertIgnore,
		message.ID,
		message.SessionID,
		string(message.Role),
		message.Content,
		string(toolJSON),
		string(thinkingJSON),
		toMillis(message.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to create message: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to create message: %w", err)
	}
	return n == 1, nil
}

// ListBySession retrieves messages for a session in creation order
func (r *MessageRepository) ListBySession(ctx context.Context, sessionID int64) ([]domain.Message, error) {
	rows, err := r.db.db.QueryContext(ctx,
		`SELECT client_id, session_id, role, content, tool_calls, thinking_steps, created_ts
		 FROM chat_messages WHERE session_id = ? ORDER BY created_ts ASC, id ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var role, toolJSON, thinkingJSON string
		var created int64

		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &toolJSON, &thinkingJSON, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = domain.MessageRole(role)
		m.CreatedAt = fromMillis(created)
		if err := json.Unmarshal([]byte(toolJSON), &m.ToolCalls); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tool calls: %w", err)
		}
		if err := json.Unmarshal([]byte(thinkingJSON), &m.ThinkingSteps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal thinking steps: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DeleteBySession removes every message of a session
func (r *MessageRepository) DeleteBySession(ctx context.Context, sessionID int64) error {
	if _, err := r.db.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}
