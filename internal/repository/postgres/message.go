package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Rrens/langly/internal/domain"
)

// MessageRepository implements domain.MessageRepository
type MessageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{pool: db.Pool}
}

// Save inserts a message; a repeated client id within a session is a no-op
func (r *MessageRepository) Save(ctx context.Context, message *domain.Message) (bool, error) {
	query := `
		INSERT INTO chat_messages (client_id, session_id, role, content, tool_calls, thinking_steps, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, client_id) DO NOTHING
	`

	toolCalls, err := json.Marshal(nonNilToolCalls(message.ToolCalls))
	if err != nil {
		return false, fmt.Errorf("failed to marshal tool calls: %w", err)
	}
	thinking, err := json.Marshal(nonNilThinking(message.ThinkingSteps))
	if err != nil {
		return false, fmt.Errorf("failed to marshal thinking steps: %w", err)
	}

	tag, err := r.pool.Exec(ctx, query,
		message.ID,
		message.SessionID,
		string(message.Role),
		message.Content,
		toolCalls,
		thinking,
		message.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create message: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ListBySession retrieves messages for a session in creation order
func (r *MessageRepository) ListBySession(ctx context.Context, sessionID int64) ([]domain.Message, error) {
	query := `
		SELECT client_id, session_id, role, content, tool_calls, thinking_steps, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var roleStr string
		var toolCalls, thinking []byte

		if err := rows.Scan(
			&m.ID,
			&m.SessionID,
			&roleStr,
			&m.Content,
			&toolCalls,
			&thinking,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = domain.MessageRole(roleStr)
		if err := json.Unmarshal(toolCalls, &m.ToolCalls); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tool calls: %w", err)
		}
		if err := json.Unmarshal(thinking, &m.ThinkingSteps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal thinking steps: %w", err)
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// DeleteBySession removes every message of a session
func (r *MessageRepository) DeleteBySession(ctx context.Context, sessionID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM chat_messages WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

func nonNilToolCalls(calls []domain.ToolCall) []domain.ToolCall {
	if calls == nil {
		return []domain.ToolCall{}
	}
	return calls
}

func nonNilThinking(steps []domain.ThinkingStep) []domain.ThinkingStep {
	if steps == nil {
		return []domain.ThinkingStep{}
	}
	return steps
}
