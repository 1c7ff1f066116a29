package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Rrens/langly/internal/domain"
)

// SessionRepository implements domain.SessionRepository
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.ChatSession) error {
	session.CreatedAt = fromMillis(toMillis(session.CreatedAt))
	session.UpdatedAt = fromMillis(toMillis(session.UpdatedAt))

	result, err := r.db.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (title, created_ts, updated_ts) VALUES (?, ?, ?)`,
		session.Title, session.CreatedAt.UnixMilli(), session.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read session id: %w", err)
	}
	session.ID = id
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id int64) (*domain.ChatSession, error) {
	var s domain.ChatSession
	var created, updated int64
	err := r.db.db.QueryRowContext(ctx,
		`SELECT id, title, created_ts, updated_ts FROM chat_sessions WHERE id = ?`, id,
	).Scan(&s.ID, &s.Title, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	s.CreatedAt = fromMillis(created)
	s.UpdatedAt = fromMillis(updated)
	return &s, nil
}

func (r *SessionRepository) List(ctx context.Context, limit int) ([]domain.ChatSession, error) {
	rows, err := r.db.db.QueryContext(ctx,
		`SELECT id, title, created_ts, updated_ts FROM chat_sessions ORDER BY updated_ts DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []domain.ChatSession{}
	for rows.Next() {
		var s domain.ChatSession
		var created, updated int64
		if err := rows.Scan(&s.ID, &s.Title, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.CreatedAt = fromMillis(created)
		s.UpdatedAt = fromMillis(updated)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) Update(ctx context.Context, session *domain.ChatSession) error {
	result, err := r.db.db.ExecContext(ctx,
		`UPDATE chat_sessions SET title = ?, updated_ts = ? WHERE id = ?`,
		session.Title, toMillis(session.UpdatedAt), session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes the session and its messages in one transaction
func (r *SessionRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return tx.Commit()
}
