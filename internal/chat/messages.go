package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rrens/langly/internal/domain"
)

// Patch is a partial update of a streaming assistant message. Nil fields
// are left unchanged.
type Patch struct {
	Content       *string
	ToolCalls     []domain.ToolCall
	ThinkingSteps []domain.ThinkingStep
	Streaming     *bool
}

// MessageStore keeps the ordered message list of every session touched in
// this process.
type MessageStore struct {
	mu    sync.RWMutex
	lists map[int64][]*domain.Message
	now   func() time.Time
}

// NewMessageStore creates an empty store. now defaults to time.Now.
func NewMessageStore(now func() time.Time) *MessageStore {
	if now == nil {
		now = time.Now
	}
	return &MessageStore{
		lists: make(map[int64][]*domain.Message),
		now:   now,
	}
}

// Messages returns a copy of the session's list in insertion order
func (s *MessageStore) Messages(sessionID int64) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.lists[sessionID]
	out := make([]domain.Message, 0, len(list))
	for _, m := range list {
		out = append(out, m.Clone())
	}
	return out
}

// Get returns a copy of one message
func (s *MessageStore) Get(sessionID int64, id string) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m := s.find(sessionID, id); m != nil {
		return m.Clone(), true
	}
	return domain.Message{}, false
}

// AppendUser adds a finished user message
func (s *MessageStore) AppendUser(sessionID int64, text string) domain.Message {
	return s.append(sessionID, domain.RoleUser, text, false)
}

// AppendAssistantPlaceholder adds an empty streaming assistant message
func (s *MessageStore) AppendAssistantPlaceholder(sessionID int64) domain.Message {
	return s.append(sessionID, domain.RoleAssistant, "", true)
}

func (s *MessageStore) append(sessionID int64, role domain.MessageRole, content string, streaming bool) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Timestamps are millisecond precision and strictly increasing within
	// a session so storage ordering matches insertion order.
	created := s.now().UTC().Truncate(time.Millisecond)
	list := s.lists[sessionID]
	if n := len(list); n > 0 && !created.After(list[n-1].CreatedAt) {
		created = list[n-1].CreatedAt.Add(time.Millisecond)
	}

	m := &domain.Message{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		Role:          role,
		Content:       content,
		ToolCalls:     []domain.ToolCall{},
		ThinkingSteps: []domain.ThinkingStep{},
		Streaming:     streaming,
		CreatedAt:     created,
	}
	s.lists[sessionID] = append(list, m)
	return m.Clone()
}

// ApplyPatch merges p onto a streaming message. It reports false, and
// changes nothing, when the message is gone or already finished.
func (s *MessageStore) ApplyPatch(sessionID int64, id string, p Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.find(sessionID, id)
	if m == nil || !m.Streaming {
		return false
	}

	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.ToolCalls != nil {
		m.ToolCalls = domain.CloneToolCalls(p.ToolCalls)
	}
	if p.ThinkingSteps != nil {
		m.ThinkingSteps = make([]domain.ThinkingStep, len(p.ThinkingSteps))
		copy(m.ThinkingSteps, p.ThinkingSteps)
	}
	if p.Streaming != nil {
		m.Streaming = *p.Streaming
	}
	return true
}

// Merge folds fetched history into the session's list. Stored order comes
// first; messages only known locally keep their relative order after it.
// Local copies win over fetched ones with the same id.
func (s *MessageStore) Merge(sessionID int64, history []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	local := s.lists[sessionID]
	byID := make(map[string]*domain.Message, len(local))
	for _, m := range local {
		byID[m.ID] = m
	}

	merged := make([]*domain.Message, 0, len(history)+len(local))
	seen := make(map[string]bool, len(history))
	for _, h := range history {
		if seen[h.ID] {
			continue
		}
		seen[h.ID] = true

		if m, ok := byID[h.ID]; ok {
			merged = append(merged, m)
			continue
		}
		c := h.Clone()
		c.SessionID = sessionID
		c.Streaming = false
		merged = append(merged, &c)
	}
	for _, m := range local {
		if !seen[m.ID] {
			merged = append(merged, m)
		}
	}
	s.lists[sessionID] = merged
}

// Clear drops a session's list
func (s *MessageStore) Clear(sessionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, sessionID)
}

// Streaming reports whether the session has a streaming message
func (s *MessageStore) Streaming(sessionID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.lists[sessionID] {
		if m.Streaming {
			return true
		}
	}
	return false
}

func (s *MessageStore) find(sessionID int64, id string) *domain.Message {
	for _, m := range s.lists[sessionID] {
		if m.ID == id {
			return m
		}
	}
	return nil
}
