package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Rrens/langly/internal/api/response"
	"github.com/Rrens/langly/internal/domain"
	"github.com/Rrens/langly/internal/service"
)

type SessionHandler struct {
	chatService *service.ChatService
}

func NewSessionHandler(chatService *service.ChatService) *SessionHandler {
	return &SessionHandler{chatService: chatService}
}

// List returns the sessions, most recent first
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.chatService.ListSessions(r.Context())
	if err != nil {
		response.FromError(w, err, "failed to list sessions")
		return
	}

	if sessions == nil {
		sessions = []domain.ChatSession{}
	}
	response.OK(w, sessions)
}

// Create creates a new session. The body is optional.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input domain.SessionCreate
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "invalid request body")
		return
	}
	if !validateStruct(w, input) {
		return
	}

	session, err := h.chatService.CreateSession(r.Context(), input.Title)
	if err != nil {
		response.FromError(w, err, "failed to create session")
		return
	}

	response.Created(w, session)
}

// Rename changes a session title
func (h *SessionHandler) Rename(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	var input domain.SessionUpdate
	if !decodeAndValidate(w, r, &input) {
		return
	}

	session, err := h.chatService.RenameSession(r.Context(), sessionID, input.Title)
	if err != nil {
		response.FromError(w, err, "failed to rename session")
		return
	}

	response.OK(w, session)
}

// Delete deletes a session and its messages
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	if err := h.chatService.DeleteSession(r.Context(), sessionID); err != nil {
		response.FromError(w, err, "failed to delete session")
		return
	}

	response.NoContent(w)
}

// ListMessages returns the history of a session, oldest first
func (h *SessionHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	messages, err := h.chatService.GetSessionHistory(r.Context(), sessionID)
	if err != nil {
		response.FromError(w, err, "failed to fetch session history")
		return
	}

	if messages == nil {
		messages = []domain.Message{}
	}
	response.OK(w, messages)
}

// SaveMessage stores a finished message. Saving an id twice is a no-op
// reported as created=false.
func (h *SessionHandler) SaveMessage(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	var input domain.MessageSave
	if !decodeAndValidate(w, r, &input) {
		return
	}

	created, err := h.chatService.SaveMessage(r.Context(), sessionID, input)
	if err != nil {
		response.FromError(w, err, "failed to save message")
		return
	}

	body := map[string]any{"id": input.ID, "created": created}
	if created {
		response.Created(w, body)
		return
	}
	response.OK(w, body)
}

func sessionIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(w, "invalid session ID")
		return 0, false
	}
	return id, true
}
