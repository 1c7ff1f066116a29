package handler

import (
	"errors"
	"net/http"

	"github.com/Rrens/langly/internal/api/middleware"
	"github.com/Rrens/langly/internal/api/response"
	"github.com/Rrens/langly/internal/domain"
	"github.com/Rrens/langly/internal/service"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Login exchanges the dashboard password for a token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input domain.LoginRequest
	if !decodeAndValidate(w, r, &input) {
		return
	}

	token, err := h.authService.Login(r.Context(), input)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			response.Unauthorized(w, "invalid password")
			return
		}
		response.FromError(w, err, "failed to log in")
		return
	}

	response.OK(w, token)
}

// Verify reports whether the request's token is valid. It runs behind
// the auth middleware.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	subject, ok := middleware.GetSubject(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	response.OK(w, map[string]any{
		"valid":   true,
		"subject": subject,
	})
}
