package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Rrens/langly/internal/api/response"
)

type contextKey string

const (
	SubjectKey contextKey = "subject"
)

// TokenVerifier validates bearer tokens
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	verifier TokenVerifier
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Authenticate validates the JWT token from the Authorization header, or
// the token query parameter for socket handshakes
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r)
		if !ok {
			response.Unauthorized(w, "missing or malformed credentials")
			return
		}

		subject, err := m.verifier.Verify(token)
		if err != nil {
			response.Unauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), SubjectKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken extracts the token of a request
func BearerToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}

// GetSubject gets the authenticated subject from context
func GetSubject(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(SubjectKey).(string)
	return subject, ok
}
