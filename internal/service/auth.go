package service

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/Rrens/langly/internal/domain"
	"github.com/Rrens/langly/internal/security"
)

const dashboardSubject = "owner"

// AuthService handles dashboard authentication
type AuthService struct {
	passwordHash []byte
	jwtManager   *security.JWTManager
}

// NewAuthService creates a new auth service. A plain password is hashed
// once here; passwordHash (bcrypt) takes precedence when non-empty.
func NewAuthService(password, passwordHash string, jwtManager *security.JWTManager) (*AuthService, error) {
	hash := []byte(passwordHash)
	if len(hash) == 0 {
		if password == "" {
			return nil, errors.New("no dashboard password configured")
		}
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
	}

	return &AuthService{
		passwordHash: hash,
		jwtManager:   jwtManager,
	}, nil
}

// Login verifies the password and returns a bearer token
func (s *AuthService) Login(ctx context.Context, input domain.LoginRequest) (*domain.Token, error) {
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(input.Password)); err != nil {
		return nil, domain.ErrUnauthorized
	}

	token, expiresIn, err := s.jwtManager.GenerateToken(dashboardSubject)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &domain.Token{Token: token, ExpiresIn: expiresIn}, nil
}

// Verify validates a bearer token and returns its subject
func (s *AuthService) Verify(token string) (string, error) {
	claims, err := s.jwtManager.ValidateToken(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	return claims.Subject, nil
}
