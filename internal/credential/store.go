// Package credential holds the bearer token shared by the REST client and
// the socket transport.
package credential

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Source supplies the current bearer token
type Source interface {
	Token() string
}

// Store is a concurrency-safe token holder with optional file persistence
type Store struct {
	mu    sync.RWMutex
	token string
	path  string
}

// NewStore creates a store seeded with token. When path is set the token
// is loaded from and saved to that file; an explicit token wins over the file.
func NewStore(token, path string) (*Store, error) {
	s := &Store{token: strings.TrimSpace(token), path: path}
	if s.token != "" || path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	s.token = strings.TrimSpace(string(data))
	return s, nil
}

// Token returns the current token, or "" when none is stored
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Set stores a new token
func (s *Store) Set(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = strings.TrimSpace(token)
	if s.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token dir: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(s.token), 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Clear drops the token. Called when the backend rejects it.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	if s.path != "" {
		_ = os.Remove(s.path)
	}
}
