// Package chatapi is the HTTP client for the session and message endpoints
// of the backend.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rrens/langly/internal/domain"
)

// Credentials is the token holder shared with the transport
type Credentials interface {
	Token() string
	Set(token string) error
	Clear()
}

// Client talks to the backend REST API
type Client struct {
	baseURL string
	creds   Credentials
	http    *http.Client
	log     zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithLogger sets the client logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client for the API rooted at baseURL
func New(baseURL string, creds Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the backend
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Unwrap maps statuses onto the domain sentinels
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusNotFound:
		return domain.ErrNotFound
	}
	return nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

// Login exchanges the dashboard password for a token and stores it
func (c *Client) Login(ctx context.Context, password string) (*domain.Token, error) {
	var tok domain.Token
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", domain.LoginRequest{Password: password}, &tok); err != nil {
		return nil, err
	}
	if err := c.creds.Set(tok.Token); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}
	return &tok, nil
}

// Verify checks the stored token against the backend
func (c *Client) Verify(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/auth/verify", nil, nil)
}

// ListSessions returns the sessions, newest first
func (c *Client) ListSessions(ctx context.Context) ([]domain.ChatSession, error) {
	var sessions []domain.ChatSession
	if err := c.do(ctx, http.MethodGet, "/api/chat/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// CreateSession creates a session; an empty title gets the default
func (c *Client) CreateSession(ctx context.Context, title string) (*domain.ChatSession, error) {
	var session domain.ChatSession
	if err := c.do(ctx, http.MethodPost, "/api/chat/sessions", domain.SessionCreate{Title: title}, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// RenameSession updates a session title
func (c *Client) RenameSession(ctx context.Context, id int64, title string) (*domain.ChatSession, error) {
	var session domain.ChatSession
	path := fmt.Sprintf("/api/chat/sessions/%d", id)
	if err := c.do(ctx, http.MethodPatch, path, domain.SessionUpdate{Title: title}, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// DeleteSession removes a session and its messages
func (c *Client) DeleteSession(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/chat/sessions/%d", id), nil, nil)
}

// ListMessages returns the stored history of a session in order
func (c *Client) ListMessages(ctx context.Context, sessionID int64) ([]domain.Message, error) {
	var messages []domain.Message
	path := fmt.Sprintf("/api/chat/sessions/%d/messages", sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SaveResult is the response of a message save
type SaveResult struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// SaveMessage stores msg. Saving the same message id twice is a no-op on
// the backend.
func (c *Client) SaveMessage(ctx context.Context, sessionID int64, msg domain.Message) (*SaveResult, error) {
	body := domain.MessageSave{
		ID:            msg.ID,
		Role:          msg.Role,
		Content:       msg.Content,
		ToolCalls:     msg.ToolCalls,
		ThinkingSteps: msg.ThinkingSteps,
		CreatedAt:     msg.CreatedAt,
	}

	var res SaveResult
	path := fmt.Sprintf("/api/chat/sessions/%d/messages", sessionID)
	if err := c.do(ctx, http.MethodPost, path, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SaveUserMessage persists a user message
func (c *Client) SaveUserMessage(ctx context.Context, sessionID int64, msg domain.Message) error {
	_, err := c.SaveMessage(ctx, sessionID, msg)
	return err
}

// SaveAssistantMessage persists a finished assistant message
func (c *Client) SaveAssistantMessage(ctx context.Context, sessionID int64, msg domain.Message) error {
	_, err := c.SaveMessage(ctx, sessionID, msg)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.creds.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("API request")

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		if resp.StatusCode >= 300 {
			return c.fail(resp.StatusCode, http.StatusText(resp.StatusCode))
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= 300 || !env.Success {
		return c.fail(resp.StatusCode, errorMessage(env.Error, resp.StatusCode))
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode data: %w", err)
		}
	}
	return nil
}

func (c *Client) fail(status int, message string) error {
	if status == http.StatusUnauthorized {
		c.log.Warn().Msg("Credential rejected, clearing token")
		c.creds.Clear()
	}
	return &APIError{Status: status, Message: message}
}

// errorMessage renders the error field, which is a string or a
// validation object
func errorMessage(raw json.RawMessage, status int) string {
	if len(raw) == 0 {
		return http.StatusText(status)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// SocketURL derives the socket endpoint from the REST base url
func SocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/socket"
	return u.String(), nil
}
