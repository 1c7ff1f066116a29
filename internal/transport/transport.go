// Package transport carries protocol events between the chat engine and
// the assistant backend.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Pseudo-events dispatched by the transport itself
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventAuthRejected = "auth_rejected"
)

var (
	// ErrNotConnected is returned when no connection could be established in time
	ErrNotConnected = errors.New("transport not connected")
)

// AuthError reports that the backend rejected the handshake credential
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("handshake rejected with status %d", e.Status)
}

// IsAuthError reports whether err is, or wraps, an AuthError
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// Handler receives the raw payload of one event. Handlers for a connection
// run sequentially in arrival order.
type Handler func(data json.RawMessage)

// Transport is a bidirectional event stream to the assistant backend
type Transport interface {
	// Connect establishes the connection, waiting at most the connect timeout
	Connect(ctx context.Context) error
	// Disconnect closes the connection and stops reconnecting
	Disconnect()
	// Emit sends an event, connecting first when needed
	Emit(ctx context.Context, event string, payload any) error
	// On registers h for event and returns a function removing it
	On(event string, h Handler) func()
	Connected() bool
}
