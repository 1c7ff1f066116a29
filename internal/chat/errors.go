package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyMessage is returned for blank input
	ErrEmptyMessage = errors.New("message is empty")
	// ErrTurnInProgress is returned when the session already has a reply streaming
	ErrTurnInProgress = errors.New("a reply is still streaming in this session")
	// ErrNoSession is returned when an operation needs a session that does not exist
	ErrNoSession = errors.New("no such session")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("engine closed")

	errConnectionLost = errors.New("connection lost")
	errIdleTimeout    = errors.New("timed out waiting for the assistant")
)

// TransportError reports that the assistant backend could not be reached
// or the stream broke.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError reports that the stored credential was rejected. The
// credential has already been cleared when this is returned.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// BackendError is a chat:error sent by the assistant
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	return "assistant error: " + e.Message
}

// PersistenceError reports a message that could not be saved
type PersistenceError struct {
	MessageID string
	Attempts  int
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist message %s after %d attempts: %v", e.MessageID, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
