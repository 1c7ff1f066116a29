package domain

import "errors"

var (
	// ErrNotFound is returned when a session or message does not exist
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when a credential is missing or rejected
	ErrUnauthorized = errors.New("unauthorized")
)
