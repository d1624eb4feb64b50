package store

import "errors"

// ErrSessionNotFound is returned for unknown session IDs
var ErrSessionNotFound = errors.New("session not found")

// Store defines the interface for session storage
type Store interface {
	// SaveSession saves a session to the store
	SaveSession(s *Session) error

	// GetSession retrieves a session by ID
	GetSession(id string) (*Session, error)

	// DeleteSession removes a session from the store
	DeleteSession(id string) error

	// ListSessions returns all sessions in the store
	ListSessions() ([]*Session, error)
}
