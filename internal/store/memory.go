package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// MemoryStore is an in-memory implementation of session storage
type MemoryStore struct {
	sessions map[string]*Session
	clock    quartz.Clock
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(clock quartz.Clock) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		clock:    clock,
	}
}

// SaveSession saves a session to the store
func (s *MemoryStore) SaveSession(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.ID] = sess
	return nil
}

// GetSession retrieves a session by ID
func (s *MemoryStore) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// DeleteSession removes a session from the store
func (s *MemoryStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; !exists {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// ListSessions returns all sessions, oldest first
func (s *MemoryStore) ListSessions() ([]*Session, error) {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out, nil
}

// Reap deletes sessions idle for longer than ttl and returns their IDs
func (s *MemoryStore) Reap(ttl time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reaped []string
	for id, sess := range s.sessions {
		if s.clock.Since(sess.idleSince()) > ttl {
			delete(s.sessions, id)
			reaped = append(reaped, id)
		}
	}
	sort.Strings(reaped)
	return reaped
}

// RunReaper reaps every interval until ctx is done. onReap, if set, is
// called with the IDs removed by each pass.
func (s *MemoryStore) RunReaper(ctx context.Context, ttl, interval time.Duration, onReap func([]string)) {
	w := s.clock.TickerFunc(ctx, interval, func() error {
		if ids := s.Reap(ttl); len(ids) > 0 && onReap != nil {
			onReap(ids)
		}
		return nil
	}, "reaper")
	_ = w.Wait()
}
