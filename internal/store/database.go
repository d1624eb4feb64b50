package store

import (
	"errors"

	"github.com/calvinwijaya/blackjack-env/internal/db"
)

// DatabaseStore keeps live sessions in an inner store and mirrors their
// records to the database. Environments themselves are not persisted.
type DatabaseStore struct {
	Store
	db *db.Database
}

// NewDatabaseStore creates a new database-backed store
func NewDatabaseStore(inner Store, database *db.Database) *DatabaseStore {
	return &DatabaseStore{
		Store: inner,
		db:    database,
	}
}

// SaveSession saves a session and its record
func (s *DatabaseStore) SaveSession(sess *Session) error {
	if err := s.Store.SaveSession(sess); err != nil {
		return err
	}

	return s.db.SaveSession(Record(sess))
}

// Record is the database record for a session as it stands now
func Record(sess *Session) db.SessionRecord {
	v := sess.View()
	return db.SessionRecord{
		ID:        sess.ID,
		Rules:     sess.Rules,
		Seed:      v.Seed,
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}
}

// DeleteSession removes a session and its stored history
func (s *DatabaseStore) DeleteSession(id string) error {
	if err := s.Store.DeleteSession(id); err != nil {
		return err
	}
	if err := s.db.DeleteSession(id); err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}
	return nil
}
