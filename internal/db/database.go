package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/calvinwijaya/blackjack-env/internal/game"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a session has no stored record
var ErrNotFound = errors.New("not found")

type Database struct {
	db     *sql.DB
	driver string
}

// SessionRecord is the stored description of an environment session
type SessionRecord struct {
	ID        string     `json:"id"`
	Rules     game.Rules `json:"rules"`
	Seed      *int64     `json:"seed,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Transition is one recorded step
type Transition struct {
	SessionID  string           `json:"sessionId"`
	Episode    int              `json:"episode"`
	Step       int              `json:"step"`
	Action     game.Action      `json:"action"`
	Obs        game.Observation `json:"observation"`
	Reward     float64          `json:"reward"`
	Terminated bool             `json:"terminated"`
	Outcome    game.Outcome     `json:"outcome"`
}

// EpisodeRecord is a finished round
type EpisodeRecord struct {
	SessionID  string       `json:"sessionId"`
	Episode    int          `json:"episode"`
	PlayerHand game.Hand    `json:"playerHand"`
	DealerHand game.Hand    `json:"dealerHand"`
	Return     float64      `json:"return"`
	Steps      int          `json:"steps"`
	Outcome    game.Outcome `json:"outcome"`
}

type SessionStats struct {
	SessionID    string    `json:"sessionId"`
	Episodes     int       `json:"episodes"`
	Wins         int       `json:"wins"`
	Losses       int       `json:"losses"`
	Pushes       int       `json:"pushes"`
	InvalidMoves int       `json:"invalidMoves"`
	TotalReturn  float64   `json:"totalReturn"`
	MeanReturn   float64   `json:"meanReturn"`
	LastPlayed   time.Time `json:"lastPlayed,omitempty"`
}

// NewDatabase opens a database with driver "sqlite3" or "postgres"
func NewDatabase(driver, dsn string) (*Database, error) {
	if driver != "sqlite3" && driver != "postgres" {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	if driver == "sqlite3" {
		// sqlite allows one writer; ":memory:" is also per connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}

	d := &Database{db: db, driver: driver}
	if err := d.initTables(); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

// initTables creates the necessary tables if they don't exist
func (d *Database) initTables() error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.driver == "postgres" {
		serial = "SERIAL PRIMARY KEY"
	}

	tables := []struct {
		name string
		ddl  string
	}{
		{"sessions", `
			CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				rule_natural BOOLEAN NOT NULL DEFAULT FALSE,
				rule_sab BOOLEAN NOT NULL DEFAULT FALSE,
				seed BIGINT,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`},
		{"episodes", `
			CREATE TABLE IF NOT EXISTS episodes (
				id ` + serial + `,
				session_id TEXT NOT NULL,
				episode INTEGER NOT NULL,
				player_hand TEXT NOT NULL,
				dealer_hand TEXT NOT NULL,
				total_return DOUBLE PRECISION NOT NULL,
				steps INTEGER NOT NULL,
				outcome TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				FOREIGN KEY (session_id) REFERENCES sessions (id) ON DELETE CASCADE
			)`},
		{"transitions", `
			CREATE TABLE IF NOT EXISTS transitions (
				id ` + serial + `,
				session_id TEXT NOT NULL,
				episode INTEGER NOT NULL,
				step INTEGER NOT NULL,
				action INTEGER NOT NULL,
				observation TEXT NOT NULL,
				reward DOUBLE PRECISION NOT NULL,
				terminated BOOLEAN NOT NULL,
				outcome TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				FOREIGN KEY (session_id) REFERENCES sessions (id) ON DELETE CASCADE
			)`},
	}

	for _, t := range tables {
		if _, err := d.db.Exec(t.ddl); err != nil {
			return fmt.Errorf("error creating %s table: %w", t.name, err)
		}
	}
	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres
func (d *Database) rebind(query string) string {
	if d.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *Database) exec(query string, args ...any) error {
	_, err := d.db.Exec(d.rebind(query), args...)
	return err
}

// SaveSession inserts or updates a session record
func (d *Database) SaveSession(s SessionRecord) error {
	var seed any
	if s.Seed != nil {
		seed = *s.Seed
	}
	return d.exec(`
		INSERT INTO sessions (id, rule_natural, rule_sab, seed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET rule_natural = excluded.rule_natural, rule_sab = excluded.rule_sab,
			seed = excluded.seed, updated_at = excluded.updated_at
	`, s.ID, s.Rules.Natural, s.Rules.SAB, seed, s.CreatedAt, s.UpdatedAt)
}

// GetSession retrieves a session record by ID
func (d *Database) GetSession(id string) (*SessionRecord, error) {
	var s SessionRecord
	var seed sql.NullInt64

	err := d.db.QueryRow(d.rebind(
		"SELECT id, rule_natural, rule_sab, seed, created_at, updated_at FROM sessions WHERE id = ?"), id).Scan(
		&s.ID, &s.Rules.Natural, &s.Rules.SAB, &seed, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if seed.Valid {
		s.Seed = &seed.Int64
	}
	return &s, nil
}

// DeleteSession removes a session and its history
func (d *Database) DeleteSession(id string) error {
	for _, table := range []string{"transitions", "episodes", "sessions"} {
		col := "session_id"
		if table == "sessions" {
			col = "id"
		}
		if err := d.exec("DELETE FROM "+table+" WHERE "+col+" = ?", id); err != nil {
			return fmt.Errorf("error deleting from %s: %w", table, err)
		}
	}
	return nil
}

// RecordTransition stores one step
func (d *Database) RecordTransition(t Transition) error {
	obs, err := json.Marshal(t.Obs)
	if err != nil {
		return err
	}
	return d.exec(`
		INSERT INTO transitions (session_id, episode, step, action, observation, reward, terminated, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.SessionID, t.Episode, t.Step, int(t.Action), string(obs), t.Reward, t.Terminated, string(t.Outcome), time.Now())
}

// RecordEpisode stores a finished round
func (d *Database) RecordEpisode(e EpisodeRecord) error {
	player, err := json.Marshal(e.PlayerHand)
	if err != nil {
		return err
	}
	dealer, err := json.Marshal(e.DealerHand)
	if err != nil {
		return err
	}
	return d.exec(`
		INSERT INTO episodes (session_id, episode, player_hand, dealer_hand, total_return, steps, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.SessionID, e.Episode, string(player), string(dealer), e.Return, e.Steps, string(e.Outcome), time.Now())
}

// GetTransitions returns the steps of one episode in order
func (d *Database) GetTransitions(sessionID string, episode int) ([]Transition, error) {
	rows, err := d.db.Query(d.rebind(`
		SELECT step, action, observation, reward, terminated, outcome FROM transitions
		WHERE session_id = ? AND episode = ? ORDER BY step
	`), sessionID, episode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		t := Transition{SessionID: sessionID, Episode: episode}
		var action int
		var obs, outcome string
		if err := rows.Scan(&t.Step, &action, &obs, &t.Reward, &t.Terminated, &outcome); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(obs), &t.Obs); err != nil {
			return nil, err
		}
		t.Action = game.Action(action)
		t.Outcome = game.Outcome(outcome)
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetSessionStats aggregates the finished episodes of a session
func (d *Database) GetSessionStats(sessionID string) (*SessionStats, error) {
	if _, err := d.GetSession(sessionID); err != nil {
		return nil, err
	}

	stats := SessionStats{SessionID: sessionID}
	err := d.db.QueryRow(d.rebind(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(total_return), 0)
		FROM episodes WHERE session_id = ?
	`), string(game.Win), string(game.Loss), string(game.Push), sessionID).Scan(
		&stats.Episodes, &stats.Wins, &stats.Losses, &stats.Pushes, &stats.TotalReturn,
	)
	if err != nil {
		return nil, fmt.Errorf("error aggregating episodes: %w", err)
	}

	err = d.db.QueryRow(d.rebind(
		"SELECT COUNT(*) FROM transitions WHERE session_id = ? AND outcome = ?"),
		sessionID, string(game.InvalidMove)).Scan(&stats.InvalidMoves)
	if err != nil {
		return nil, fmt.Errorf("error counting invalid moves: %w", err)
	}

	if stats.Episodes > 0 {
		stats.MeanReturn = stats.TotalReturn / float64(stats.Episodes)

		err = d.db.QueryRow(d.rebind(
			"SELECT created_at FROM episodes WHERE session_id = ? ORDER BY created_at DESC LIMIT 1"),
			sessionID).Scan(&stats.LastPlayed)
		if err != nil {
			return nil, fmt.Errorf("error getting last played: %w", err)
		}
	}

	return &stats, nil
}
