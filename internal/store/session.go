package store

import (
	"errors"
	"sync"
	"time"

	"github.com/calvinwijaya/blackjack-env/internal/game"
	"github.com/calvinwijaya/blackjack-env/internal/randutil"
	"github.com/coder/quartz"
	"github.com/google/uuid"
)

// ErrRoundOver is returned when stepping a session whose round has ended
var ErrRoundOver = errors.New("round is over; reset to deal a new one")

// Session wraps one environment for remote callers. Unlike game.Env it is
// safe for concurrent use: all access is serialised by its mutex.
type Session struct {
	ID    string
	Rules game.Rules

	mu        sync.Mutex
	seed      *int64
	env       *game.Env
	clock     quartz.Clock
	episode   int
	steps     int
	ret       float64
	createdAt time.Time
	updatedAt time.Time
}

// StepRecord describes one step for history and broadcast
type StepRecord struct {
	SessionID string          `json:"sessionId"`
	Episode   int             `json:"episode"`
	Step      int             `json:"step"`
	Action    game.Action     `json:"action"`
	Result    game.StepResult `json:"result"`
	// Return is the episode return including this step
	Return float64    `json:"return"`
	Round  game.Round `json:"-"`
}

// View is a point-in-time snapshot of a session
type View struct {
	ID          string            `json:"id"`
	Rules       game.Rules        `json:"rules"`
	Seed        *int64            `json:"seed,omitempty"`
	State       game.State        `json:"state"`
	Episode     int               `json:"episode"`
	Steps       int               `json:"steps"`
	Return      float64           `json:"return"`
	Observation *game.Observation `json:"observation,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// NewSession creates a session with a fresh environment seeded from seed when
// given. The first round is not dealt until Reset.
func NewSession(clock quartz.Clock, rules game.Rules, seed *int64, opts ...game.Option) *Session {
	id := uuid.New().String()
	now := clock.Now()

	base := []game.Option{game.WithRules(rules), game.WithID(id)}
	if seed != nil {
		base = append(base, game.WithSource(randutil.New(*seed)))
	}
	opts = append(base, opts...)
	return &Session{
		ID:        id,
		Rules:     rules,
		seed:      seed,
		env:       game.NewEnv(opts...),
		clock:     clock,
		createdAt: now,
		updatedAt: now,
	}
}

// Reset deals the next episode. A nil seed continues the current source.
func (s *Session) Reset(seed *int64) (game.Observation, game.Info) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seed != nil {
		s.seed = seed
	}
	obs, info := s.env.Reset(seed)
	s.episode++
	s.steps = 0
	s.ret = 0
	s.updatedAt = s.clock.Now()
	return obs, info
}

// Step applies an action to the current round. Unlike the bare environment
// it refuses to step a finished round.
func (s *Session) Step(a game.Action) (StepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.episode == 0 {
		return StepRecord{}, game.ErrNotReset
	}
	if s.env.State() == game.Terminal {
		return StepRecord{}, ErrRoundOver
	}

	res, err := s.env.Step(a)
	if err != nil {
		return StepRecord{}, err
	}

	s.steps++
	s.ret += res.Reward
	s.updatedAt = s.clock.Now()

	return StepRecord{
		SessionID: s.ID,
		Episode:   s.episode,
		Step:      s.steps,
		Action:    a,
		Result:    res,
		Return:    s.ret,
		Round:     s.env.Round(),
	}, nil
}

// View snapshots the session
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:        s.ID,
		Rules:     s.Rules,
		Seed:      s.seed,
		State:     s.env.State(),
		Episode:   s.episode,
		Steps:     s.steps,
		Return:    s.ret,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
	if obs, ok := s.env.Observation(); ok {
		v.Observation = &obs
	}
	return v
}

// idleSince reports when the session was last used
func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}
