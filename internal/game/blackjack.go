package game

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/calvinwijaya/blackjack-env/internal/randutil"
	"github.com/charmbracelet/log"
)

var (
	// ErrInvalidAction is returned for actions outside the action space.
	ErrInvalidAction = errors.New("invalid action")
	// ErrNotReset is returned when Step is called before the first Reset.
	ErrNotReset = errors.New("environment has not been reset")
)

type State string

const (
	AwaitingAction State = "awaiting_action" // After reset or a non-terminal step
	Terminal       State = "terminal"        // Round finished; only Reset is meaningful
)

// Observation is what the agent sees after every reset and step. The
// dealer's hole card is never part of it.
type Observation struct {
	PlayerSum          int  `json:"playerSum"`
	DealerCard         int  `json:"dealerCard"`
	UsableAce          bool `json:"usableAce"`
	InsuranceAvailable bool `json:"insuranceAvailable"`
}

// Tuple encodes the observation as its discrete components
func (o Observation) Tuple() [4]int {
	return [4]int{o.PlayerSum, o.DealerCard, boolToInt(o.UsableAce), boolToInt(o.InsuranceAvailable)}
}

// Info carries diagnostics alongside an observation. DealerHand includes the
// hole card even while the round is still in progress.
type Info struct {
	NumCards   int     `json:"numCards"`
	DealerHand Hand    `json:"dealerHand,omitempty"`
	Outcome    Outcome `json:"outcome,omitempty"`
}

type StepResult struct {
	Observation Observation `json:"observation"`
	Reward      float64     `json:"reward"`
	Terminated  bool        `json:"terminated"`
	Truncated   bool        `json:"truncated"`
	Info        Info        `json:"info"`
}

// Env is a single blackjack round controller. It is owned by one caller and
// is not safe for concurrent use; run independent Envs for parallel play.
type Env struct {
	id        string
	rules     Rules
	mode      RenderMode
	logger    *log.Logger
	out       io.Writer
	newSource func(seed int64) Source

	shoe   *Shoe
	round  Round
	upCard Card
	state  State
}

type Option func(*Env)

// WithRules sets the natural payout variant
func WithRules(r Rules) Option {
	return func(e *Env) { e.rules = r }
}

// WithRenderMode sets the render mode
func WithRenderMode(m RenderMode) Option {
	return func(e *Env) { e.mode = m }
}

// WithSource injects the card source used until the next seeded Reset.
func WithSource(src Source) Option {
	return func(e *Env) { e.shoe = NewShoe(src) }
}

// WithSourceFactory sets how a seeded Reset builds its source.
func WithSourceFactory(f func(seed int64) Source) Option {
	return func(e *Env) { e.newSource = f }
}

// WithLogger sets the logger
func WithLogger(l *log.Logger) Option {
	return func(e *Env) { e.logger = l }
}

// WithOutput sets where human rendering is written
func WithOutput(w io.Writer) Option {
	return func(e *Env) { e.out = w }
}

// WithID names the environment in warnings
func WithID(id string) Option {
	return func(e *Env) { e.id = id }
}

// NewEnv creates an environment. Reset must be called before Step.
func NewEnv(opts ...Option) *Env {
	e := &Env{
		logger: log.Default(),
		out:    os.Stdout,
		newSource: func(seed int64) Source {
			return randutil.New(seed)
		},
		state: Terminal,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.shoe == nil {
		e.shoe = NewShoe(e.newSource(time.Now().UnixNano()))
	}
	e.logger = e.logger.WithPrefix("env")
	return e
}

// Reset deals a new round. A non-nil seed reseeds the card source first.
func (e *Env) Reset(seed *int64) (Observation, Info) {
	if seed != nil {
		e.shoe = NewShoe(e.newSource(*seed))
	}

	e.round = Round{
		Dealer: e.shoe.DrawHand(),
		Player: e.shoe.DrawHand(),
	}
	e.upCard = e.shoe.UpCard(e.round.Dealer[0])
	e.state = AwaitingAction

	e.logger.Debug("Round dealt", "player", e.round.Player, "upCard", e.upCard.String())

	if e.mode == RenderHuman {
		e.Render()
	}

	return e.observe(nil), Info{NumCards: len(e.round.Player)}
}

// Step applies one action. Out-of-range actions return ErrInvalidAction and
// leave the round untouched. Steps after a terminal result are not refused;
// callers are expected to Reset.
func (e *Env) Step(a Action) (StepResult, error) {
	if !a.Valid() {
		return StepResult{}, fmt.Errorf("%w: %d", ErrInvalidAction, int(a))
	}
	if len(e.round.Dealer) == 0 {
		return StepResult{}, ErrNotReset
	}

	t := e.round.apply(a, e.rules, e.shoe)
	if t.terminated {
		e.state = Terminal
	}

	e.logger.Debug("Step", "action", a, "reward", t.reward, "terminated", t.terminated, "outcome", t.outcome)

	if a == Stand && e.mode == RenderHuman {
		e.Render()
	}

	return StepResult{
		Observation: e.observe(t.insurance),
		Reward:      t.reward,
		Terminated:  t.terminated,
		Info: Info{
			NumCards:   len(e.round.Player),
			DealerHand: e.round.Dealer.Clone(),
			Outcome:    t.outcome,
		},
	}, nil
}

// observe derives the observation from the live round. override replaces
// the insurance flag when set.
func (e *Env) observe(override *bool) Observation {
	available := e.round.insuranceAvailable()
	if override != nil {
		available = *override
	}
	return Observation{
		PlayerSum:          e.round.Player.BestTotal(),
		DealerCard:         e.round.Dealer[0],
		UsableAce:          e.round.Player.UsableAce(),
		InsuranceAvailable: available,
	}
}

// Observation derives the current observation without acting. It reports
// false before the first Reset.
func (e *Env) Observation() (Observation, bool) {
	if len(e.round.Dealer) == 0 {
		return Observation{}, false
	}
	return e.observe(nil), true
}

// State reports whether the round awaits an action
func (e *Env) State() State {
	return e.state
}

// Round returns a copy of the current round
func (e *Env) Round() Round {
	return e.round.Clone()
}

// UpCard returns the display form of the dealer's up card
func (e *Env) UpCard() Card {
	return e.upCard
}

func (e *Env) Rules() Rules {
	return e.rules
}

func (e *Env) RenderMode() RenderMode {
	return e.mode
}

func (e *Env) ID() string {
	return e.id
}

// Close releases nothing; it exists to complete the environment protocol.
func (e *Env) Close() error {
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
