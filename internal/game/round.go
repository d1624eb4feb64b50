package game

import (
	"fmt"
	"strings"
)

type Action int

const (
	Stand Action = iota
	Hit
	DoubleDown
	Surrender
	Insurance
)

// NumActions is the size of the discrete action space
const NumActions = 5

var actionNames = [NumActions]string{"stand", "hit", "double", "surrender", "insurance"}

func (a Action) String() string {
	if !a.Valid() {
		return fmt.Sprintf("action(%d)", int(a))
	}
	return actionNames[a]
}

// Valid reports whether a is inside the action space
func (a Action) Valid() bool {
	return a >= 0 && int(a) < NumActions
}

// ParseAction accepts an action name ("hit", "double", ...) or its number.
func ParseAction(s string) (Action, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range actionNames {
		if s == name || s == fmt.Sprint(i) {
			return Action(i), nil
		}
	}
	switch s {
	case "doubledown", "double-down", "double_down":
		return DoubleDown, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

type Outcome string

const (
	Win         Outcome = "Win"
	Loss        Outcome = "Loss"
	Push        Outcome = "Push"
	InvalidMove Outcome = "Invalid Move"
)

// OutcomeFor labels a reward by its sign
func OutcomeFor(reward float64) Outcome {
	switch {
	case reward > 0:
		return Win
	case reward < 0:
		return Loss
	default:
		return Push
	}
}

// Rules selects the payout variant for a natural.
type Rules struct {
	// Natural pays 1.5 on a plain win with a natural under Stand.
	Natural bool `json:"natural"`
	// SAB pays exactly 1 whenever the player has a natural and the dealer
	// does not. It takes precedence over Natural.
	SAB bool `json:"sab"`
}

// Round is the mutable state of one round.
type Round struct {
	Player       Hand    `json:"player"`
	Dealer       Hand    `json:"dealer"`
	InsuranceBet float64 `json:"insuranceBet"`
}

// Clone returns a deep copy of the round
func (r Round) Clone() Round {
	return Round{
		Player:       r.Player.Clone(),
		Dealer:       r.Dealer.Clone(),
		InsuranceBet: r.InsuranceBet,
	}
}

// insuranceAvailable is true while the dealer shows an ace and the player
// has not drawn past the initial two cards.
func (r *Round) insuranceAvailable() bool {
	return r.Dealer[0] == Ace && len(r.Player) <= 2
}

// playDealer runs the fixed dealer policy: draw while below 17.
func (r *Round) playDealer(shoe *Shoe) {
	for r.Dealer.BestTotal() < 17 {
		r.Dealer = append(r.Dealer, shoe.Draw())
	}
}

// transition is the result of applying one action to a round.
type transition struct {
	reward     float64
	terminated bool
	outcome    Outcome
	// insurance, when set, replaces the derived insurance flag in the
	// returned observation.
	insurance *bool
}

func settled(reward float64, terminated bool) transition {
	return transition{reward: reward, terminated: terminated, outcome: OutcomeFor(reward)}
}

// apply dispatches a to its transition. a must be valid.
func (r *Round) apply(a Action, rules Rules, shoe *Shoe) transition {
	switch a {
	case Stand:
		return stand(r, rules, shoe)
	case Hit:
		return hit(r, shoe)
	case DoubleDown:
		return doubleDown(r, shoe)
	case Surrender:
		return surrender()
	case Insurance:
		return insurance(r)
	}
	panic(fmt.Sprintf("game: unhandled action %d", int(a)))
}

func stand(r *Round, rules Rules, shoe *Shoe) transition {
	r.playDealer(shoe)
	reward := compare(r.Player.Score(), r.Dealer.Score())

	switch {
	case rules.SAB && r.Player.IsNatural() && !r.Dealer.IsNatural():
		reward = 1.0
	case !rules.SAB && rules.Natural && r.Player.IsNatural() && reward == 1.0:
		reward = 1.5
	}

	return settled(reward, true)
}

func hit(r *Round, shoe *Shoe) transition {
	r.Player = append(r.Player, shoe.Draw())
	if r.Player.IsBust() {
		return settled(-1.0, true)
	}
	return settled(0, false)
}

// doubleDown pays neither natural variant.
func doubleDown(r *Round, shoe *Shoe) transition {
	if len(r.Player) > 2 {
		return transition{reward: -1.0, outcome: InvalidMove}
	}

	r.Player = append(r.Player, shoe.Draw())
	if r.Player.IsBust() {
		return settled(-2.0, true)
	}

	r.playDealer(shoe)
	return settled(compare(r.Player.Score(), r.Dealer.Score())*2.0, true)
}

func surrender() transition {
	return settled(-0.5, true)
}

func insurance(r *Round) transition {
	closed := false
	if r.Dealer[0] != Ace {
		t := settled(-0.5, false)
		t.insurance = &closed
		return t
	}

	r.InsuranceBet = 0.5

	var t transition
	if r.Dealer.IsNatural() {
		// pays 2:1 on the stake
		t = settled(r.InsuranceBet*2, true)
	} else {
		t = settled(-r.InsuranceBet, false)
	}
	t.insurance = &closed
	return t
}

func compare(a, b int) float64 {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}
