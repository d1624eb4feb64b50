// Package simulate plays many episodes of the environment under a fixed
// policy and summarises the returns.
package simulate

import (
	"fmt"
	rand "math/rand/v2"
	"strings"

	"github.com/calvinwijaya/blackjack-env/internal/game"
)

// Decision is what a policy sees before each action
type Decision struct {
	Observation game.Observation
	NumCards    int
}

// First reports whether the player still holds only the initial two cards
func (d Decision) First() bool {
	return d.NumCards == 2
}

// Policy chooses actions. Implementations must be safe to share across
// workers; per-worker randomness comes from rng.
type Policy interface {
	Name() string
	Act(d Decision, rng *rand.Rand) game.Action
}

// StandOn hits until the player's total reaches Threshold
type StandOn struct {
	Threshold int
}

func (p StandOn) Name() string { return fmt.Sprintf("stand-on-%d", p.Threshold) }

func (p StandOn) Act(d Decision, _ *rand.Rand) game.Action {
	if d.Observation.PlayerSum >= p.Threshold {
		return game.Stand
	}
	return game.Hit
}

// Random picks uniformly from the whole action space
type Random struct{}

func (Random) Name() string { return "random" }

func (Random) Act(_ Decision, rng *rand.Rand) game.Action {
	return game.Action(rng.IntN(game.NumActions))
}

// Basic is a simplified basic strategy. It never takes insurance.
type Basic struct{}

func (Basic) Name() string { return "basic" }

func (Basic) Act(d Decision, _ *rand.Rand) game.Action {
	obs := d.Observation
	if d.First() {
		switch {
		case obs.PlayerSum == 16 && !obs.UsableAce && obs.DealerCard == game.Ten:
			return game.Surrender
		case obs.PlayerSum == 10 || obs.PlayerSum == 11:
			return game.DoubleDown
		}
	}
	return StandOn{Threshold: 17}.Act(d, nil)
}

// ParsePolicy resolves a policy by name. threshold applies to "stand-on".
func ParsePolicy(name string, threshold int) (Policy, error) {
	switch strings.ToLower(name) {
	case "basic":
		return Basic{}, nil
	case "random":
		return Random{}, nil
	case "stand-on", "threshold":
		if threshold < 4 || threshold > 22 {
			return nil, fmt.Errorf("threshold %d out of range [4, 22]", threshold)
		}
		return StandOn{Threshold: threshold}, nil
	default:
		return nil, fmt.Errorf("unknown policy %q (want basic, random or stand-on)", name)
	}
}
