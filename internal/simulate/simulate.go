package simulate

import (
	"context"
	"errors"
	"fmt"
	"math"
	rand "math/rand/v2"

	"github.com/calvinwijaya/blackjack-env/internal/game"
	"github.com/calvinwijaya/blackjack-env/internal/randutil"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxSteps bounds episodes under policies that can loop, such as
// repeated insurance against a non-ace.
const DefaultMaxSteps = 50

type Config struct {
	Episodes int
	Workers  int
	Seed     int64
	Rules    game.Rules
	// MaxSteps truncates an episode after this many actions
	MaxSteps int
}

// Summary aggregates the episodes of one run
type Summary struct {
	Policy    string               `json:"policy"`
	Episodes  int                  `json:"episodes"`
	Wins      int                  `json:"wins"`
	Losses    int                  `json:"losses"`
	Pushes    int                  `json:"pushes"`
	Truncated int                  `json:"truncated"`
	Steps     int                  `json:"steps"`
	Mean      float64              `json:"mean"`
	StdDev    float64              `json:"stdDev"`
	Actions   [game.NumActions]int `json:"actions"`
	sum       float64
	sumSq     float64
}

func (s *Summary) add(ret float64, truncated bool) {
	s.Episodes++
	s.sum += ret
	s.sumSq += ret * ret
	if truncated {
		s.Truncated++
		return
	}
	switch game.OutcomeFor(ret) {
	case game.Win:
		s.Wins++
	case game.Loss:
		s.Losses++
	default:
		s.Pushes++
	}
}

func (s *Summary) merge(o Summary) {
	s.Episodes += o.Episodes
	s.Wins += o.Wins
	s.Losses += o.Losses
	s.Pushes += o.Pushes
	s.Truncated += o.Truncated
	s.Steps += o.Steps
	s.sum += o.sum
	s.sumSq += o.sumSq
	for i, n := range o.Actions {
		s.Actions[i] += n
	}
}

func (s *Summary) finish() {
	if s.Episodes == 0 {
		return
	}
	n := float64(s.Episodes)
	s.Mean = s.sum / n
	s.StdDev = math.Sqrt(math.Max(0, s.sumSq/n-s.Mean*s.Mean))
}

// ActionCounts returns the action frequencies keyed by action name
func (s Summary) ActionCounts() map[string]int {
	out := make(map[string]int, game.NumActions)
	for i, n := range s.Actions {
		out[game.Action(i).String()] = n
	}
	return out
}

// Run plays cfg.Episodes episodes of policy across cfg.Workers workers. The
// result depends only on cfg, not on scheduling.
func Run(ctx context.Context, cfg Config, policy Policy, logger *log.Logger) (Summary, error) {
	if cfg.Episodes <= 0 {
		return Summary{}, errors.New("episodes must be positive")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Workers > cfg.Episodes {
		cfg.Workers = cfg.Episodes
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}

	logger = logger.WithPrefix("simulate")
	logger.Debug("Starting run", "policy", policy.Name(), "episodes", cfg.Episodes, "workers", cfg.Workers, "seed", cfg.Seed)

	perWorker := cfg.Episodes / cfg.Workers
	remainder := cfg.Episodes % cfg.Workers
	results := make([]Summary, cfg.Workers)

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Workers; w++ {
		episodes := perWorker
		if w < remainder {
			episodes++
		}

		g.Go(func() error {
			env := game.NewEnv(
				game.WithRules(cfg.Rules),
				game.WithSource(randutil.New(randutil.Derive(cfg.Seed, 2*w))),
				game.WithLogger(logger),
			)
			defer env.Close()

			rng := randutil.New(randutil.Derive(cfg.Seed, 2*w+1))
			res, err := runWorker(ctx, env, policy, rng, episodes, cfg.MaxSteps)
			if err != nil {
				return fmt.Errorf("worker %d: %w", w, err)
			}
			results[w] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	total := Summary{Policy: policy.Name()}
	for _, r := range results {
		total.merge(r)
	}
	total.finish()

	logger.Debug("Run finished", "mean", total.Mean, "stdDev", total.StdDev)
	return total, nil
}

func runWorker(ctx context.Context, env *game.Env, policy Policy, rng *rand.Rand, episodes, maxSteps int) (Summary, error) {
	var s Summary
	for i := 0; i < episodes; i++ {
		if err := ctx.Err(); err != nil {
			return s, err
		}

		obs, info := env.Reset(nil)
		d := Decision{Observation: obs, NumCards: info.NumCards}

		ret := 0.0
		done := false
		for step := 0; step < maxSteps && !done; step++ {
			a := policy.Act(d, rng)
			res, err := env.Step(a)
			if err != nil {
				return s, err
			}

			s.Actions[a]++
			s.Steps++
			ret += res.Reward
			done = res.Terminated
			d = Decision{Observation: res.Observation, NumCards: res.Info.NumCards}
		}

		s.add(ret, !done)
	}
	return s, nil
}
