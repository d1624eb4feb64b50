package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/alecthomas/kong"
	"github.com/calvinwijaya/blackjack-env/internal/game"
	"github.com/calvinwijaya/blackjack-env/internal/simulate"
	"github.com/charmbracelet/log"
)

type CLI struct {
	Episodes  int    `short:"n" default:"100000" help:"Number of episodes to play"`
	Policy    string `short:"p" default:"basic" help:"Policy: basic, random, stand-on"`
	Threshold int    `short:"t" default:"17" help:"Total to stand on for the stand-on policy"`
	Workers   int    `short:"w" default:"0" help:"Parallel workers (0 for one per CPU)"`
	Seed      int64  `default:"0" help:"RNG seed (0 for random)"`
	MaxSteps  int    `default:"50" help:"Truncate episodes after this many actions"`
	Natural   bool   `help:"Pay 1.5 for a winning natural"`
	SAB       bool   `name:"sab" help:"Sutton and Barto rules: a natural beats any non-natural"`
	JSON      bool   `help:"Print the summary as JSON"`
	Verbose   bool   `short:"v" help:"Verbose logging"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli, kong.Description("Play many blackjack episodes under a fixed policy"))

	// Setup RNG seed
	if cli.Seed == 0 {
		cli.Seed = time.Now().UnixNano()
	}
	if cli.Workers == 0 {
		cli.Workers = runtime.NumCPU()
	}

	// Setup logging
	level := log.WarnLevel
	if cli.Verbose {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{Level: level})

	policy, err := simulate.ParsePolicy(cli.Policy, cli.Threshold)
	if err != nil {
		logger.Error("Invalid policy", "err", err)
		ctx.Exit(1)
	}

	runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg := simulate.Config{
		Episodes: cli.Episodes,
		Workers:  cli.Workers,
		Seed:     cli.Seed,
		Rules:    game.Rules{Natural: cli.Natural, SAB: cli.SAB},
		MaxSteps: cli.MaxSteps,
	}

	start := time.Now()
	summary, err := simulate.Run(runCtx, cfg, policy, logger)
	if err != nil {
		logger.Error("Simulation failed", "err", err)
		ctx.Exit(1)
	}
	duration := time.Since(start)

	if cli.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(struct {
			simulate.Summary
			Seed    int64          `json:"seed"`
			Actions map[string]int `json:"actions"`
		}{summary, cli.Seed, summary.ActionCounts()})
		return
	}

	printResults(summary, cfg, duration)
}

func printResults(s simulate.Summary, cfg simulate.Config, duration time.Duration) {
	pct := func(n int) float64 { return 100 * float64(n) / float64(s.Episodes) }
	se := s.StdDev / math.Sqrt(float64(s.Episodes))

	fmt.Printf("Policy:   %s (seed %d, %d workers)\n", s.Policy, cfg.Seed, cfg.Workers)
	fmt.Printf("Rules:    natural=%t sab=%t\n", cfg.Rules.Natural, cfg.Rules.SAB)
	fmt.Printf("Episodes: %d in %v (%.0f/sec)\n", s.Episodes, duration.Round(time.Millisecond), float64(s.Episodes)/duration.Seconds())
	fmt.Printf("Return:   %.4f ± %.4f SE per episode (stddev %.4f)\n", s.Mean, se, s.StdDev)
	fmt.Printf("95%% CI:   [%.4f, %.4f]\n", s.Mean-1.96*se, s.Mean+1.96*se)
	fmt.Printf("Wins:     %d (%.1f%%)\n", s.Wins, pct(s.Wins))
	fmt.Printf("Losses:   %d (%.1f%%)\n", s.Losses, pct(s.Losses))
	fmt.Printf("Pushes:   %d (%.1f%%)\n", s.Pushes, pct(s.Pushes))
	if s.Truncated > 0 {
		fmt.Printf("Truncated: %d (%.1f%%)\n", s.Truncated, pct(s.Truncated))
	}

	fmt.Printf("Steps:    %d\n", s.Steps)
	for i, n := range s.Actions {
		if s.Steps == 0 {
			break
		}
		fmt.Printf("  %-10s %8d (%.1f%%)\n", game.Action(i), n, 100*float64(n)/float64(s.Steps))
	}
}
