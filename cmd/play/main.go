package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/calvinwijaya/blackjack-env/internal/game"
	"github.com/calvinwijaya/blackjack-env/internal/randutil"
	"github.com/calvinwijaya/blackjack-env/internal/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
)

var CLI struct {
	Seed     int64  `default:"0" help:"RNG seed for a reproducible shoe (0 for random)"`
	Natural  bool   `help:"Pay 1.5 for a winning natural"`
	SAB      bool   `name:"sab" help:"Sutton and Barto rules: a natural beats any non-natural"`
	Plain    bool   `help:"Line-based play with human rendering instead of the TUI"`
	LogFile  string `default:"blackjack-play.log" help:"Log file path"`
	LogLevel string `short:"l" default:"info" help:"Log level"`
}

func main() {
	ctx := kong.Parse(&CLI, kong.Description("Play blackjack against the environment's dealer"))

	level, err := log.ParseLevel(CLI.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		ctx.Exit(1)
	}

	// Setup logging to file; the terminal belongs to the game
	logFile, err := os.OpenFile(CLI.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		ctx.Exit(1)
	}
	defer func() { _ = logFile.Close() }()

	logger := log.NewWithOptions(logFile, log.Options{Level: level, ReportTimestamp: true})

	opts := []game.Option{game.WithRules(game.Rules{Natural: CLI.Natural, SAB: CLI.SAB})}
	if CLI.Seed != 0 {
		opts = append(opts, game.WithSource(randutil.New(CLI.Seed)))
	}

	if CLI.Plain {
		opts = append(opts, game.WithLogger(logger), game.WithRenderMode(game.RenderHuman), game.WithOutput(os.Stdout))
		if err := playPlain(game.NewEnv(opts...), os.Stdin, os.Stdout); err != nil {
			logger.Error("Game failed", "err", err)
			ctx.Exit(1)
		}
		return
	}

	program := tea.NewProgram(tui.New(logger, opts...), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		ctx.Exit(1)
	}
}

// playPlain reads one action per line until EOF or "quit"
func playPlain(env *game.Env, in io.Reader, out io.Writer) error {
	defer env.Close()

	fmt.Fprintln(out, "Actions: stand, hit, double, surrender, insurance. Blank line deals again, quit exits.")
	env.Reset(nil)
	total := 0.0

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "quit" || line == "q":
			fmt.Fprintf(out, "Total: %+.1f\n", total)
			return nil
		case line == "":
			env.Reset(nil)
			continue
		}

		if env.State() == game.Terminal {
			fmt.Fprintln(out, "Round over. Press enter to deal again.")
			continue
		}

		a, err := game.ParseAction(line)
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}

		res, err := env.Step(a)
		if err != nil {
			return err
		}
		total += res.Reward
		if a != game.Stand {
			// Stand renders on its own
			fmt.Fprintf(out, "Player: %d\n", res.Observation.PlayerSum)
		}
		fmt.Fprintf(out, "%s (%+.1f)\n", res.Info.Outcome, res.Reward)
		if res.Terminated {
			fmt.Fprintf(out, "Dealer hand: %v. Press enter to deal again.\n", []int(res.Info.DealerHand))
		}
	}
}
