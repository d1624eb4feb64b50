// Package tui is an interactive terminal front end for a single environment.
package tui

import (
	"fmt"
	"strings"

	"github.com/calvinwijaya/blackjack-env/internal/game"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

// historySize is how many finished rounds the view lists
const historySize = 8

// Model is the Bubble Tea model for one player at one environment
type Model struct {
	env    *game.Env
	logger *log.Logger
	keys   keyMap
	help   help.Model

	// Current round
	episode int
	steps   int
	ret     float64
	status  string
	outcome game.Outcome

	// Finished rounds
	rounds  int
	total   float64
	history []string

	width    int
	quitting bool
}

// New creates a model around a fresh environment and deals the first round.
// The environment always renders in rgb_array mode so frames come back as
// text instead of being written to stdout.
func New(logger *log.Logger, opts ...game.Option) *Model {
	opts = append(opts, game.WithLogger(logger), game.WithRenderMode(game.RenderRGBArray))
	m := &Model{
		env:    game.NewEnv(opts...),
		logger: logger.WithPrefix("tui"),
		keys:   defaultKeys(),
		help:   help.New(),
	}
	m.deal()
	return m
}

func (m *Model) Init() tea.Cmd {
	return nil
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, m.keys.Next):
			m.deal()
		case key.Matches(msg, m.keys.Stand):
			m.act(game.Stand)
		case key.Matches(msg, m.keys.Hit):
			m.act(game.Hit)
		case key.Matches(msg, m.keys.Double):
			m.act(game.DoubleDown)
		case key.Matches(msg, m.keys.Surrender):
			m.act(game.Surrender)
		case key.Matches(msg, m.keys.Insurance):
			m.act(game.Insurance)
		}
	}
	return m, nil
}

// deal starts the next round, abandoning any round in progress
func (m *Model) deal() {
	if m.env.State() == game.AwaitingAction && m.episode > 0 {
		m.logger.Debug("Abandoning round", "episode", m.episode, "steps", m.steps)
	}

	obs, _ := m.env.Reset(nil)
	m.episode++
	m.steps = 0
	m.ret = 0
	m.outcome = ""
	m.status = "Your move."
	if obs.InsuranceAvailable {
		m.status = "Dealer shows an ace. Insurance is available."
	}
}

func (m *Model) act(a game.Action) {
	if m.env.State() == game.Terminal {
		m.status = "Round over. Press n to deal again."
		return
	}

	res, err := m.env.Step(a)
	if err != nil {
		m.logger.Error("Step failed", "action", a, "err", err)
		m.status = err.Error()
		m.outcome = ""
		return
	}

	m.steps++
	m.ret += res.Reward
	m.outcome = res.Info.Outcome
	m.status = fmt.Sprintf("%s: %s (%+.1f)", a, res.Info.Outcome, res.Reward)

	if !res.Terminated {
		return
	}

	m.rounds++
	m.total += m.ret
	outcome := game.OutcomeFor(m.ret)
	m.outcome = outcome
	m.status = fmt.Sprintf("%s: round %s, %+.1f. Press n for the next round.", a, outcome, m.ret)

	m.history = append(m.history, fmt.Sprintf("#%-3d %-5s %+.1f", m.episode, outcome, m.ret))
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("Blackjack · round %d", m.episode)))
	b.WriteString("\n\n")
	b.WriteString(TableStyle.Render(m.env.Render()))
	b.WriteString("\n")
	b.WriteString(statusStyle(m.outcome).Render(m.status))
	b.WriteString("\n\n")

	b.WriteString(InfoStyle.Render(fmt.Sprintf("Rounds: %d  Total: %+.1f", m.rounds, m.total)))
	b.WriteString("\n")
	for _, h := range m.history {
		b.WriteString(InfoStyle.Render(h))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func statusStyle(o game.Outcome) lipgloss.Style {
	switch o {
	case game.Win:
		return WinStyle
	case game.Loss, game.InvalidMove:
		return LossStyle
	case game.Push:
		return PushStyle
	default:
		return InfoStyle
	}
}
