package game

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type RenderMode string

const (
	RenderNone     RenderMode = ""
	RenderHuman    RenderMode = "human"
	RenderRGBArray RenderMode = "rgb_array"
)

// RenderModes lists the modes accepted besides RenderNone
var RenderModes = []RenderMode{RenderHuman, RenderRGBArray}

// ParseRenderMode accepts "", "none", "human" and "rgb_array"
func ParseRenderMode(s string) (RenderMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return RenderNone, nil
	case string(RenderHuman):
		return RenderHuman, nil
	case string(RenderRGBArray):
		return RenderRGBArray, nil
	}
	return RenderNone, fmt.Errorf("unknown render mode %q", s)
}

var (
	frameStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Bold(true)
	cardStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F25D94"))
)

// Render draws the table from the player's point of view. Without a render
// mode it logs a warning and does nothing. Human mode writes a styled frame
// to the output; rgb_array returns the plain frame without writing it.
func (e *Env) Render() string {
	switch e.mode {
	case RenderNone:
		e.logger.Warn(renderWarning(e.id))
		return ""
	case RenderHuman:
		frame := frameStyle.Render(e.frame(true))
		if _, err := io.WriteString(e.out, frame+"\n"); err != nil {
			e.logger.Warn("Failed to write frame", "err", err)
		}
		return frame
	default:
		return e.frame(false)
	}
}

func (e *Env) frame(styled bool) string {
	if len(e.round.Dealer) == 0 {
		return "no round dealt"
	}

	label := func(s string) string {
		if styled {
			return labelStyle.Render(s)
		}
		return s
	}
	card := func(s string) string {
		if styled {
			return cardStyle.Render(s)
		}
		return s
	}

	obs := e.observe(nil)
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", label("Dealer:"), card(e.upCard.String()))
	fmt.Fprintf(&b, "%s %d", label("Player:"), obs.PlayerSum)
	if obs.UsableAce {
		b.WriteString(" (usable ace)")
	}
	if e.state == Terminal {
		fmt.Fprintf(&b, "\n%s %v = %d", label("Dealer hand:"), []int(e.round.Dealer), e.round.Dealer.BestTotal())
	}
	return b.String()
}

func renderWarning(id string) string {
	msg := "You are calling render method without specifying any render mode. " +
		"You can specify the render mode at initialization"
	if id == "" {
		return msg + "."
	}
	return fmt.Sprintf("%s, e.g. NewEnv(WithID(%q), WithRenderMode(%q))", msg, id, RenderRGBArray)
}
