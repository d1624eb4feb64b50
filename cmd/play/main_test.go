package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/calvinwijaya/blackjack-env/internal/game"
	"github.com/calvinwijaya/blackjack-env/internal/randutil"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlayPlain(t *testing.T) {
	var out bytes.Buffer
	env := game.NewEnv(
		game.WithSource(randutil.New(5)),
		game.WithRenderMode(game.RenderHuman),
		game.WithOutput(&out),
		game.WithLogger(log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})),
	)

	in := strings.NewReader("fold\nsurrender\nhit\n\nsurrender\nquit\n")
	require.NoError(t, playPlain(env, in, &out))

	got := out.String()
	assert.Contains(t, got, "Dealer:")
	assert.Contains(t, got, "invalid action")
	assert.Equal(t, 2, strings.Count(got, "Loss (-0.5)"))
	assert.Contains(t, got, "Round over")
	assert.Contains(t, got, "Total: -1.0")
}

func TestPlayPlainStopsAtEOF(t *testing.T) {
	var out bytes.Buffer
	env := game.NewEnv(
		game.WithSource(randutil.New(5)),
		game.WithRenderMode(game.RenderHuman),
		game.WithOutput(&out),
		game.WithLogger(log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})),
	)

	require.NoError(t, playPlain(env, strings.NewReader("stand\n"), &out))
	assert.Contains(t, out.String(), "Dealer hand:")
}
