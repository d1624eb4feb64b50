package store

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/calvinwijaya/blackjack-env/internal/db"
	"github.com/calvinwijaya/blackjack-env/internal/game"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietEnv() game.Option {
	return game.WithLogger(log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel}))
}

func seeded(v int64) *int64 { return &v }

func TestSessionLifecycle(t *testing.T) {
	clock := quartz.NewMock(t)
	sess := NewSession(clock, game.Rules{}, seeded(5), quietEnv())

	_, err := sess.Step(game.Stand)
	require.ErrorIs(t, err, game.ErrNotReset)

	obs, info := sess.Reset(nil)
	assert.Equal(t, 2, info.NumCards)

	v := sess.View()
	assert.Equal(t, 1, v.Episode)
	assert.Equal(t, game.AwaitingAction, v.State)
	require.NotNil(t, v.Observation)
	assert.Equal(t, obs, *v.Observation)

	rec, err := sess.Step(game.Surrender)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, rec.SessionID)
	assert.Equal(t, 1, rec.Episode)
	assert.Equal(t, 1, rec.Step)
	assert.Equal(t, -0.5, rec.Return)
	assert.True(t, rec.Result.Terminated)
	assert.Len(t, rec.Round.Player, 2)

	_, err = sess.Step(game.Hit)
	require.ErrorIs(t, err, ErrRoundOver)

	_, err = sess.Step(game.Action(9))
	require.ErrorIs(t, err, ErrRoundOver)

	sess.Reset(nil)
	_, err = sess.Step(game.Action(9))
	require.ErrorIs(t, err, game.ErrInvalidAction)

	v = sess.View()
	assert.Equal(t, 2, v.Episode)
	assert.Zero(t, v.Steps)
	assert.Zero(t, v.Return)
}

func TestSessionSeedIsReproducible(t *testing.T) {
	clock := quartz.NewMock(t)
	a := NewSession(clock, game.Rules{}, seeded(77), quietEnv())
	b := NewSession(clock, game.Rules{}, seeded(77), quietEnv())

	for i := 0; i < 20; i++ {
		obsA, _ := a.Reset(nil)
		obsB, _ := b.Reset(nil)
		require.Equal(t, obsA, obsB)
	}
	assert.Equal(t, int64(77), *a.View().Seed)
}

func TestSessionConcurrentSteps(t *testing.T) {
	sess := NewSession(quartz.NewReal(), game.Rules{}, seeded(1), quietEnv())
	sess.Reset(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := sess.Step(game.Hit); err != nil {
					sess.Reset(nil)
				}
			}
		}()
	}
	wg.Wait()
	assert.Positive(t, sess.View().Episode)
}

func TestMemoryStore(t *testing.T) {
	clock := quartz.NewMock(t)
	s := NewMemoryStore(clock)

	first := NewSession(clock, game.Rules{}, nil, quietEnv())
	clock.Advance(time.Second).MustWait(context.Background())
	second := NewSession(clock, game.Rules{SAB: true}, nil, quietEnv())

	require.NoError(t, s.SaveSession(second))
	require.NoError(t, s.SaveSession(first))

	got, err := s.GetSession(first.ID)
	require.NoError(t, err)
	assert.Same(t, first, got)

	list, err := s.ListSessions()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Same(t, first, list[0])
	assert.Same(t, second, list[1])

	require.NoError(t, s.DeleteSession(first.ID))
	_, err = s.GetSession(first.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, s.DeleteSession(first.ID), ErrSessionNotFound)
}

func TestMemoryStoreReap(t *testing.T) {
	ctx := context.Background()
	clock := quartz.NewMock(t)
	s := NewMemoryStore(clock)

	idle := NewSession(clock, game.Rules{}, nil, quietEnv())
	busy := NewSession(clock, game.Rules{}, nil, quietEnv())
	require.NoError(t, s.SaveSession(idle))
	require.NoError(t, s.SaveSession(busy))

	clock.Advance(20 * time.Minute).MustWait(ctx)
	busy.Reset(nil)
	assert.Empty(t, s.Reap(30*time.Minute))

	clock.Advance(15 * time.Minute).MustWait(ctx)
	assert.Equal(t, []string{idle.ID}, s.Reap(30*time.Minute))

	_, err := s.GetSession(busy.ID)
	assert.NoError(t, err)
}

func TestRunReaper(t *testing.T) {
	s := NewMemoryStore(quartz.NewReal())
	sess := NewSession(quartz.NewReal(), game.Rules{}, nil, quietEnv())
	require.NoError(t, s.SaveSession(sess))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reaped := make(chan []string, 1)
	go s.RunReaper(ctx, 0, 10*time.Millisecond, func(ids []string) {
		select {
		case reaped <- ids:
		default:
		}
	})

	select {
	case ids := <-reaped:
		assert.Equal(t, []string{sess.ID}, ids)
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not run")
	}
}

func TestDatabaseStore(t *testing.T) {
	database, err := db.NewDatabase("sqlite3", ":memory:")
	require.NoError(t, err)
	defer database.Close()

	s := NewDatabaseStore(NewMemoryStore(quartz.NewReal()), database)
	sess := NewSession(quartz.NewReal(), game.Rules{Natural: true}, seeded(9), quietEnv())
	require.NoError(t, s.SaveSession(sess))

	rec, err := database.GetSession(sess.ID)
	require.NoError(t, err)
	assert.True(t, rec.Rules.Natural)
	require.NotNil(t, rec.Seed)
	assert.Equal(t, int64(9), *rec.Seed)

	got, err := s.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)

	require.NoError(t, s.DeleteSession(sess.ID))
	_, err = database.GetSession(sess.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}
