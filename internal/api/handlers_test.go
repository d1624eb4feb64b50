package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/calvinwijaya/blackjack-env/internal/db"
	"github.com/calvinwijaya/blackjack-env/internal/game"
	"github.com/calvinwijaya/blackjack-env/internal/store"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}

type fixture struct {
	router   *mux.Router
	hub      *Hub
	clock    *quartz.Mock
	store    store.Store
	database *db.Database
}

func newFixture(t *testing.T, withDB bool) *fixture {
	t.Helper()
	clock := quartz.NewMock(t)

	var s store.Store = store.NewMemoryStore(clock)
	var database *db.Database
	if withDB {
		var err error
		database, err = db.NewDatabase("sqlite3", ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { database.Close() })
		s = store.NewDatabaseStore(s, database)
	}

	hub := NewHub(quietLogger())
	h := NewHandlers(s, database, hub, clock, quietLogger(), game.Rules{})

	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return &fixture{router: r, hub: hub, clock: clock, store: s, database: database}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) create(t *testing.T, body string) ResetResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/env", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[ResetResponse](t, rec)
}

func TestSpaces(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/api/spaces", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[struct {
		Action  game.Discrete `json:"action"`
		Actions []string      `json:"actions"`
	}](t, rec)
	assert.Equal(t, game.NumActions, body.Action.N)
	assert.Equal(t, []string{"stand", "hit", "double", "surrender", "insurance"}, body.Actions)
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t, false)

	resp := f.create(t, `{"natural": true, "seed": 7}`)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, 1, resp.Episode)
	assert.True(t, resp.Rules.Natural)
	assert.False(t, resp.Rules.SAB)
	assert.Equal(t, 2, resp.Info.NumCards)
	tup := resp.Observation.Tuple()
	assert.True(t, game.ObservationSpace.Contains(tup[:]))

	// defaults apply without a body
	resp = f.create(t, "")
	assert.Equal(t, game.Rules{}, resp.Rules)

	rec := f.do(t, http.MethodPost, "/api/env", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSeededSessionsMatch(t *testing.T) {
	f := newFixture(t, false)

	a := f.create(t, `{"seed": 99}`)
	b := f.create(t, `{"seed": 99}`)
	assert.Equal(t, a.Observation, b.Observation)

	ra := decode[ResetResponse](t, f.do(t, http.MethodPost, "/api/env/"+a.ID+"/reset", `{"seed": 3}`))
	rb := decode[ResetResponse](t, f.do(t, http.MethodPost, "/api/env/"+b.ID+"/reset", `{"seed": 3}`))
	assert.Equal(t, 2, ra.Episode)
	assert.Equal(t, ra.Observation, rb.Observation)
}

func TestStep(t *testing.T) {
	f := newFixture(t, false)
	id := f.create(t, "").ID
	path := "/api/env/" + id + "/step"

	rec := f.do(t, http.MethodPost, path, `{"action": 9}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, path, `{"action": "fold"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, body := range []string{`{}`, `{"action": null}`, `{"actoin": 1}`} {
		rec = f.do(t, http.MethodPost, path, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), "action is required", body)
	}
	sess, err := f.store.GetSession(id)
	require.NoError(t, err)
	assert.Zero(t, sess.View().Steps)
	assert.Equal(t, game.AwaitingAction, sess.View().State)

	rec = f.do(t, http.MethodPost, path, `{"action": "surrender"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[StepResponse](t, rec)
	assert.Equal(t, id, resp.ID)
	assert.Equal(t, 1, resp.Step)
	assert.Equal(t, -0.5, resp.Reward)
	assert.Equal(t, -0.5, resp.Return)
	assert.True(t, resp.Terminated)
	assert.False(t, resp.Truncated)
	assert.Equal(t, game.Loss, resp.Info.Outcome)
	assert.GreaterOrEqual(t, len(resp.Info.DealerHand), 2)

	rec = f.do(t, http.MethodPost, path, `{"action": 0}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/env/missing/step", `{"action": 0}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionCRUD(t *testing.T) {
	f := newFixture(t, false)
	a := f.create(t, "").ID
	f.create(t, `{"sab": true}`)

	rec := f.do(t, http.MethodGet, "/api/env", "")
	require.Equal(t, http.StatusOK, rec.Code)
	views := decode[[]store.View](t, rec)
	assert.Len(t, views, 2)

	rec = f.do(t, http.MethodGet, "/api/env/"+a, "")
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[store.View](t, rec)
	assert.Equal(t, a, v.ID)
	assert.Equal(t, game.AwaitingAction, v.State)
	require.NotNil(t, v.Observation)

	rec = f.do(t, http.MethodDelete, "/api/env/"+a, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/env/"+a, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/env/"+a, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsRequireDatabase(t *testing.T) {
	f := newFixture(t, false)
	id := f.create(t, "").ID

	rec := f.do(t, http.MethodGet, "/api/env/"+id+"/stats", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/env/"+id+"/episodes/1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSessionRecordFollowsActivity(t *testing.T) {
	f := newFixture(t, true)
	id := f.create(t, "").ID

	created, err := f.database.GetSession(id)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	rec := f.do(t, http.MethodPost, "/api/env/"+id+"/step", `{"action": "surrender"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stepped, err := f.database.GetSession(id)
	require.NoError(t, err)
	assert.True(t, stepped.UpdatedAt.After(created.UpdatedAt))
	assert.True(t, stepped.CreatedAt.Equal(created.CreatedAt))

	f.clock.Advance(time.Minute)
	rec = f.do(t, http.MethodPost, "/api/env/"+id+"/reset", `{"seed": 9}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	reset, err := f.database.GetSession(id)
	require.NoError(t, err)
	assert.True(t, reset.UpdatedAt.After(stepped.UpdatedAt))
	require.NotNil(t, reset.Seed)
	assert.Equal(t, int64(9), *reset.Seed)
}

func TestStatsAndEpisodes(t *testing.T) {
	f := newFixture(t, true)
	id := f.create(t, `{"seed": 1}`).ID

	rec := f.do(t, http.MethodPost, "/api/env/"+id+"/step", `{"action": 3}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/env/"+id+"/stats", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decode[db.SessionStats](t, rec)
	assert.Equal(t, 1, stats.Episodes)
	assert.Equal(t, 1, stats.Losses)
	assert.InDelta(t, -0.5, stats.MeanReturn, 1e-9)

	rec = f.do(t, http.MethodGet, "/api/env/"+id+"/episodes/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	steps := decode[[]db.Transition](t, rec)
	require.Len(t, steps, 1)
	assert.Equal(t, game.Surrender, steps[0].Action)
	assert.True(t, steps[0].Terminated)

	rec = f.do(t, http.MethodGet, "/api/env/"+id+"/episodes/x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/env/"+id+"/episodes/5", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/env/missing/stats", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type wsMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	welcome := read(t, conn)
	require.Equal(t, "welcome", welcome.Type)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocket(t *testing.T) {
	f := newFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.hub.Run(ctx)

	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	id := f.create(t, "").ID
	watcher := dial(t, srv, "?sessionId="+id)
	other := dial(t, srv, "")

	// unsubscribed clients get a direct reply; subscribers get the broadcast
	require.NoError(t, other.WriteJSON(map[string]interface{}{
		"type": "reset", "sessionId": id, "data": map[string]int64{"seed": 4},
	}))
	reply := read(t, other)
	assert.Equal(t, "reset", reply.Type)
	assert.Equal(t, id, reply.SessionID)

	seen := read(t, watcher)
	assert.Equal(t, "reset", seen.Type)
	assert.JSONEq(t, string(reply.Data), string(seen.Data))
	assert.Equal(t, 1, f.hub.Subscribers(id))

	require.NoError(t, watcher.WriteJSON(map[string]interface{}{
		"type": "step", "data": map[string]string{"action": "surrender"},
	}))
	step := read(t, watcher)
	require.Equal(t, "step", step.Type)
	var resp StepResponse
	require.NoError(t, json.Unmarshal(step.Data, &resp))
	assert.Equal(t, -0.5, resp.Reward)
	assert.Equal(t, 2, resp.Episode)

	require.NoError(t, watcher.WriteJSON(map[string]interface{}{
		"type": "step", "data": map[string]interface{}{},
	}))
	missing := read(t, watcher)
	assert.Equal(t, "error", missing.Type)
	assert.Contains(t, string(missing.Data), "action is required")

	require.NoError(t, watcher.WriteJSON(map[string]string{"type": "deal"}))
	assert.Equal(t, "error", read(t, watcher).Type)

	require.NoError(t, other.WriteJSON(map[string]string{"type": "step", "sessionId": "missing"}))
	assert.Equal(t, "error", read(t, other).Type)
}

func TestHubShutdown(t *testing.T) {
	f := newFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.hub.Run(ctx)

	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	id := f.create(t, "").ID
	conn := dial(t, srv, "?sessionId="+id)

	cancel()
	select {
	case <-f.hub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not stop")
	}

	// connected clients are closed
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived), err)
	assert.Zero(t, f.hub.Subscribers(id))

	// late connections are turned away instead of hanging
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { late.Close() })
	require.NoError(t, late.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err)
}
