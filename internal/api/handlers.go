package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/calvinwijaya/blackjack-env/internal/db"
	"github.com/calvinwijaya/blackjack-env/internal/game"
	"github.com/calvinwijaya/blackjack-env/internal/store"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/mux"
)

// Handlers contains all the API handlers
type Handlers struct {
	store    store.Store
	database *db.Database
	hub      *Hub
	clock    quartz.Clock
	logger   *log.Logger
	rules    game.Rules
}

// NewHandlers creates a new instance of Handlers. database and hub may be
// nil; rules are the defaults for sessions that do not choose their own.
func NewHandlers(s store.Store, database *db.Database, hub *Hub, clock quartz.Clock, logger *log.Logger, rules game.Rules) *Handlers {
	h := &Handlers{
		store:    s,
		database: database,
		hub:      hub,
		clock:    clock,
		logger:   logger.WithPrefix("api"),
		rules:    rules,
	}
	if hub != nil {
		hub.SetHandler(h.handleSocketMessage)
	}
	return h
}

// RegisterRoutes registers all API routes
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/spaces", h.Spaces).Methods("GET")

	// Environment endpoints
	r.HandleFunc("/api/env", h.NewSession).Methods("POST")
	r.HandleFunc("/api/env", h.ListSessions).Methods("GET")
	r.HandleFunc("/api/env/{id}", h.GetSession).Methods("GET")
	r.HandleFunc("/api/env/{id}", h.DeleteSession).Methods("DELETE")
	r.HandleFunc("/api/env/{id}/reset", h.Reset).Methods("POST")
	r.HandleFunc("/api/env/{id}/step", h.Step).Methods("POST")
	r.HandleFunc("/api/env/{id}/stats", h.GetStats).Methods("GET")
	r.HandleFunc("/api/env/{id}/episodes/{episode}", h.GetEpisode).Methods("GET")

	// WebSocket endpoint
	if h.hub != nil {
		r.HandleFunc("/ws", h.hub.WebSocketHandler)
	}
}

// response helper function to send JSON responses
func response(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// error response helper function
func errorResponse(w http.ResponseWriter, status int, message string) {
	response(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrInvalidAction):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrRoundOver), errors.Is(err, game.ErrNotReset):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes an optional JSON body; an empty body leaves v untouched
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type createRequest struct {
	Natural *bool  `json:"natural"`
	SAB     *bool  `json:"sab"`
	Seed    *int64 `json:"seed"`
}

type resetRequest struct {
	Seed *int64 `json:"seed"`
}

type stepRequest struct {
	Action *actionParam `json:"action"`
}

var errActionRequired = errors.New("action is required")

func (r stepRequest) action() (game.Action, error) {
	if r.Action == nil {
		return 0, errActionRequired
	}
	return r.Action.Action, nil
}

// actionParam accepts an action as its number or its name
type actionParam struct {
	game.Action
}

func (p *actionParam) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		p.Action = game.Action(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("action must be a number or a name")
	}
	a, err := game.ParseAction(s)
	if err != nil {
		return err
	}
	p.Action = a
	return nil
}

// ResetResponse is returned by session creation and reset
type ResetResponse struct {
	ID          string           `json:"id"`
	Episode     int              `json:"episode"`
	Rules       game.Rules       `json:"rules"`
	Observation game.Observation `json:"observation"`
	Info        game.Info        `json:"info"`
}

// StepResponse is returned by step
type StepResponse struct {
	ID      string  `json:"id"`
	Episode int     `json:"episode"`
	Step    int     `json:"step"`
	Return  float64 `json:"return"`
	game.StepResult
}

// Spaces describes the action and observation spaces
func (h *Handlers) Spaces(w http.ResponseWriter, r *http.Request) {
	actions := make([]string, game.NumActions)
	for i := range actions {
		actions[i] = game.Action(i).String()
	}

	response(w, http.StatusOK, map[string]interface{}{
		"action":      game.ActionSpace,
		"actions":     actions,
		"observation": game.ObservationSpace,
	})
}

// NewSession creates a session and deals its first round
func (h *Handlers) NewSession(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rules := h.rules
	if req.Natural != nil {
		rules.Natural = *req.Natural
	}
	if req.SAB != nil {
		rules.SAB = *req.SAB
	}

	sess := store.NewSession(h.clock, rules, req.Seed, game.WithLogger(h.logger))
	resp := h.reset(sess, nil)

	// Save after the first deal so the stored record carries its timestamps
	if err := h.store.SaveSession(sess); err != nil {
		h.logger.Error("Failed to save session", "id", sess.ID, "err", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to save session")
		return
	}

	h.logger.Info("Session created", "id", sess.ID, "natural", rules.Natural, "sab", rules.SAB)
	response(w, http.StatusCreated, resp)
}

// ListSessions returns a snapshot of every live session
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Error retrieving sessions")
		return
	}

	views := make([]store.View, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, s.View())
	}
	response(w, http.StatusOK, views)
}

// GetSession returns the current state of a session
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.GetSession(mux.Vars(r)["id"])
	if err != nil {
		errorResponse(w, statusFor(err), err.Error())
		return
	}
	response(w, http.StatusOK, sess.View())
}

// DeleteSession removes a session
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.store.DeleteSession(id); err != nil {
		errorResponse(w, statusFor(err), err.Error())
		return
	}

	if h.hub != nil {
		h.hub.BroadcastToSession(id, Message{Type: "sessionClosed", SessionID: id})
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reset deals the next round of a session
func (h *Handlers) Reset(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.GetSession(mux.Vars(r)["id"])
	if err != nil {
		errorResponse(w, statusFor(err), err.Error())
		return
	}

	var req resetRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp := h.reset(sess, req.Seed)
	h.touch(sess)
	response(w, http.StatusOK, resp)
}

// Step applies one action to a session's round
func (h *Handlers) Step(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.GetSession(mux.Vars(r)["id"])
	if err != nil {
		errorResponse(w, statusFor(err), err.Error())
		return
	}

	var req stepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	a, err := req.action()
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.step(sess, a)
	if err != nil {
		errorResponse(w, statusFor(err), err.Error())
		return
	}
	response(w, http.StatusOK, resp)
}

// GetStats returns a session's recorded statistics
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	if h.database == nil {
		errorResponse(w, http.StatusServiceUnavailable, "Database not available")
		return
	}

	stats, err := h.database.GetSessionStats(mux.Vars(r)["id"])
	if err != nil {
		errorResponse(w, statusFor(err), "Error retrieving session statistics")
		return
	}
	response(w, http.StatusOK, stats)
}

// GetEpisode returns the recorded steps of one episode
func (h *Handlers) GetEpisode(w http.ResponseWriter, r *http.Request) {
	if h.database == nil {
		errorResponse(w, http.StatusServiceUnavailable, "Database not available")
		return
	}

	vars := mux.Vars(r)
	episode, err := strconv.Atoi(vars["episode"])
	if err != nil || episode < 1 {
		errorResponse(w, http.StatusBadRequest, "Invalid episode number")
		return
	}

	steps, err := h.database.GetTransitions(vars["id"], episode)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Error retrieving episode")
		return
	}
	if len(steps) == 0 {
		errorResponse(w, http.StatusNotFound, "Episode not found")
		return
	}
	response(w, http.StatusOK, steps)
}

// reset deals a round and broadcasts it
func (h *Handlers) reset(sess *store.Session, seed *int64) ResetResponse {
	obs, info := sess.Reset(seed)
	v := sess.View()

	resp := ResetResponse{
		ID:          sess.ID,
		Episode:     v.Episode,
		Rules:       sess.Rules,
		Observation: obs,
		Info:        info,
	}

	if h.hub != nil {
		h.hub.BroadcastToSession(sess.ID, Message{Type: "reset", SessionID: sess.ID, Data: resp})
	}
	return resp
}

// step applies an action, records it and broadcasts it
func (h *Handlers) step(sess *store.Session, a game.Action) (StepResponse, error) {
	rec, err := sess.Step(a)
	if err != nil {
		return StepResponse{}, err
	}

	h.record(rec)
	h.touch(sess)

	resp := StepResponse{
		ID:         rec.SessionID,
		Episode:    rec.Episode,
		Step:       rec.Step,
		Return:     rec.Return,
		StepResult: rec.Result,
	}

	if h.hub != nil {
		h.hub.BroadcastToSession(sess.ID, Message{Type: "step", SessionID: sess.ID, Data: resp})
	}
	return resp, nil
}

// touch mirrors the session's seed and last-used time to the database
func (h *Handlers) touch(sess *store.Session) {
	if h.database == nil {
		return
	}
	if err := h.database.SaveSession(store.Record(sess)); err != nil {
		h.logger.Warn("Failed to update session", "id", sess.ID, "err", err)
	}
}

// record persists a step and, when it ends the round, the episode. Failures
// are logged but don't fail the request.
func (h *Handlers) record(rec store.StepRecord) {
	if h.database == nil {
		return
	}

	res := rec.Result
	err := h.database.RecordTransition(db.Transition{
		SessionID:  rec.SessionID,
		Episode:    rec.Episode,
		Step:       rec.Step,
		Action:     rec.Action,
		Obs:        res.Observation,
		Reward:     res.Reward,
		Terminated: res.Terminated,
		Outcome:    res.Info.Outcome,
	})
	if err != nil {
		h.logger.Warn("Failed to record transition", "id", rec.SessionID, "err", err)
	}

	if !res.Terminated {
		return
	}

	err = h.database.RecordEpisode(db.EpisodeRecord{
		SessionID:  rec.SessionID,
		Episode:    rec.Episode,
		PlayerHand: rec.Round.Player,
		DealerHand: rec.Round.Dealer,
		Return:     rec.Return,
		Steps:      rec.Step,
		Outcome:    game.OutcomeFor(rec.Return),
	})
	if err != nil {
		h.logger.Warn("Failed to record episode", "id", rec.SessionID, "err", err)
	}
}

// handleSocketMessage executes reset and step requests sent over the socket.
// Clients subscribed to the session see the result through the broadcast;
// anyone else gets it as a direct reply.
func (h *Handlers) handleSocketMessage(c *Client, msg Inbound) {
	fail := func(err error) {
		c.Send(Message{Type: "error", SessionID: msg.SessionID, Data: map[string]string{"error": err.Error()}})
	}

	sess, err := h.store.GetSession(msg.SessionID)
	if err != nil {
		fail(err)
		return
	}

	var reply interface{}
	switch msg.Type {
	case "reset":
		var req resetRequest
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				fail(err)
				return
			}
		}
		reply = h.reset(sess, req.Seed)
		h.touch(sess)

	case "step":
		var req stepRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			fail(err)
			return
		}
		a, err := req.action()
		if err != nil {
			fail(err)
			return
		}
		resp, err := h.step(sess, a)
		if err != nil {
			fail(err)
			return
		}
		reply = resp

	default:
		fail(fmt.Errorf("unknown message type %q", msg.Type))
		return
	}

	if c.SessionID() != sess.ID {
		c.Send(Message{Type: msg.Type, SessionID: sess.ID, Data: reply})
	}
}
