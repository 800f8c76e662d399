// Package api provides the HTTP API for observing a running game.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/kala/internal/agents"
	"github.com/talgya/kala/internal/engine"
	"github.com/talgya/kala/internal/persistence"
)

const (
	maxStreamConns = 8
	maxHistory     = 10000
	maxShockCount  = 100
)

// Server serves the game state over HTTP.
type Server struct {
	Eng       *engine.Engine
	DB        *persistence.DB // optional; enables /runs
	Port      int
	AdminKey  string // Bearer token for POST endpoints. Empty = POST disabled.
	ShockSeed int64  // base seed for shocks built by the admin endpoint

	// Active stream connection count (atomic).
	streamConns int32
	shockSeq    atomic.Int64

	histMu  sync.RWMutex
	history []engine.Summary

	hub      *hub
	upgrader websocket.Upgrader
	srv      *http.Server
}

// NewServer creates a server observing eng. Call Attach before running the engine.
func NewServer(eng *engine.Engine, port int, adminKey string) *Server {
	return &Server{
		Eng:      eng,
		Port:     port,
		AdminKey: adminKey,
		hub:      newHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// streamMessage is pushed to websocket subscribers.
type streamMessage struct {
	Type    string          `json:"type"` // "step" or "shock"
	Summary *engine.Summary `json:"summary,omitempty"`
	Matches int             `json:"matches,omitempty"`
	Flips   int             `json:"flips,omitempty"`
	Shock   string          `json:"shock,omitempty"`
	Time    int             `json:"time"`
}

// Attach installs the server's step and shock observers on the engine, chaining
// any callbacks already present.
func (s *Server) Attach() {
	prevStep, prevShock := s.Eng.OnStep, s.Eng.OnShock
	s.Eng.OnStep = func(report engine.StepReport, st *engine.GameState) {
		if prevStep != nil {
			prevStep(report, st)
		}
		s.observeStep(report, st)
	}
	s.Eng.OnShock = func(sh engine.Shock, st *engine.GameState) {
		if prevShock != nil {
			prevShock(sh, st)
		}
		s.broadcast(streamMessage{Type: "shock", Shock: sh.Name(), Time: st.Time})
	}
	// Seed the history with the state before the first step.
	s.Eng.View(func(st *engine.GameState) {
		s.record(st.Summary())
	})
}

func (s *Server) observeStep(report engine.StepReport, st *engine.GameState) {
	sum := st.Summary()
	s.record(sum)
	s.broadcast(streamMessage{Type: "step", Summary: &sum, Matches: report.Matches, Flips: report.Flips, Time: report.Time})
}

func (s *Server) record(sum engine.Summary) {
	s.histMu.Lock()
	s.history = append(s.history, sum)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	s.histMu.Unlock()
}

func (s *Server) broadcast(m streamMessage) {
	b, err := json.Marshal(m)
	if err != nil {
		slog.Debug("stream marshal failed", "error", err)
		return
	}
	s.hub.publish(b)
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	shockLimiter := NewRateLimiter(30, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/agents", s.handleAgents)
	mux.HandleFunc("GET /api/v1/agent/{id}", s.handleAgentDetail)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/stats/history", s.handleStatsHistory)
	mux.HandleFunc("GET /api/v1/shocks", s.handleShockKinds)
	mux.HandleFunc("GET /api/v1/runs", s.handleRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleRunDetail)

	// Websocket step stream.
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("POST /api/v1/shock", s.adminOnly(RateLimitMiddleware(shockLimiter, s.handleShock)))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the HTTP server and closes stream subscribers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.close()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// KALA_CORS_ORIGINS is a comma-separated list of extra allowed origins.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("KALA_CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no KALA_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// differentials is implemented by payoff strategies with tunable differentials.
type differentials interface {
	Differentials() (efficient, inefficient float64)
}

// Status mirrors GET /api/v1/status.
type Status struct {
	Name          string         `json:"name"`
	Tick          int            `json:"tick"`
	Steps         int            `json:"steps"`
	Running       bool           `json:"running"`
	Pending       int            `json:"pending"`
	Summary       engine.Summary `json:"summary"`
	Absorbed      bool           `json:"absorbed"`
	Differentials *Differentials `json:"differentials,omitempty"`
}

// Differentials are the payoff differentials in force.
type Differentials struct {
	Efficient   float64 `json:"efficient"`
	Inefficient float64 `json:"inefficient"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := Status{
		Name:    "kala",
		Tick:    s.Eng.Tick(),
		Steps:   s.Eng.Plan.Steps,
		Running: s.Eng.Running(),
		Pending: s.Eng.Pending(),
	}
	s.Eng.View(func(st *engine.GameState) {
		status.Summary = st.Summary()
		status.Absorbed = status.Summary.Absorbed()
		if d, ok := st.Payoff.(differentials); ok {
			eff, ineff := d.Differentials()
			status.Differentials = &Differentials{Efficient: eff, Inefficient: ineff}
		}
	})
	writeJSON(w, status)
}

type agentSummary struct {
	ID           agents.AgentID `json:"id"`
	IsSaver      bool           `json:"is_saver"`
	Score        float64        `json:"score"`
	Node         *int           `json:"node,omitempty"`
	MemoryLength int            `json:"memory_length"`
	Remembered   int            `json:"remembered"`
	Losses       int            `json:"losses"`
}

func summarizeAgent(st *engine.GameState, a *agents.Agent) agentSummary {
	out := agentSummary{
		ID:           a.ID(),
		IsSaver:      a.IsSaver(),
		Score:        a.Score(),
		MemoryLength: a.Memory().Cap(),
		Remembered:   a.Memory().Len(),
		Losses:       a.Memory().Losses(),
	}
	if pos, ok := st.Placement.Position(a.ID()); ok {
		n := int(pos)
		out.Node = &n
	}
	return out
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	var filter *bool
	if v := r.URL.Query().Get("saver"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "saver must be true or false", http.StatusBadRequest)
			return
		}
		filter = &b
	}

	result := []agentSummary{}
	s.Eng.View(func(st *engine.GameState) {
		for _, a := range st.Agents {
			if filter != nil && a.IsSaver() != *filter {
				continue
			}
			result = append(result, summarizeAgent(st, a))
		}
	})
	writeJSON(w, result)
}

func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}

	type agentDetail struct {
		agentSummary
		Traits     agents.Traits       `json:"traits"`
		Rule       string              `json:"rule,omitempty"`
		Memory     []agents.MemoryItem `json:"memory"`
		Neighbours []agents.AgentID    `json:"neighbours"`
	}

	var detail *agentDetail
	s.Eng.View(func(st *engine.GameState) {
		a := st.AgentByID(agents.AgentID(id))
		if a == nil {
			return
		}
		d := agentDetail{
			agentSummary: summarizeAgent(st, a),
			Traits:       a.Traits(),
			Memory:       a.Memory().Items(),
			Neighbours:   []agents.AgentID{},
		}
		if rule := a.Rule(); rule != nil {
			d.Rule = rule.Name()
		}
		for _, nb := range st.Placement.NeighboursOf(a.ID()) {
			d.Neighbours = append(d.Neighbours, nb.ID())
		}
		detail = &d
	})
	if detail == nil {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, detail)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	category := r.URL.Query().Get("category")

	var events []engine.Event
	s.Eng.View(func(st *engine.GameState) {
		for _, e := range st.Events {
			if category != "" && e.Category != category {
				continue
			}
			events = append(events, e)
		}
	})

	start := 0
	if len(events) > limit {
		start = len(events) - limit
	}
	out := events[start:]
	if out == nil {
		out = []engine.Event{}
	}
	writeJSON(w, out)
}

func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	from, to, limit := 0, int(^uint(0)>>1), 100
	if f := r.URL.Query().Get("from"); f != "" {
		if v, err := strconv.Atoi(f); err == nil {
			from = v
		}
	}
	if t := r.URL.Query().Get("to"); t != "" {
		if v, err := strconv.Atoi(t); err == nil {
			to = v
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= maxHistory {
			limit = v
		}
	}

	s.histMu.RLock()
	rows := []engine.Summary{}
	for _, sum := range s.history {
		if sum.Time >= from && sum.Time <= to {
			rows = append(rows, sum)
		}
	}
	s.histMu.RUnlock()

	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	writeJSON(w, rows)
}

func (s *Server) handleShockKinds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, engine.ShockKinds())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	runs, err := s.DB.Runs(r.URL.Query().Get("experiment"))
	if err != nil {
		slog.Error("runs query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []persistence.Run{}
	}
	writeJSON(w, runs)
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	id := r.PathValue("id")
	series, err := s.DB.RunSummaries(id)
	if err != nil {
		slog.Error("run summaries query failed", "run", id, "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if len(series) == 0 {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	events, err := s.DB.RecentEvents(id, 500)
	if err != nil {
		slog.Error("run events query failed", "run", id, "error", err)
	}
	if events == nil {
		events = []engine.Event{}
	}
	writeJSON(w, map[string]any{"id": id, "series": series, "events": events})
}

// ShockRequest is the body of POST /api/v1/shock.
type ShockRequest struct {
	Type   string             `json:"type"`
	Params engine.ShockParams `json:"params,omitempty"`
	Count  int                `json:"count,omitempty"` // copies to queue, default 1
}

// ShockResult is the response to POST /api/v1/shock.
type ShockResult struct {
	Type    string `json:"type"`
	Queued  int    `json:"queued"`
	Pending int    `json:"pending"`
}

func (s *Server) handleShock(w http.ResponseWriter, r *http.Request) {
	var req ShockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}
	if req.Count < 0 || req.Count > maxShockCount {
		http.Error(w, fmt.Sprintf("count must be 1-%d", maxShockCount), http.StatusBadRequest)
		return
	}

	shocks := make([]engine.Shock, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		sh, err := engine.NewShock(req.Type, req.Params, s.ShockSeed+s.shockSeq.Add(1))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		shocks = append(shocks, sh)
	}
	for _, sh := range shocks {
		s.Eng.Inject(sh)
	}
	slog.Info("shock queued", "type", req.Type, "count", req.Count, "tick", s.Eng.Tick())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(ShockResult{Type: req.Type, Queued: req.Count, Pending: s.Eng.Pending()})
}

// handleStream upgrades to a websocket and pushes step and shock messages.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	current := atomic.AddInt32(&s.streamConns, 1)
	if current > maxStreamConns {
		atomic.AddInt32(&s.streamConns, -1)
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&s.streamConns, -1)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	subID, ch := s.hub.subscribe()
	defer s.hub.unsubscribe(subID)
	slog.Info("stream client connected", "sub_id", subID)

	// Catch-up: the latest summary.
	s.histMu.RLock()
	if n := len(s.history); n > 0 {
		last := s.history[n-1]
		s.histMu.RUnlock()
		b, _ := json.Marshal(streamMessage{Type: "step", Summary: &last, Time: last.Time})
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	} else {
		s.histMu.RUnlock()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader: clients send nothing, but reading surfaces close frames.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case b, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-ctx.Done():
			slog.Info("stream client disconnected", "sub_id", subID)
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
