package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/kala/internal/config"
	"github.com/talgya/kala/internal/engine"
	"github.com/talgya/kala/internal/lab"
	"github.com/talgya/kala/internal/persistence"
)

const testKey = "secret"

func newTestServer(t *testing.T, steps int) (*Server, *httptest.Server) {
	t.Helper()
	exp := config.Default()
	exp.Steps = steps
	exp.Network = config.NetworkConfig{Kind: "ring", Nodes: 6}
	exp.Population.Deterministic = true
	exp.Population.MemoryLength = 2

	net, err := lab.LoadNetwork(context.Background(), exp.Network, 1)
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	state, plan, err := lab.Build(exp, net, 3)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	state.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	s := NewServer(engine.NewEngine(state, plan), 0, testKey)
	s.Attach()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Shutdown(context.Background())
	})
	return s, ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postShock(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/api/v1/shock", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST shock: %v", err)
	}
	resp.Body.Close()
	return resp
}

func TestStatus(t *testing.T) {
	_, ts := newTestServer(t, 5)
	var status struct {
		Tick          int                `json:"tick"`
		Steps         int                `json:"steps"`
		Summary       engine.Summary     `json:"summary"`
		Differentials map[string]float64 `json:"differentials"`
	}
	if code := getJSON(t, ts.URL+"/api/v1/status", &status); code != http.StatusOK {
		t.Fatalf("status code=%d", code)
	}
	if status.Tick != 0 || status.Steps != 5 {
		t.Errorf("tick=%d steps=%d", status.Tick, status.Steps)
	}
	if status.Summary.Agents != 6 || status.Summary.Savers != 3 {
		t.Errorf("summary=%+v", status.Summary)
	}
	if status.Differentials["efficient"] != 0.15 {
		t.Errorf("differentials=%v", status.Differentials)
	}
}

func TestAgentsEndpoints(t *testing.T) {
	_, ts := newTestServer(t, 5)

	var all, savers []agentSummary
	getJSON(t, ts.URL+"/api/v1/agents", &all)
	getJSON(t, ts.URL+"/api/v1/agents?saver=true", &savers)
	if len(all) != 6 || len(savers) != 3 {
		t.Fatalf("agents=%d savers=%d", len(all), len(savers))
	}
	for _, a := range savers {
		if !a.IsSaver {
			t.Errorf("agent %d is not a saver", a.ID)
		}
	}
	if code := getJSON(t, ts.URL+"/api/v1/agents?saver=maybe", nil); code != http.StatusBadRequest {
		t.Errorf("bad filter code=%d", code)
	}

	var detail struct {
		ID         uint64   `json:"id"`
		Node       *int     `json:"node"`
		Rule       string   `json:"rule"`
		Neighbours []uint64 `json:"neighbours"`
	}
	if code := getJSON(t, ts.URL+"/api/v1/agent/1", &detail); code != http.StatusOK {
		t.Fatalf("detail code=%d", code)
	}
	if detail.ID != 1 || detail.Node == nil || len(detail.Neighbours) != 2 {
		t.Errorf("detail=%+v", detail)
	}
	if code := getJSON(t, ts.URL+"/api/v1/agent/999", nil); code != http.StatusNotFound {
		t.Errorf("missing agent code=%d", code)
	}
	if code := getJSON(t, ts.URL+"/api/v1/agent/abc", nil); code != http.StatusBadRequest {
		t.Errorf("invalid id code=%d", code)
	}
}

func TestShockAuth(t *testing.T) {
	s, ts := newTestServer(t, 5)

	if resp := postShock(t, ts.URL, "", `{"type":"flip_all"}`); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token code=%d", resp.StatusCode)
	}
	if resp := postShock(t, ts.URL, "wrong", `{"type":"flip_all"}`); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token code=%d", resp.StatusCode)
	}
	if resp := postShock(t, ts.URL, testKey, `{"type":"melt"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown type code=%d", resp.StatusCode)
	}
	if resp := postShock(t, ts.URL, testKey, `{"type":"flip_all","count":1000}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("count too large code=%d", resp.StatusCode)
	}
	if s.Eng.Pending() != 0 {
		t.Fatalf("rejected requests queued %d shocks", s.Eng.Pending())
	}

	s.AdminKey = ""
	if resp := postShock(t, ts.URL, testKey, `{"type":"flip_all"}`); resp.StatusCode != http.StatusForbidden {
		t.Errorf("disabled admin code=%d", resp.StatusCode)
	}
}

func TestShockAppliedAtNextStep(t *testing.T) {
	s, ts := newTestServer(t, 1)

	if resp := postShock(t, ts.URL, testKey, `{"type":"flip_all"}`); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("shock code=%d", resp.StatusCode)
	}
	if s.Eng.Pending() != 1 {
		t.Fatalf("pending=%d want 1", s.Eng.Pending())
	}

	var before int
	s.Eng.View(func(st *engine.GameState) { before = st.NumSavers() })
	if err := s.Eng.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.Eng.Pending() != 0 {
		t.Errorf("pending=%d after run", s.Eng.Pending())
	}

	var events []engine.Event
	getJSON(t, ts.URL+"/api/v1/events?category=shock", &events)
	if len(events) != 1 || !strings.Contains(events[0].Description, "flip_all") {
		t.Errorf("events=%+v", events)
	}
	var history []engine.Summary
	getJSON(t, ts.URL+"/api/v1/stats/history", &history)
	if len(history) != 2 {
		t.Fatalf("history=%d want 2", len(history))
	}
	if history[0].Savers != before {
		t.Errorf("history[0] savers=%d want %d", history[0].Savers, before)
	}
}

func TestShockRateLimited(t *testing.T) {
	_, ts := newTestServer(t, 5)
	var last int
	for i := 0; i < 31; i++ {
		last = postShock(t, ts.URL, testKey, `{"type":"flip_all"}`).StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("31st shock code=%d want 429", last)
	}
}

func TestStatsHistoryRange(t *testing.T) {
	s, ts := newTestServer(t, 10)
	if err := s.Eng.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	var rows []engine.Summary
	getJSON(t, ts.URL+"/api/v1/stats/history?from=3&to=6", &rows)
	if len(rows) != 4 || rows[0].Time != 3 || rows[3].Time != 6 {
		t.Errorf("rows=%d first=%+v", len(rows), rows)
	}
	getJSON(t, ts.URL+"/api/v1/stats/history?limit=2", &rows)
	if len(rows) != 2 || rows[1].Time != 10 {
		t.Errorf("limited rows=%+v", rows)
	}
}

func TestStream(t *testing.T) {
	s, ts := newTestServer(t, 3)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() streamMessage {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var m streamMessage
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("read: %v", err)
		}
		return m
	}

	if m := read(); m.Type != "step" || m.Summary == nil || m.Summary.Time != 0 {
		t.Fatalf("catch-up message=%+v", m)
	}

	if err := s.Eng.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	for want := 0; want < 3; want++ {
		m := read()
		if m.Type != "step" || m.Time != want || m.Summary.Time != want+1 {
			t.Fatalf("message %d=%+v", want, m)
		}
	}

	conn.Close()
	deadline := time.Now().Add(5 * time.Second)
	for s.hub.size() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not removed after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRunsEndpoint(t *testing.T) {
	s, ts := newTestServer(t, 3)
	if code := getJSON(t, ts.URL+"/api/v1/runs", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("no db code=%d", code)
	}

	db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	s.DB = db

	exp := config.Default()
	exp.Name = "api"
	exp.Steps = 4
	exp.Runs = 2
	exp.Network = config.NetworkConfig{Kind: "ring", Nodes: 6}
	net, _ := lab.LoadNetwork(context.Background(), exp.Network, 1)
	r := &lab.Runner{Workers: 1, Store: db, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	results, err := r.Run(context.Background(), exp, net)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}

	var runs []persistence.Run
	getJSON(t, ts.URL+"/api/v1/runs?experiment=api", &runs)
	if len(runs) != 2 {
		t.Fatalf("runs=%d want 2", len(runs))
	}
	var detail struct {
		Series []engine.Summary `json:"series"`
	}
	if code := getJSON(t, ts.URL+"/api/v1/runs/"+results[0].RunID, &detail); code != http.StatusOK {
		t.Fatalf("run detail code=%d", code)
	}
	if len(detail.Series) != 5 {
		t.Errorf("series=%d want 5", len(detail.Series))
	}
	if code := getJSON(t, ts.URL+"/api/v1/runs/nope", nil); code != http.StatusNotFound {
		t.Errorf("missing run code=%d", code)
	}
}
