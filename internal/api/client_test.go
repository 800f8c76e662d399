package api

import (
	"context"
	"strings"
	"testing"

	"github.com/talgya/kala/internal/engine"
)

func TestClient(t *testing.T) {
	s, ts := newTestServer(t, 2)
	ctx := context.Background()
	c := NewClient(ts.URL+"/", testKey)

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Name != "kala" || st.Steps != 2 || st.Summary.Agents != 6 || st.Differentials == nil {
		t.Errorf("status=%+v", st)
	}

	res, err := c.Shock(ctx, ShockRequest{Type: "remove_random_agent", Count: 2})
	if err != nil {
		t.Fatalf("shock: %v", err)
	}
	if res.Queued != 2 || res.Pending != 2 {
		t.Errorf("result=%+v", res)
	}
	if _, err := c.Shock(ctx, ShockRequest{Type: "remove_edge", Params: engine.ShockParams{"u": 0}}); err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("missing param err=%v", err)
	}

	if err := s.Eng.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	rows, err := c.History(ctx, 1)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(rows) != 1 || rows[0].Agents != 4 || rows[0].Time != 2 {
		t.Errorf("history=%+v", rows)
	}

	bad := NewClient(ts.URL, "wrong")
	if _, err := bad.Shock(ctx, ShockRequest{Type: "flip_all"}); err == nil {
		t.Error("expected error with wrong key")
	}
}
