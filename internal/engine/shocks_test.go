package engine

import (
	"math"
	"testing"

	"github.com/talgya/kala/internal/agents"
	"github.com/talgya/kala/internal/world"
)

func TestSwapRandomEdgeRewiresToOnlyTarget(t *testing.T) {
	topo := world.FromEdgeList(4, []world.Edge{{U: 0, V: 1}, {U: 0, V: 2}, {U: 1, V: 2}})
	s := newState(t, topo, []bool{true, true, false, false}, 1)

	pivot := world.NodeID(0)
	sh := NewSwapRandomEdge(42, &pivot)
	sh.MaxAttempts = 100
	s = ApplyShock(s, sh)

	if !topo.HasEdge(0, 3) {
		t.Fatal("pivot not rewired to node 3")
	}
	if topo.HasEdge(0, 1) == topo.HasEdge(0, 2) {
		t.Fatalf("expected exactly one of (0,1), (0,2) removed: %v", topo.Edges())
	}
	if !topo.HasEdge(1, 2) {
		t.Fatal("edge not incident to pivot changed")
	}
	if topo.NumNodes() != 4 || topo.NumEdges() != 3 {
		t.Fatalf("counts changed: nodes=%d edges=%d", topo.NumNodes(), topo.NumEdges())
	}
	if len(s.Events) != 1 || s.Events[0].Category != "shock" {
		t.Fatalf("events %+v", s.Events)
	}
}

func TestSwapRandomEdgeExhaustsSilently(t *testing.T) {
	// Complete graph: the pivot has no unconnected target.
	topo := world.FromEdgeList(3, []world.Edge{{U: 0, V: 1}, {U: 0, V: 2}, {U: 1, V: 2}})
	s := newState(t, topo, []bool{true, true, true}, 1)
	before := topo.Edges()
	ApplyShock(s, NewSwapRandomEdge(3, nil))
	after := topo.Edges()
	if len(after) != len(before) {
		t.Fatalf("edges changed: %v -> %v", before, after)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("edges changed: %v -> %v", before, after)
		}
	}
}

func TestRemoveNodeShockTwice(t *testing.T) {
	topo := world.FromEdgeList(3, []world.Edge{{U: 0, V: 1}, {U: 1, V: 2}})
	s := newState(t, topo, []bool{true, false, true}, 1)

	s = ApplyShock(s, RemoveNode{Node: 1})
	if topo.HasNode(1) || len(s.Agents) != 2 || s.AgentByID(2) != nil {
		t.Fatalf("node 1 or its agent survived: nodes=%v agents=%d", topo.Nodes(), len(s.Agents))
	}
	s = ApplyShock(s, RemoveNode{Node: 1})
	if len(s.Agents) != 2 || topo.NumNodes() != 2 {
		t.Fatal("second removal changed state")
	}
}

func TestRemoveAgentShocks(t *testing.T) {
	topo := world.FromEdgeList(3, []world.Edge{{U: 0, V: 1}, {U: 1, V: 2}})
	s := newState(t, topo, []bool{true, false, true}, 1)

	s = ApplyShock(s, RemoveAgent{ID: 1})
	if s.AgentByID(1) != nil || s.Placement.Agent(0) != nil {
		t.Fatal("agent 1 still present")
	}
	if topo.NumNodes() != 3 {
		t.Fatal("removing an agent changed the topology")
	}
	s = ApplyShock(s, RemoveAgent{ID: 1})
	if len(s.Agents) != 2 {
		t.Fatal("removing a missing agent changed state")
	}

	random := NewRemoveRandomAgent(9)
	s = ApplyShock(s, random)
	s = ApplyShock(s, random)
	s = ApplyShock(s, random)
	if len(s.Agents) != 0 || s.Placement.Len() != 0 {
		t.Fatalf("agents=%d placed=%d", len(s.Agents), s.Placement.Len())
	}
}

func TestEdgeShocks(t *testing.T) {
	topo := world.NewTopology(3)
	s := newState(t, topo, []bool{true, true, true}, 1)

	s = ApplyShock(s, AddEdge{U: 0, V: 1})
	s = ApplyShock(s, AddEdge{U: 0, V: 1})
	if topo.NumEdges() != 1 {
		t.Fatalf("edges=%d", topo.NumEdges())
	}
	s = ApplyShock(s, RemoveEdge{U: 1, V: 0})
	s = ApplyShock(s, RemoveEdge{U: 1, V: 0})
	if topo.NumEdges() != 0 {
		t.Fatalf("edges=%d", topo.NumEdges())
	}

	add := NewAddRandomEdge(4)
	add.MaxAttempts = 200
	for i := 0; i < 3; i++ {
		s = ApplyShock(s, add)
	}
	if topo.NumEdges() != 3 {
		t.Fatalf("random adds gave %d edges, want the full triangle", topo.NumEdges())
	}
	s = ApplyShock(s, add) // complete graph: exhausts silently
	if topo.NumEdges() != 3 {
		t.Fatal("add on a complete graph changed edges")
	}

	remove := NewRemoveRandomEdge(4)
	for i := 0; i < 4; i++ {
		s = ApplyShock(s, remove)
	}
	if topo.NumEdges() != 0 {
		t.Fatalf("edges=%d after removing all", topo.NumEdges())
	}
}

func TestSwapEdgeIsAtomic(t *testing.T) {
	topo := world.FromEdgeList(3, []world.Edge{{U: 0, V: 1}, {U: 0, V: 2}})
	s := newState(t, topo, []bool{true, true, true}, 1)
	// Target already connected: nothing changes.
	s = ApplyShock(s, SwapEdge{Pivot: 0, V: 1, W: 2})
	if !topo.HasEdge(0, 1) || !topo.HasEdge(0, 2) {
		t.Fatal("failed swap removed an edge")
	}
	s = ApplyShock(s, SwapEdge{Pivot: 1, V: 0, W: 2})
	if topo.HasEdge(0, 1) || !topo.HasEdge(1, 2) {
		t.Fatalf("swap not applied: %v", topo.Edges())
	}
}

func TestAgentOverrideShocks(t *testing.T) {
	s := newState(t, world.NewTopology(4), []bool{true, true, false, false}, 1)

	s = ApplyShock(s, FlipAgent{ID: 1})
	if s.AgentByID(1).IsSaver() {
		t.Fatal("flip agent failed")
	}
	s = ApplyShock(s, FlipAgents{IDs: []agents.AgentID{3, 4, 99}})
	if s.NumSavers() != 3 {
		t.Fatalf("savers=%d after flip agents", s.NumSavers())
	}
	s = ApplyShock(s, FlipAll{})
	if s.NumSavers() != 1 {
		t.Fatalf("savers=%d after flip all", s.NumSavers())
	}
	s = ApplyShock(s, Homogenize{IsSaver: true})
	if s.NumSavers() != 4 {
		t.Fatalf("savers=%d after homogenize", s.NumSavers())
	}

	s = ApplyShock(s, SetMemoryLength{ID: 2, Length: 7})
	if s.AgentByID(2).Memory().Cap() != 7 || s.AgentByID(1).Memory().Cap() != 4 {
		t.Fatal("set memory length touched the wrong agents")
	}
	s = ApplyShock(s, SetAllMemoryLength{Length: 2})
	for _, a := range s.Agents {
		if a.Memory().Cap() != 2 {
			t.Fatalf("agent %d cap=%d", a.ID(), a.Memory().Cap())
		}
	}
}

func TestChangeDifferentialsShock(t *testing.T) {
	s := newState(t, world.NewTopology(2), []bool{true, true}, 1)
	s = ApplyShock(s, ChangeDifferentials{Efficient: 0.3, Inefficient: 0.2})
	coop := s.Payoff.(*CooperationStrategy)
	if got := coop.Entry(true, true); math.Abs(got[0]-1.3) > 1e-12 {
		t.Fatalf("entry=%v", got)
	}
	s = ApplyShock(s, ChangeDifferentials{Efficient: 0.3, Inefficient: 5})
	if _, ineff := coop.Differentials(); ineff != 0.2 {
		t.Fatalf("invalid change applied: %v", ineff)
	}
}

func TestShocksOnEmptyState(t *testing.T) {
	s := newState(t, world.NewTopology(0), nil, 1)
	shocks := []Shock{
		NewRemoveRandomAgent(1), NewAddRandomEdge(1), NewRemoveRandomEdge(1),
		NewSwapRandomEdge(1, nil), FlipAll{}, RemoveNode{Node: 0}, FlipAgent{ID: 1},
	}
	for _, sh := range shocks {
		s = ApplyShock(s, sh)
	}
	if s.Time != 0 || len(s.Agents) != 0 {
		t.Fatal("shocks on an empty state changed it")
	}
}

func TestNewShockFactory(t *testing.T) {
	cases := []struct {
		kind   string
		params ShockParams
		ok     bool
	}{
		{kind: "remove_agent", params: ShockParams{"id": 3}, ok: true},
		{kind: "remove_agent", params: ShockParams{}, ok: false},
		{kind: "add_edge", params: ShockParams{"u": 1, "v": float64(2)}, ok: true},
		{kind: "add_edge", params: ShockParams{"u": 1, "v": 2.5}, ok: false},
		{kind: "swap_random_edge", params: ShockParams{"pivot": 0, "max_attempts": 20}, ok: true},
		{kind: "flip_agents", params: ShockParams{"ids": []any{1, 2}}, ok: true},
		{kind: "flip_agents", params: ShockParams{"ids": "1,2"}, ok: false},
		{kind: "homogenize", params: ShockParams{"is_saver": true}, ok: true},
		{kind: "change_differentials", params: ShockParams{"efficient": 0.2, "inefficient": 0.1}, ok: true},
		{kind: "flip_all", params: nil, ok: true},
		{kind: "earthquake", params: nil, ok: false},
	}
	for _, tc := range cases {
		sh, err := NewShock(tc.kind, tc.params, 1)
		if tc.ok && (err != nil || sh.Name() != tc.kind) {
			t.Fatalf("%s %v: %v", tc.kind, tc.params, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s %v: expected error", tc.kind, tc.params)
		}
	}

	sh, _ := NewShock("swap_random_edge", ShockParams{"pivot": 2, "max_attempts": 20}, 1)
	swap := sh.(*SwapRandomEdge)
	if swap.Pivot == nil || *swap.Pivot != 2 || swap.MaxAttempts != 20 {
		t.Fatalf("swap params not applied: %+v", swap)
	}
	if len(ShockKinds()) != len(shockBuilders) {
		t.Fatal("shock kinds out of sync")
	}
}
