package engine

import (
	"io"
	"log/slog"
	"testing"

	"github.com/talgya/kala/internal/agents"
	"github.com/talgya/kala/internal/world"
)

func newAgent(t *testing.T, id agents.AgentID, isSaver bool, memoryLength int, rule agents.UpdateRule) *agents.Agent {
	t.Helper()
	traits, err := agents.NewTraits(nil, 0, 1, nil)
	if err != nil {
		t.Fatalf("traits: %v", err)
	}
	a, err := agents.NewAgent(id, traits, agents.Properties{IsSaver: isSaver}, memoryLength, rule)
	if err != nil {
		t.Fatalf("agent: %v", err)
	}
	return a
}

// newState builds a game over topo with one agent per node; savers[i] sets node i.
func newState(t *testing.T, topo *world.Topology, savers []bool, seed int64) *GameState {
	t.Helper()
	pop := make([]*agents.Agent, len(savers))
	for i, s := range savers {
		pop[i] = newAgent(t, agents.AgentID(i+1), s, 4, agents.AllPastRule{})
	}
	placement, err := world.InitBijection(pop, topo)
	if err != nil {
		t.Fatalf("placement: %v", err)
	}
	payoff, err := NewCooperationStrategy(DefaultCooperationConfig())
	if err != nil {
		t.Fatalf("payoff: %v", err)
	}
	s, err := NewGameState(topo, pop, placement, payoff, NewRandomMatching(seed))
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	s.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return s
}
