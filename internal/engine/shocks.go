package engine

import (
	"fmt"
	"math/rand"

	"github.com/talgya/kala/internal/agents"
	"github.com/talgya/kala/internal/world"
)

// DefaultMaxAttempts bounds the retries of random shocks.
const DefaultMaxAttempts = 10

// Shock is a scheduled perturbation of a game. Apply may mutate s in place or return
// a new state; callers continue with the returned state. Shocks never fail: when a
// shock cannot apply it logs and leaves the state unchanged.
type Shock interface {
	Apply(s *GameState) *GameState
	Name() string
}

func (s *GameState) shockEvent(name, desc string, meta map[string]any) {
	s.logger().Info("shock applied", "shock", name, "time", s.Time, "detail", desc)
	s.EmitEvent(Event{Tick: s.Time, Description: name + ": " + desc, Category: "shock", Meta: meta})
}

func (s *GameState) shockSkipped(name, reason string) {
	s.logger().Info("shock skipped", "shock", name, "time", s.Time, "reason", reason)
}

// shockRand is the seeded RNG and attempt budget shared by random shocks.
type shockRand struct {
	rng         *rand.Rand
	MaxAttempts int
}

func newShockRand(seed int64) shockRand {
	return shockRand{rng: rand.New(rand.NewSource(seed)), MaxAttempts: DefaultMaxAttempts}
}

func (r shockRand) attempts() int {
	if r.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return r.MaxAttempts
}

// --- Agent removal ---

// RemoveAgent removes a specific agent from the placement and the live agents.
type RemoveAgent struct {
	ID agents.AgentID
}

func (RemoveAgent) Name() string { return "remove_agent" }

func (sh RemoveAgent) Apply(s *GameState) *GameState {
	if !s.RemoveAgent(sh.ID) {
		s.shockSkipped(sh.Name(), fmt.Sprintf("agent %d not found", sh.ID))
		return s
	}
	s.shockEvent(sh.Name(), fmt.Sprintf("agent %d removed", sh.ID), map[string]any{"agent_id": sh.ID})
	return s
}

// RemoveRandomAgent removes a uniformly chosen placed agent.
type RemoveRandomAgent struct {
	shockRand
}

// NewRemoveRandomAgent returns a shock with its own seeded RNG.
func NewRemoveRandomAgent(seed int64) *RemoveRandomAgent {
	return &RemoveRandomAgent{shockRand: newShockRand(seed)}
}

func (*RemoveRandomAgent) Name() string { return "remove_random_agent" }

func (sh *RemoveRandomAgent) Apply(s *GameState) *GameState {
	occupied := s.Placement.Occupied()
	if len(occupied) == 0 {
		s.shockSkipped(sh.Name(), "no placed agents")
		return s
	}
	a := s.Placement.Agent(occupied[sh.rng.Intn(len(occupied))])
	return RemoveAgent{ID: a.ID()}.Apply(s)
}

// RemoveNode removes a position, its edges and its occupant.
type RemoveNode struct {
	Node world.NodeID
}

func (RemoveNode) Name() string { return "remove_node" }

func (sh RemoveNode) Apply(s *GameState) *GameState {
	if a := s.Placement.Agent(sh.Node); a != nil {
		s.RemoveAgent(a.ID())
	}
	if !s.Placement.RemoveNode(sh.Node) {
		s.shockSkipped(sh.Name(), fmt.Sprintf("node %d not found", sh.Node))
		return s
	}
	s.shockEvent(sh.Name(), fmt.Sprintf("node %d removed", sh.Node), map[string]any{"node": sh.Node})
	return s
}

// --- Edges ---

// AddEdge connects two positions.
type AddEdge struct {
	U, V world.NodeID
}

func (AddEdge) Name() string { return "add_edge" }

func (sh AddEdge) Apply(s *GameState) *GameState {
	if !s.Topology.AddEdge(sh.U, sh.V) {
		s.shockSkipped(sh.Name(), fmt.Sprintf("edge (%d, %d) cannot be added", sh.U, sh.V))
		return s
	}
	s.shockEvent(sh.Name(), fmt.Sprintf("edge (%d, %d) added", sh.U, sh.V), map[string]any{"u": sh.U, "v": sh.V})
	return s
}

// AddRandomEdge connects two random unconnected positions.
type AddRandomEdge struct {
	shockRand
}

// NewAddRandomEdge returns a shock with its own seeded RNG.
func NewAddRandomEdge(seed int64) *AddRandomEdge {
	return &AddRandomEdge{shockRand: newShockRand(seed)}
}

func (*AddRandomEdge) Name() string { return "add_random_edge" }

func (sh *AddRandomEdge) Apply(s *GameState) *GameState {
	for i := 0; i < sh.attempts(); i++ {
		u, ok := s.Topology.RandomNode(sh.rng)
		if !ok {
			break
		}
		v, _ := s.Topology.RandomNode(sh.rng)
		if u != v && !s.Topology.HasEdge(u, v) {
			return AddEdge{U: u, V: v}.Apply(s)
		}
	}
	s.shockSkipped(sh.Name(), "no free pair found")
	return s
}

// RemoveEdge disconnects two positions.
type RemoveEdge struct {
	U, V world.NodeID
}

func (RemoveEdge) Name() string { return "remove_edge" }

func (sh RemoveEdge) Apply(s *GameState) *GameState {
	if !s.Topology.RemoveEdge(sh.U, sh.V) {
		s.shockSkipped(sh.Name(), fmt.Sprintf("edge (%d, %d) not found", sh.U, sh.V))
		return s
	}
	s.shockEvent(sh.Name(), fmt.Sprintf("edge (%d, %d) removed", sh.U, sh.V), map[string]any{"u": sh.U, "v": sh.V})
	return s
}

// RemoveRandomEdge removes the edge between a random position and one of its neighbours.
type RemoveRandomEdge struct {
	shockRand
}

// NewRemoveRandomEdge returns a shock with its own seeded RNG.
func NewRemoveRandomEdge(seed int64) *RemoveRandomEdge {
	return &RemoveRandomEdge{shockRand: newShockRand(seed)}
}

func (*RemoveRandomEdge) Name() string { return "remove_random_edge" }

func (sh *RemoveRandomEdge) Apply(s *GameState) *GameState {
	if s.Topology.NumEdges() == 0 {
		s.shockSkipped(sh.Name(), "no edges")
		return s
	}
	for i := 0; i < sh.attempts(); i++ {
		u, ok := s.Topology.RandomNode(sh.rng)
		if !ok {
			break
		}
		nbs := s.Topology.Neighbours(u)
		if len(nbs) == 0 {
			continue
		}
		return RemoveEdge{U: u, V: nbs[sh.rng.Intn(len(nbs))]}.Apply(s)
	}
	s.shockSkipped(sh.Name(), "no connected node found")
	return s
}

// SwapEdge rewires (Pivot, V) to (Pivot, W). Nothing changes unless both the
// removal and the addition are possible.
type SwapEdge struct {
	Pivot, V, W world.NodeID
}

func (SwapEdge) Name() string { return "swap_edge" }

func (sh SwapEdge) Apply(s *GameState) *GameState {
	t := s.Topology
	if !t.HasEdge(sh.Pivot, sh.V) || sh.W == sh.Pivot || !t.HasNode(sh.W) || t.HasEdge(sh.Pivot, sh.W) {
		s.shockSkipped(sh.Name(), fmt.Sprintf("cannot rewire (%d, %d) to (%d, %d)", sh.Pivot, sh.V, sh.Pivot, sh.W))
		return s
	}
	t.RemoveEdge(sh.Pivot, sh.V)
	t.AddEdge(sh.Pivot, sh.W)
	s.shockEvent(sh.Name(),
		fmt.Sprintf("edge (%d, %d) rewired to (%d, %d)", sh.Pivot, sh.V, sh.Pivot, sh.W),
		map[string]any{"pivot": sh.Pivot, "v": sh.V, "w": sh.W})
	return s
}

// SwapRandomEdge rewires one edge of a pivot to a random position the pivot is not
// yet connected to. The pivot is random unless fixed.
type SwapRandomEdge struct {
	shockRand
	Pivot *world.NodeID
}

// NewSwapRandomEdge returns a shock with its own seeded RNG. pivot may be nil.
func NewSwapRandomEdge(seed int64, pivot *world.NodeID) *SwapRandomEdge {
	sh := &SwapRandomEdge{shockRand: newShockRand(seed)}
	if pivot != nil {
		p := *pivot
		sh.Pivot = &p
	}
	return sh
}

func (*SwapRandomEdge) Name() string { return "swap_random_edge" }

func (sh *SwapRandomEdge) Apply(s *GameState) *GameState {
	t := s.Topology
	var pivot world.NodeID
	if sh.Pivot != nil {
		pivot = *sh.Pivot
	} else {
		var ok bool
		if pivot, ok = t.RandomNode(sh.rng); !ok {
			s.shockSkipped(sh.Name(), "empty topology")
			return s
		}
	}
	nbs := t.Neighbours(pivot)
	if len(nbs) == 0 {
		s.shockSkipped(sh.Name(), fmt.Sprintf("pivot %d has no edges", pivot))
		return s
	}
	v := nbs[sh.rng.Intn(len(nbs))]

	for i := 0; i < sh.attempts(); i++ {
		w, _ := t.RandomNode(sh.rng)
		if w != pivot && !t.HasEdge(pivot, w) {
			return SwapEdge{Pivot: pivot, V: v, W: w}.Apply(s)
		}
	}
	s.shockSkipped(sh.Name(), fmt.Sprintf("no new target for pivot %d", pivot))
	return s
}

// --- Agent overrides ---

// FlipAgent inverts one agent's saver property.
type FlipAgent struct {
	ID agents.AgentID
}

func (FlipAgent) Name() string { return "flip_agent" }

func (sh FlipAgent) Apply(s *GameState) *GameState {
	a := s.AgentByID(sh.ID)
	if a == nil {
		s.shockSkipped(sh.Name(), fmt.Sprintf("agent %d not found", sh.ID))
		return s
	}
	a.FlipSaver()
	s.shockEvent(sh.Name(), fmt.Sprintf("agent %d flipped to %s", sh.ID, agents.SaverEncoding(a.IsSaver())),
		map[string]any{"agent_id": sh.ID, "is_saver": a.IsSaver()})
	return s
}

// FlipAgents inverts the saver property of several agents. Unknown ids are skipped.
type FlipAgents struct {
	IDs []agents.AgentID
}

func (FlipAgents) Name() string { return "flip_agents" }

func (sh FlipAgents) Apply(s *GameState) *GameState {
	flipped := 0
	for _, id := range sh.IDs {
		if a := s.AgentByID(id); a != nil {
			a.FlipSaver()
			flipped++
		}
	}
	if flipped == 0 {
		s.shockSkipped(sh.Name(), "no listed agent found")
		return s
	}
	s.shockEvent(sh.Name(), fmt.Sprintf("%d agents flipped", flipped), map[string]any{"count": flipped})
	return s
}

// FlipAll inverts every live agent's saver property.
type FlipAll struct{}

func (FlipAll) Name() string { return "flip_all" }

func (sh FlipAll) Apply(s *GameState) *GameState {
	for _, a := range s.Agents {
		a.FlipSaver()
	}
	s.shockEvent(sh.Name(), fmt.Sprintf("%d agents flipped", len(s.Agents)), map[string]any{"count": len(s.Agents)})
	return s
}

// Homogenize sets every live agent's saver property to IsSaver.
type Homogenize struct {
	IsSaver bool
}

func (Homogenize) Name() string { return "homogenize" }

func (sh Homogenize) Apply(s *GameState) *GameState {
	for _, a := range s.Agents {
		a.SetSaver(sh.IsSaver)
	}
	s.shockEvent(sh.Name(), fmt.Sprintf("all agents set to %s", agents.SaverEncoding(sh.IsSaver)),
		map[string]any{"is_saver": sh.IsSaver})
	return s
}

// SetMemoryLength changes one agent's memory capacity.
type SetMemoryLength struct {
	ID     agents.AgentID
	Length int
}

func (SetMemoryLength) Name() string { return "set_memory_length" }

func (sh SetMemoryLength) Apply(s *GameState) *GameState {
	a := s.AgentByID(sh.ID)
	if a == nil || sh.Length < 0 {
		s.shockSkipped(sh.Name(), fmt.Sprintf("agent %d / length %d not applicable", sh.ID, sh.Length))
		return s
	}
	a.SetMemoryLength(sh.Length)
	s.shockEvent(sh.Name(), fmt.Sprintf("agent %d memory length %d", sh.ID, sh.Length),
		map[string]any{"agent_id": sh.ID, "length": sh.Length})
	return s
}

// SetAllMemoryLength changes every live agent's memory capacity.
type SetAllMemoryLength struct {
	Length int
}

func (SetAllMemoryLength) Name() string { return "set_all_memory_length" }

func (sh SetAllMemoryLength) Apply(s *GameState) *GameState {
	if sh.Length < 0 {
		s.shockSkipped(sh.Name(), fmt.Sprintf("negative length %d", sh.Length))
		return s
	}
	for _, a := range s.Agents {
		a.SetMemoryLength(sh.Length)
	}
	s.shockEvent(sh.Name(), fmt.Sprintf("memory length %d for all agents", sh.Length), map[string]any{"length": sh.Length})
	return s
}

// ChangeDifferentials replaces the payoff differentials of the active strategy.
type ChangeDifferentials struct {
	Efficient, Inefficient float64
}

func (ChangeDifferentials) Name() string { return "change_differentials" }

func (sh ChangeDifferentials) Apply(s *GameState) *GameState {
	ds, ok := s.Payoff.(DifferentialSetter)
	if !ok {
		s.shockSkipped(sh.Name(), "payoff strategy has fixed differentials")
		return s
	}
	if err := ds.SetDifferentials(sh.Efficient, sh.Inefficient); err != nil {
		s.shockSkipped(sh.Name(), err.Error())
		return s
	}
	s.shockEvent(sh.Name(), fmt.Sprintf("differentials set to efficient=%v inefficient=%v", sh.Efficient, sh.Inefficient),
		map[string]any{"efficient": sh.Efficient, "inefficient": sh.Inefficient})
	return s
}
