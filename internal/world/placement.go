package world

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/talgya/kala/internal/agents"
)

// Placement errors.
var (
	ErrPositionOccupied = errors.New("position occupied")
	ErrAgentPlaced      = errors.New("agent already placed")
)

// Placement is a partial injective mapping from positions to agents over a Topology.
// At most one agent sits on a position and an agent sits on at most one position.
type Placement struct {
	topo    *Topology
	byNode  map[NodeID]*agents.Agent
	byAgent map[agents.AgentID]NodeID
}

// NewPlacement returns an empty placement over topo.
func NewPlacement(topo *Topology) *Placement {
	return &Placement{
		topo:    topo,
		byNode:  make(map[NodeID]*agents.Agent),
		byAgent: make(map[agents.AgentID]NodeID),
	}
}

// InitBijection places pop[i] on the i-th live node of topo. The population size
// must equal the node count.
func InitBijection(pop []*agents.Agent, topo *Topology) (*Placement, error) {
	nodes := topo.Nodes()
	if len(pop) != len(nodes) {
		return nil, fmt.Errorf("bijection needs %d agents, got %d", len(nodes), len(pop))
	}
	p := NewPlacement(topo)
	for i, a := range pop {
		if err := p.AddAgent(a, nodes[i]); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Topology returns the topology the placement is laid over.
func (p *Placement) Topology() *Topology { return p.topo }

// AddAgent places a on pos.
func (p *Placement) AddAgent(a *agents.Agent, pos NodeID) error {
	if !p.topo.HasNode(pos) {
		return fmt.Errorf("add agent %d: %w: %d", a.ID(), ErrNoSuchNode, pos)
	}
	if occ, ok := p.byNode[pos]; ok {
		return fmt.Errorf("add agent %d: %w: node %d holds agent %d", a.ID(), ErrPositionOccupied, pos, occ.ID())
	}
	if at, ok := p.byAgent[a.ID()]; ok {
		return fmt.Errorf("add agent %d: %w at node %d", a.ID(), ErrAgentPlaced, at)
	}
	p.byNode[pos] = a
	p.byAgent[a.ID()] = pos
	return nil
}

// ClearNode removes the occupant of pos. It returns pos, or false if pos was empty.
func (p *Placement) ClearNode(pos NodeID) (NodeID, bool) {
	a, ok := p.byNode[pos]
	if !ok {
		return 0, false
	}
	delete(p.byNode, pos)
	delete(p.byAgent, a.ID())
	return pos, true
}

// RemoveAgent clears the position held by id. Returns false if id is not placed.
func (p *Placement) RemoveAgent(id agents.AgentID) bool {
	pos, ok := p.byAgent[id]
	if !ok {
		return false
	}
	_, cleared := p.ClearNode(pos)
	return cleared
}

// RemoveNode clears the occupant of pos and removes pos from the topology.
func (p *Placement) RemoveNode(pos NodeID) bool {
	p.ClearNode(pos)
	return p.topo.RemoveNode(pos)
}

// Position returns the node held by agent id.
func (p *Placement) Position(id agents.AgentID) (NodeID, bool) {
	pos, ok := p.byAgent[id]
	return pos, ok
}

// Agent returns the occupant of pos, or nil.
func (p *Placement) Agent(pos NodeID) *agents.Agent {
	return p.byNode[pos]
}

// Len returns the number of occupied positions.
func (p *Placement) Len() int { return len(p.byNode) }

// Occupied returns the occupied positions in ascending order.
func (p *Placement) Occupied() []NodeID {
	out := make([]NodeID, 0, len(p.byNode))
	for pos := range p.byNode {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Agents returns the placed agents ordered by position.
func (p *Placement) Agents() []*agents.Agent {
	occ := p.Occupied()
	out := make([]*agents.Agent, len(occ))
	for i, pos := range occ {
		out[i] = p.byNode[pos]
	}
	return out
}

// Neighbours returns the occupants of positions adjacent to pos; empty positions are skipped.
func (p *Placement) Neighbours(pos NodeID) []*agents.Agent {
	var out []*agents.Agent
	for _, nb := range p.topo.Neighbours(pos) {
		if a, ok := p.byNode[nb]; ok {
			out = append(out, a)
		}
	}
	return out
}

// NeighboursOf returns the neighbours of the position held by agent id.
func (p *Placement) NeighboursOf(id agents.AgentID) []*agents.Agent {
	pos, ok := p.byAgent[id]
	if !ok {
		return nil
	}
	return p.Neighbours(pos)
}

// SelectRandomNeighbour picks one neighbouring occupant of pos, or nil if there is none.
// When the occupant of pos has a homophily h, neighbours sharing its saver value weigh h
// and the rest 1-h. Returns nil when the weights sum to zero.
func (p *Placement) SelectRandomNeighbour(pos NodeID, rng *rand.Rand) *agents.Agent {
	nbs := p.Neighbours(pos)
	if len(nbs) == 0 {
		return nil
	}
	self := p.byNode[pos]
	if self == nil || self.Traits().Homophily == nil {
		return nbs[rng.Intn(len(nbs))]
	}

	h := *self.Traits().Homophily
	weights := make([]float64, len(nbs))
	total := 0.0
	for i, nb := range nbs {
		if nb.IsSaver() == self.IsSaver() {
			weights[i] = h
		} else {
			weights[i] = 1 - h
		}
		total += weights[i]
	}
	if total <= 0 {
		return nil
	}

	x := rng.Float64() * total
	for i, w := range weights {
		if x < w {
			return nbs[i]
		}
		x -= w
	}
	// Rounding left x past the last bucket; take the last positive weight.
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return nbs[i]
		}
	}
	return nil
}
