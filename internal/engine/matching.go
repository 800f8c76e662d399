package engine

import (
	"math/rand"

	"github.com/talgya/kala/internal/agents"
	"github.com/talgya/kala/internal/world"
)

// Pair is two agents meeting in a match.
type Pair [2]*agents.Agent

// MatchingStrategy selects the pairs that play in a step.
type MatchingStrategy interface {
	SelectMatches(p *world.Placement) []Pair
}

// RandomMatching draws floor(N/2) occupied positions with replacement, N being the
// number of occupied positions, and pairs each occupant with a random neighbour.
// Draws without a neighbour are skipped, so the same agent may appear in several
// pairs and fewer than N/2 pairs may be returned.
type RandomMatching struct {
	rng *rand.Rand
}

// NewRandomMatching returns a matching strategy with its own seeded RNG.
func NewRandomMatching(seed int64) *RandomMatching {
	return &RandomMatching{rng: rand.New(rand.NewSource(seed))}
}

// SelectMatches implements MatchingStrategy.
func (m *RandomMatching) SelectMatches(p *world.Placement) []Pair {
	occupied := p.Occupied()
	draws := len(occupied) / 2
	pairs := make([]Pair, 0, draws)
	for i := 0; i < draws; i++ {
		pos := occupied[m.rng.Intn(len(occupied))]
		a := p.Agent(pos)
		if a == nil {
			continue
		}
		b := p.SelectRandomNeighbour(pos, m.rng)
		if b == nil {
			continue
		}
		pairs = append(pairs, Pair{a, b})
	}
	return pairs
}
