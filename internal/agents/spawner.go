// Agent spawning: creates the initial population with a target share of savers.
package agents

import (
	"fmt"
	"math"
	"math/rand"
)

// SaverConfig holds the per-agent parameters shared by a spawned population.
type SaverConfig struct {
	Group             *int
	MinSpecialization float64
	IncomePerPeriod   float64 // 0 means 1.0
	Homophily         *float64
	MemoryLength      int // 0 means no memory, so the rule never fires
	Rule              UpdateRule
}

// DefaultSaverConfig returns the parameters used by the reference experiments.
func DefaultSaverConfig() SaverConfig {
	return SaverConfig{
		IncomePerPeriod: 1.0,
		MemoryLength:    DefaultMemoryLength,
	}
}

// Spawner creates agents with sequential IDs.
type Spawner struct {
	rng    *rand.Rand
	nextID AgentID
}

// NewSpawner creates an agent spawner with the given seed.
func NewSpawner(seed int64) *Spawner {
	return &Spawner{
		rng:    rand.New(rand.NewSource(seed + 300)),
		nextID: 1,
	}
}

// SetNextID sets the next agent ID to be issued.
func (s *Spawner) SetNextID(id AgentID) {
	s.nextID = id
}

// Spawn creates one agent.
func (s *Spawner) Spawn(isSaver bool, cfg SaverConfig) (*Agent, error) {
	income := cfg.IncomePerPeriod
	if income == 0 {
		income = 1.0
	}
	traits, err := NewTraits(cfg.Group, cfg.MinSpecialization, income, cfg.Homophily)
	if err != nil {
		return nil, err
	}

	a, err := NewAgent(s.nextID, traits, Properties{IsSaver: isSaver}, cfg.MemoryLength, cfg.Rule)
	if err != nil {
		return nil, err
	}
	s.nextID++
	return a, nil
}

// SpawnPopulation creates count agents of which roughly share are savers.
// With deterministic set, exactly round(share*count) savers are placed in a
// shuffled order; otherwise each agent is a saver with probability share.
func (s *Spawner) SpawnPopulation(count int, share float64, deterministic bool, cfg SaverConfig) ([]*Agent, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: population size %d is negative", ErrInvalidTraits, count)
	}
	if share < 0 || share > 1 {
		return nil, fmt.Errorf("%w: savers share %v not in [0, 1]", ErrInvalidTraits, share)
	}

	savers := make([]bool, count)
	if deterministic {
		n := int(math.Round(share * float64(count)))
		for i := 0; i < n; i++ {
			savers[i] = true
		}
		s.rng.Shuffle(count, func(i, j int) {
			savers[i], savers[j] = savers[j], savers[i]
		})
	} else {
		for i := range savers {
			savers[i] = s.rng.Float64() < share
		}
	}

	return s.SpawnAssigned(savers, cfg)
}

// SpawnAssigned creates one agent per entry of savers, in order.
func (s *Spawner) SpawnAssigned(savers []bool, cfg SaverConfig) ([]*Agent, error) {
	out := make([]*Agent, 0, len(savers))
	for i, isSaver := range savers {
		a, err := s.Spawn(isSaver, cfg)
		if err != nil {
			return nil, fmt.Errorf("spawn agent %d: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}
