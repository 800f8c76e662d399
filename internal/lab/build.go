// Package lab turns experiment configs into games and plays many of them in parallel.
package lab

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/talgya/kala/internal/agents"
	"github.com/talgya/kala/internal/config"
	"github.com/talgya/kala/internal/engine"
	"github.com/talgya/kala/internal/netz"
	"github.com/talgya/kala/internal/world"
)

// Network is the topology a game is played on. Lattice is set for hex networks only.
type Network struct {
	Topo    *world.Topology
	Lattice *world.Lattice
}

// LoadNetwork builds or fetches the network described by cfg. seed drives random
// generators (erdos_renyi).
func LoadNetwork(ctx context.Context, cfg config.NetworkConfig, seed int64) (Network, error) {
	switch cfg.Kind {
	case "hex":
		l := world.HexLattice(cfg.Radius)
		return Network{Topo: l.Topo, Lattice: l}, nil
	case "ring":
		return Network{Topo: world.Ring(cfg.Nodes)}, nil
	case "complete":
		return Network{Topo: world.Complete(cfg.Nodes)}, nil
	case "erdos_renyi":
		topo, err := world.ErdosRenyi(cfg.Nodes, cfg.Probability, rand.New(rand.NewSource(seed)))
		if err != nil {
			return Network{}, err
		}
		return Network{Topo: topo}, nil
	case "edges":
		edges := make([]world.Edge, 0, len(cfg.Edges))
		for _, e := range cfg.Edges {
			edges = append(edges, world.Edge{U: world.NodeID(e[0]), V: world.NodeID(e[1])})
		}
		return Network{Topo: world.FromEdgeList(cfg.Nodes, edges)}, nil
	case "netz":
		db := netz.NewDatabase(CacheDir(cfg.CacheDir))
		topo, err := db.Read(ctx, cfg.Name, cfg.Net)
		if err != nil {
			return Network{}, fmt.Errorf("load network %s: %w", cfg.Name, err)
		}
		return Network{Topo: topo}, nil
	default:
		return Network{}, fmt.Errorf("unknown network kind %q", cfg.Kind)
	}
}

// CacheDir resolves the netz cache directory: dir if set, else the user cache dir.
func CacheDir(dir string) string {
	if dir != "" {
		return dir
	}
	if base, err := os.UserCacheDir(); err == nil {
		return filepath.Join(base, "kala", "netz")
	}
	return filepath.Join(".kala", "netz")
}

// Build assembles a fresh game over a clone of net's topology: one agent per node,
// the configured payoff and matching strategies, and the scheduled shocks.
// Every random component gets its own seed derived from seed.
func Build(exp *config.Experiment, net Network, seed int64) (*engine.GameState, *engine.GamePlan, error) {
	if net.Topo == nil {
		return nil, nil, fmt.Errorf("build: nil topology")
	}
	topo := net.Topo.Clone()
	p := exp.Population

	rule, err := p.Rule.Build(p.MemoryLength)
	if err != nil {
		return nil, nil, fmt.Errorf("build rule: %w", err)
	}
	saverCfg := agents.SaverConfig{
		MinSpecialization: p.MinSpecialization,
		IncomePerPeriod:   p.IncomePerPeriod,
		Homophily:         p.Homophily,
		MemoryLength:      p.MemoryLength,
		Rule:              rule,
	}

	spawner := agents.NewSpawner(seed)
	var pop []*agents.Agent
	if p.Layout == "field" {
		if net.Lattice == nil {
			return nil, nil, fmt.Errorf("build: field layout needs a hex lattice")
		}
		field, err := world.SaverField(net.Lattice.Coords(), world.FieldConfig{
			Seed:        seed + 3,
			Share:       p.SaverShare,
			Octaves:     p.Field.Octaves,
			Frequency:   p.Field.Frequency,
			Persistence: p.Field.Persistence,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build field: %w", err)
		}
		// Lattice coords are in slot order; keep only live slots.
		savers := make([]bool, 0, topo.NumNodes())
		for _, n := range topo.Nodes() {
			savers = append(savers, int(n) < len(field) && field[n])
		}
		pop, err = spawner.SpawnAssigned(savers, saverCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("build population: %w", err)
		}
	} else {
		pop, err = spawner.SpawnPopulation(topo.NumNodes(), p.SaverShare, p.Deterministic, saverCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("build population: %w", err)
		}
	}

	placement, err := world.InitBijection(pop, topo)
	if err != nil {
		return nil, nil, fmt.Errorf("build placement: %w", err)
	}
	payoff, err := engine.NewCooperationStrategy(exp.Payoff.Cooperation(seed + 2))
	if err != nil {
		return nil, nil, fmt.Errorf("build payoff: %w", err)
	}
	state, err := engine.NewGameState(topo, pop, placement, payoff, engine.NewRandomMatching(seed+1))
	if err != nil {
		return nil, nil, err
	}

	plan, err := BuildPlan(exp, seed)
	if err != nil {
		return nil, nil, err
	}
	return state, plan, nil
}

// BuildPlan schedules the configured shocks. Each copy of a shock gets its own seed.
func BuildPlan(exp *config.Experiment, seed int64) (*engine.GamePlan, error) {
	plan, err := engine.NewGamePlan(exp.Steps, nil)
	if err != nil {
		return nil, err
	}
	n := int64(0)
	for i, sc := range exp.Shocks {
		count := sc.Count
		if count == 0 {
			count = 1
		}
		for c := 0; c < count; c++ {
			sh, err := engine.NewShock(sc.Type, sc.Params, seed+10+n)
			if err != nil {
				return nil, fmt.Errorf("shocks[%d]: %w", i, err)
			}
			n++
			if err := plan.Schedule(sc.At, sh); err != nil {
				return nil, fmt.Errorf("shocks[%d]: %w", i, err)
			}
		}
	}
	return plan, nil
}
