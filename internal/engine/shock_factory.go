package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/talgya/kala/internal/agents"
	"github.com/talgya/kala/internal/world"
)

// ShockParams are the loosely typed parameters of a configured shock, as decoded
// from YAML or JSON.
type ShockParams map[string]any

type shockBuilder func(p ShockParams, seed int64) (Shock, error)

var shockBuilders = map[string]shockBuilder{
	"remove_agent": func(p ShockParams, _ int64) (Shock, error) {
		id, err := p.agentID("id")
		return RemoveAgent{ID: id}, err
	},
	"remove_random_agent": func(p ShockParams, seed int64) (Shock, error) {
		return NewRemoveRandomAgent(seed), nil
	},
	"remove_node": func(p ShockParams, _ int64) (Shock, error) {
		n, err := p.node("node")
		return RemoveNode{Node: n}, err
	},
	"add_edge": func(p ShockParams, _ int64) (Shock, error) {
		u, v, err := p.edge()
		return AddEdge{U: u, V: v}, err
	},
	"add_random_edge": func(p ShockParams, seed int64) (Shock, error) {
		sh := NewAddRandomEdge(seed)
		var err error
		sh.MaxAttempts, err = p.optInt("max_attempts", DefaultMaxAttempts)
		return sh, err
	},
	"remove_edge": func(p ShockParams, _ int64) (Shock, error) {
		u, v, err := p.edge()
		return RemoveEdge{U: u, V: v}, err
	},
	"remove_random_edge": func(p ShockParams, seed int64) (Shock, error) {
		sh := NewRemoveRandomEdge(seed)
		var err error
		sh.MaxAttempts, err = p.optInt("max_attempts", DefaultMaxAttempts)
		return sh, err
	},
	"swap_edge": func(p ShockParams, _ int64) (Shock, error) {
		pivot, err := p.node("pivot")
		if err != nil {
			return nil, err
		}
		v, err := p.node("v")
		if err != nil {
			return nil, err
		}
		w, err := p.node("w")
		return SwapEdge{Pivot: pivot, V: v, W: w}, err
	},
	"swap_random_edge": func(p ShockParams, seed int64) (Shock, error) {
		var pivot *world.NodeID
		if _, ok := p["pivot"]; ok {
			n, err := p.node("pivot")
			if err != nil {
				return nil, err
			}
			pivot = &n
		}
		sh := NewSwapRandomEdge(seed, pivot)
		var err error
		sh.MaxAttempts, err = p.optInt("max_attempts", DefaultMaxAttempts)
		return sh, err
	},
	"flip_agent": func(p ShockParams, _ int64) (Shock, error) {
		id, err := p.agentID("id")
		return FlipAgent{ID: id}, err
	},
	"flip_agents": func(p ShockParams, _ int64) (Shock, error) {
		raw, ok := p["ids"].([]any)
		if !ok {
			return nil, fmt.Errorf("param %q: expected a list", "ids")
		}
		ids := make([]agents.AgentID, 0, len(raw))
		for i, v := range raw {
			n, err := toInt(v)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("param ids[%d]: invalid agent id %v", i, v)
			}
			ids = append(ids, agents.AgentID(n))
		}
		return FlipAgents{IDs: ids}, nil
	},
	"flip_all": func(p ShockParams, _ int64) (Shock, error) {
		return FlipAll{}, nil
	},
	"homogenize": func(p ShockParams, _ int64) (Shock, error) {
		b, ok := p["is_saver"].(bool)
		if !ok {
			return nil, fmt.Errorf("param %q: expected a bool", "is_saver")
		}
		return Homogenize{IsSaver: b}, nil
	},
	"set_memory_length": func(p ShockParams, _ int64) (Shock, error) {
		id, err := p.agentID("id")
		if err != nil {
			return nil, err
		}
		n, err := p.integer("length")
		return SetMemoryLength{ID: id, Length: n}, err
	},
	"set_all_memory_length": func(p ShockParams, _ int64) (Shock, error) {
		n, err := p.integer("length")
		return SetAllMemoryLength{Length: n}, err
	},
	"change_differentials": func(p ShockParams, _ int64) (Shock, error) {
		eff, err := p.number("efficient")
		if err != nil {
			return nil, err
		}
		ineff, err := p.number("inefficient")
		return ChangeDifferentials{Efficient: eff, Inefficient: ineff}, err
	},
}

// ShockKinds lists the kinds NewShock understands, sorted.
func ShockKinds() []string {
	kinds := make([]string, 0, len(shockBuilders))
	for k := range shockBuilders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// NewShock builds a shock from its kind name and parameters. seed feeds the RNG of
// random kinds.
func NewShock(kind string, params ShockParams, seed int64) (Shock, error) {
	build, ok := shockBuilders[kind]
	if !ok {
		return nil, fmt.Errorf("unknown shock kind %q", kind)
	}
	if params == nil {
		params = ShockParams{}
	}
	sh, err := build(params, seed)
	if err != nil {
		return nil, fmt.Errorf("shock %s: %w", kind, err)
	}
	return sh, nil
}

func (p ShockParams) integer(key string) (int, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("missing param %q", key)
	}
	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("param %q: %w", key, err)
	}
	return n, nil
}

func (p ShockParams) optInt(key string, def int) (int, error) {
	if _, ok := p[key]; !ok {
		return def, nil
	}
	return p.integer(key)
}

func (p ShockParams) number(key string) (float64, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("missing param %q", key)
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("param %q: expected a number, got %T", key, v)
	}
}

func (p ShockParams) node(key string) (world.NodeID, error) {
	n, err := p.integer(key)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("param %q: negative node %d", key, n)
	}
	return world.NodeID(n), nil
}

func (p ShockParams) edge() (world.NodeID, world.NodeID, error) {
	u, err := p.node("u")
	if err != nil {
		return 0, 0, err
	}
	v, err := p.node("v")
	return u, v, err
}

func (p ShockParams) agentID(key string) (agents.AgentID, error) {
	n, err := p.integer(key)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("param %q: negative agent id %d", key, n)
	}
	return agents.AgentID(n), nil
}

// toInt accepts the integer encodings YAML and JSON decoders produce.
func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case uint64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("expected an integer, got %v", x)
		}
		return int(x), nil
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
}
