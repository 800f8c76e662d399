package world

import (
	"fmt"
	"math/rand"
)

// Ring returns a cycle over n nodes. n < 3 yields a path.
func Ring(n int) *Topology {
	t := NewTopology(n)
	for i := 0; i+1 < n; i++ {
		t.AddEdge(NodeID(i), NodeID(i+1))
	}
	if n > 2 {
		t.AddEdge(NodeID(n-1), 0)
	}
	return t
}

// Complete returns the complete graph over n nodes.
func Complete(n int) *Topology {
	t := NewTopology(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			t.AddEdge(NodeID(i), NodeID(j))
		}
	}
	return t
}

// ErdosRenyi returns a G(n, p) random graph.
func ErdosRenyi(n int, p float64, rng *rand.Rand) (*Topology, error) {
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("erdos-renyi: probability %v outside [0, 1]", p)
	}
	t := NewTopology(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if rng.Float64() < p {
				t.AddEdge(NodeID(i), NodeID(j))
			}
		}
	}
	return t, nil
}
