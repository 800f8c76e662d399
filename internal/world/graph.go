// Package world provides the positions agents play on: an undirected topology with
// stable node handles, the placement of agents over it, and hex lattice sources.
package world

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// NodeID is a stable handle to a position. Handles are never reused or shifted:
// removing a node leaves a tombstone so other handles stay valid.
type NodeID int

// Edge is an undirected pair of positions, stored with U < V.
type Edge struct {
	U NodeID `json:"u"`
	V NodeID `json:"v"`
}

// ErrNoSuchNode is returned when an operation needs a live node that is absent.
var ErrNoSuchNode = errors.New("no such node")

// Topology is an undirected simple graph over an arena of node slots.
type Topology struct {
	adj   []map[NodeID]struct{} // nil slot = removed node
	live  int
	edges int
}

// NewTopology creates a topology with nodes 0..n-1 and no edges.
func NewTopology(n int) *Topology {
	if n < 0 {
		n = 0
	}
	t := &Topology{adj: make([]map[NodeID]struct{}, n), live: n}
	for i := range t.adj {
		t.adj[i] = make(map[NodeID]struct{})
	}
	return t
}

// FromEdgeList builds a topology from an edge list. The node count is the larger of n
// and one past the highest endpoint. Self-loops and duplicate edges are dropped.
func FromEdgeList(n int, edges []Edge) *Topology {
	for _, e := range edges {
		if int(e.U) >= n {
			n = int(e.U) + 1
		}
		if int(e.V) >= n {
			n = int(e.V) + 1
		}
	}
	t := NewTopology(n)
	for _, e := range edges {
		if e.U < 0 || e.V < 0 {
			continue
		}
		t.AddEdge(e.U, e.V)
	}
	return t
}

// Clone returns an independent copy, tombstones included.
func (t *Topology) Clone() *Topology {
	c := &Topology{adj: make([]map[NodeID]struct{}, len(t.adj)), live: t.live, edges: t.edges}
	for i, nb := range t.adj {
		if nb == nil {
			continue
		}
		m := make(map[NodeID]struct{}, len(nb))
		for k := range nb {
			m[k] = struct{}{}
		}
		c.adj[i] = m
	}
	return c
}

// HasNode reports whether id is a live node.
func (t *Topology) HasNode(id NodeID) bool {
	return id >= 0 && int(id) < len(t.adj) && t.adj[id] != nil
}

// AddNode appends a fresh node slot and returns its handle.
func (t *Topology) AddNode() NodeID {
	t.adj = append(t.adj, make(map[NodeID]struct{}))
	t.live++
	return NodeID(len(t.adj) - 1)
}

// RemoveNode removes id and its incident edges. Returns false if id is not live.
func (t *Topology) RemoveNode(id NodeID) bool {
	if !t.HasNode(id) {
		return false
	}
	for nb := range t.adj[id] {
		delete(t.adj[nb], id)
		t.edges--
	}
	t.adj[id] = nil
	t.live--
	return true
}

// AddEdge connects u and v. Returns false for self-loops, existing edges or
// missing endpoints.
func (t *Topology) AddEdge(u, v NodeID) bool {
	if u == v || !t.HasNode(u) || !t.HasNode(v) {
		return false
	}
	if _, ok := t.adj[u][v]; ok {
		return false
	}
	t.adj[u][v] = struct{}{}
	t.adj[v][u] = struct{}{}
	t.edges++
	return true
}

// RemoveEdge disconnects u and v. Returns false if the edge is absent.
func (t *Topology) RemoveEdge(u, v NodeID) bool {
	if !t.HasEdge(u, v) {
		return false
	}
	delete(t.adj[u], v)
	delete(t.adj[v], u)
	t.edges--
	return true
}

// HasEdge reports whether u and v are connected.
func (t *Topology) HasEdge(u, v NodeID) bool {
	if !t.HasNode(u) || !t.HasNode(v) {
		return false
	}
	_, ok := t.adj[u][v]
	return ok
}

// Neighbours returns the neighbours of id in ascending order (nil if id is absent).
func (t *Topology) Neighbours(id NodeID) []NodeID {
	if !t.HasNode(id) {
		return nil
	}
	out := make([]NodeID, 0, len(t.adj[id]))
	for nb := range t.adj[id] {
		out = append(out, nb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Degree returns the number of neighbours of id.
func (t *Topology) Degree(id NodeID) int {
	if !t.HasNode(id) {
		return 0
	}
	return len(t.adj[id])
}

// Nodes returns the live nodes in ascending order.
func (t *Topology) Nodes() []NodeID {
	out := make([]NodeID, 0, t.live)
	for i, nb := range t.adj {
		if nb != nil {
			out = append(out, NodeID(i))
		}
	}
	return out
}

// NumNodes returns the number of live nodes.
func (t *Topology) NumNodes() int { return t.live }

// NumEdges returns the number of edges.
func (t *Topology) NumEdges() int { return t.edges }

// Slots returns the arena size, tombstones included.
func (t *Topology) Slots() int { return len(t.adj) }

// Edges returns all edges sorted by (U, V).
func (t *Topology) Edges() []Edge {
	out := make([]Edge, 0, t.edges)
	for i, nb := range t.adj {
		for v := range nb {
			if NodeID(i) < v {
				out = append(out, Edge{U: NodeID(i), V: v})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].U != out[j].U {
			return out[i].U < out[j].U
		}
		return out[i].V < out[j].V
	})
	return out
}

// RandomNode returns a uniformly chosen live node, or false when the topology is empty.
func (t *Topology) RandomNode(rng *rand.Rand) (NodeID, bool) {
	nodes := t.Nodes()
	if len(nodes) == 0 {
		return 0, false
	}
	return nodes[rng.Intn(len(nodes))], true
}

// String returns a summary of the topology.
func (t *Topology) String() string {
	return fmt.Sprintf("Topology(nodes=%d, edges=%d)", t.NumNodes(), t.NumEdges())
}
