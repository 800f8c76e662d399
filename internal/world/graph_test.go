package world

import (
	"math/rand"
	"testing"
)

func TestRemoveNodeKeepsHandlesStable(t *testing.T) {
	topo := FromEdgeList(4, []Edge{{0, 1}, {1, 2}, {2, 3}, {1, 3}})
	if !topo.RemoveNode(1) {
		t.Fatal("remove node 1 failed")
	}
	if topo.HasNode(1) {
		t.Fatal("node 1 still present")
	}
	for _, id := range []NodeID{0, 2, 3} {
		for _, nb := range topo.Neighbours(id) {
			if nb == 1 {
				t.Fatalf("node %d still lists removed neighbour", id)
			}
		}
	}
	if !topo.HasEdge(2, 3) {
		t.Fatal("unrelated edge 2-3 lost")
	}
	if topo.NumNodes() != 3 || topo.NumEdges() != 1 || topo.Slots() != 4 {
		t.Fatalf("counts nodes=%d edges=%d slots=%d", topo.NumNodes(), topo.NumEdges(), topo.Slots())
	}
	if topo.RemoveNode(1) {
		t.Fatal("second removal reported success")
	}
	if id := topo.AddNode(); id != 4 {
		t.Fatalf("new node reused handle: %d", id)
	}
}

func TestEdgeAddRemoveIdempotence(t *testing.T) {
	topo := NewTopology(3)
	if !topo.AddEdge(0, 2) {
		t.Fatal("first add failed")
	}
	if topo.AddEdge(0, 2) || topo.AddEdge(2, 0) {
		t.Fatal("duplicate add succeeded")
	}
	if topo.AddEdge(1, 1) {
		t.Fatal("self-loop added")
	}
	if topo.AddEdge(0, 9) {
		t.Fatal("edge to missing node added")
	}
	if !topo.RemoveEdge(2, 0) {
		t.Fatal("first remove failed")
	}
	if topo.RemoveEdge(0, 2) {
		t.Fatal("second remove succeeded")
	}
	if topo.NumEdges() != 0 {
		t.Fatalf("edges=%d", topo.NumEdges())
	}
}

func TestFromEdgeListDropsLoopsAndDuplicates(t *testing.T) {
	topo := FromEdgeList(0, []Edge{{0, 1}, {1, 0}, {2, 2}, {1, 4}})
	if topo.NumNodes() != 5 {
		t.Fatalf("nodes=%d want 5", topo.NumNodes())
	}
	edges := topo.Edges()
	if len(edges) != 2 || edges[0] != (Edge{0, 1}) || edges[1] != (Edge{1, 4}) {
		t.Fatalf("edges=%v", edges)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	topo := FromEdgeList(3, []Edge{{0, 1}, {1, 2}})
	topo.RemoveNode(0)
	c := topo.Clone()
	c.RemoveEdge(1, 2)
	if !topo.HasEdge(1, 2) {
		t.Fatal("clone shares adjacency with original")
	}
	if c.HasNode(0) {
		t.Fatal("clone lost tombstone")
	}
}

func TestRandomNodeSkipsTombstones(t *testing.T) {
	topo := NewTopology(3)
	topo.RemoveNode(0)
	topo.RemoveNode(2)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		id, ok := topo.RandomNode(rng)
		if !ok || id != 1 {
			t.Fatalf("random node=%d ok=%t", id, ok)
		}
	}
	topo.RemoveNode(1)
	if _, ok := topo.RandomNode(rng); ok {
		t.Fatal("random node from empty topology")
	}
}
