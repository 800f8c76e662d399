package world

import "fmt"

// Lattice is a hex grid of a given radius laid over a Topology. Each hex is one
// node; adjacent hexes share an edge.
type Lattice struct {
	Radius int
	Topo   *Topology

	coords []HexCoord // indexed by NodeID
	index  map[HexCoord]NodeID
}

// HexLattice builds a lattice of radius R: all hexes with max(|q|, |r|, |s|) <= R.
// It holds 3R(R+1)+1 nodes. Nodes are numbered row by row (r, then q ascending).
func HexLattice(radius int) *Lattice {
	if radius < 0 {
		radius = 0
	}
	l := &Lattice{Radius: radius, index: make(map[HexCoord]NodeID)}
	for r := -radius; r <= radius; r++ {
		for q := -radius; q <= radius; q++ {
			c := HexCoord{Q: q, R: r}
			if !l.InBounds(c) {
				continue
			}
			l.index[c] = NodeID(len(l.coords))
			l.coords = append(l.coords, c)
		}
	}

	l.Topo = NewTopology(len(l.coords))
	for id, c := range l.coords {
		for _, nb := range c.Neighbors() {
			if other, ok := l.index[nb]; ok {
				l.Topo.AddEdge(NodeID(id), other) // second direction is a no-op
			}
		}
	}
	return l
}

// InBounds returns true if the coordinate is within the lattice radius.
func (l *Lattice) InBounds(c HexCoord) bool {
	return ring(c) <= l.Radius
}

// Coord returns the hex coordinate of a node.
func (l *Lattice) Coord(id NodeID) (HexCoord, bool) {
	if id < 0 || int(id) >= len(l.coords) {
		return HexCoord{}, false
	}
	return l.coords[id], true
}

// Node returns the node at a hex coordinate.
func (l *Lattice) Node(c HexCoord) (NodeID, bool) {
	id, ok := l.index[c]
	return id, ok
}

// Coords returns the hex coordinates in NodeID order.
func (l *Lattice) Coords() []HexCoord {
	out := make([]HexCoord, len(l.coords))
	copy(out, l.coords)
	return out
}

// HexCount returns the total number of hexes in the lattice.
func (l *Lattice) HexCount() int {
	return len(l.coords)
}

// String returns a summary of the lattice.
func (l *Lattice) String() string {
	return fmt.Sprintf("Lattice(radius=%d, hexes=%d, edges=%d)", l.Radius, l.HexCount(), l.Topo.NumEdges())
}
