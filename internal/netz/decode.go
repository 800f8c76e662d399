// Package netz reads networks from the Netzschleuder repository: a decoder for the
// graph-tool binary format and a download cache for zstd compressed records.
package netz

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/talgya/kala/internal/world"
)

// Decode errors.
var (
	ErrBadMagic  = errors.New("not a graph-tool file")
	ErrTruncated = errors.New("graph-tool data truncated")
	ErrBadIndex  = errors.New("graph-tool neighbour index out of range")
)

// magic opens every graph-tool binary file.
var magic = []byte{0xe2, 0x9b, 0xbe, 0x20, 0x67, 0x74}

// Graph is a decoded graph-tool record.
type Graph struct {
	Version  int
	Comment  string
	Directed bool
	Nodes    int
	Edges    []world.Edge // out-neighbour order, as stored
}

// Topology converts g to an undirected topology. Duplicate edges, reverse edges
// and self-loops collapse away; isolated nodes are kept.
func (g *Graph) Topology() *world.Topology {
	return world.FromEdgeList(g.Nodes, g.Edges)
}

// Decode parses data in graph-tool binary format. Property maps after the adjacency
// lists are ignored.
func Decode(data []byte) (*Graph, error) {
	if len(data) < len(magic) || !bytes.Equal(data[:len(magic)], magic) {
		return nil, ErrBadMagic
	}
	r := &reader{data: data, pos: len(magic)}

	version, err := r.byte()
	if err != nil {
		return nil, err
	}
	bigEndian, err := r.byte()
	if err != nil {
		return nil, err
	}
	if bigEndian != 0 {
		r.order = binary.BigEndian
	} else {
		r.order = binary.LittleEndian
	}

	commentLen, err := r.uint(8)
	if err != nil {
		return nil, err
	}
	comment, err := r.take(commentLen)
	if err != nil {
		return nil, fmt.Errorf("comment: %w", err)
	}
	directed, err := r.byte()
	if err != nil {
		return nil, err
	}
	n, err := r.uint(8)
	if err != nil {
		return nil, err
	}
	if n > uint64(len(data)) {
		// Every node needs at least an 8 byte neighbour count.
		return nil, fmt.Errorf("%w: %d nodes in %d bytes", ErrTruncated, n, len(data))
	}

	width := neighbourWidth(n)
	g := &Graph{
		Version:  int(version),
		Comment:  string(comment),
		Directed: directed != 0,
		Nodes:    int(n),
	}
	for v := uint64(0); v < n; v++ {
		count, err := r.uint(8)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", v, err)
		}
		if count > uint64(r.remaining()/width) {
			return nil, fmt.Errorf("node %d: %w: %d neighbours", v, ErrTruncated, count)
		}
		for i := uint64(0); i < count; i++ {
			w, err := r.uint(width)
			if err != nil {
				return nil, fmt.Errorf("node %d: %w", v, err)
			}
			if w >= n {
				return nil, fmt.Errorf("node %d: %w: neighbour %d of %d nodes", v, ErrBadIndex, w, n)
			}
			g.Edges = append(g.Edges, world.Edge{U: world.NodeID(v), V: world.NodeID(w)})
		}
	}
	return g, nil
}

// neighbourWidth is the byte width of a neighbour index for a graph of n nodes.
func neighbourWidth(n uint64) int {
	switch {
	case n < 1<<8:
		return 1
	case n < 1<<16:
		return 2
	case n < 1<<32:
		return 4
	default:
		return 8
	}
}

type reader struct {
	data  []byte
	pos   int
	order binary.ByteOrder
}

func (r *reader) remaining() int { return len(r.data) - r.pos }

func (r *reader) take(n uint64) ([]byte, error) {
	if n > uint64(r.remaining()) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d", ErrTruncated, n, r.pos)
	}
	b := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

func (r *reader) byte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) uint(width int) (uint64, error) {
	b, err := r.take(uint64(width))
	if err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(r.order.Uint16(b)), nil
	case 4:
		return uint64(r.order.Uint32(b)), nil
	default:
		return r.order.Uint64(b), nil
	}
}
