package world

// HexCoord represents a position on a hex lattice using axial coordinates.
// The third cube coordinate s is derived: s = -q - r.
type HexCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S returns the implicit third cube coordinate.
func (h HexCoord) S() int {
	return -h.Q - h.R
}

// HexNeighborDirections defines the six neighbor offsets in axial coordinates.
var HexNeighborDirections = [6]HexCoord{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// Neighbors returns the six adjacent hex coordinates.
func (h HexCoord) Neighbors() [6]HexCoord {
	var result [6]HexCoord
	for i, dir := range HexNeighborDirections {
		result[i] = HexCoord{Q: h.Q + dir.Q, R: h.R + dir.R}
	}
	return result
}

// Cartesian converts axial coordinates to continuous space: x = q + r/2, y = r*sqrt(3)/2.
func (h HexCoord) Cartesian() (x, y float64) {
	x = float64(h.Q) + float64(h.R)*0.5
	y = float64(h.R) * sqrt3 / 2.0
	return x, y
}

const sqrt3 = 1.7320508075688772

// Distance returns the hex distance between two coordinates.
func Distance(a, b HexCoord) int {
	return ring(HexCoord{Q: a.Q - b.Q, R: a.R - b.R})
}

// ring returns max(|q|, |r|, |s|), the distance of h from the origin.
func ring(h HexCoord) int {
	m := abs(h.Q)
	if r := abs(h.R); r > m {
		m = r
	}
	if s := abs(h.S()); s > m {
		m = s
	}
	return m
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
