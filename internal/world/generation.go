// Saver field generation using layered simplex noise.
// Produces spatially clustered initial saver assignments on a hex lattice.
package world

import (
	"fmt"
	"math/rand"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// FieldConfig holds saver field parameters.
type FieldConfig struct {
	Seed        int64   // Random seed (0 = random)
	Share       float64 // Fraction of hexes marked saver (0.0–1.0)
	Octaves     int     // Noise layers
	Frequency   float64 // Base sampling frequency; lower = larger clusters
	Persistence float64 // Amplitude falloff per octave
}

// DefaultFieldConfig returns a configuration giving medium sized clusters.
func DefaultFieldConfig() FieldConfig {
	return FieldConfig{
		Seed:        0,
		Share:       0.5,
		Octaves:     3,
		Frequency:   0.12,
		Persistence: 0.5,
	}
}

// SaverField marks exactly round(Share*len(coords)) coordinates as savers, choosing
// those with the highest noise value so savers form contiguous regions. The result is
// aligned with coords.
func SaverField(coords []HexCoord, cfg FieldConfig) ([]bool, error) {
	if cfg.Share < 0 || cfg.Share > 1 {
		return nil, fmt.Errorf("saver field share %v not in [0, 1]", cfg.Share)
	}
	if cfg.Octaves <= 0 {
		cfg.Octaves = 1
	}
	if cfg.Frequency <= 0 {
		cfg.Frequency = DefaultFieldConfig().Frequency
	}
	if cfg.Persistence <= 0 {
		cfg.Persistence = DefaultFieldConfig().Persistence
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}

	noise := opensimplex.NewNormalized(seed)
	values := make([]float64, len(coords))
	for i, c := range coords {
		x, y := c.Cartesian()
		values[i] = octaveNoise(noise, x, y, cfg.Octaves, cfg.Frequency, cfg.Persistence)
	}

	order := make([]int, len(coords))
	for i := range order {
		order[i] = i
	}
	// Ties broken by index so a seed always yields the same field.
	sort.SliceStable(order, func(a, b int) bool {
		return values[order[a]] > values[order[b]]
	})

	savers := int(cfg.Share*float64(len(coords)) + 0.5)
	out := make([]bool, len(coords))
	for _, i := range order[:savers] {
		out[i] = true
	}
	return out, nil
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

// Clustering returns the fraction of lattice edges joining two hexes with the same
// saver value. A random field sits near 0.5; a clustered one is higher.
func Clustering(l *Lattice, savers []bool) float64 {
	edges := l.Topo.Edges()
	if len(edges) == 0 || len(savers) < l.HexCount() {
		return 0
	}
	same := 0
	for _, e := range edges {
		if savers[e.U] == savers[e.V] {
			same++
		}
	}
	return float64(same) / float64(len(edges))
}
