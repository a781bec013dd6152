package l4perception

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/mmwave/internal/mmwave/l3points"
)

// Feature names one per-point axis usable by GridDBSCAN.
type Feature string

const (
	FeatureRange     Feature = "range"
	FeatureAzimuth   Feature = "azimuth"
	FeatureElevation Feature = "elevation"
	FeatureVelocity  Feature = "velocity"
	FeatureX         Feature = "x"
	FeatureY         Feature = "y"
	FeatureZ         Feature = "z"
)

// DefaultGridFeatures pairs range with azimuth, the two axes whose
// resolutions differ most on a single-chip radar.
var DefaultGridFeatures = []Feature{FeatureRange, FeatureAzimuth}

func (f Feature) valid() bool {
	switch f {
	case FeatureRange, FeatureAzimuth, FeatureElevation, FeatureVelocity, FeatureX, FeatureY, FeatureZ:
		return true
	}
	return false
}

func (f Feature) column(pc *l3points.PointCloud, xyz [][3]float32) []float64 {
	n := pc.Len()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var v float32
		switch f {
		case FeatureRange:
			v = pc.Range[i]
		case FeatureAzimuth:
			v = pc.Azimuth[i]
		case FeatureElevation:
			v = pc.Elevation[i]
		case FeatureVelocity:
			v = pc.Velocity[i]
		case FeatureX:
			v = xyz[i][0]
		case FeatureY:
			v = xyz[i][1]
		case FeatureZ:
			v = xyz[i][2]
		}
		out[i] = float64(v)
	}
	return out
}

// GridDBSCAN is DBSCAN with an independent radius per feature axis. Point
// j neighbours point i only when |f(i)-f(j)| <= Eps[k] on every feature k,
// which yields anisotropic clusters when axis resolutions differ.
type GridDBSCAN struct {
	Features       []Feature
	Eps            []float64
	MinSamples     int
	CentroidMethod CentroidMethod
}

func (g *GridDBSCAN) Name() string { return AlgorithmGridDBSCAN }

func (g *GridDBSCAN) validate() error {
	if len(g.Features) == 0 || len(g.Features) != len(g.Eps) {
		return fmt.Errorf("%w: grid dbscan needs one radius per feature, got %d features and %d radii",
			ErrInvalidParams, len(g.Features), len(g.Eps))
	}
	for i, f := range g.Features {
		if !f.valid() {
			return fmt.Errorf("%w: unknown grid feature %q", ErrInvalidParams, f)
		}
		if !(g.Eps[i] >= 0) {
			return fmt.Errorf("%w: grid radius for %s must be non-negative", ErrInvalidParams, f)
		}
	}
	if g.MinSamples < 1 {
		return fmt.Errorf("%w: min_samples must be at least 1", ErrInvalidParams)
	}
	return nil
}

// Cluster returns the clusters of pc in discovery order. A frame with no
// core points yields no clusters.
func (g *GridDBSCAN) Cluster(pc *l3points.PointCloud) []Cluster {
	n := pc.Len()
	if n == 0 || n < g.MinSamples || len(g.Features) == 0 || len(g.Features) != len(g.Eps) {
		return nil
	}
	xyz := pc.CartesianPoints()
	cols := make([][]float64, len(g.Features))
	for k, f := range g.Features {
		cols[k] = f.column(pc, xyz)
	}
	finite := func(i int) bool {
		for _, c := range cols {
			if math.IsNaN(c[i]) || math.IsInf(c[i], 0) {
				return false
			}
		}
		for _, v := range xyz[i] {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return false
			}
		}
		return true
	}

	// Sort by the first feature so each neighbourhood is a window scan on
	// that axis, filtered by the remaining axes.
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if finite(i) {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return cols[0][order[a]] < cols[0][order[b]] })
	pos := make([]int, n)
	for p, i := range order {
		pos[i] = p
	}

	neighborhoods := make([][]int, n)
	for _, i := range order {
		var nb []int
		p := pos[i]
		for lo := p; lo >= 0 && cols[0][i]-cols[0][order[lo]] <= g.Eps[0]; lo-- {
			if g.within(cols, i, order[lo]) {
				nb = append(nb, order[lo])
			}
		}
		for hi := p + 1; hi < len(order) && cols[0][order[hi]]-cols[0][i] <= g.Eps[0]; hi++ {
			if g.within(cols, i, order[hi]) {
				nb = append(nb, order[hi])
			}
		}
		sort.Ints(nb)
		neighborhoods[i] = nb
	}

	labels, numClusters := expandAll(n, g.MinSamples, finite, func(i int) []int {
		return neighborhoods[i]
	})
	return buildClusters(pc, xyz, labels, numClusters, g.CentroidMethod)
}

func (g *GridDBSCAN) within(cols [][]float64, i, j int) bool {
	for k := 1; k < len(cols); k++ {
		if math.Abs(cols[k][i]-cols[k][j]) > g.Eps[k] {
			return false
		}
	}
	return true
}

var _ ClusterAlgorithm = (*GridDBSCAN)(nil)
