package l4perception

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/mmwave/internal/mmwave/l3points"
)

const (
	DefaultKMeansIter = 300
	DefaultKMeansInit = 10
)

// KMeans partitions the points into NumClusters groups with Lloyd's
// algorithm seeded by greedy k-means++. The best of NumInit runs by
// inertia wins. Every finite point is assigned; there is no noise.
type KMeans struct {
	NumClusters    int
	MaxIter        int   // 0 means DefaultKMeansIter
	NumInit        int   // 0 means DefaultKMeansInit
	Seed           int64 // fixed seed keeps frames reproducible
	CentroidMethod CentroidMethod
}

func (k *KMeans) Name() string { return AlgorithmKMeans }

// Cluster returns at most NumClusters clusters ordered by their lowest
// point index.
func (k *KMeans) Cluster(pc *l3points.PointCloud) []Cluster {
	xyz := pc.CartesianPoints()
	idx := finiteIndices(xyz)
	n := len(idx)
	if n == 0 || k.NumClusters < 1 {
		return nil
	}
	pts := make([][]float64, n)
	for i, j := range idx {
		pts[i] = []float64{float64(xyz[j][0]), float64(xyz[j][1]), float64(xyz[j][2])}
	}
	numClusters := min(k.NumClusters, n)
	maxIter, numInit := k.MaxIter, k.NumInit
	if maxIter <= 0 {
		maxIter = DefaultKMeansIter
	}
	if numInit <= 0 {
		numInit = DefaultKMeansInit
	}

	rng := rand.New(rand.NewSource(k.Seed))
	var best []int
	bestInertia := math.Inf(1)
	for run := 0; run < numInit; run++ {
		assign, inertia := lloyd(pts, kmeansPlusPlus(pts, numClusters, rng), maxIter)
		if inertia < bestInertia {
			best, bestInertia = assign, inertia
		}
	}

	// Relabel so cluster order follows the first member's index.
	relabel := make(map[int]int, numClusters)
	labels := make([]int, len(xyz))
	for i := range labels {
		labels[i] = labelNoise
	}
	for i, c := range best {
		l, ok := relabel[c]
		if !ok {
			l = len(relabel) + 1
			relabel[c] = l
		}
		labels[idx[i]] = l
	}
	return buildClusters(pc, xyz, labels, len(relabel), k.CentroidMethod)
}

// kmeansPlusPlus picks k starting centres. Each centre after the first is
// the best of 2+ln(k) candidates sampled proportionally to squared
// distance from the nearest centre so far.
func kmeansPlusPlus(pts [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(pts)
	trials := 2 + int(math.Log(float64(k)))
	centres := make([][]float64, 0, k)
	centres = append(centres, append([]float64(nil), pts[rng.Intn(n)]...))

	closest := make([]float64, n)
	for i, p := range pts {
		closest[i] = sqDist(p, centres[0])
	}
	for len(centres) < k {
		potential := floats.Sum(closest)
		bestCand, bestPot := -1, math.Inf(1)
		var bestClosest []float64
		for t := 0; t < trials; t++ {
			cand := sampleWeighted(closest, potential, rng)
			next := make([]float64, n)
			for i, p := range pts {
				next[i] = math.Min(closest[i], sqDist(p, pts[cand]))
			}
			if pot := floats.Sum(next); pot < bestPot {
				bestCand, bestPot, bestClosest = cand, pot, next
			}
		}
		centres = append(centres, append([]float64(nil), pts[bestCand]...))
		closest = bestClosest
	}
	return centres
}

func sampleWeighted(w []float64, total float64, rng *rand.Rand) int {
	if !(total > 0) {
		return rng.Intn(len(w))
	}
	target := rng.Float64() * total
	for i, v := range w {
		if target -= v; target < 0 {
			return i
		}
	}
	return len(w) - 1
}

// lloyd iterates assignment and update steps until no point changes
// cluster. It returns the assignment and its inertia.
func lloyd(pts, centres [][]float64, maxIter int) ([]int, float64) {
	assign := make([]int, len(pts))
	for i := range assign {
		assign[i] = -1
	}
	counts := make([]int, len(centres))
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range pts {
			c := nearest(p, centres)
			if c != assign[i] {
				assign[i], changed = c, true
			}
		}
		if !changed {
			break
		}
		for c := range centres {
			counts[c] = 0
		}
		sums := make([][]float64, len(centres))
		for c := range sums {
			sums[c] = make([]float64, 3)
		}
		for i, p := range pts {
			floats.Add(sums[assign[i]], p)
			counts[assign[i]]++
		}
		for c := range centres {
			if counts[c] > 0 {
				floats.ScaleTo(centres[c], 1/float64(counts[c]), sums[c])
			}
		}
	}
	inertia := 0.0
	for i, p := range pts {
		inertia += sqDist(p, centres[assign[i]])
	}
	return assign, inertia
}

func nearest(p []float64, centres [][]float64) int {
	best, bestD := 0, math.Inf(1)
	for c, centre := range centres {
		if d := sqDist(p, centre); d < bestD {
			best, bestD = c, d
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

var _ ClusterAlgorithm = (*KMeans)(nil)
