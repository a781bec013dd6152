package l4perception

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/mmwave/internal/mmwave/l3points"
)

// DefaultXi is the OPTICS steepness threshold.
const DefaultXi = 0.05

// OPTICS orders points by reachability distance and cuts clusters out of
// the steep down and steep up regions of the reachability plot (the xi
// method). Points outside every extracted region are noise.
type OPTICS struct {
	MinSamples     int     // core-point threshold, including the point itself
	Xi             float64 // minimum relative steepness, in (0, 1)
	MinClusterSize int     // 0 means MinSamples
	MaxEps         float64 // neighbourhood bound in metres; 0 means unbounded
	CentroidMethod CentroidMethod
}

func (o *OPTICS) Name() string { return AlgorithmOPTICS }

// Cluster returns the clusters of pc in extraction order, smaller nested
// regions first. Points with non-finite coordinates are left out.
func (o *OPTICS) Cluster(pc *l3points.PointCloud) []Cluster {
	xyz := pc.CartesianPoints()
	idx := finiteIndices(xyz)
	n := len(idx)
	if n == 0 || n < o.MinSamples {
		return nil
	}
	pts := make([][]float64, n)
	for i, j := range idx {
		pts[i] = []float64{float64(xyz[j][0]), float64(xyz[j][1]), float64(xyz[j][2])}
	}

	ordering, reach, pred := o.order(pts)
	minSize := o.MinClusterSize
	if minSize <= 0 {
		minSize = o.MinSamples
	}
	regions := xiRegions(ordering, reach, pred, o.Xi, o.MinSamples, minSize)

	posLabels := make([]int, n)
	for i := range posLabels {
		posLabels[i] = labelNoise
	}
	numClusters := 0
	for _, r := range regions {
		free := true
		for k := r[0]; k <= r[1]; k++ {
			if posLabels[k] != labelNoise {
				free = false
				break
			}
		}
		if !free {
			continue
		}
		numClusters++
		for k := r[0]; k <= r[1]; k++ {
			posLabels[k] = numClusters
		}
	}

	labels := make([]int, len(xyz))
	for i := range labels {
		labels[i] = labelNoise
	}
	for pos, p := range ordering {
		labels[idx[p]] = posLabels[pos]
	}
	return buildClusters(pc, xyz, labels, numClusters, o.CentroidMethod)
}

// order computes the OPTICS ordering with the reachability distance and
// predecessor of every point.
func (o *OPTICS) order(pts [][]float64) (ordering []int, reach []float64, pred []int) {
	n := len(pts)
	maxEps := o.MaxEps
	if maxEps <= 0 {
		maxEps = math.Inf(1)
	}
	dist := make([][]float64, n)
	for i := range pts {
		dist[i] = make([]float64, n)
		for j := range pts {
			dist[i][j] = floats.Distance(pts[i], pts[j], 2)
		}
	}
	core := make([]float64, n)
	sorted := make([]float64, n)
	for i := range dist {
		copy(sorted, dist[i])
		floats.Argsort(sorted, make([]int, n))
		core[i] = sorted[o.MinSamples-1]
		if core[i] > maxEps {
			core[i] = math.Inf(1)
		}
	}

	reach = make([]float64, n)
	pred = make([]int, n)
	for i := range reach {
		reach[i] = math.Inf(1)
		pred[i] = -1
	}
	processed := make([]bool, n)
	ordering = make([]int, 0, n)
	for len(ordering) < n {
		p := -1
		for i := 0; i < n; i++ {
			if !processed[i] && (p < 0 || reach[i] < reach[p]) {
				p = i
			}
		}
		processed[p] = true
		ordering = append(ordering, p)
		if math.IsInf(core[p], 1) {
			continue
		}
		for j := 0; j < n; j++ {
			if processed[j] || dist[p][j] > maxEps {
				continue
			}
			if r := math.Max(dist[p][j], core[p]); r < reach[j] {
				reach[j] = r
				pred[j] = p
			}
		}
	}
	return ordering, reach, pred
}

type steepDownArea struct {
	start, end int
	mib        float64
}

// xiRegions returns candidate clusters as inclusive [start, end] ranges
// over ordering positions.
func xiRegions(ordering []int, reach []float64, pred []int, xi float64, minSamples, minClusterSize int) [][2]int {
	n := len(ordering)
	r := make([]float64, n+1)
	pp := make([]int, n)
	for i, p := range ordering {
		r[i] = reach[p]
		pp[i] = pred[p]
	}
	r[n] = math.Inf(1)

	xiC := 1 - xi
	steepUp := make([]bool, n)
	steepDown := make([]bool, n)
	down := make([]bool, n)
	up := make([]bool, n)
	for i := 0; i < n; i++ {
		ratio := r[i] / r[i+1]
		steepUp[i] = ratio <= xiC
		steepDown[i] = ratio >= 1/xiC
		down[i] = ratio > 1
		up[i] = ratio < 1
	}

	extend := func(steep, xward []bool, start int) int {
		nonXward, end := 0, start
		for i := start; i < n; i++ {
			switch {
			case steep[i]:
				nonXward, end = 0, i
			case !xward[i]:
				nonXward++
				if nonXward > minSamples {
					return end
				}
			default:
				return end
			}
		}
		return end
	}
	filter := func(sdas []*steepDownArea, mib float64) []*steepDownArea {
		if math.IsInf(mib, 1) {
			return nil
		}
		kept := sdas[:0]
		for _, d := range sdas {
			if mib <= r[d.start]*xiC {
				d.mib = math.Max(d.mib, mib)
				kept = append(kept, d)
			}
		}
		return kept
	}
	correct := func(s, e int) (int, int, bool) {
		for s < e {
			if r[s] > r[e] {
				return s, e, true
			}
			for i := s; i < e; i++ {
				if pp[e] == ordering[i] {
					return s, e, true
				}
			}
			e--
		}
		return 0, 0, false
	}

	var (
		sdas    []*steepDownArea
		regions [][2]int
		index   int
		mib     float64
	)
	for i := 0; i < n; i++ {
		if !(steepUp[i] || steepDown[i]) || i < index {
			continue
		}
		mib = math.Max(mib, floats.Max(r[index:i+1]))
		sdas = filter(sdas, mib)
		if steepDown[i] {
			end := extend(steepDown, up, i)
			sdas = append(sdas, &steepDownArea{start: i, end: end})
			index = end + 1
			mib = r[index]
			continue
		}

		uStart := i
		uEnd := extend(steepUp, down, i)
		index = uEnd + 1
		mib = r[index]

		var found [][2]int
		for _, d := range sdas {
			cStart, cEnd := d.start, uEnd
			if r[cEnd+1]*xiC < d.mib {
				continue
			}
			dMax := r[d.start]
			if dMax*xiC >= r[cEnd+1] {
				for r[cStart+1] > r[cEnd+1] && cStart < d.end {
					cStart++
				}
			} else if r[cEnd+1]*xiC >= dMax {
				for cEnd > uStart && r[cEnd-1] > dMax {
					cEnd--
				}
			}
			var ok bool
			if cStart, cEnd, ok = correct(cStart, cEnd); !ok {
				continue
			}
			if cEnd-cStart+1 < minClusterSize || cStart > d.end || cEnd < uStart {
				continue
			}
			found = append(found, [2]int{cStart, cEnd})
		}
		for j := len(found) - 1; j >= 0; j-- {
			regions = append(regions, found[j])
		}
	}
	return regions
}

func finiteIndices(xyz [][3]float32) []int {
	idx := make([]int, 0, len(xyz))
	for i, p := range xyz {
		ok := true
		for _, v := range p {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				ok = false
			}
		}
		if ok {
			idx = append(idx, i)
		}
	}
	return idx
}

var _ ClusterAlgorithm = (*OPTICS)(nil)
